package core

import (
	"context"

	"raydock/internal/core/types"
)

// Supervisor defines the lifecycle of the external proxy process
type Supervisor interface {
	// Lifecycle
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error

	// Status
	Status(running bool) *types.Status
	Version(ctx context.Context) (string, error)

	// Logs
	Logs(ctx context.Context) ([]string, error)
}
