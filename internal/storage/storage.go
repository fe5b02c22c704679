package storage

import (
	"context"

	"raydock/internal/storage/models"
)

// Storage defines the interface for data persistence
type Storage interface {
	// Inbound operations
	CreateInbound(ctx context.Context, inbound *models.Inbound) error
	GetInbound(ctx context.Context, id string) (*models.Inbound, error)
	ListInbounds(ctx context.Context, filter InboundFilter) ([]*models.Inbound, error)
	UpdateInbound(ctx context.Context, inbound *models.Inbound) error
	DeleteInbound(ctx context.Context, id string) error
	SetInboundEnabled(ctx context.Context, id string, enable bool) error

	// Traffic accounting
	// AccumulateTraffic adds deltas, disables the inbound once its quota is
	// reached and returns the stored row plus whether this call disabled it.
	AccumulateTraffic(ctx context.Context, id string, deltaUp, deltaDown int64) (*models.Inbound, bool, error)
	ResetTraffic(ctx context.Context, id string) error

	// Transactions
	BeginTx(ctx context.Context) (Transaction, error)

	// Close closes the storage connection
	Close() error
}

// InboundFilter represents filters for querying inbounds
type InboundFilter struct {
	Enabled    *bool
	Protocol   *string
	SearchTerm string // Search in remark and tag
}

// EnabledOnly returns a filter matching enabled inbounds.
func EnabledOnly() InboundFilter {
	enabled := true
	return InboundFilter{Enabled: &enabled}
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Storage
}
