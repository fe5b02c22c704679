package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Core errors
	ErrCoreNotFound    = errors.New("core binary not found")
	ErrCoreStartFailed = errors.New("failed to start core")
	ErrKeypairParse    = errors.New("failed to parse keypair output")

	// Update errors
	ErrUnsupportedArch    = errors.New("unsupported architecture")
	ErrDownloadFailed     = errors.New("download failed")
	ErrBinaryNotInArchive = errors.New("xray binary not found in archive")

	// Inbound errors
	ErrInboundNotFound = errors.New("inbound not found")
	ErrInboundInvalid  = errors.New("invalid inbound")
)

// InboundError represents an inbound-related error
type InboundError struct {
	ID  string
	Tag string
	Err error
}

func (e *InboundError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("inbound '%s' (ID: %s): %v", e.Tag, e.ID, e.Err)
	}
	return fmt.Sprintf("inbound (ID: %s): %v", e.ID, e.Err)
}

func (e *InboundError) Unwrap() error {
	return e.Err
}

// CoreError represents a core-related error
type CoreError struct {
	CoreType string
	Op       string
	Err      error
}

func (e *CoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s core %s: %v", e.CoreType, e.Op, e.Err)
	}
	return fmt.Sprintf("%s core: %v", e.CoreType, e.Err)
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// UpdateError represents a failed binary update
type UpdateError struct {
	Version string
	Err     error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update to %s: %v", e.Version, e.Err)
}

func (e *UpdateError) Unwrap() error {
	return e.Err
}
