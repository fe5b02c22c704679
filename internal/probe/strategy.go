package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"raydock/internal/storage/models"
)

// Strategy defines how a single inbound is probed.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string
	// Probe checks the inbound and returns the round-trip time in milliseconds.
	Probe(ctx context.Context, inbound *models.Inbound) (latencyMS int, err error)
}

// TCPStrategy checks that the inbound's port completes a TCP handshake.
// It only verifies that xray is listening, not that the protocol works.
type TCPStrategy struct{}

func (s *TCPStrategy) Name() string { return "tcp" }

func (s *TCPStrategy) Probe(ctx context.Context, inbound *models.Inbound) (int, error) {
	address := Address(inbound)

	start := time.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, fmt.Errorf("tcp handshake failed: %w", err)
	}
	elapsed := time.Since(start)
	conn.Close()

	return int(elapsed.Milliseconds()), nil
}

// Address returns the local address to dial for an inbound. Wildcard and
// unset listen addresses are reached through loopback.
func Address(inbound *models.Inbound) string {
	host := "127.0.0.1"
	if inbound.Listen != nil {
		switch l := *inbound.Listen; l {
		case "", "0.0.0.0":
		case "::":
			host = "::1"
		default:
			host = l
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(inbound.Port))
}

// NewStrategy creates a Strategy by name. Valid names: "tcp".
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "tcp", "":
		return &TCPStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown probe strategy: %s (available: tcp)", name)
	}
}
