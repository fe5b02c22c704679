package xray

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "raydock/pkg/errors"
)

func TestParseKeypair(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"legacy", "Private key: aGVsbG8\nPublic key: d29ybGQ\n"},
		{"current", "PrivateKey: aGVsbG8\nPassword: d29ybGQ\nHash32: abc\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kp, err := parseKeypair([]byte(tt.output))
			require.NoError(t, err)
			assert.Equal(t, "aGVsbG8", kp.PrivateKey)
			assert.Equal(t, "d29ybGQ", kp.PublicKey)
		})
	}
}

func TestParseKeypairIncomplete(t *testing.T) {
	_, err := parseKeypair([]byte("PrivateKey: only\n"))
	assert.ErrorIs(t, err, pkgerrors.ErrKeypairParse)
}

func TestKeypair(t *testing.T) {
	x, _, _, runner := newTestXray(t, "/opt/xray", 0)
	runner.outputs["/opt/xray x25519"] = []byte("PrivateKey: p\nPassword: q\n")

	kp, err := x.Keypair(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "p", kp.PrivateKey)
	assert.Equal(t, "q", kp.PublicKey)
}
