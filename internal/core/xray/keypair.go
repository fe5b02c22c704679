package xray

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"raydock/internal/core/types"
	pkgerrors "raydock/pkg/errors"
)

// Keypair generates an x25519 key pair with `xray x25519`.
func (x *Xray) Keypair(ctx context.Context) (*types.Keypair, error) {
	output, err := x.runner.Output(ctx, x.opts.BinPath, "x25519")
	if err != nil {
		return nil, &pkgerrors.CoreError{CoreType: coreType, Op: "x25519", Err: err}
	}
	return parseKeypair(output)
}

// parseKeypair accepts both output formats:
//
//	Private key: xxx          PrivateKey: xxx
//	Public key: yyy           Password: yyy
func parseKeypair(output []byte) (*types.Keypair, error) {
	kp := &types.Keypair{}
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), " ", "")) {
		case "privatekey":
			kp.PrivateKey = value
		case "publickey", "password":
			kp.PublicKey = value
		}
	}

	if kp.PrivateKey == "" || kp.PublicKey == "" {
		return nil, pkgerrors.ErrKeypairParse
	}
	return kp, nil
}
