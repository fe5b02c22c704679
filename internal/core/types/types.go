package types

import "time"

// Status represents core runtime status
type Status struct {
	Running   bool
	PID       int
	StartedAt time.Time
	Uptime    time.Duration
	CoreType  string
	Version   string
}

// Keypair is an x25519 key pair generated by the core, used for REALITY.
type Keypair struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
}
