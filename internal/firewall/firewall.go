// Package firewall opens inbound ports in the host firewall.
package firewall

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/sirupsen/logrus"
)

// Runner runs a command and returns its output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Opener allows inbound TCP and UDP traffic to a port.
type Opener interface {
	Open(ctx context.Context, port int) error
}

// backend is one firewall frontend. Its commands run in order and stop at
// the first failure.
type backend struct {
	bin      string
	commands func(port string) [][]string
}

var backends = []backend{
	{
		bin: "ufw",
		commands: func(port string) [][]string {
			return [][]string{
				{"allow", port + "/tcp"},
				{"allow", port + "/udp"},
			}
		},
	},
	{
		bin: "firewall-cmd",
		commands: func(port string) [][]string {
			return [][]string{
				{"--permanent", "--add-port=" + port + "/tcp"},
				{"--permanent", "--add-port=" + port + "/udp"},
				{"--reload"},
			}
		},
	},
	{
		bin: "iptables",
		commands: func(port string) [][]string {
			return [][]string{
				{"-I", "INPUT", "-p", "tcp", "--dport", port, "-j", "ACCEPT"},
				{"-I", "INPUT", "-p", "udp", "--dport", port, "-j", "ACCEPT"},
			}
		},
	},
}

// System opens ports with every firewall frontend installed on the host.
type System struct {
	runner   Runner
	lookPath func(file string) (string, error)
	logger   *logrus.Logger
}

// New creates a System that finds frontends on $PATH.
func New(runner Runner, logger *logrus.Logger) *System {
	return &System{runner: runner, lookPath: exec.LookPath, logger: logger}
}

// Open allows port through ufw, firewalld and iptables, whichever are
// installed. A host with none of them is left alone. Errors from each
// frontend are joined.
func (s *System) Open(ctx context.Context, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	p := strconv.Itoa(port)

	var errs []error
	found := false
	for _, b := range backends {
		if _, err := s.lookPath(b.bin); err != nil {
			continue
		}
		found = true

		entry := s.logger.WithFields(logrus.Fields{"firewall": b.bin, "port": port})
		if err := s.run(ctx, b, p); err != nil {
			entry.WithError(err).Warn("failed to open port")
			errs = append(errs, err)
			continue
		}
		entry.Info("port opened")
	}

	if !found {
		s.logger.WithField("port", port).Debug("no firewall frontend found")
	}
	return errors.Join(errs...)
}

func (s *System) run(ctx context.Context, b backend, port string) error {
	for _, args := range b.commands(port) {
		if _, err := s.runner.Output(ctx, b.bin, args...); err != nil {
			return fmt.Errorf("%s: %w", b.bin, err)
		}
	}
	return nil
}
