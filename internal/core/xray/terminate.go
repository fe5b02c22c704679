package xray

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// Terminator asks running instances of a binary to exit.
type Terminator interface {
	Terminate(ctx context.Context, binPath string) error
}

// NameTerminator signals every process whose name matches the binary's base
// name. It cannot tell instances apart, so unrelated processes with the same
// name are signalled too.
type NameTerminator struct{}

// Terminate sends SIGTERM to all matching processes except the caller.
// It does not wait for them to exit.
func (NameTerminator) Terminate(ctx context.Context, binPath string) error {
	pids, err := FindProcesses(ctx, binPath)
	if err != nil {
		return err
	}

	var errs []error
	for _, pid := range pids {
		if err := unix.Kill(int(pid), unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("signal pid %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// FindProcesses returns the pids of processes named like binPath, other
// than the caller.
func FindProcesses(ctx context.Context, binPath string) ([]int32, error) {
	name := filepath.Base(binPath)
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var pids []int32
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname != name {
			continue
		}
		pids = append(pids, p.Pid)
	}
	return pids, nil
}
