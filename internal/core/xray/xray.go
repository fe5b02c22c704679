package xray

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"raydock/internal/core/types"
	pkgerrors "raydock/pkg/errors"
)

const (
	// AccessLogName receives xray's stdout and its access log.
	AccessLogName = "access.log"
	// ErrorLogName receives xray's stderr and its error log.
	ErrorLogName = "error.log"

	// DefaultRestartDelay gives the OS time to release listening ports.
	DefaultRestartDelay = 50 * time.Millisecond

	coreType = "xray"
)

// RunState records the observed run state of the process.
type RunState interface {
	SetRunning(running bool)
}

// Options configures the Xray supervisor.
type Options struct {
	BinPath      string
	ConfigPath   string
	LogDir       string
	RestartDelay time.Duration
}

// Xray supervises the external xray process.
type Xray struct {
	opts       Options
	state      RunState
	terminator Terminator
	runner     Runner
	logger     *logrus.Logger
	cache      *cache.Cache

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
}

// New creates a new Xray supervisor. A nil terminator signals by process name;
// a nil runner uses os/exec.
func New(opts Options, state RunState, terminator Terminator, runner Runner, logger *logrus.Logger) *Xray {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if terminator == nil {
		terminator = NameTerminator{}
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Xray{
		opts:       opts,
		state:      state,
		terminator: terminator,
		runner:     runner,
		logger:     logger,
		cache:      cache.New(time.Minute, 5*time.Minute),
	}
}

// Start launches xray with the configured config file. The run state is
// marked running before the spawn is attempted, and no check is made for
// an instance that is already running.
func (x *Xray) Start(ctx context.Context) error {
	x.state.SetRunning(true)

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, err := os.Stat(x.opts.BinPath); err != nil {
		return x.startErr(fmt.Errorf("%w: %s", pkgerrors.ErrCoreNotFound, x.opts.BinPath))
	}

	if err := os.MkdirAll(x.opts.LogDir, 0755); err != nil {
		return x.startErr(fmt.Errorf("failed to create log directory: %w", err))
	}

	stdout, err := os.Create(filepath.Join(x.opts.LogDir, AccessLogName))
	if err != nil {
		return x.startErr(fmt.Errorf("failed to create access log: %w", err))
	}
	stderr, err := os.Create(filepath.Join(x.opts.LogDir, ErrorLogName))
	if err != nil {
		stdout.Close()
		return x.startErr(fmt.Errorf("failed to create error log: %w", err))
	}

	// Not CommandContext: xray must outlive the request that started it.
	cmd := exec.Command(x.opts.BinPath, "run", "-c", x.opts.ConfigPath)
	cmd.Env = append(os.Environ(), "XRAY_LOCATION_ASSET="+filepath.Dir(x.opts.BinPath))
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Own process group so a one-shot CLI invocation can exit and leave xray running.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return x.startErr(err)
	}

	x.cmd = cmd
	x.startedAt = time.Now()
	x.logger.WithFields(logrus.Fields{
		"pid":    cmd.Process.Pid,
		"bin":    x.opts.BinPath,
		"config": x.opts.ConfigPath,
	}).Info("xray process started")

	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		entry := x.logger.WithField("pid", cmd.Process.Pid)
		if err != nil {
			entry.WithError(err).Warn("xray process exited")
		} else {
			entry.Info("xray process exited")
		}
	}()

	return nil
}

func (x *Xray) startErr(err error) error {
	x.logger.WithError(err).Error("failed to start xray process")
	return &pkgerrors.CoreError{
		CoreType: coreType,
		Op:       "start",
		Err:      fmt.Errorf("%w: %w", pkgerrors.ErrCoreStartFailed, err),
	}
}

// Stop marks the process stopped and asks every process named like the
// binary to exit. Termination is best effort.
func (x *Xray) Stop(ctx context.Context) error {
	x.state.SetRunning(false)

	if err := x.terminator.Terminate(ctx, x.opts.BinPath); err != nil {
		x.logger.WithError(err).Warn("failed to terminate xray")
	} else {
		x.logger.Info("xray stop requested")
	}

	x.mu.Lock()
	x.cmd = nil
	x.startedAt = time.Time{}
	x.mu.Unlock()
	return nil
}

// Restart stops xray, waits for the ports to be released, then starts it.
func (x *Xray) Restart(ctx context.Context) error {
	if err := x.Stop(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(x.opts.RestartDelay):
	}

	return x.Start(ctx)
}

// Status returns what this supervisor last spawned.
func (x *Xray) Status(running bool) *types.Status {
	x.mu.Lock()
	defer x.mu.Unlock()

	status := &types.Status{
		Running:  running,
		CoreType: coreType,
	}
	if running && x.cmd != nil && x.cmd.Process != nil {
		status.PID = x.cmd.Process.Pid
		status.StartedAt = x.startedAt
		status.Uptime = time.Since(x.startedAt)
	}
	return status
}

// Version returns the installed xray version as "vX.Y.Z".
func (x *Xray) Version(ctx context.Context) (string, error) {
	if v, ok := x.cache.Get("version"); ok {
		return v.(string), nil
	}

	output, err := x.runner.Output(ctx, x.opts.BinPath, "version")
	if err != nil {
		return "", &pkgerrors.CoreError{CoreType: coreType, Op: "version", Err: err}
	}

	version, err := parseVersion(output)
	if err != nil {
		return "", &pkgerrors.CoreError{CoreType: coreType, Op: "version", Err: err}
	}
	x.cache.SetDefault("version", version)
	return version, nil
}

// ForgetVersion drops the cached version after the binary changes.
func (x *Xray) ForgetVersion() {
	x.cache.Delete("version")
}

// parseVersion reads the second field of the first line:
// "Xray 1.8.4 (Xray, Penetrates Everything.) ..."
func parseVersion(output []byte) (string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(output))
	if !scanner.Scan() {
		return "", fmt.Errorf("empty version output")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 2 {
		return "", fmt.Errorf("unexpected version output: %q", scanner.Text())
	}
	version := fields[1]
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	return version, nil
}

// BinPath returns the supervised binary path.
func (x *Xray) BinPath() string {
	return x.opts.BinPath
}
