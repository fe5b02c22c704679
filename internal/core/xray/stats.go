package xray

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Runner executes a command and returns its stdout. It exists so tests can
// substitute the xray binary.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Output runs the command and returns its stdout. Stderr is attached to
// the returned error when the command exits non-zero.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if stderr.Len() > 0 {
			return out, fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return out, err
	}
	return out, nil
}

// StatsCollector queries xray's stats API through the xray CLI.
type StatsCollector struct {
	binPath string
	apiAddr string
	runner  Runner
	logger  *logrus.Logger
}

// NewStatsCollector creates a stats collector for the API on apiPort.
func NewStatsCollector(binPath string, apiPort int, runner Runner, logger *logrus.Logger) *StatsCollector {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &StatsCollector{
		binPath: binPath,
		apiAddr: fmt.Sprintf("%s:%d", apiListen, apiPort),
		runner:  runner,
		logger:  logger,
	}
}

// Query reads and resets every counter. Counters are cleared as they are
// read, so each value is the delta since the previous query. Any failure
// yields an empty snapshot; accounting for that cycle is skipped.
func (sc *StatsCollector) Query(ctx context.Context) Snapshot {
	start := time.Now()
	output, err := sc.runner.Output(ctx, sc.binPath,
		"api", "statsquery", "-s", sc.apiAddr, "-pattern", "", "-reset")
	if err != nil {
		sc.logger.WithError(err).Warn("xray stats query failed")
		return Snapshot{}
	}

	snapshot := ParseStats(bytes.NewReader(output))
	sc.logger.WithFields(logrus.Fields{
		"counters": len(snapshot),
		"took":     time.Since(start),
	}).Debug("xray stats queried")
	return snapshot
}
