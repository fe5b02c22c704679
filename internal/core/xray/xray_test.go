package xray

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "raydock/pkg/errors"
)

// recordingTerminator captures the run state seen at termination time.
type recordingTerminator struct {
	mu      sync.Mutex
	state   *fakeState
	seen    []bool
	calls   int
	at      time.Time
	failErr error
}

func (r *recordingTerminator) Terminate(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.seen = append(r.seen, r.state.Running())
	r.at = time.Now()
	return r.failErr
}

func newTestXray(t *testing.T, bin string, delay time.Duration) (*Xray, *fakeState, *recordingTerminator, *fakeRunner) {
	t.Helper()
	state := &fakeState{}
	term := &recordingTerminator{state: state}
	runner := &fakeRunner{outputs: map[string][]byte{}}
	x := New(Options{
		BinPath:      bin,
		ConfigPath:   filepath.Join(t.TempDir(), "xray.json"),
		LogDir:       filepath.Join(t.TempDir(), "logs"),
		RestartDelay: delay,
	}, state, term, runner, testLogger())
	return x, state, term, runner
}

func trueBinary(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true(1) not available")
	}
	return path
}

func TestStartMarksRunningAndCreatesLogs(t *testing.T) {
	x, state, _, _ := newTestXray(t, trueBinary(t), 0)

	require.NoError(t, x.Start(context.Background()))

	assert.True(t, state.Running())
	assert.FileExists(t, filepath.Join(x.opts.LogDir, AccessLogName))
	assert.FileExists(t, filepath.Join(x.opts.LogDir, ErrorLogName))

	status := x.Status(true)
	assert.True(t, status.Running)
	assert.NotZero(t, status.PID)
	assert.Equal(t, "xray", status.CoreType)
}

func TestStartFailureStillMarksRunning(t *testing.T) {
	x, state, _, _ := newTestXray(t, "/nonexistent/xray", 0)

	err := x.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrCoreStartFailed)
	assert.ErrorIs(t, err, pkgerrors.ErrCoreNotFound)

	var coreErr *pkgerrors.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, "start", coreErr.Op)
	assert.True(t, state.Running())
}

func TestStopIsBestEffort(t *testing.T) {
	x, state, term, _ := newTestXray(t, "/nonexistent/xray", 0)
	term.failErr = errors.New("permission denied")
	state.SetRunning(true)

	assert.NoError(t, x.Stop(context.Background()))
	assert.False(t, state.Running())
	assert.Equal(t, 1, term.calls)
	assert.False(t, x.Status(false).Running)
}

func TestRestartSequence(t *testing.T) {
	delay := 30 * time.Millisecond
	x, state, term, _ := newTestXray(t, trueBinary(t), delay)
	state.SetRunning(true)

	begin := time.Now()
	require.NoError(t, x.Restart(context.Background()))

	// Stopped while terminating, running once restarted.
	require.Equal(t, []bool{false}, term.seen)
	assert.True(t, state.Running())
	assert.Equal(t, []bool{true, false, true}, state.history)
	assert.GreaterOrEqual(t, time.Since(term.at), delay)
	assert.GreaterOrEqual(t, time.Since(begin), delay)
}

func TestRestartStartFailure(t *testing.T) {
	x, state, _, _ := newTestXray(t, "/nonexistent/xray", time.Millisecond)

	err := x.Restart(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrCoreStartFailed)
	assert.True(t, state.Running())
}

func TestRestartCancelled(t *testing.T) {
	x, state, _, _ := newTestXray(t, "/nonexistent/xray", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := x.Restart(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, state.Running())
}

func TestVersion(t *testing.T) {
	x, _, _, runner := newTestXray(t, "/opt/xray", 0)
	runner.outputs["/opt/xray version"] = []byte("Xray 1.8.4 (Xray, Penetrates Everything.) Custom (go1.21.1 linux/amd64)\nA unified platform for anti-censorship.\n")

	v, err := x.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1.8.4", v)

	_, err = x.Version(context.Background())
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 1, "version should be cached")

	x.ForgetVersion()
	_, err = x.Version(context.Background())
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 2)
}

func TestVersionFailure(t *testing.T) {
	x, _, _, runner := newTestXray(t, "/opt/xray", 0)
	runner.errs = map[string]error{"/opt/xray version": os.ErrNotExist}

	_, err := x.Version(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion([]byte("Xray v25.1.1 (Xray)\n"))
	require.NoError(t, err)
	assert.Equal(t, "v25.1.1", v)

	_, err = parseVersion([]byte(""))
	assert.Error(t, err)
	_, err = parseVersion([]byte("Xray\n"))
	assert.Error(t, err)
}
