package xray

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeState records run-state transitions.
type fakeState struct {
	mu      sync.Mutex
	running bool
	history []bool
}

func (s *fakeState) SetRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
	s.history = append(s.history, running)
}

func (s *fakeState) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// fakeRunner returns canned output keyed by the joined argument list.
type fakeRunner struct {
	mu      sync.Mutex
	outputs map[string][]byte
	errs    map[string]error
	calls   []string
}

func (r *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	return r.outputs[key], nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}
