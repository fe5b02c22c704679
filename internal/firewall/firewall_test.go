package firewall

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	return nil, f.errs[key]
}

func newTestSystem(installed ...string) (*System, *fakeRunner) {
	logger, _ := test.NewNullLogger()
	runner := &fakeRunner{errs: map[string]error{}}
	s := New(runner, logger)
	s.lookPath = func(file string) (string, error) {
		for _, bin := range installed {
			if bin == file {
				return "/usr/sbin/" + file, nil
			}
		}
		return "", exec.ErrNotFound
	}
	return s, runner
}

func TestOpenUFW(t *testing.T) {
	s, runner := newTestSystem("ufw")

	require.NoError(t, s.Open(context.Background(), 443))
	assert.Equal(t, []string{"ufw allow 443/tcp", "ufw allow 443/udp"}, runner.calls)
}

func TestOpenEveryInstalledFrontend(t *testing.T) {
	s, runner := newTestSystem("firewall-cmd", "iptables")

	require.NoError(t, s.Open(context.Background(), 8443))
	assert.Equal(t, []string{
		"firewall-cmd --permanent --add-port=8443/tcp",
		"firewall-cmd --permanent --add-port=8443/udp",
		"firewall-cmd --reload",
		"iptables -I INPUT -p tcp --dport 8443 -j ACCEPT",
		"iptables -I INPUT -p udp --dport 8443 -j ACCEPT",
	}, runner.calls)
}

func TestOpenStopsFrontendOnFailure(t *testing.T) {
	s, runner := newTestSystem("firewall-cmd", "iptables")
	denied := errors.New("FirewallD is not running")
	runner.errs["firewall-cmd --permanent --add-port=443/tcp"] = denied

	err := s.Open(context.Background(), 443)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, []string{
		"firewall-cmd --permanent --add-port=443/tcp",
		"iptables -I INPUT -p tcp --dport 443 -j ACCEPT",
		"iptables -I INPUT -p udp --dport 443 -j ACCEPT",
	}, runner.calls)
}

func TestOpenWithoutFirewall(t *testing.T) {
	s, runner := newTestSystem()

	assert.NoError(t, s.Open(context.Background(), 443))
	assert.Empty(t, runner.calls)
}

func TestOpenRejectsInvalidPort(t *testing.T) {
	s, runner := newTestSystem("ufw")

	assert.Error(t, s.Open(context.Background(), 0))
	assert.Error(t, s.Open(context.Background(), 70000))
	assert.Empty(t, runner.calls)
}
