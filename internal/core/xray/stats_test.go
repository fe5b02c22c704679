package xray

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statsQueryKey = "/usr/local/bin/xray api statsquery -s 127.0.0.1:10085 -pattern  -reset"

func TestStatsCollectorQuery(t *testing.T) {
	runner := &fakeRunner{outputs: map[string][]byte{
		statsQueryKey: []byte(`stat: <
  name: "inbound>>>edge>>>traffic>>>uplink"
  value: 40
>
`),
	}}
	sc := NewStatsCollector("/usr/local/bin/xray", DefaultAPIPort, runner, testLogger())

	snap := sc.Query(context.Background())

	up, down := snap.InboundTraffic("edge")
	assert.Equal(t, int64(40), up)
	assert.Equal(t, int64(0), down)
	require.Len(t, runner.Calls(), 1)
	assert.Equal(t, statsQueryKey, runner.Calls()[0])
}

func TestStatsCollectorQueryFailureIsEmpty(t *testing.T) {
	runner := &fakeRunner{errs: map[string]error{
		statsQueryKey: errors.New("connection refused"),
	}}
	sc := NewStatsCollector("/usr/local/bin/xray", DefaultAPIPort, runner, testLogger())

	snap := sc.Query(context.Background())
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}
