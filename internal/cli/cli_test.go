package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raydock/internal/probe"
	"raydock/internal/storage/models"
	"raydock/internal/storage/sqlite"
	pkgerrors "raydock/pkg/errors"
)

func TestReadBlob(t *testing.T) {
	blob, err := readBlob("")
	require.NoError(t, err)
	assert.Nil(t, blob)

	blob, err = readBlob(` {"clients":[]} `)
	require.NoError(t, err)
	assert.Equal(t, `{"clients":[]}`, *blob)

	_, err = readBlob("{oops")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"decryption\":\"none\"}\n"), 0644))
	blob, err = readBlob("@" + path)
	require.NoError(t, err)
	assert.Equal(t, `{"decryption":"none"}`, *blob)

	_, err = readBlob("@" + filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
	assert.Equal(t, "10.0 GiB", formatBytes(10<<30))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"}, {"apply"}, {"start"}, {"stop"}, {"restart"}, {"status"},
		{"logs"}, {"version"}, {"xray", "update"}, {"xray", "versions"},
		{"xray", "keypair"}, {"inbound", "list"}, {"inbound", "add"},
		{"inbound", "enable"}, {"inbound", "disable"}, {"inbound", "delete"},
		{"inbound", "reset"}, {"inbound", "update"}, {"check"},
		{"db", "export"}, {"db", "import"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, "%v", path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestCompletionScript(t *testing.T) {
	var buf bytes.Buffer
	completionCmd.SetOut(&buf)
	t.Cleanup(func() { completionCmd.SetOut(nil) })

	require.NoError(t, completionCmd.RunE(completionCmd, []string{"bash"}))
	assert.Contains(t, buf.String(), "raydock")
}

func newCLITestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "raydock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newFlagCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "test"}
	addInboundFlags(c)
	require.NoError(t, c.ParseFlags(args))
	return c
}

func TestApplyInboundFlagsOnlyChanged(t *testing.T) {
	tag := "edge"
	settings := `{"clients":[]}`
	in := &models.Inbound{ID: "a", Protocol: "vless", Port: 443, Tag: &tag, Settings: &settings, Total: 100}

	c := newFlagCommand(t, "--port", "8443", "--tag", "", "--sniffing", `{"enabled":true}`)
	require.NoError(t, applyInboundFlags(c, in, true))

	assert.Equal(t, 8443, in.Port)
	assert.Equal(t, "vless", in.Protocol)
	assert.Equal(t, int64(100), in.Total)
	assert.Nil(t, in.Tag)
	require.NotNil(t, in.Settings)
	assert.Equal(t, settings, *in.Settings)
	require.NotNil(t, in.Sniffing)
	assert.Equal(t, `{"enabled":true}`, *in.Sniffing)
}

func TestApplyInboundFlagsRejectsBadBlob(t *testing.T) {
	c := newFlagCommand(t, "--stream", "{oops")
	err := applyInboundFlags(c, &models.Inbound{}, true)
	assert.ErrorContains(t, err, "--stream")
}

func TestUpdateInbound(t *testing.T) {
	ctx := context.Background()
	db := newCLITestDB(t)
	require.NoError(t, db.CreateInbound(ctx, &models.Inbound{ID: "a", Protocol: "vless", Port: 443, Enable: true}))
	_, _, err := db.AccumulateTraffic(ctx, "a", 10, 20)
	require.NoError(t, err)

	c := newFlagCommand(t, "--port", "8443", "--remark", "moved")
	got, err := updateInbound(ctx, db, "a", func(in *models.Inbound) error {
		return applyInboundFlags(c, in, true)
	})
	require.NoError(t, err)
	assert.Equal(t, 8443, got.Port)

	stored, err := db.GetInbound(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 8443, stored.Port)
	assert.Equal(t, "moved", stored.Remark)
	assert.True(t, stored.Enable)
	assert.Equal(t, int64(30), stored.Used())
}

func TestUpdateInboundRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newCLITestDB(t)
	require.NoError(t, db.CreateInbound(ctx, &models.Inbound{ID: "a", Protocol: "vless", Port: 443}))

	c := newFlagCommand(t, "--remark", "changed", "--port", "0")
	_, err := updateInbound(ctx, db, "a", func(in *models.Inbound) error {
		return applyInboundFlags(c, in, true)
	})
	assert.ErrorIs(t, err, pkgerrors.ErrInboundInvalid)

	stored, err := db.GetInbound(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, stored.Remark)
	assert.Equal(t, 443, stored.Port)

	_, err = updateInbound(ctx, db, "missing", func(*models.Inbound) error { return nil })
	assert.ErrorIs(t, err, pkgerrors.ErrInboundNotFound)

	boom := errors.New("boom")
	_, err = updateInbound(ctx, db, "a", func(*models.Inbound) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestSelectInbounds(t *testing.T) {
	ctx := context.Background()
	db := newCLITestDB(t)
	require.NoError(t, db.CreateInbound(ctx, &models.Inbound{ID: "a", Protocol: "vless", Port: 1001, Enable: true}))
	require.NoError(t, db.CreateInbound(ctx, &models.Inbound{ID: "b", Protocol: "vmess", Port: 1002, Enable: false}))
	require.NoError(t, db.CreateInbound(ctx, &models.Inbound{ID: "c", Protocol: "trojan", Port: 1003, Enable: true}))

	all, err := selectInbounds(ctx, db, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[1].ID)

	some, err := selectInbounds(ctx, db, []string{"b"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "b", some[0].ID)

	_, err = selectInbounds(ctx, db, []string{"a", "nope"})
	assert.ErrorIs(t, err, pkgerrors.ErrInboundNotFound)
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	progress := printProgress(&buf)

	progress(&probe.Result{Inbound: &models.Inbound{ID: "a"}, LatencyMS: 3}, 1, 2)
	progress(&probe.Result{Inbound: &models.Inbound{ID: "b"}, Err: errors.New("refused")}, 2, 2)

	assert.Equal(t, "\r[1/2] inbound-a ok\r[2/2] inbound-b fail", buf.String())
}

func TestBackupName(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "raydock_backup_20260304_050607.db", backupName(ts))
}
