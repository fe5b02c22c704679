package xray

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "raydock/pkg/errors"
)

type countingRestarter struct {
	calls atomic.Int32
	err   error
}

func (r *countingRestarter) Restart(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestUpdater(t *testing.T, handler http.Handler, arch string) (*Updater, *countingRestarter, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	binPath := filepath.Join(t.TempDir(), "xray")
	require.NoError(t, os.WriteFile(binPath, []byte("old"), 0755))

	restarter := &countingRestarter{}
	u := NewUpdater(UpdaterConfig{
		BinPath:      binPath,
		ReleasesURL:  srv.URL + "/releases",
		DownloadBase: srv.URL + "/download",
		Arch:         arch,
	}, restarter, testLogger())
	return u, restarter, binPath
}

func TestDownloadURL(t *testing.T) {
	tests := []struct {
		arch    string
		version string
		want    string
	}{
		{"amd64", "1.8.4", "https://github.com/XTLS/Xray-core/releases/download/v1.8.4/Xray-linux-64.zip"},
		{"arm64", "v25.1.1", "https://github.com/XTLS/Xray-core/releases/download/v25.1.1/Xray-linux-arm64-v8a.zip"},
	}
	for _, tt := range tests {
		u := NewUpdater(UpdaterConfig{Arch: tt.arch}, &countingRestarter{}, testLogger())
		got, err := u.DownloadURL(tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestUpdateUnsupportedArch(t *testing.T) {
	u, restarter, binPath := newTestUpdater(t, http.NotFoundHandler(), "386")

	err := u.Update(context.Background(), "1.8.4")
	assert.ErrorIs(t, err, pkgerrors.ErrUnsupportedArch)
	assert.Zero(t, restarter.calls.Load())

	data, _ := os.ReadFile(binPath)
	assert.Equal(t, "old", string(data))
}

func TestUpdateReplacesBinary(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"xray":        "new-binary",
		"geoip.dat":   "geo",
		"LICENSE":     "mpl",
		"README.md":   "readme",
		"geosite.dat": "site",
	})
	mux := http.NewServeMux()
	mux.HandleFunc("/download/v1.8.4/Xray-linux-64.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	})
	u, restarter, binPath := newTestUpdater(t, mux, "amd64")

	require.NoError(t, u.Update(context.Background(), "1.8.4"))

	data, err := os.ReadFile(binPath)
	require.NoError(t, err)
	assert.Equal(t, "new-binary", string(data))

	info, err := os.Stat(binPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	assert.EqualValues(t, 1, restarter.calls.Load())

	entries, err := os.ReadDir(filepath.Dir(binPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdateDownloadFailureKeepsBinary(t *testing.T) {
	u, restarter, binPath := newTestUpdater(t, http.NotFoundHandler(), "amd64")

	err := u.Update(context.Background(), "9.9.9")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrDownloadFailed)

	var updateErr *pkgerrors.UpdateError
	require.ErrorAs(t, err, &updateErr)
	assert.Equal(t, "9.9.9", updateErr.Version)

	data, _ := os.ReadFile(binPath)
	assert.Equal(t, "old", string(data))
	assert.Zero(t, restarter.calls.Load())
}

func TestUpdateMissingEntry(t *testing.T) {
	archive := buildArchive(t, map[string]string{"geoip.dat": "geo"})
	mux := http.NewServeMux()
	mux.HandleFunc("/download/v1.8.4/Xray-linux-arm64-v8a.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	u, restarter, binPath := newTestUpdater(t, mux, "arm64")

	err := u.Update(context.Background(), "v1.8.4")
	assert.ErrorIs(t, err, pkgerrors.ErrBinaryNotInArchive)
	assert.Zero(t, restarter.calls.Load())

	entries, err := os.ReadDir(filepath.Dir(binPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file should remain")
}

func TestUpdateCorruptArchive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/download/v1.8.4/Xray-linux-64.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a zip"))
	})
	u, restarter, binPath := newTestUpdater(t, mux, "amd64")

	require.Error(t, u.Update(context.Background(), "1.8.4"))
	assert.Zero(t, restarter.calls.Load())
	data, _ := os.ReadFile(binPath)
	assert.Equal(t, "old", string(data))
}

func TestReleasesCached(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/releases", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"tag_name":"v25.1.1","name":"Xray-core v25.1.1"},{"tag_name":"v1.8.24"},{"tag_name":""}]`))
	})
	u, _, _ := newTestUpdater(t, mux, "amd64")

	tags, err := u.Releases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"v25.1.1", "v1.8.24"}, tags)

	_, err = u.Releases(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())
}

func TestReleasesFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/releases", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	})
	u, _, _ := newTestUpdater(t, mux, "amd64")

	_, err := u.Releases(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrDownloadFailed)
}
