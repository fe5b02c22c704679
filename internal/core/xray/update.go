package xray

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zip"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	pkgerrors "raydock/pkg/errors"
)

const (
	// DefaultReleasesURL lists Xray-core releases.
	DefaultReleasesURL = "https://api.github.com/repos/XTLS/Xray-core/releases"
	// DefaultDownloadBase is the prefix for release assets.
	DefaultDownloadBase = "https://github.com/XTLS/Xray-core/releases/download"

	archiveEntry = "xray"
	userAgent    = "raydock"
)

// Restarter restarts the supervised process.
type Restarter interface {
	Restart(ctx context.Context) error
}

// UpdaterConfig represents updater configuration
type UpdaterConfig struct {
	BinPath      string
	ReleasesURL  string
	DownloadBase string
	Arch         string // GOARCH; defaults to runtime.GOARCH
	Timeout      time.Duration
	RetryCount   int
}

// Updater replaces the xray binary with a released version.
type Updater struct {
	config    UpdaterConfig
	client    *resty.Client
	cache     *cache.Cache
	restarter Restarter
	logger    *logrus.Logger
}

// NewUpdater creates a new Updater
func NewUpdater(config UpdaterConfig, restarter Restarter, logger *logrus.Logger) *Updater {
	if config.ReleasesURL == "" {
		config.ReleasesURL = DefaultReleasesURL
	}
	if config.DownloadBase == "" {
		config.DownloadBase = DefaultDownloadBase
	}
	if config.Arch == "" {
		config.Arch = runtime.GOARCH
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(config.RetryCount).
		SetRetryWaitTime(2 * time.Second).
		SetHeader("User-Agent", userAgent)

	return &Updater{
		config:    config,
		client:    client,
		cache:     cache.New(10*time.Minute, 30*time.Minute),
		restarter: restarter,
		logger:    logger,
	}
}

// release is the subset of a GitHub release we read.
type release struct {
	TagName string `json:"tag_name"`
}

// Releases returns the available version tags, newest first.
func (u *Updater) Releases(ctx context.Context) ([]string, error) {
	if v, ok := u.cache.Get("releases"); ok {
		return v.([]string), nil
	}

	var releases []release
	resp, err := u.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/vnd.github+json").
		SetResult(&releases).
		Get(u.config.ReleasesURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch releases: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: release index returned %s", pkgerrors.ErrDownloadFailed, resp.Status())
	}

	tags := make([]string, 0, len(releases))
	for _, r := range releases {
		if r.TagName != "" {
			tags = append(tags, r.TagName)
		}
	}
	u.cache.SetDefault("releases", tags)
	return tags, nil
}

// assetArch maps a GOARCH to the Xray release asset suffix.
func assetArch(goarch string) (string, error) {
	switch goarch {
	case "amd64":
		return "64", nil
	case "arm64":
		return "arm64-v8a", nil
	}
	return "", fmt.Errorf("%w: %s", pkgerrors.ErrUnsupportedArch, goarch)
}

// normalizeVersion ensures the tag carries a leading "v".
func normalizeVersion(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}

// DownloadURL returns the release asset URL for version on this host.
func (u *Updater) DownloadURL(version string) (string, error) {
	arch, err := assetArch(u.config.Arch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/Xray-linux-%s.zip",
		strings.TrimRight(u.config.DownloadBase, "/"), normalizeVersion(version), arch), nil
}

// Update downloads version, swaps it in for the current binary and restarts
// xray. On any failure the existing binary is left untouched.
func (u *Updater) Update(ctx context.Context, version string) error {
	if err := u.install(ctx, version); err != nil {
		u.logger.WithError(err).WithField("version", version).Error("xray update failed")
		return &pkgerrors.UpdateError{Version: version, Err: err}
	}

	u.logger.WithField("version", normalizeVersion(version)).Info("xray binary updated")
	if err := u.restarter.Restart(ctx); err != nil {
		return &pkgerrors.UpdateError{Version: version, Err: fmt.Errorf("restart after update: %w", err)}
	}
	return nil
}

func (u *Updater) install(ctx context.Context, version string) error {
	url, err := u.DownloadURL(version)
	if err != nil {
		return err
	}
	u.logger.WithField("url", url).Info("downloading xray")

	resp, err := u.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrDownloadFailed, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%w: %s returned %s", pkgerrors.ErrDownloadFailed, url, resp.Status())
	}

	body := resp.Body()
	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	var entry *zip.File
	for _, f := range archive.File {
		if f.Name == archiveEntry {
			entry = f
			break
		}
	}
	if entry == nil {
		return pkgerrors.ErrBinaryNotInArchive
	}

	return replaceBinary(u.config.BinPath, entry)
}

// replaceBinary extracts entry next to binPath and renames it into place.
// The temporary file is removed on every failure path.
func replaceBinary(binPath string, entry *zip.File) (err error) {
	dir := filepath.Dir(binPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create bin directory: %w", err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to read archive entry: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, filepath.Base(binPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		return fmt.Errorf("failed to write binary: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write binary: %w", err)
	}
	if err = os.Chmod(tmpPath, 0755); err != nil {
		return fmt.Errorf("failed to chmod binary: %w", err)
	}
	if err = os.Rename(tmpPath, binPath); err != nil {
		return fmt.Errorf("failed to replace binary: %w", err)
	}
	return nil
}
