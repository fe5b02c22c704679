package paths

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
)

// HomeDir returns the real user's home directory, even when running under sudo.
func HomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err == nil {
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// RealUser returns the UID and GID of the real invoking user when running
// under sudo (via SUDO_UID / SUDO_GID). Returns ok=false when not under sudo.
func RealUser() (uid, gid int, ok bool) {
	sudoUID := os.Getenv("SUDO_UID")
	if sudoUID == "" {
		return 0, 0, false
	}
	u, err := strconv.ParseInt(sudoUID, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var g int64
	if sudoGID := os.Getenv("SUDO_GID"); sudoGID != "" {
		g, _ = strconv.ParseInt(sudoGID, 10, 64)
	}
	return int(u), int(g), true
}

// ChownToRealUser changes the owner of path to the real invoking user when
// running under sudo. It is a no-op when not under sudo.
func ChownToRealUser(path string) {
	if uid, gid, ok := RealUser(); ok {
		os.Chown(path, uid, gid)
	}
}

// EnsureDir creates dir if needed. Under sudo the directory is chowned to
// the real user so that later non-root invocations such as `raydock status`
// can still open the database and read logs.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	ChownToRealUser(dir)
	return nil
}

// WorkDir returns the working directory, or "." when it cannot be determined.
func WorkDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// DefaultLogDir returns <cwd>/logs, where xray writes its access and error
// logs unless configured otherwise.
func DefaultLogDir() string {
	return filepath.Join(WorkDir(), "logs")
}

// ConfigFile returns ~/.config/raydock/config.yaml when it exists.
func ConfigFile() (string, bool) {
	home, err := HomeDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(home, ".config", "raydock", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}
