package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Export writes a consistent copy of the database at dbPath to dest,
// including changes still held in the write-ahead log. dest must not exist.
func Export(ctx context.Context, dbPath, dest string) error {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database not found: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%s already exists", dest)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the database at dbPath with the one at src. The previous
// database, if any, is exported to dbPath+".bak" first and that path is
// returned. Nothing may hold dbPath open while it runs.
func Import(ctx context.Context, src, dbPath string) (string, error) {
	if err := validateDatabase(ctx, src); err != nil {
		return "", err
	}

	var backup string
	if _, err := os.Stat(dbPath); err == nil {
		backup = dbPath + ".bak"
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to remove old backup: %w", err)
		}
		if err := Export(ctx, dbPath, backup); err != nil {
			return "", fmt.Errorf("failed to back up database: %w", err)
		}
	}

	if err := copyFile(src, dbPath); err != nil {
		return backup, err
	}
	// The old log belongs to the replaced file.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
			return backup, fmt.Errorf("failed to remove %s: %w", dbPath+suffix, err)
		}
	}
	return backup, nil
}

// validateDatabase checks that path is a sqlite database with an inbounds
// table. Older schemas are upgraded by migrations when next opened.
func validateDatabase(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM inbounds").Scan(&n); err != nil {
		return fmt.Errorf("%s is not a raydock database: %w", path, err)
	}
	return nil
}

// copyFile copies src to a temporary file beside dst and renames it into
// place. The temporary file is removed on failure.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dst)+".*.tmp")
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

	if _, err = io.Copy(tmp, in); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}
	if err = os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	return nil
}
