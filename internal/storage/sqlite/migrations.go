package sqlite

import (
	"fmt"
	"strings"
)

const schema = `
-- Inbound listeners and their traffic accounting
CREATE TABLE IF NOT EXISTS inbounds (
    id TEXT PRIMARY KEY,
    remark TEXT NOT NULL DEFAULT '',
    protocol TEXT NOT NULL,
    port INTEGER NOT NULL,
    enable BOOLEAN NOT NULL DEFAULT 1,

    -- Protocol-specific JSON blobs
    settings TEXT,
    stream_settings TEXT,
    sniffing TEXT,

    -- Traffic (bytes)
    up INTEGER NOT NULL DEFAULT 0,
    down INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    expiry INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_inbounds_enable ON inbounds(enable);
CREATE INDEX IF NOT EXISTS idx_inbounds_port ON inbounds(port);

CREATE TRIGGER IF NOT EXISTS update_inbounds_timestamp AFTER UPDATE OF
    remark, protocol, port, enable, settings, stream_settings, sniffing, total, expiry ON inbounds
BEGIN
    UPDATE inbounds SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;
`

// addedColumns were introduced after the first schema revision. Older
// databases get them through ALTER TABLE at startup.
var addedColumns = []string{"tag", "listen", "allocate"}

// runMigrations executes the database schema and adds late columns
func runMigrations(db *DB) error {
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}

	for _, col := range addedColumns {
		stmt := fmt.Sprintf("ALTER TABLE inbounds ADD COLUMN %s TEXT", col)
		if _, err := db.db.Exec(stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}

	return nil
}

func isDuplicateColumn(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists")
}
