package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"raydock/internal/storage"
	"raydock/internal/storage/models"
	pkgerrors "raydock/pkg/errors"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The traffic job and the CLI write from different goroutines; a small
	// pool keeps sqlite lock contention down.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	storage := &DB{db: db}

	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Inbound operations ─────────────────────────────────────────────────────

const inboundColumns = `
	id, remark, protocol, port, enable, tag, listen, allocate, settings, stream_settings, sniffing,
	up, down, total, expiry, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInbound(row rowScanner) (*models.Inbound, error) {
	inbound := &models.Inbound{}
	err := row.Scan(
		&inbound.ID, &inbound.Remark, &inbound.Protocol, &inbound.Port, &inbound.Enable,
		&inbound.Tag, &inbound.Listen, &inbound.Allocate, &inbound.Settings,
		&inbound.StreamSettings, &inbound.Sniffing,
		&inbound.Up, &inbound.Down, &inbound.Total, &inbound.Expiry,
		&inbound.CreatedAt, &inbound.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inbound, nil
}

func (d *DB) CreateInbound(ctx context.Context, inbound *models.Inbound) error {
	return createInbound(ctx, d.handle(), inbound)
}
func (t *Tx) CreateInbound(ctx context.Context, inbound *models.Inbound) error {
	return createInbound(ctx, t.handle(), inbound)
}

// newInboundID returns the short form used for default tags (inbound-2a80a671).
func newInboundID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func validateInbound(inbound *models.Inbound) error {
	if inbound.Protocol != "" && inbound.Port > 0 && inbound.Port <= 65535 {
		return nil
	}
	err := &pkgerrors.InboundError{ID: inbound.ID, Err: pkgerrors.ErrInboundInvalid}
	if inbound.Tag != nil {
		err.Tag = *inbound.Tag
	}
	return err
}

func createInbound(ctx context.Context, h dbHandle, inbound *models.Inbound) error {
	if err := validateInbound(inbound); err != nil {
		return err
	}
	if inbound.ID == "" {
		inbound.ID = newInboundID()
	}

	query := `
		INSERT INTO inbounds (id, remark, protocol, port, enable, tag, listen, allocate, settings,
		                      stream_settings, sniffing, up, down, total, expiry)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := h.ExecContext(ctx, query,
		inbound.ID, inbound.Remark, inbound.Protocol, inbound.Port, inbound.Enable,
		inbound.Tag, inbound.Listen, inbound.Allocate, inbound.Settings,
		inbound.StreamSettings, inbound.Sniffing,
		inbound.Up, inbound.Down, inbound.Total, inbound.Expiry,
	)
	if err != nil {
		return fmt.Errorf("failed to create inbound: %w", err)
	}
	return nil
}

func (d *DB) GetInbound(ctx context.Context, id string) (*models.Inbound, error) {
	return getInbound(ctx, d.handle(), id)
}
func (t *Tx) GetInbound(ctx context.Context, id string) (*models.Inbound, error) {
	return getInbound(ctx, t.handle(), id)
}

func getInbound(ctx context.Context, h dbHandle, id string) (*models.Inbound, error) {
	query := `SELECT ` + inboundColumns + ` FROM inbounds WHERE id = ?`
	inbound, err := scanInbound(h.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &pkgerrors.InboundError{ID: id, Err: pkgerrors.ErrInboundNotFound}
	}
	if err != nil {
		return nil, err
	}
	return inbound, nil
}

func (d *DB) ListInbounds(ctx context.Context, filter storage.InboundFilter) ([]*models.Inbound, error) {
	return listInbounds(ctx, d.handle(), filter)
}
func (t *Tx) ListInbounds(ctx context.Context, filter storage.InboundFilter) ([]*models.Inbound, error) {
	return listInbounds(ctx, t.handle(), filter)
}

func listInbounds(ctx context.Context, h dbHandle, filter storage.InboundFilter) ([]*models.Inbound, error) {
	query := `SELECT ` + inboundColumns + ` FROM inbounds WHERE 1=1`
	args := []interface{}{}

	if filter.Enabled != nil {
		query += " AND enable = ?"
		args = append(args, *filter.Enabled)
	}
	if filter.Protocol != nil {
		query += " AND protocol = ?"
		args = append(args, *filter.Protocol)
	}
	if filter.SearchTerm != "" {
		query += " AND (remark LIKE ? OR tag LIKE ?)"
		searchPattern := "%" + filter.SearchTerm + "%"
		args = append(args, searchPattern, searchPattern)
	}
	// Creation order keeps the generated config stable across applies.
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inbounds []*models.Inbound
	for rows.Next() {
		inbound, err := scanInbound(rows)
		if err != nil {
			return nil, err
		}
		inbounds = append(inbounds, inbound)
	}
	return inbounds, rows.Err()
}

func (d *DB) UpdateInbound(ctx context.Context, inbound *models.Inbound) error {
	return updateInbound(ctx, d.handle(), inbound)
}
func (t *Tx) UpdateInbound(ctx context.Context, inbound *models.Inbound) error {
	return updateInbound(ctx, t.handle(), inbound)
}

// updateInbound writes the desired-state columns. Traffic counters are owned
// by AccumulateTraffic and ResetTraffic.
func updateInbound(ctx context.Context, h dbHandle, inbound *models.Inbound) error {
	if err := validateInbound(inbound); err != nil {
		return err
	}
	query := `
		UPDATE inbounds
		SET remark = ?, protocol = ?, port = ?, enable = ?, tag = ?, listen = ?, allocate = ?,
		    settings = ?, stream_settings = ?, sniffing = ?, total = ?, expiry = ?
		WHERE id = ?
	`
	result, err := h.ExecContext(ctx, query,
		inbound.Remark, inbound.Protocol, inbound.Port, inbound.Enable, inbound.Tag,
		inbound.Listen, inbound.Allocate, inbound.Settings, inbound.StreamSettings,
		inbound.Sniffing, inbound.Total, inbound.Expiry, inbound.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update inbound: %w", err)
	}
	return requireRow(result, inbound.ID)
}

func (d *DB) DeleteInbound(ctx context.Context, id string) error {
	return deleteInbound(ctx, d.handle(), id)
}
func (t *Tx) DeleteInbound(ctx context.Context, id string) error {
	return deleteInbound(ctx, t.handle(), id)
}

func deleteInbound(ctx context.Context, h dbHandle, id string) error {
	result, err := h.ExecContext(ctx, "DELETE FROM inbounds WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func (d *DB) SetInboundEnabled(ctx context.Context, id string, enable bool) error {
	return setInboundEnabled(ctx, d.handle(), id, enable)
}
func (t *Tx) SetInboundEnabled(ctx context.Context, id string, enable bool) error {
	return setInboundEnabled(ctx, t.handle(), id, enable)
}

func setInboundEnabled(ctx context.Context, h dbHandle, id string, enable bool) error {
	result, err := h.ExecContext(ctx, "UPDATE inbounds SET enable = ? WHERE id = ?", enable, id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

// ─── Traffic operations ─────────────────────────────────────────────────────

// AccumulateTraffic adds the deltas and disables the inbound if the updated
// totals reach its quota. It reports whether this call disabled it.
func (d *DB) AccumulateTraffic(ctx context.Context, id string, deltaUp, deltaDown int64) (*models.Inbound, bool, error) {
	tx, err := d.BeginTx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	inbound, disabled, err := tx.AccumulateTraffic(ctx, id, deltaUp, deltaDown)
	if err != nil {
		tx.Rollback()
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit traffic: %w", err)
	}
	return inbound, disabled, nil
}
func (t *Tx) AccumulateTraffic(ctx context.Context, id string, deltaUp, deltaDown int64) (*models.Inbound, bool, error) {
	return accumulateTraffic(ctx, t.handle(), id, deltaUp, deltaDown)
}

// accumulateTraffic adds the deltas in SQL and checks the quota against the
// row as stored afterwards. The enable column is only ever cleared here, so an
// operator's disable or reset made during the stats query is kept.
func accumulateTraffic(ctx context.Context, h dbHandle, id string, deltaUp, deltaDown int64) (*models.Inbound, bool, error) {
	result, err := h.ExecContext(ctx,
		`UPDATE inbounds SET up = up + ?, down = down + ? WHERE id = ?`,
		deltaUp, deltaDown, id)
	if err != nil {
		return nil, false, fmt.Errorf("failed to accumulate traffic: %w", err)
	}
	if err := requireRow(result, id); err != nil {
		return nil, false, err
	}

	inbound, err := getInbound(ctx, h, id)
	if err != nil {
		return nil, false, err
	}
	if !inbound.Enable || !inbound.QuotaExceeded(inbound.Up, inbound.Down) {
		return inbound, false, nil
	}

	if err := setInboundEnabled(ctx, h, id, false); err != nil {
		return nil, false, fmt.Errorf("failed to disable inbound: %w", err)
	}
	inbound.Enable = false
	return inbound, true, nil
}

func (d *DB) ResetTraffic(ctx context.Context, id string) error {
	return resetTraffic(ctx, d.handle(), id)
}
func (t *Tx) ResetTraffic(ctx context.Context, id string) error {
	return resetTraffic(ctx, t.handle(), id)
}

func resetTraffic(ctx context.Context, h dbHandle, id string) error {
	result, err := h.ExecContext(ctx, "UPDATE inbounds SET up = 0, down = 0 WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &pkgerrors.InboundError{ID: id, Err: pkgerrors.ErrInboundNotFound}
	}
	return nil
}
