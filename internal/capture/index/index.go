package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/camrelay/camrelay/internal/capture"
)

const defaultBusyTimeout = 5 * time.Second

// Options describes parameters for opening a capture index.
type Options struct {
	Path     string // SQLite database path
	ReadOnly bool   // Open database in read-only mode
}

// Index records every capture written by the store so stored images can
// be listed without scanning the captures directory.
type Index struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Entry is one indexed capture.
type Entry struct {
	Filename   string    `json:"filename"`
	CapturedAt time.Time `json:"captured_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest"`
	SenderID   string    `json:"sender_id"`
}

// NotFoundError indicates a requested capture is not indexed.
type NotFoundError struct {
	Filename string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("capture %s not found", e.Filename)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS captures (
		filename TEXT PRIMARY KEY,
		captured_ms INTEGER NOT NULL,
		size_bytes INTEGER NOT NULL,
		digest TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_captures_captured_ms ON captures(captured_ms DESC)`,
}

// Open initialises the capture index at opts.Path.
func Open(opts Options) (*Index, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("index: path is required")
	}

	dsn := opts.Path
	if opts.ReadOnly {
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("index: open %s: %w", opts.Path, err)
		}
		dsn = fmt.Sprintf("file:%s?mode=ro", opts.Path)
	} else if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("index: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("index: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db, opts.ReadOnly); err != nil {
		db.Close()
		return nil, err
	}
	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Index{db: db, path: opts.Path, readOnly: opts.ReadOnly}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, readOnly bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", int(defaultBusyTimeout.Milliseconds())),
	}
	if !readOnly {
		pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("index: apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin schema transaction: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("index: apply schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit schema transaction: %w", err)
	}
	return nil
}

// Close finalises the underlying database connection.
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

// Path returns the filesystem path of the backing database.
func (x *Index) Path() string {
	return x.path
}

// Record upserts rec. A capture saved twice in the same millisecond keeps
// one row describing the latest file, matching what is on disk.
func (x *Index) Record(ctx context.Context, rec capture.Record) error {
	if x.readOnly {
		return fmt.Errorf("index: record %s: opened read-only", rec.Filename)
	}
	_, err := x.db.ExecContext(ctx, `
		INSERT INTO captures (filename, captured_ms, size_bytes, digest, sender_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			captured_ms = excluded.captured_ms,
			size_bytes = excluded.size_bytes,
			digest = excluded.digest,
			sender_id = excluded.sender_id,
			created_at = CURRENT_TIMESTAMP
	`, rec.Filename, rec.CapturedAt.UnixMilli(), rec.Size, rec.Digest, rec.SenderID)
	if err != nil {
		return fmt.Errorf("index: record %s: %w", rec.Filename, err)
	}
	return nil
}

// List returns up to limit captures, newest first. limit <= 0 returns all.
func (x *Index) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT filename, captured_ms, size_bytes, digest, sender_id FROM captures ORDER BY captured_ms DESC, filename DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list captures: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("index: scan capture: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: list captures: %w", err)
	}
	return entries, nil
}

// Get returns the entry for filename.
func (x *Index) Get(ctx context.Context, filename string) (Entry, error) {
	row := x.db.QueryRowContext(ctx, `
		SELECT filename, captured_ms, size_bytes, digest, sender_id FROM captures WHERE filename = ?
	`, filename)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, NotFoundError{Filename: filename}
		}
		return Entry{}, fmt.Errorf("index: get %s: %w", filename, err)
	}
	return entry, nil
}

// Count returns the number of indexed captures.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count captures: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		entry  Entry
		millis int64
	)
	if err := s.Scan(&entry.Filename, &millis, &entry.Size, &entry.Digest, &entry.SenderID); err != nil {
		return Entry{}, err
	}
	entry.CapturedAt = time.UnixMilli(millis).UTC()
	return entry, nil
}
