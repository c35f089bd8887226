package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL,
    doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, id);
`

// SQLiteStore keeps every collection in one documents table of an embedded database.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and migrates) the database at dsn. A bare path gets its
// parent directory created and WAL plus a busy timeout enabled.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLiteStore, error) {
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection serializes writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}
	return &SQLiteStore{db: db, log: logger.Named("store.sqlite")}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, c Collection, doc json.RawMessage) error {
	if !codec.Valid(doc) {
		return fmt.Errorf("invalid %s document", c)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO documents (collection, doc) VALUES (?, ?)`, string(c), string(doc))
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", c, err)
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, c Collection, keyField, key string, patch json.RawMessage) (created bool, err error) {
	if err := validateKeyField(keyField); err != nil {
		return false, err
	}
	fields, err := decodeObject(patch)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var (
		id       int64
		existing string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT id, doc FROM documents WHERE collection = ? AND json_extract(doc, '$.' || ?) = ? ORDER BY id LIMIT 1`,
		string(c), keyField, key)
	switch err := row.Scan(&id, &existing); {
	case errors.Is(err, sql.ErrNoRows):
		if _, ok := fields[keyField]; !ok {
			fields[keyField] = key
		}
		raw, err := codec.Marshal(fields)
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, doc) VALUES (?, ?)`, string(c), string(raw)); err != nil {
			return false, fmt.Errorf("failed to insert into %s: %w", c, err)
		}
		created = true
	case err != nil:
		return false, fmt.Errorf("failed to look up %s %q: %w", c, key, err)
	default:
		current, err := decodeObject(json.RawMessage(existing))
		if err != nil {
			return false, err
		}
		raw, err := codec.Marshal(mergeTop(current, fields))
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET doc = ? WHERE id = ?`, string(raw), id); err != nil {
			return false, fmt.Errorf("failed to update %s %q: %w", c, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

func (s *SQLiteStore) Find(ctx context.Context, c Collection, keyField, key string) (json.RawMessage, error) {
	if err := validateKeyField(keyField); err != nil {
		return nil, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = ? AND json_extract(doc, '$.' || ?) = ? ORDER BY id LIMIT 1`,
		string(c), keyField, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %q: %w", c, key, err)
	}
	return json.RawMessage(doc), nil
}

func (s *SQLiteStore) Tail(ctx context.Context, c Collection, n int) ([]json.RawMessage, error) {
	limit := -1 // no limit in SQLite
	if n > 0 {
		limit = n
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM (SELECT id, doc FROM documents WHERE collection = ? ORDER BY id DESC LIMIT ?) ORDER BY id ASC`,
		string(c), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", c, err)
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Replace(ctx context.Context, c Collection, docs []json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, string(c)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", c, err)
	}
	for i, doc := range docs {
		if !codec.Valid(doc) {
			return fmt.Errorf("invalid %s document at index %d", c, i)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, doc) VALUES (?, ?)`, string(c), string(doc)); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", c, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
