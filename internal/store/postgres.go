package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	pgSchema = `
        CREATE TABLE IF NOT EXISTS documents (
            id         BIGSERIAL PRIMARY KEY,
            collection TEXT NOT NULL,
            doc        JSONB NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, id);
    `
	pgInsert = `INSERT INTO documents (collection, doc) VALUES ($1, $2::jsonb)`
	pgLock   = `SELECT pg_advisory_xact_lock(hashtext($1))`
	pgMerge  = `
        UPDATE documents SET doc = doc || $4::jsonb
        WHERE id = (
            SELECT id FROM documents
            WHERE collection = $1 AND doc->>$2 = $3
            ORDER BY id LIMIT 1
        )
    `
	pgFind = `SELECT doc FROM documents WHERE collection = $1 AND doc->>$2 = $3 ORDER BY id LIMIT 1`
	pgTail = `
        SELECT doc FROM (
            SELECT id, doc FROM documents WHERE collection = $1 ORDER BY id DESC LIMIT $2
        ) recent ORDER BY id ASC
    `
	pgClear = `DELETE FROM documents WHERE collection = $1`
)

// PostgresStore keeps every collection in one JSONB documents table.
// Read-modify-write cycles take a transaction scoped advisory lock per collection.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres verifies the connection and ensures the schema exists.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &PostgresStore{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

func (s *PostgresStore) Append(ctx context.Context, c Collection, doc json.RawMessage) error {
	if _, err := s.pool.Exec(ctx, pgInsert, string(c), string(doc)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", c, err)
	}
	return nil
}

// withLockedTx runs fn inside a transaction holding the advisory lock for c.
func (s *PostgresStore) withLockedTx(ctx context.Context, c Collection, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, pgLock, string(c)); err != nil {
		return fmt.Errorf("failed to lock %s: %w", c, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, c Collection, keyField, key string, patch json.RawMessage) (bool, error) {
	if err := validateKeyField(keyField); err != nil {
		return false, err
	}
	fields, err := decodeObject(patch)
	if err != nil {
		return false, err
	}

	var created bool
	err = s.withLockedTx(ctx, c, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, pgMerge, string(c), keyField, key, string(patch))
		if err != nil {
			return fmt.Errorf("failed to merge into %s %q: %w", c, key, err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		if _, ok := fields[keyField]; !ok {
			fields[keyField] = key
		}
		raw, err := codec.Marshal(fields)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, pgInsert, string(c), string(raw)); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", c, err)
		}
		created = true
		return nil
	})
	return created, err
}

func (s *PostgresStore) Find(ctx context.Context, c Collection, keyField, key string) (json.RawMessage, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, pgFind, string(c), keyField, key).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %q: %w", c, key, err)
	}
	return json.RawMessage(doc), nil
}

func (s *PostgresStore) Tail(ctx context.Context, c Collection, n int) ([]json.RawMessage, error) {
	// A NULL limit means no limit.
	var limit *int64
	if n > 0 {
		l := int64(n)
		limit = &l
	}
	rows, err := s.pool.Query(ctx, pgTail, string(c), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c, err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", c, err)
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

func (s *PostgresStore) Replace(ctx context.Context, c Collection, docs []json.RawMessage) error {
	return s.withLockedTx(ctx, c, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgClear, string(c)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", c, err)
		}
		if len(docs) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, doc := range docs {
			batch.Queue(pgInsert, string(c), string(doc))
		}
		br := tx.SendBatch(ctx, batch)
		for i := range docs {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert %s document %d: %w", c, i, err)
			}
		}
		return br.Close()
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
