package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autodevops/internal/config"
)

// Collection names a logical, ordered list of JSON documents.
type Collection string

const (
	Logs    Collection = "logs"
	Actions Collection = "actions"
	Models  Collection = "models"
	Reviews Collection = "reviews"
)

// Collections lists every collection the service reads or writes.
var Collections = []Collection{Logs, Actions, Models, Reviews}

// ErrNotFound is returned by Find when no document carries the requested key.
var ErrNotFound = errors.New("document not found")

// ErrCorrupt is returned when a stored collection cannot be decoded at all.
var ErrCorrupt = errors.New("collection file is not valid JSON")

// codec keeps numbers as written so documents survive a read/write cycle untouched.
var codec = json.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
	UseNumber:   true,
}.Froze()

var keyFieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is the event log store. Documents keep their insertion order within a
// collection, and every read-modify-write cycle on a collection is serialized.
type Store interface {
	// Append adds doc to the end of collection c.
	Append(ctx context.Context, c Collection, doc json.RawMessage) error
	// Upsert merges the top-level fields of patch into the first document whose
	// keyField equals key, or appends patch when there is none. It reports
	// whether a new document was created.
	Upsert(ctx context.Context, c Collection, keyField, key string, patch json.RawMessage) (bool, error)
	// Find returns the first document whose keyField equals key.
	Find(ctx context.Context, c Collection, keyField, key string) (json.RawMessage, error)
	// Tail returns the last n documents in insertion order; n <= 0 returns all of them.
	Tail(ctx context.Context, c Collection, n int) ([]json.RawMessage, error)
	// Replace swaps the whole content of collection c.
	Replace(ctx context.Context, c Collection, docs []json.RawMessage) error
	Close() error
}

// Open builds the backend selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverFile, "":
		return NewFileStore(cfg.Dir, logger)
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, logger)
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func validateKeyField(keyField string) error {
	if !keyFieldPattern.MatchString(keyField) {
		return fmt.Errorf("invalid key field %q", keyField)
	}
	return nil
}

// -- Typed helpers --

// Append encodes v and appends it to collection c.
func Append[T any](ctx context.Context, s Store, c Collection, v T) error {
	raw, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s document: %w", c, err)
	}
	return s.Append(ctx, c, raw)
}

// Upsert encodes v and merges it into the document keyed by key.
func Upsert[T any](ctx context.Context, s Store, c Collection, keyField, key string, v T) (bool, error) {
	raw, err := codec.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s document: %w", c, err)
	}
	return s.Upsert(ctx, c, keyField, key, raw)
}

// Get decodes the document keyed by key.
func Get[T any](ctx context.Context, s Store, c Collection, keyField, key string) (T, error) {
	var v T
	raw, err := s.Find(ctx, c, keyField, key)
	if err != nil {
		return v, err
	}
	if err := codec.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s document %q: %w", c, key, err)
	}
	return v, nil
}

// Recent decodes the last n documents of c. Documents that do not decode into T
// are skipped individually and counted in skipped.
func Recent[T any](ctx context.Context, s Store, c Collection, n int) (items []T, skipped int, err error) {
	docs, err := s.Tail(ctx, c, n)
	if err != nil {
		return nil, 0, err
	}
	items = make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := codec.Unmarshal(doc, &v); err != nil {
			skipped++
			continue
		}
		items = append(items, v)
	}
	return items, skipped, nil
}

// -- merge helpers shared by the backends that merge in process --

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	var obj map[string]any
	if err := codec.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	if obj == nil {
		return nil, errors.New("document is not a JSON object")
	}
	return obj, nil
}

// mergeTop overwrites the top-level fields of dst with those of patch.
func mergeTop(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		dst[k] = v
	}
	return dst
}

// keyMatches compares a document field to a lookup key. Non-string values are
// compared through their printed form so numeric keys still match.
func keyMatches(v any, key string) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case string:
		return typed == key
	default:
		return fmt.Sprint(typed) == key
	}
}
