package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// FileStore keeps each collection as a pretty printed JSON array in dir/<collection>.json.
type FileStore struct {
	dir string
	log *zap.Logger

	mu    sync.Mutex
	locks map[Collection]*sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
	}
	return &FileStore{
		dir:   dir,
		log:   logger.Named("store.file"),
		locks: make(map[Collection]*sync.Mutex),
	}, nil
}

func (s *FileStore) lock(c Collection) func() {
	s.mu.Lock()
	l, ok := s.locks[c]
	if !ok {
		l = &sync.Mutex{}
		s.locks[c] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *FileStore) path(c Collection) string {
	return filepath.Join(s.dir, string(c)+".json")
}

// load returns the decoded elements of c. A missing or empty file is an empty
// collection. Valid JSON that is not an array is copied to <collection>.json.bak
// and read as empty; bytes that are not JSON at all are an error so a later
// write cannot replace the trail.
func (s *FileStore) load(c Collection) ([]any, error) {
	data, err := os.ReadFile(s.path(c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path(c), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var docs []any
	if err := codec.Unmarshal(data, &docs); err != nil {
		if !codec.Valid(data) {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path(c), err)
		}
		backup := s.path(c) + ".bak"
		if werr := os.WriteFile(backup, data, 0o644); werr != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", s.path(c), werr)
		}
		s.log.Warn("Collection file is not a JSON array; treating it as empty",
			zap.String("collection", string(c)), zap.String("backup", backup), zap.Error(err))
		return nil, nil
	}
	return docs, nil
}

// save writes through a temp file and rename so readers never see a partial array.
func (s *FileStore) save(c Collection, docs []any) error {
	if docs == nil {
		docs = []any{}
	}
	data, err := codec.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", c, err)
	}
	tmp, err := os.CreateTemp(s.dir, string(c)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", c, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", c, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file for %s: %w", c, err)
	}
	if err := os.Rename(tmp.Name(), s.path(c)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path(c), err)
	}
	return nil
}

func (s *FileStore) Append(ctx context.Context, c Collection, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var v any
	if err := codec.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("invalid %s document: %w", c, err)
	}

	defer s.lock(c)()
	docs, err := s.load(c)
	if err != nil {
		return err
	}
	return s.save(c, append(docs, v))
}

func (s *FileStore) Upsert(ctx context.Context, c Collection, keyField, key string, patch json.RawMessage) (bool, error) {
	if err := validateKeyField(keyField); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fields, err := decodeObject(patch)
	if err != nil {
		return false, err
	}

	defer s.lock(c)()
	docs, err := s.load(c)
	if err != nil {
		return false, err
	}
	for i, d := range docs {
		obj, ok := d.(map[string]any)
		if !ok || !keyMatches(obj[keyField], key) {
			continue
		}
		docs[i] = mergeTop(obj, fields)
		return false, s.save(c, docs)
	}
	if _, ok := fields[keyField]; !ok {
		fields[keyField] = key
	}
	return true, s.save(c, append(docs, fields))
}

func (s *FileStore) Find(ctx context.Context, c Collection, keyField, key string) (json.RawMessage, error) {
	if err := validateKeyField(keyField); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(c)()
	docs, err := s.load(c)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if obj, ok := d.(map[string]any); ok && keyMatches(obj[keyField], key) {
			return codec.Marshal(obj)
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) Tail(ctx context.Context, c Collection, n int) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer s.lock(c)()
	docs, err := s.load(c)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(docs) > n {
		docs = docs[len(docs)-n:]
	}
	out := make([]json.RawMessage, 0, len(docs))
	for _, d := range docs {
		raw, err := codec.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s document: %w", c, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (s *FileStore) Replace(ctx context.Context, c Collection, docs []json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decoded := make([]any, 0, len(docs))
	for i, raw := range docs {
		var v any
		if err := codec.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("invalid %s document at index %d: %w", c, i, err)
		}
		decoded = append(decoded, v)
	}
	defer s.lock(c)()
	return s.save(c, decoded)
}

func (s *FileStore) Close() error { return nil }
