package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend loads and saves a whole store.
type Backend interface {
	// Load returns the persisted store, or a new empty store of splitDim if
	// nothing has been persisted yet. A splitDim of 0 accepts whatever was
	// persisted.
	Load(ctx context.Context, splitDim int) (*Store, error)
	Save(ctx context.Context, s *Store) error
	Close() error
}

// Open returns the backend for driver ("file" or "sqlite") at path.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case "", "file":
		return FileBackend{Path: path}, nil
	case "sqlite":
		return OpenDB(path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

// FileBackend keeps the serialized store in a single file.
type FileBackend struct {
	Path string
}

// Load implements Backend.
func (b FileBackend) Load(_ context.Context, splitDim int) (*Store, error) {
	return LoadFile(b.Path, splitDim)
}

// Save implements Backend.
func (b FileBackend) Save(_ context.Context, s *Store) error {
	return s.SaveFile(b.Path)
}

// Close implements Backend.
func (FileBackend) Close() error { return nil }

// LoadFile reads a store from path. A missing file yields a new empty store.
func LoadFile(path string, splitDim int) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newForLoad(splitDim)
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	s, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkSplit(s, splitDim); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// SaveFile writes the store to path, replacing any previous file atomically.
func (s *Store) SaveFile(path string) error {
	data, err := s.Serialize()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace store: %w", err)
	}
	return nil
}

func newForLoad(splitDim int) (*Store, error) {
	if splitDim == 0 {
		return nil, fmt.Errorf("no persisted store and no split dimension given")
	}
	return New(splitDim)
}

func checkSplit(s *Store, splitDim int) error {
	if splitDim != 0 && s.SplitDim() != splitDim {
		return fmt.Errorf("%w: store uses %d, requested %d", ErrSplitMismatch, s.SplitDim(), splitDim)
	}
	return nil
}
