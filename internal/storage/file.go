package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileKV keeps every key in its own file under dir.
type FileKV struct {
	dir string
	mu  sync.Mutex
}

// NewFileKV creates dir if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure data dir")
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FileKV) Get(key string) ([]byte, error) {
	if !validKey(key) {
		return nil, &ErrInvalidKey{Key: key}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrKeyNotFound{Key: key}
		}
		return nil, &ErrInternal{Err: errors.Wrap(err, "read")}
	}
	return data, nil
}

// Set writes to a temp file and renames it over the old value.
func (f *FileKV) Set(key string, value []byte) error {
	if !validKey(key) {
		return &ErrInvalidKey{Key: key}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "create temp")}
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return &ErrInternal{Err: errors.Wrap(err, "write temp")}
	}
	if err := tmp.Close(); err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "close temp")}
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return &ErrInternal{Err: errors.Wrap(err, "rename")}
	}
	return nil
}

func (f *FileKV) Close() error { return nil }
