package storage

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open builds the KV backend named by backend rooted at dataDir.
func Open(backend, dataDir string, logger *log.Logger) (KV, error) {
	switch backend {
	case BackendFile:
		kv, err := NewFileKV(dataDir)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case BackendBadger:
		kv, err := NewBadgerKV(filepath.Join(dataDir, "badger"), logger)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}
