package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/melibackend/offline-inventory/internal/utils"
)

// FileKV implements KeyValueStore with one JSON file per key and an in-memory read cache
type FileKV struct {
	mu      sync.RWMutex
	dataDir string
	cache   map[string][]byte
	logger  *slog.Logger
}

// NewFileKV creates a file-backed store rooted at dataDir
func NewFileKV(dataDir string, logger *slog.Logger) (*FileKV, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &FileKV{
		dataDir: dataDir,
		cache:   make(map[string][]byte),
		logger:  utils.OrDefault(logger),
	}, nil
}

// Get returns the value for key, reading through to disk on a cache miss
func (f *FileKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	f.mu.RLock()
	if value, ok := f.cache[key]; ok {
		f.mu.RUnlock()
		return copyBytes(value), true, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.pathFor(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	f.cache[key] = data
	return copyBytes(data), true, nil
}

// Set writes the value to a temp file and renames it over the old one
func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.pathFor(key)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, value, 0644); err != nil {
		return fmt.Errorf("failed to write temp file for %s: %w", key, err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to replace file for %s: %w", key, err)
	}

	f.cache[key] = copyBytes(value)
	f.logger.Debug("Key persisted to file", "key", key, "path", path, "bytes", len(value))
	return nil
}

// Close drops the read cache; every Set is already on disk
func (f *FileKV) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cache = make(map[string][]byte)
	return nil
}

func (f *FileKV) pathFor(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(key)
	return filepath.Join(f.dataDir, safe+".json")
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
