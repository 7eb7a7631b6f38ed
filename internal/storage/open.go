package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
)

// Supported values of STORAGE_DRIVER
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// OpenOptions selects and configures the key/value backend
type OpenOptions struct {
	Driver     string
	DataDir    string
	SQLitePath string
	RedisAddr  string
	// Redis key namespace, so several devices can share one instance in development
	RedisNamespace string
}

// Open creates the key/value backend named by opts.Driver and wraps it in a LocalStore
func Open(ctx context.Context, opts OpenOptions, logger *slog.Logger) (*LocalStore, error) {
	var kv KeyValueStore

	switch opts.Driver {
	case "", DriverFile:
		opts.Driver = DriverFile
		fileKV, err := NewFileKV(opts.DataDir, logger)
		if err != nil {
			return nil, err
		}
		kv = fileKV
	case DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(opts.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		sqliteKV, err := NewSQLiteKV(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		kv = sqliteKV
	case DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.RedisAddr, err)
		}
		kv = NewRedisKV(client, opts.RedisNamespace)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}

	if logger != nil {
		logger.Info("Local store opened", "driver", opts.Driver)
	}
	return NewLocalStore(kv, opts.Driver, logger), nil
}
