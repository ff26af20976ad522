// Package driver opens the storage backend named by configuration.
package driver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessionvault/config"
	"github.com/jmcleod/sessionvault/storage"
	bboltstorage "github.com/jmcleod/sessionvault/storage/bbolt"
	"github.com/jmcleod/sessionvault/storage/memory"
	"github.com/jmcleod/sessionvault/storage/postgres"
	"github.com/jmcleod/sessionvault/storage/redis"
)

// Opened is a backend plus the means to release it.
type Opened struct {
	Backend storage.Backend
	Scope   storage.Scope
	Driver  string
	closer  io.Closer
}

// Close releases the backend's resources.
func (o *Opened) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// Open returns the backend selected by cfg. Transient storage always uses
// the in-process memory backend.
func Open(ctx context.Context, session config.SessionConfig, cfg config.StorageConfig) (*Opened, error) {
	if session.UseTransientStorage {
		return &Opened{Backend: memory.NewBackend(), Scope: storage.ScopeTransient, Driver: "memory"}, nil
	}

	switch strings.ToLower(cfg.Driver) {
	case config.DriverBbolt, "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
		store, err := bboltstorage.NewBackendFromFile(cfg.Path, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		return &Opened{Backend: store, Scope: storage.ScopePersistent, Driver: config.DriverBbolt, closer: store}, nil
	case config.DriverPostgres:
		store, err := postgres.NewBackendFromDSN(ctx, cfg.DSN, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		return &Opened{Backend: store, Scope: storage.ScopePersistent, Driver: config.DriverPostgres, closer: store}, nil
	case config.DriverRedis:
		store, err := redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return &Opened{Backend: store, Scope: storage.ScopePersistent, Driver: config.DriverRedis, closer: store}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
