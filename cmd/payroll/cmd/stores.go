package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jmcleod/payrollportal/client"
	"github.com/jmcleod/payrollportal/session"
	"github.com/jmcleod/payrollportal/storage"
	bboltstorage "github.com/jmcleod/payrollportal/storage/bbolt"
	"github.com/jmcleod/payrollportal/storage/memory"
	"github.com/jmcleod/payrollportal/storage/postgres"
	redisstorage "github.com/jmcleod/payrollportal/storage/redis"
)

const (
	sessionFile = "session.db"
	serverFile  = "server.db"
)

type closeFunc func() error

func noClose() error { return nil }

// openRepository opens the backend selected by --store. bboltFile names the
// database file inside --data-dir.
func openRepository(ctx context.Context, c Config, bboltFile string) (storage.Repository, closeFunc, error) {
	switch c.Store {
	case storeBBolt, "":
		if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(c.DataDir, bboltFile)
		repo, err := bboltstorage.NewRepositoryFromFile(path, &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		return repo, repo.Close, nil

	case storeMemory:
		return memory.NewRepository(), noClose, nil

	case storeRedis:
		rc, err := redisstorage.NewClientFromURL(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		repo := redisstorage.NewRepository(rc)
		return repo, repo.Close, nil

	case storePostgres:
		if c.PostgresDSN == "" {
			return nil, nil, errors.New("--postgres-dsn is required for --store postgres")
		}
		repo, err := postgres.NewRepositoryFromDSN(ctx, c.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { repo.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q (want %s, %s, %s or %s)",
			c.Store, storeBBolt, storeMemory, storeRedis, storePostgres)
	}
}

// openSessionStore returns the profile's session store. The store is sealed
// when PAYROLL_SESSION_SECRET is set.
func openSessionStore(ctx context.Context, c Config) (*session.Store, closeFunc, error) {
	repo, closeRepo, err := openRepository(ctx, c, sessionFile)
	if err != nil {
		return nil, nil, err
	}
	opts := []session.Option{
		session.WithNamespace(c.Profile),
		session.WithLogger(logger),
	}
	if c.SessionSecret != "" {
		key, err := session.DeriveSealKey(c.SessionSecret)
		if err != nil {
			closeRepo()
			return nil, nil, err
		}
		opts = append(opts, session.WithSealKey(key))
	}
	store, err := session.NewStore(repo, opts...)
	if err != nil {
		closeRepo()
		return nil, nil, err
	}
	return store, closeRepo, nil
}

// withClient opens the session store, builds a client over it and runs fn.
func withClient(ctx context.Context, fn func(*client.Client, *session.Store) error) error {
	store, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	c, err := client.New(ctx, cfg.APIURL, store,
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(logger),
		client.WithUserAgent("payroll-cli/"+Version),
	)
	if err != nil {
		return err
	}
	return fn(c, store)
}
