package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/config"
	dbstore "github.com/soaringjerry/Pulse/internal/db"
	"github.com/soaringjerry/Pulse/internal/db/postgres"
	"github.com/soaringjerry/Pulse/internal/models"
)

// importer is a store that can take a full dataset copy.
type importer interface {
	ImportDataset(ctx context.Context, ds *models.Dataset) error
	Close() error
}

func openSQLite(path, migrationsDir string) (*dbstore.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := dbstore.RunMigrations(db, migrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	st, err := dbstore.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (api.Store, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		st, err := openSQLite(cfg.SQLitePath, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoragePostgres:
		st, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StorageMemory:
		st, err := api.NewMemoryStoreFromPath(cfg.MemoryPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func openImporter(ctx context.Context, cfg config.StorageConfig) (importer, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		st, err := openSQLite(cfg.SQLitePath, cfg.MigrationsDir)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoragePostgres:
		st, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("cannot import into storage driver %q", cfg.Driver)
}
