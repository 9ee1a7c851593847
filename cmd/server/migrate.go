package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/config"
	dbstore "github.com/soaringjerry/Pulse/internal/db"
	"github.com/soaringjerry/Pulse/internal/db/postgres"
)

// MigrateIfNeeded copies the memory store's dataset file into a fresh SQLite
// database. It does nothing once the SQLite file exists or when there is no
// dataset to copy.
func MigrateIfNeeded(ctx context.Context, datasetPath, sqlitePath, migrationsDir string) error {
	if sqlitePath == "" {
		return errors.New("sqlite path is required")
	}
	if _, err := os.Stat(sqlitePath); err == nil {
		return nil // already migrated
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("check sqlite file: %w", err)
	}
	if datasetPath == "" {
		return nil
	}
	ds, err := api.LoadDataset(datasetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load dataset: %w", err)
	}
	if len(ds.Cycles) == 0 {
		return nil
	}

	log.Printf("First run detected, importing dataset %s into %s...", datasetPath, sqlitePath)

	sqliteDB, err := openSQLite(sqlitePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sqliteDB.Close(); cerr != nil {
			log.Printf("warning: failed to close sqlite db: %v", cerr)
		}
	}()

	if err := dbstore.RunMigrations(sqliteDB, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	dst, err := dbstore.NewSQLiteStore(sqliteDB)
	if err != nil {
		return fmt.Errorf("init sqlite store: %w", err)
	}
	if err := dst.ImportDataset(ctx, ds); err != nil {
		return fmt.Errorf("copy data: %w", err)
	}

	log.Printf("Data migration completed: %d cycles, %d submissions, %d snapshots.", len(ds.Cycles), len(ds.Submissions), len(ds.Snapshots))
	return nil
}

func openSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return db, nil
}

// openStore builds the entity store selected by the storage driver.
func openStore(ctx context.Context, cfg config.StorageConfig) (api.Store, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		if err := MigrateIfNeeded(ctx, cfg.MemoryPath, cfg.SQLitePath, cfg.MigrationsDir); err != nil {
			return nil, err
		}
		sqliteDB, err := openSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := dbstore.RunMigrations(sqliteDB, cfg.MigrationsDir); err != nil {
			_ = sqliteDB.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		st, err := dbstore.NewSQLiteStore(sqliteDB)
		if err != nil {
			_ = sqliteDB.Close()
			return nil, err
		}
		return st, nil
	case config.StoragePostgres:
		st, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := api.NewMemoryStoreFromPath(cfg.MemoryPath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
