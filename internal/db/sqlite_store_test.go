package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/soaringjerry/Pulse/internal/models"
	"github.com/soaringjerry/Pulse/internal/storetest"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	conn, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pulse.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	conn.SetMaxOpenConns(1)
	if err := RunMigrations(conn, ""); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewSQLiteStore(conn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Store { return openTestSQLite(t) })
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	s := openTestSQLite(t)
	if err := RunMigrations(s.db, ""); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", n)
	}
}

func TestLockedSnapshotGuardedBySchema(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)
	now := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	if err := s.InsertSnapshot(ctx, &models.Snapshot{ID: "p1", Period: "May 2026", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := s.PublishSnapshot(ctx, "p1", now); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := s.LockSnapshot(ctx, "p1", now); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE snapshots SET narrative = 'tampered' WHERE id = 'p1'`); err == nil {
		t.Fatalf("direct update of a locked snapshot succeeded")
	}
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE id = 'p1'`); err == nil {
		t.Fatalf("delete of a locked snapshot succeeded")
	}
	if _, err := s.db.Exec(`INSERT INTO snapshots (id, period, is_locked, created_at, updated_at) VALUES ('p2', 'x', 1, 'a', 'a')`); err == nil {
		t.Fatalf("locked draft insert succeeded")
	}
}

func TestImportDatasetRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTestSQLite(t)
	now := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	if _, _, err := src.CreateCycleIfNone(ctx, &models.Cycle{ID: "c1", Status: models.CycleOpen, Label: "June 2026", CreatedAt: now}); err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if err := src.InsertSubmission(ctx, &models.Submission{ID: "s1", CycleID: "c1", CreatedAt: now, Mode: models.ModeScore, StabilityScore: 8, Mood: models.MoodOptimistic, Word: "bright", DeviceHash: "dev-1"}); err != nil {
		t.Fatalf("insert submission: %v", err)
	}
	if err := src.AppendAudit(ctx, models.AuditEntry{Time: now, Actor: "ed1", Action: "cycle.open", Target: "c1", Metadata: map[string]string{"from": "OPEN"}}); err != nil {
		t.Fatalf("append audit: %v", err)
	}
	ds, err := src.ExportDataset(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := openTestSQLite(t)
	if err := dst.ImportDataset(ctx, ds); err != nil {
		t.Fatalf("import: %v", err)
	}
	cur, err := dst.CurrentCycle(ctx)
	if err != nil || cur == nil || cur.ID != "c1" {
		t.Fatalf("current cycle after import = %+v, %v", cur, err)
	}
	if err := dst.InsertSubmission(ctx, &models.Submission{ID: "s2", CycleID: "c1", CreatedAt: now, Mode: models.ModeScore, StabilityScore: 2, Mood: models.MoodFearful, Word: "dark", DeviceHash: "dev-1"}); !errors.Is(err, models.ErrDuplicate) {
		t.Fatalf("device dedupe after import err = %v, want ErrDuplicate", err)
	}
	audit, err := dst.ListAudit(ctx, 10)
	if err != nil || len(audit) != 1 || audit[0].Metadata["from"] != "OPEN" {
		t.Fatalf("audit after import = %+v, %v", audit, err)
	}
	if err := dst.ImportDataset(ctx, ds); err == nil {
		t.Fatalf("import into a non-empty store succeeded")
	}
}
