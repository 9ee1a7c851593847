package api

import (
	"context"

	"github.com/soaringjerry/Pulse/internal/models"
	"github.com/soaringjerry/Pulse/internal/services"
)

// Store is the entity store every backend (memory, SQLite, Postgres)
// implements. Lookups of a single row return models.ErrNotFound when the
// row is missing; CurrentCycle and the device lookup return nil instead.
type Store interface {
	services.CycleStore
	services.SubmissionStore
	services.SnapshotStore
	services.AuditStore

	// ExportDataset copies every row for backups and store migrations.
	ExportDataset(ctx context.Context) (*models.Dataset, error)
	Close() error
}

var _ Store = (*MemoryStore)(nil)
