package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soaringjerry/Pulse/internal/models"
)

const snapshotPrefix = "snapshots/"

// Archiver copies locked snapshots into a blob store as JSON documents.
type Archiver struct {
	store Store
}

func NewArchiver(store Store) *Archiver {
	return &Archiver{store: store}
}

// SnapshotKey is the object key of an archived snapshot.
func SnapshotKey(id string) string { return snapshotPrefix + id + ".json" }

// Archive writes snap once. A snapshot already archived under its key is left
// as is; the archived copy of a locked snapshot never changes.
func (a *Archiver) Archive(ctx context.Context, snap *models.Snapshot) (string, error) {
	if snap == nil || snap.ID == "" {
		return "", errors.New("blob: archive requires a snapshot id")
	}
	if !snap.IsLocked {
		return "", fmt.Errorf("blob: snapshot %s is not locked", snap.ID)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", err
	}
	key := SnapshotKey(snap.ID)
	if _, err := a.store.Put(ctx, key, data, "application/json"); err != nil && !errors.Is(err, ErrExists) {
		return "", err
	}
	return key, nil
}

// Load reads an archived snapshot back.
func (a *Archiver) Load(ctx context.Context, id string) (*models.Snapshot, error) {
	data, _, err := a.store.Get(ctx, SnapshotKey(id))
	if err != nil {
		return nil, err
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("blob: decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// List returns the keys of all archived snapshots.
func (a *Archiver) List(ctx context.Context) ([]Info, error) {
	return a.store.List(ctx, snapshotPrefix)
}
