package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

// MemoryStore keeps every entity in process. When created with a path it
// rewrites a JSON dataset file after each mutation.
type MemoryStore struct {
	mu          sync.RWMutex
	path        string
	current     string
	cycles      map[string]*models.Cycle
	submissions []*models.Submission
	snapshots   map[string]*models.Snapshot
	audit       []models.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cycles:    map[string]*models.Cycle{},
		snapshots: map[string]*models.Snapshot{},
	}
}

// NewMemoryStoreFromPath loads the dataset at path, if any, and persists
// later mutations back to it.
func NewMemoryStoreFromPath(path string) (*MemoryStore, error) {
	s := NewMemoryStore()
	s.path = path
	if path == "" {
		return s, nil
	}
	ds, err := LoadDataset(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	s.load(ds)
	return s, nil
}

// LoadDataset reads a dataset file written by the memory store.
func LoadDataset(path string) (*models.Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds models.Dataset
	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if ds.Version > models.DatasetVersion {
		return nil, fmt.Errorf("dataset %s has version %d, newest supported is %d", path, ds.Version, models.DatasetVersion)
	}
	return &ds, nil
}

func (s *MemoryStore) load(ds *models.Dataset) {
	for _, c := range ds.Cycles {
		if c != nil {
			s.cycles[c.ID] = c.Clone()
		}
	}
	if _, ok := s.cycles[ds.CurrentCycleID]; ok {
		s.current = ds.CurrentCycleID
	}
	for _, sub := range ds.Submissions {
		if sub != nil {
			s.submissions = append(s.submissions, sub.Unwrap())
		}
	}
	for _, snap := range ds.Snapshots {
		if snap != nil {
			s.snapshots[snap.ID] = snap.Clone()
		}
	}
	s.audit = append(s.audit, ds.Audit...)
}

// persist must be called with the write lock held.
func (s *MemoryStore) persist() {
	if s.path == "" {
		return
	}
	b, err := json.MarshalIndent(s.dataset(), "", "  ")
	if err != nil {
		log.Printf("memory store: encode: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.Printf("memory store: mkdir: %v", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		log.Printf("memory store: write: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Printf("memory store: rename: %v", err)
	}
}

func (s *MemoryStore) dataset() *models.Dataset {
	ds := &models.Dataset{Version: models.DatasetVersion, CurrentCycleID: s.current}
	for _, c := range s.cycles {
		ds.Cycles = append(ds.Cycles, c.Clone())
	}
	sort.Slice(ds.Cycles, func(i, j int) bool { return ds.Cycles[i].CreatedAt.Before(ds.Cycles[j].CreatedAt) })
	for _, sub := range s.submissions {
		ds.Submissions = append(ds.Submissions, models.NewDatasetSubmission(sub))
	}
	for _, snap := range s.snapshots {
		ds.Snapshots = append(ds.Snapshots, snap.Clone())
	}
	sort.Slice(ds.Snapshots, func(i, j int) bool { return ds.Snapshots[i].CreatedAt.Before(ds.Snapshots[j].CreatedAt) })
	ds.Audit = append([]models.AuditEntry(nil), s.audit...)
	return ds
}

func (s *MemoryStore) ExportDataset(ctx context.Context) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataset(), nil
}

func (s *MemoryStore) Close() error { return nil }

// cycles

func (s *MemoryStore) CurrentCycle(ctx context.Context) (*models.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return nil, nil
	}
	return s.cycles[s.current].Clone(), nil
}

func (s *MemoryStore) GetCycle(ctx context.Context, id string) (*models.Cycle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) CreateCycleIfNone(ctx context.Context, c *models.Cycle) (*models.Cycle, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		return s.cycles[s.current].Clone(), false, nil
	}
	if _, ok := s.cycles[c.ID]; ok {
		return nil, false, models.ErrDuplicate
	}
	s.cycles[c.ID] = c.Clone()
	s.current = c.ID
	s.persist()
	return c.Clone(), true, nil
}

// SetCycleStatus moves id from one status to another while id is still the
// current cycle.
func (s *MemoryStore) SetCycleStatus(ctx context.Context, id string, from, to models.CycleStatus) (*models.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if s.current != id || c.Status != from {
		return nil, models.ErrConflict
	}
	c.Status = to
	s.persist()
	return c.Clone(), nil
}

// SetCycleQuestions replaces the survey of the current cycle and leaves its
// status alone.
func (s *MemoryStore) SetCycleQuestions(ctx context.Context, id string, questions []models.SurveyQuestion) (*models.Cycle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if s.current != id {
		return nil, models.ErrConflict
	}
	c.SurveyQuestions = append([]models.SurveyQuestion(nil), questions...)
	s.persist()
	return c.Clone(), nil
}

func (s *MemoryStore) AdvanceCycle(ctx context.Context, archiveID string, next *models.Cycle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != archiveID {
		return models.ErrConflict
	}
	if _, ok := s.cycles[next.ID]; ok {
		return models.ErrDuplicate
	}
	s.cycles[archiveID].Status = models.CycleArchived
	s.cycles[next.ID] = next.Clone()
	s.current = next.ID
	s.persist()
	return nil
}

// submissions

func (s *MemoryStore) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.submissions {
		if cur.ID == sub.ID {
			return models.ErrDuplicate
		}
		if sub.DeviceHash != "" && cur.CycleID == sub.CycleID && cur.DeviceHash == sub.DeviceHash {
			return models.ErrDuplicate
		}
	}
	s.submissions = append(s.submissions, sub.Clone())
	s.persist()
	return nil
}

func (s *MemoryStore) FindSubmissionByDevice(ctx context.Context, cycleID, deviceHash string) (*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cur := range s.submissions {
		if cur.CycleID == cycleID && cur.DeviceHash == deviceHash {
			return cur.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SetSubmissionFlag(ctx context.Context, id string, flagged bool) (*models.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.submissions {
		if cur.ID == id {
			cur.IsFlagged = flagged
			s.persist()
			return cur.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) ListSubmissions(ctx context.Context, cycleID string, includeFlagged bool) ([]*models.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Submission{}
	for _, cur := range s.submissions {
		if cur.CycleID == cycleID && (includeFlagged || !cur.IsFlagged) {
			out = append(out, cur.Clone())
		}
	}
	return out, nil
}

// snapshots

func (s *MemoryStore) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return snap.Clone(), nil
}

// ListSnapshots returns newest first.
func (s *MemoryStore) ListSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) InsertSnapshot(ctx context.Context, snap *models.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[snap.ID]; ok {
		return models.ErrDuplicate
	}
	if snap.IsLocked && snap.PublishedAt == nil {
		return fmt.Errorf("insert snapshot %s: locked snapshot must be published", snap.ID)
	}
	s.snapshots[snap.ID] = snap.Clone()
	s.persist()
	return nil
}

func (s *MemoryStore) UpdateSnapshotContent(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snapshots[snap.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.IsLocked {
		return nil, models.ErrConflict
	}
	next := snap.Clone()
	next.CreatedAt = cur.CreatedAt
	next.PublishedAt = cur.PublishedAt
	next.IsLocked = false
	s.snapshots[snap.ID] = next
	s.persist()
	return next.Clone(), nil
}

func (s *MemoryStore) PublishSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snapshots[id]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if cur.IsLocked {
		return nil, false, models.ErrConflict
	}
	if cur.PublishedAt != nil {
		return cur.Clone(), false, nil
	}
	t := at
	cur.PublishedAt = &t
	cur.UpdatedAt = at
	s.persist()
	return cur.Clone(), true, nil
}

func (s *MemoryStore) LockSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snapshots[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.IsLocked || cur.PublishedAt == nil {
		return nil, models.ErrConflict
	}
	cur.IsLocked = true
	cur.UpdatedAt = at
	s.persist()
	return cur.Clone(), nil
}

func (s *MemoryStore) LatestPublishedSnapshot(ctx context.Context) (*models.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *models.Snapshot
	for _, snap := range s.snapshots {
		if snap.PublishedAt == nil {
			continue
		}
		if best == nil || snap.PublishedAt.After(*best.PublishedAt) ||
			(snap.PublishedAt.Equal(*best.PublishedAt) && snap.ID > best.ID) {
			best = snap
		}
	}
	return best.Clone(), nil
}

func (s *MemoryStore) HasPublishedSnapshotForCycle(ctx context.Context, cycleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.snapshots {
		if snap.CycleID == cycleID && snap.PublishedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

// audit log

func (s *MemoryStore) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	s.persist()
	return nil
}

// ListAudit returns the newest entries first.
func (s *MemoryStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return []models.AuditEntry{}, nil
	}
	out := make([]models.AuditEntry, 0, min(limit, len(s.audit)))
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}
