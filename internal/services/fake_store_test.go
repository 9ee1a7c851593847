package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

// fakeStore implements every store interface of this package in memory.
type fakeStore struct {
	mu          sync.Mutex
	cycles      map[string]*models.Cycle
	current     string
	submissions []*models.Submission
	snapshots   map[string]*models.Snapshot
	audit       []models.AuditEntry

	failAudit        error
	skipDedupe       bool // lets two rows for the same device reach insert
	beforeCycleWrite func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{cycles: map[string]*models.Cycle{}, snapshots: map[string]*models.Snapshot{}}
}

func (f *fakeStore) CurrentCycle(ctx context.Context) (*models.Cycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == "" {
		return nil, nil
	}
	return f.cycles[f.current].Clone(), nil
}

func (f *fakeStore) GetCycle(ctx context.Context, id string) (*models.Cycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c.Clone(), nil
}

func (f *fakeStore) CreateCycleIfNone(ctx context.Context, c *models.Cycle) (*models.Cycle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != "" {
		return f.cycles[f.current].Clone(), false, nil
	}
	f.cycles[c.ID] = c.Clone()
	f.current = c.ID
	return c.Clone(), true, nil
}

func (f *fakeStore) SetCycleStatus(ctx context.Context, id string, from, to models.CycleStatus) (*models.Cycle, error) {
	f.interleave()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if f.current != id || c.Status != from {
		return nil, models.ErrConflict
	}
	c.Status = to
	return c.Clone(), nil
}

func (f *fakeStore) SetCycleQuestions(ctx context.Context, id string, questions []models.SurveyQuestion) (*models.Cycle, error) {
	f.interleave()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cycles[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if f.current != id {
		return nil, models.ErrConflict
	}
	c.SurveyQuestions = append([]models.SurveyQuestion(nil), questions...)
	return c.Clone(), nil
}

// interleave runs and clears beforeCycleWrite, so a test can slip another
// admin action in between a service's read and its conditional write.
func (f *fakeStore) interleave() {
	f.mu.Lock()
	hook := f.beforeCycleWrite
	f.beforeCycleWrite = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func (f *fakeStore) AdvanceCycle(ctx context.Context, archiveID string, next *models.Cycle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != archiveID {
		return models.ErrConflict
	}
	f.cycles[archiveID].Status = models.CycleArchived
	f.cycles[next.ID] = next.Clone()
	f.current = next.ID
	return nil
}

func (f *fakeStore) InsertSubmission(ctx context.Context, sub *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub.DeviceHash != "" {
		for _, s := range f.submissions {
			if s.CycleID == sub.CycleID && s.DeviceHash == sub.DeviceHash {
				return models.ErrDuplicate
			}
		}
	}
	f.submissions = append(f.submissions, sub.Clone())
	return nil
}

func (f *fakeStore) FindSubmissionByDevice(ctx context.Context, cycleID, deviceHash string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.skipDedupe {
		return nil, nil
	}
	for _, s := range f.submissions {
		if s.CycleID == cycleID && s.DeviceHash == deviceHash {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SetSubmissionFlag(ctx context.Context, id string, flagged bool) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.submissions {
		if s.ID == id {
			s.IsFlagged = flagged
			return s.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeStore) ListSubmissions(ctx context.Context, cycleID string, includeFlagged bool) ([]*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Submission
	for _, s := range f.submissions {
		if s.CycleID == cycleID && (includeFlagged || !s.IsFlagged) {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snapshots[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.Clone(), nil
}

func (f *fakeStore) ListSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Snapshot, 0, len(f.snapshots))
	for _, s := range f.snapshots {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) InsertSnapshot(ctx context.Context, s *models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[s.ID] = s.Clone()
	return nil
}

func (f *fakeStore) UpdateSnapshotContent(ctx context.Context, s *models.Snapshot) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.snapshots[s.ID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.IsLocked {
		return nil, models.ErrConflict
	}
	next := s.Clone()
	next.CreatedAt, next.PublishedAt, next.IsLocked = cur.CreatedAt, cur.PublishedAt, cur.IsLocked
	f.snapshots[s.ID] = next
	return next.Clone(), nil
}

func (f *fakeStore) PublishSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.snapshots[id]
	if !ok {
		return nil, false, models.ErrNotFound
	}
	if cur.IsLocked {
		return nil, false, models.ErrConflict
	}
	first := cur.PublishedAt == nil
	if first {
		t := at
		cur.PublishedAt = &t
		cur.UpdatedAt = at
	}
	return cur.Clone(), first, nil
}

func (f *fakeStore) LockSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.snapshots[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if cur.IsLocked || cur.PublishedAt == nil {
		return nil, models.ErrConflict
	}
	cur.IsLocked = true
	cur.UpdatedAt = at
	return cur.Clone(), nil
}

func (f *fakeStore) LatestPublishedSnapshot(ctx context.Context) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.Snapshot
	for _, s := range f.snapshots {
		if s.PublishedAt != nil && (best == nil || s.PublishedAt.After(*best.PublishedAt)) {
			best = s
		}
	}
	return best.Clone(), nil
}

func (f *fakeStore) HasPublishedSnapshotForCycle(ctx context.Context, cycleID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.snapshots {
		if s.CycleID == cycleID && s.PublishedAt != nil {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAudit != nil {
		return f.failAudit
	}
	f.audit = append(f.audit, e)
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditEntry, 0, len(f.audit))
	for i := len(f.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.audit[i])
	}
	return out, nil
}

func (f *fakeStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.audit))
	for _, e := range f.audit {
		out = append(out, e.Action)
	}
	return out
}

var errStoreDown = errors.New("store unreachable")

var testAdmin = Actor{ID: "editor", Email: "editor@example.com", Admin: true}

// testClock returns a clock frozen at t that advances by one second per call.
func testClock(t time.Time) func() time.Time {
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type testSeq struct {
	mu sync.Mutex
	n  int
}

func (s *testSeq) next(prefix string) func() string {
	return func() string {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.n++
		return prefix + itoa(s.n)
	}
}

// testServices wires all services over one fake store with a fixed clock.
type testServices struct {
	store       *fakeStore
	audit       *Auditor
	cycles      *CycleService
	submissions *SubmissionService
	snapshots   *SnapshotService
	phase       *PhaseService
}

func newTestServices(now time.Time) *testServices {
	store := newFakeStore()
	clock := testClock(now)
	seq := &testSeq{}
	audit := NewAuditor(store)
	audit.now = clock
	cycles := NewCycleService(store, audit)
	cycles.now, cycles.idGen = clock, seq.next("C")
	subs := NewSubmissionService(store, cycles, audit)
	subs.now, subs.idGen = clock, seq.next("S")
	snaps := NewSnapshotService(store, store, audit)
	snaps.now, snaps.idGen = clock, seq.next("P")
	return &testServices{
		store:       store,
		audit:       audit,
		cycles:      cycles,
		submissions: subs,
		snapshots:   snaps,
		phase:       NewPhaseService(store),
	}
}
