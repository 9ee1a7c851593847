package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

const (
	maxPeriodLength    = 64
	maxNarrativeLength = 20000
	maxSources         = 30
)

// SnapshotStore persists snapshots. The conditional writes return
// models.ErrNotFound for a missing id and models.ErrConflict when the row's
// lock or publish state rejects the write.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]*models.Snapshot, error)
	InsertSnapshot(ctx context.Context, s *models.Snapshot) error
	// UpdateSnapshotContent rewrites the content fields of an unlocked
	// snapshot. PublishedAt, IsLocked and CreatedAt are left untouched.
	UpdateSnapshotContent(ctx context.Context, s *models.Snapshot) (*models.Snapshot, error)
	// PublishSnapshot sets published_at to at when it is still null. first
	// is false when the snapshot was already published.
	PublishSnapshot(ctx context.Context, id string, at time.Time) (snap *models.Snapshot, first bool, err error)
	// LockSnapshot locks a published, unlocked snapshot.
	LockSnapshot(ctx context.Context, id string, at time.Time) (*models.Snapshot, error)
	LatestPublishedSnapshot(ctx context.Context) (*models.Snapshot, error)
	HasPublishedSnapshotForCycle(ctx context.Context, cycleID string) (bool, error)
}

// SnapshotArchiver keeps an immutable copy of a locked snapshot and returns
// where it was written.
type SnapshotArchiver interface {
	Archive(ctx context.Context, snap *models.Snapshot) (string, error)
}

// SnapshotDraft is the editable content of a snapshot. An empty ID creates a
// new draft.
type SnapshotDraft struct {
	ID                   string                               `json:"id,omitempty"`
	CycleID              string                               `json:"cycle_id,omitempty"`
	Period               string                               `json:"period"`
	OverallScore         float64                              `json:"overall_score"`
	Narrative            string                               `json:"narrative"`
	Pillars              map[models.Pillar]models.PillarScore `json:"pillars,omitempty"`
	StateSpotlight       *models.StateSpotlight               `json:"state_spotlight,omitempty"`
	InstitutionSpotlight *models.InstitutionSpotlight         `json:"institution_spotlight,omitempty"`
	StreetPulseSpotlight *models.StreetPulseSpotlight         `json:"street_pulse_spotlight,omitempty"`
	Sources              []models.SourceRef                   `json:"sources,omitempty"`
	Sentiment            *models.SentimentSummary             `json:"sentiment,omitempty"`
}

// SnapshotService owns the draft -> published -> locked workflow.
type SnapshotService struct {
	store    SnapshotStore
	cycles   CycleStore
	audit    *Auditor
	archiver SnapshotArchiver
	metrics  MetricsRecorder
	now      func() time.Time
	idGen    func() string
}

func NewSnapshotService(store SnapshotStore, cycles CycleStore, audit *Auditor) *SnapshotService {
	return &SnapshotService{
		store:   store,
		cycles:  cycles,
		audit:   audit,
		metrics: noopMetrics{},
		now:     utcNow,
		idGen:   newID,
	}
}

// WithArchiver enables archiving of locked snapshots.
func (s *SnapshotService) WithArchiver(a SnapshotArchiver) *SnapshotService {
	s.archiver = a
	return s
}

func (s *SnapshotService) WithMetrics(m MetricsRecorder) *SnapshotService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Save creates a draft when d.ID is empty and otherwise rewrites the content
// of an unlocked snapshot.
func (s *SnapshotService) Save(ctx context.Context, actor Actor, d SnapshotDraft) (snap *models.Snapshot, err error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "snapshot.save", outcomeOf(err), time.Since(start)) }()

	id := strings.TrimSpace(d.ID)
	if id != "" {
		// a locked snapshot reports the lock whatever the payload holds
		cur, err := s.store.GetSnapshot(ctx, id)
		if err != nil {
			return nil, s.mapStoreErr(ctx, err, id)
		}
		if cur.IsLocked {
			return nil, NewConflictError("snapshot is locked")
		}
	}
	content, err := s.buildContent(ctx, d)
	if err != nil {
		return nil, err
	}
	now := s.now()
	content.UpdatedAt = now

	if id == "" {
		content.ID = s.idGen()
		content.CreatedAt = now
		if err := s.store.InsertSnapshot(ctx, content); err != nil {
			return nil, err
		}
		if err := s.audit.Record(ctx, actor, ActionSnapshotCreate, content.ID, snapshotMeta(content)); err != nil {
			return nil, err
		}
		return content, nil
	}

	content.ID = id
	snap, err = s.store.UpdateSnapshotContent(ctx, content)
	if err != nil {
		return nil, s.mapStoreErr(ctx, err, content.ID)
	}
	if err := s.audit.Record(ctx, actor, ActionSnapshotUpdate, snap.ID, snapshotMeta(snap)); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SnapshotService) buildContent(ctx context.Context, d SnapshotDraft) (*models.Snapshot, error) {
	period := strings.TrimSpace(d.Period)
	if period == "" || len(period) > maxPeriodLength {
		return nil, NewInvalidError(fmt.Sprintf("period must be 1-%d characters", maxPeriodLength))
	}
	if d.OverallScore < 0 || d.OverallScore > 10 {
		return nil, NewInvalidError("overall score must be between 0 and 10")
	}
	if len(d.Narrative) > maxNarrativeLength {
		return nil, NewInvalidError("narrative too long")
	}
	out := &models.Snapshot{
		Period:       period,
		OverallScore: d.OverallScore,
		Narrative:    d.Narrative,
		Sentiment:    d.Sentiment.Clone(),
	}
	if len(d.Pillars) > 0 {
		set, err := models.NewPillarScoreSet(d.Pillars)
		if err != nil {
			return nil, NewInvalidError(err.Error())
		}
		out.Pillars = set
	}
	if d.StateSpotlight != nil {
		if err := d.StateSpotlight.Validate(); err != nil {
			return nil, NewInvalidError(err.Error())
		}
		v := *d.StateSpotlight
		out.StateSpotlight = &v
	}
	if d.InstitutionSpotlight != nil {
		if err := d.InstitutionSpotlight.Validate(); err != nil {
			return nil, NewInvalidError(err.Error())
		}
		v := *d.InstitutionSpotlight
		out.InstitutionSpotlight = &v
	}
	if d.StreetPulseSpotlight != nil {
		if err := d.StreetPulseSpotlight.Validate(); err != nil {
			return nil, NewInvalidError(err.Error())
		}
		v := *d.StreetPulseSpotlight
		v.Quotes = append([]string(nil), d.StreetPulseSpotlight.Quotes...)
		out.StreetPulseSpotlight = &v
	}
	if len(d.Sources) > maxSources {
		return nil, NewInvalidError(fmt.Sprintf("at most %d sources", maxSources))
	}
	for _, src := range d.Sources {
		if err := src.Validate(); err != nil {
			return nil, NewInvalidError(err.Error())
		}
	}
	if len(d.Sources) > 0 {
		out.Sources = append([]models.SourceRef(nil), d.Sources...)
	}
	if cycleID := strings.TrimSpace(d.CycleID); cycleID != "" {
		c, err := s.cycles.GetCycle(ctx, cycleID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		if c == nil {
			return nil, NewNotFoundError("cycle not found")
		}
		out.CycleID = c.ID
	}
	return out, nil
}

// Publish stamps published_at on first call. Later calls keep the original
// timestamp and are still audited.
func (s *SnapshotService) Publish(ctx context.Context, actor Actor, id string) (snap *models.Snapshot, err error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, ActionSnapshotPublish, outcomeOf(err), time.Since(start)) }()

	if id = strings.TrimSpace(id); id == "" {
		return nil, NewInvalidError("snapshot id required")
	}
	snap, first, err := s.store.PublishSnapshot(ctx, id, s.now())
	if err != nil {
		return nil, s.mapStoreErr(ctx, err, id)
	}
	meta := map[string]string{"first_publish": fmt.Sprintf("%t", first)}
	if snap.CycleID != "" {
		meta["cycle_id"] = snap.CycleID
	}
	if err := s.audit.Record(ctx, actor, ActionSnapshotPublish, snap.ID, meta); err != nil {
		return nil, err
	}
	return snap, nil
}

// Lock makes a published snapshot read-only forever. When an archiver is
// configured the locked content is copied out afterwards; archive failures
// are logged and do not undo the lock.
func (s *SnapshotService) Lock(ctx context.Context, actor Actor, id string) (snap *models.Snapshot, err error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, ActionSnapshotLock, outcomeOf(err), time.Since(start)) }()

	if id = strings.TrimSpace(id); id == "" {
		return nil, NewInvalidError("snapshot id required")
	}
	snap, err = s.store.LockSnapshot(ctx, id, s.now())
	if err != nil {
		return nil, s.mapStoreErr(ctx, err, id)
	}
	if err := s.audit.Record(ctx, actor, ActionSnapshotLock, snap.ID, nil); err != nil {
		return nil, err
	}
	s.archive(ctx, actor, snap)
	return snap, nil
}

func (s *SnapshotService) archive(ctx context.Context, actor Actor, snap *models.Snapshot) {
	if s.archiver == nil {
		return
	}
	key, err := s.archiver.Archive(ctx, snap)
	if err != nil {
		log.Printf("snapshot archive: %s: %v", snap.ID, err)
		return
	}
	if err := s.audit.Record(ctx, actor, ActionSnapshotArchive, snap.ID, map[string]string{"key": key}); err != nil {
		log.Printf("snapshot archive: %s: %v", snap.ID, err)
	}
}

// mapStoreErr re-reads the snapshot after a rejected conditional write to
// report which precondition failed.
func (s *SnapshotService) mapStoreErr(ctx context.Context, err error, id string) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return NewNotFoundError("snapshot not found")
	case errors.Is(err, models.ErrConflict):
		cur, rerr := s.store.GetSnapshot(ctx, id)
		switch {
		case rerr != nil && !errors.Is(rerr, models.ErrNotFound):
			return rerr
		case cur == nil:
			return NewNotFoundError("snapshot not found")
		case cur.IsLocked:
			return NewConflictError("snapshot is locked")
		case !cur.Published():
			return NewConflictError("snapshot must be published before it can be locked")
		}
		return NewConflictError("snapshot changed concurrently; reload and retry")
	}
	return err
}

// Get returns any snapshot, drafts included.
func (s *SnapshotService) Get(ctx context.Context, actor Actor, id string) (*models.Snapshot, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.get(ctx, id)
}

// GetPublished returns a snapshot only once it is published. Drafts are
// reported as not found.
func (s *SnapshotService) GetPublished(ctx context.Context, id string) (*models.Snapshot, error) {
	snap, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snap.Published() {
		return nil, NewNotFoundError("snapshot not found")
	}
	return snap, nil
}

func (s *SnapshotService) get(ctx context.Context, id string) (*models.Snapshot, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, NewInvalidError("snapshot id required")
	}
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if snap == nil {
		return nil, NewNotFoundError("snapshot not found")
	}
	return snap, nil
}

// List returns every snapshot, newest first.
func (s *SnapshotService) List(ctx context.Context, actor Actor) ([]*models.Snapshot, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx)
}

// LatestPublished returns the most recently published snapshot, or nil.
func (s *SnapshotService) LatestPublished(ctx context.Context) (*models.Snapshot, error) {
	return s.store.LatestPublishedSnapshot(ctx)
}

func snapshotMeta(s *models.Snapshot) map[string]string {
	meta := map[string]string{"period": s.Period}
	if s.CycleID != "" {
		meta["cycle_id"] = s.CycleID
	}
	return meta
}
