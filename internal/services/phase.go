package services

import (
	"context"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

// Phase is the public-facing state derived from the current cycle and the
// published snapshots.
type Phase string

const (
	PhaseCollectionOpen   Phase = "COLLECTION_OPEN"
	PhaseProcessingClosed Phase = "PROCESSING_CLOSED"
	PhasePublicationLive  Phase = "PUBLICATION_LIVE"
)

// ResolvePhase decides the public phase. The current cycle's state wins over
// any older publication.
func ResolvePhase(current *models.Cycle, publishedForCurrent bool, latest *models.Snapshot) Phase {
	if current == nil {
		return PhaseCollectionOpen
	}
	if current.Status == models.CycleArchived || publishedForCurrent {
		if latest.Published() {
			return PhasePublicationLive
		}
		return PhaseCollectionOpen
	}
	if current.Status == models.CycleClosed {
		return PhaseProcessingClosed
	}
	return PhaseCollectionOpen
}

// PhaseView is what the public surface renders.
type PhaseView struct {
	Phase           Phase                   `json:"phase"`
	Cycle           *models.Cycle           `json:"cycle,omitempty"`
	LatestPublished *models.SnapshotSummary `json:"latest_published,omitempty"`
}

type PhaseStore interface {
	CurrentCycle(ctx context.Context) (*models.Cycle, error)
	LatestPublishedSnapshot(ctx context.Context) (*models.Snapshot, error)
	HasPublishedSnapshotForCycle(ctx context.Context, cycleID string) (bool, error)
}

// PhaseObserver is told about every resolved phase.
type PhaseObserver interface {
	ObservePhase(phase string)
}

type PhaseService struct {
	store    PhaseStore
	metrics  MetricsRecorder
	observer PhaseObserver
}

func NewPhaseService(store PhaseStore) *PhaseService {
	return &PhaseService{store: store, metrics: noopMetrics{}}
}

func (s *PhaseService) WithMetrics(m MetricsRecorder) *PhaseService {
	if m != nil {
		s.metrics = m
	}
	if o, ok := m.(PhaseObserver); ok {
		s.observer = o
	}
	return s
}

// Resolve reads the current state and never creates a cycle.
func (s *PhaseService) Resolve(ctx context.Context) (view *PhaseView, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "phase.resolve", outcomeOf(err), time.Since(start)) }()

	cur, err := s.store.CurrentCycle(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := s.store.LatestPublishedSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	published := false
	if cur != nil {
		if published, err = s.store.HasPublishedSnapshotForCycle(ctx, cur.ID); err != nil {
			return nil, err
		}
	}
	view = &PhaseView{
		Phase:           ResolvePhase(cur, published, latest),
		Cycle:           cur,
		LatestPublished: latest.Summary(),
	}
	if s.observer != nil {
		s.observer.ObservePhase(string(view.Phase))
	}
	return view, nil
}
