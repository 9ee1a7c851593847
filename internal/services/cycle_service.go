package services

import (
	"context"
	"errors"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

const monthLabelLayout = "January 2006"

// CycleStore persists cycles behind an explicit current-cycle pointer.
type CycleStore interface {
	CurrentCycle(ctx context.Context) (*models.Cycle, error)
	GetCycle(ctx context.Context, id string) (*models.Cycle, error)
	// CreateCycleIfNone inserts c and points the current pointer at it when no
	// current cycle exists. Otherwise it returns the existing current cycle
	// and created=false.
	CreateCycleIfNone(ctx context.Context, c *models.Cycle) (cur *models.Cycle, created bool, err error)
	// SetCycleStatus changes the status of id from one value to another. It
	// returns models.ErrConflict when id is no longer current or its status
	// is no longer from.
	SetCycleStatus(ctx context.Context, id string, from, to models.CycleStatus) (*models.Cycle, error)
	// SetCycleQuestions replaces the survey of id without touching its
	// status. It returns models.ErrConflict when id is no longer current.
	SetCycleQuestions(ctx context.Context, id string, questions []models.SurveyQuestion) (*models.Cycle, error)
	// AdvanceCycle archives archiveID, inserts next and moves the pointer in
	// one transaction. It returns models.ErrConflict when archiveID is no
	// longer current.
	AdvanceCycle(ctx context.Context, archiveID string, next *models.Cycle) error
}

// CycleService owns the OPEN/CLOSED/ARCHIVED state machine of the current
// cycle. It enforces shape invariants only.
type CycleService struct {
	store   CycleStore
	audit   *Auditor
	metrics MetricsRecorder
	now     func() time.Time
	idGen   func() string
}

func NewCycleService(store CycleStore, audit *Auditor) *CycleService {
	return &CycleService{
		store:   store,
		audit:   audit,
		metrics: noopMetrics{},
		now:     utcNow,
		idGen:   newID,
	}
}

// WithMetrics sets the recorder used for admin transitions.
func (s *CycleService) WithMetrics(m MetricsRecorder) *CycleService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// MonthLabel renders the human label of the month containing t.
func MonthLabel(t time.Time) string {
	return t.UTC().Format(monthLabelLayout)
}

// Current returns the current cycle or nil when none was ever created.
func (s *CycleService) Current(ctx context.Context) (*models.Cycle, error) {
	return s.store.CurrentCycle(ctx)
}

// EnsureCycle returns the current cycle, creating an OPEN one for the current
// month if none exists.
func (s *CycleService) EnsureCycle(ctx context.Context) (*models.Cycle, error) {
	cur, err := s.store.CurrentCycle(ctx)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		return cur, nil
	}
	now := s.now()
	cur, _, err = s.store.CreateCycleIfNone(ctx, &models.Cycle{
		ID:        s.idGen(),
		Status:    models.CycleOpen,
		Label:     MonthLabel(now),
		CreatedAt: now,
	})
	return cur, err
}

// Open sets the current cycle to OPEN from any state.
func (s *CycleService) Open(ctx context.Context, actor Actor) (*models.Cycle, error) {
	return s.transition(ctx, actor, models.CycleOpen, ActionCycleOpen)
}

// Close sets the current cycle to CLOSED from any state.
func (s *CycleService) Close(ctx context.Context, actor Actor) (*models.Cycle, error) {
	return s.transition(ctx, actor, models.CycleClosed, ActionCycleClose)
}

func (s *CycleService) transition(ctx context.Context, actor Actor, to models.CycleStatus, action string) (c *models.Cycle, err error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, action, outcomeOf(err), time.Since(start)) }()

	c, err = s.EnsureCycle(ctx)
	if err != nil {
		return nil, err
	}
	from := c.Status
	if from != to {
		if c, _, err = s.setStatus(ctx, c, to); err != nil {
			return nil, err
		}
	}
	if err := s.audit.Record(ctx, actor, action, c.ID, map[string]string{"from": string(from), "to": string(to)}); err != nil {
		return nil, err
	}
	return c, nil
}

// setStatus moves c to the given status with a conditional write. Losing the
// race to a writer that reached the same status is not an error; changed then
// reports false.
func (s *CycleService) setStatus(ctx context.Context, c *models.Cycle, to models.CycleStatus) (next *models.Cycle, changed bool, err error) {
	next, err = s.store.SetCycleStatus(ctx, c.ID, c.Status, to)
	if err == nil {
		return next, true, nil
	}
	if !errors.Is(err, models.ErrConflict) {
		return nil, false, s.mapStoreErr(err, "cycle")
	}
	cur, rerr := s.store.CurrentCycle(ctx)
	if rerr != nil {
		return nil, false, rerr
	}
	if cur != nil && cur.ID == c.ID && cur.Status == to {
		return cur, false, nil
	}
	return nil, false, s.mapStoreErr(err, "cycle")
}

// Advance archives the current cycle and starts a fresh OPEN one.
func (s *CycleService) Advance(ctx context.Context, actor Actor) (next *models.Cycle, err error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, ActionCycleAdvance, outcomeOf(err), time.Since(start)) }()

	cur, err := s.EnsureCycle(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	next = &models.Cycle{
		ID:        s.idGen(),
		Status:    models.CycleOpen,
		Label:     nextLabel(cur.Label, now),
		CreatedAt: now,
	}
	if err := s.store.AdvanceCycle(ctx, cur.ID, next); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, NewConflictError("current cycle changed while advancing; reload and retry")
		}
		return nil, err
	}
	meta := map[string]string{"archived_id": cur.ID, "new_id": next.ID, "label": next.Label}
	if err := s.audit.Record(ctx, actor, ActionCycleAdvance, next.ID, meta); err != nil {
		return nil, err
	}
	return next, nil
}

// nextLabel picks the month after prev when that is not in the past,
// otherwise the month containing now.
func nextLabel(prev string, now time.Time) string {
	cur := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if t, err := time.Parse(monthLabelLayout, prev); err == nil {
		if following := t.AddDate(0, 1, 0); !following.Before(cur) {
			return following.Format(monthLabelLayout)
		}
	}
	return cur.Format(monthLabelLayout)
}

// SetSurveyQuestions stores one question per pillar on the current cycle.
// With openAfter the cycle is also opened when it is not already OPEN.
func (s *CycleService) SetSurveyQuestions(ctx context.Context, actor Actor, questions []models.SurveyQuestion, openAfter bool) (c *models.Cycle, err error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, ActionCycleSurveySet, outcomeOf(err), time.Since(start)) }()

	if err := ValidateSurveyQuestions(questions); err != nil {
		return nil, err
	}
	c, err = s.EnsureCycle(ctx)
	if err != nil {
		return nil, err
	}
	c, err = s.store.SetCycleQuestions(ctx, c.ID, questions)
	if err != nil {
		return nil, s.mapStoreErr(err, "cycle")
	}
	opened := false
	if openAfter && c.Status != models.CycleOpen {
		if c, opened, err = s.setStatus(ctx, c, models.CycleOpen); err != nil {
			return nil, err
		}
	}
	if err := s.audit.Record(ctx, actor, ActionCycleSurveySet, c.ID, nil); err != nil {
		return nil, err
	}
	if opened {
		if err := s.audit.Record(ctx, actor, ActionCycleSurveyOpen, c.ID, nil); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *CycleService) mapStoreErr(err error, entity string) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return NewNotFoundError(entity + " not found")
	case errors.Is(err, models.ErrConflict):
		return NewConflictError("current cycle changed; reload and retry")
	}
	return err
}
