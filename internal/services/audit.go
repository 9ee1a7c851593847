package services

import (
	"context"
	"fmt"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

// Audit action tags.
const (
	ActionCycleOpen       = "cycle.open"
	ActionCycleClose      = "cycle.close"
	ActionCycleAdvance    = "cycle.advance"
	ActionCycleSurveySet  = "cycle.survey_set"
	ActionCycleSurveyOpen = "cycle.survey_open"
	ActionSnapshotCreate  = "snapshot.create"
	ActionSnapshotUpdate  = "snapshot.update"
	ActionSnapshotPublish = "snapshot.publish"
	ActionSnapshotLock    = "snapshot.lock"
	ActionSnapshotArchive = "snapshot.archive"
	ActionSubmissionFlag  = "submission.flag"
	ActionSubmissionClear = "submission.unflag"
)

type AuditStore interface {
	AppendAudit(ctx context.Context, e models.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// Auditor appends one entry per successful administrative mutation.
type Auditor struct {
	store AuditStore
	now   func() time.Time
}

func NewAuditor(store AuditStore) *Auditor {
	return &Auditor{store: store, now: utcNow}
}

func (a *Auditor) Record(ctx context.Context, actor Actor, action, target string, meta map[string]string) error {
	e := models.AuditEntry{Time: a.now(), Actor: actor.ID, Action: action, Target: target, Metadata: meta}
	if err := a.store.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("append audit %s: %w", action, err)
	}
	return nil
}

// List returns the newest entries first.
func (a *Auditor) List(ctx context.Context, actor Actor, limit int) ([]models.AuditEntry, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return a.store.ListAudit(ctx, limit)
}
