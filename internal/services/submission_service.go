package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/soaringjerry/Pulse/internal/models"
)

const (
	maxSpotlightTags    = 8
	maxTagLength        = 32
	maxWordLength       = 32
	maxStateLength      = 64
	maxCommentLength    = 500
	maxDeviceHashLength = 128
)

// SubmissionStore abstracts persistence operations required by SubmissionService.
type SubmissionStore interface {
	// InsertSubmission returns models.ErrDuplicate when the (cycle, device)
	// pair already has a row.
	InsertSubmission(ctx context.Context, sub *models.Submission) error
	FindSubmissionByDevice(ctx context.Context, cycleID, deviceHash string) (*models.Submission, error)
	SetSubmissionFlag(ctx context.Context, id string, flagged bool) (*models.Submission, error)
	ListSubmissions(ctx context.Context, cycleID string, includeFlagged bool) ([]*models.Submission, error)
}

// CheckIn is the sanitized public payload handed over by the transport layer.
type CheckIn struct {
	Mode             models.SubmissionMode
	StabilityScore   int
	PillarResponses  map[models.Pillar]int
	Mood             models.Mood
	Word             string
	SpotlightState   string
	SpotlightTags    []string
	SpotlightComment string
}

// OpenSurvey is what the public form needs to render the current cycle.
type OpenSurvey struct {
	Cycle            *models.Cycle `json:"cycle"`
	AlreadySubmitted bool          `json:"already_submitted"`
}

const (
	msgCollectionClosed = "collection closed"
	msgAlreadySubmitted = "already submitted"
)

// SubmissionService admits or rejects public check-ins.
type SubmissionService struct {
	store   SubmissionStore
	cycles  *CycleService
	audit   *Auditor
	metrics MetricsRecorder
	now     func() time.Time
	idGen   func() string
}

func NewSubmissionService(store SubmissionStore, cycles *CycleService, audit *Auditor) *SubmissionService {
	return &SubmissionService{
		store:   store,
		cycles:  cycles,
		audit:   audit,
		metrics: noopMetrics{},
		now:     utcNow,
		idGen:   newID,
	}
}

// WithMetrics sets the recorder used for admission outcomes.
func (s *SubmissionService) WithMetrics(m MetricsRecorder) *SubmissionService {
	if m != nil {
		s.metrics = m
	}
	return s
}

// Submit runs the admission checks in order, failing fast, and persists the
// check-in against the current cycle. Public submissions are not audited.
func (s *SubmissionService) Submit(ctx context.Context, in CheckIn, deviceHash string) (sub *models.Submission, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(ctx, "submission.submit", outcomeOf(err), time.Since(start)) }()

	in, err = normalizeCheckIn(in)
	if err != nil {
		return nil, err
	}
	deviceHash = strings.TrimSpace(deviceHash)
	if len(deviceHash) > maxDeviceHashLength {
		return nil, NewInvalidError("device hash too long")
	}
	if ContainsPII(joinFreeText(append([]string{in.Word, in.SpotlightState, in.SpotlightComment}, in.SpotlightTags...)...)) {
		return nil, NewPIIError("please remove email addresses and phone numbers; check-ins are anonymous")
	}

	cycle, err := s.cycles.EnsureCycle(ctx)
	if err != nil {
		return nil, err
	}
	if cycle.Status != models.CycleOpen {
		return nil, NewConflictError(msgCollectionClosed)
	}
	if deviceHash != "" {
		existing, err := s.store.FindSubmissionByDevice(ctx, cycle.ID, deviceHash)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, NewConflictError(msgAlreadySubmitted)
		}
	}

	sub = &models.Submission{
		ID:               s.idGen(),
		CycleID:          cycle.ID,
		CreatedAt:        s.now(),
		Mode:             in.Mode,
		StabilityScore:   in.StabilityScore,
		PillarResponses:  in.PillarResponses,
		Mood:             in.Mood,
		Word:             in.Word,
		DeviceHash:       deviceHash,
		SpotlightState:   in.SpotlightState,
		SpotlightTags:    in.SpotlightTags,
		SpotlightComment: in.SpotlightComment,
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return nil, NewConflictError(msgAlreadySubmitted)
		}
		return nil, err
	}
	return sub, nil
}

func normalizeCheckIn(in CheckIn) (CheckIn, error) {
	if in.Mode == "" {
		in.Mode = models.ModeScore
		if len(in.PillarResponses) > 0 {
			in.Mode = models.ModePillars
		}
	}
	switch in.Mode {
	case models.ModeScore:
		if in.StabilityScore < 1 || in.StabilityScore > 10 {
			return in, NewInvalidError("stability score must be between 1 and 10")
		}
		in.PillarResponses = nil
	case models.ModePillars:
		keys := make([]models.Pillar, 0, len(in.PillarResponses))
		for k, v := range in.PillarResponses {
			if v < 1 || v > 5 {
				return in, NewInvalidError(fmt.Sprintf("response for %s must be between 1 and 5", k))
			}
			keys = append(keys, k)
		}
		if err := ValidatePillarSet(keys); err != nil {
			return in, NewInvalidError("pillar responses must answer every pillar exactly once")
		}
		in.StabilityScore = 0
	default:
		return in, NewInvalidError(fmt.Sprintf("unknown submission mode %q", in.Mode))
	}
	if !in.Mood.Valid() {
		return in, NewInvalidError(fmt.Sprintf("unknown mood %q", in.Mood))
	}

	in.Word = strings.TrimSpace(in.Word)
	if in.Word == "" || len(in.Word) > maxWordLength || strings.IndexFunc(in.Word, unicode.IsSpace) >= 0 {
		return in, NewInvalidError(fmt.Sprintf("word must be a single word of 1-%d characters", maxWordLength))
	}
	in.SpotlightState = strings.TrimSpace(in.SpotlightState)
	if len(in.SpotlightState) > maxStateLength {
		return in, NewInvalidError("spotlight state too long")
	}
	in.SpotlightComment = strings.TrimSpace(in.SpotlightComment)
	if len(in.SpotlightComment) > maxCommentLength {
		return in, NewInvalidError(fmt.Sprintf("comment must be at most %d characters", maxCommentLength))
	}
	if len(in.SpotlightTags) > maxSpotlightTags {
		return in, NewInvalidError(fmt.Sprintf("at most %d spotlight tags", maxSpotlightTags))
	}
	tags := make([]string, 0, len(in.SpotlightTags))
	for _, t := range in.SpotlightTags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len(t) > maxTagLength {
			return in, NewInvalidError(fmt.Sprintf("tags must be at most %d characters", maxTagLength))
		}
		tags = append(tags, t)
	}
	in.SpotlightTags = nil
	if len(tags) > 0 {
		in.SpotlightTags = tags
	}
	return in, nil
}

// OpenCycleSurvey returns the current cycle's survey when collection is open,
// or nil otherwise. It never creates a cycle.
func (s *SubmissionService) OpenCycleSurvey(ctx context.Context, deviceHash string) (*OpenSurvey, error) {
	cycle, err := s.cycles.Current(ctx)
	if err != nil {
		return nil, err
	}
	if cycle == nil || cycle.Status != models.CycleOpen {
		return nil, nil
	}
	out := &OpenSurvey{Cycle: cycle}
	if deviceHash = strings.TrimSpace(deviceHash); deviceHash != "" {
		existing, err := s.store.FindSubmissionByDevice(ctx, cycle.ID, deviceHash)
		if err != nil {
			return nil, err
		}
		out.AlreadySubmitted = existing != nil
	}
	return out, nil
}

// SetFlagged toggles the moderation marker of a submission.
func (s *SubmissionService) SetFlagged(ctx context.Context, actor Actor, id string, flagged bool) (*models.Submission, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, NewInvalidError("submission id required")
	}
	sub, err := s.store.SetSubmissionFlag(ctx, id, flagged)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, NewNotFoundError("submission not found")
		}
		return nil, err
	}
	action := ActionSubmissionClear
	if flagged {
		action = ActionSubmissionFlag
	}
	if err := s.audit.Record(ctx, actor, action, id, map[string]string{"cycle_id": sub.CycleID}); err != nil {
		return nil, err
	}
	return sub, nil
}

// resolveCycleID defaults an empty id to the current cycle.
func (s *SubmissionService) resolveCycleID(ctx context.Context, cycleID string) (string, error) {
	if cycleID = strings.TrimSpace(cycleID); cycleID != "" {
		c, err := s.cycles.store.GetCycle(ctx, cycleID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		if c == nil {
			return "", NewNotFoundError("cycle not found")
		}
		return c.ID, nil
	}
	cur, err := s.cycles.Current(ctx)
	if err != nil {
		return "", err
	}
	if cur == nil {
		return "", NewNotFoundError("no cycle yet")
	}
	return cur.ID, nil
}

// ExportCSV renders the public (non-flagged) submissions of a cycle.
func (s *SubmissionService) ExportCSV(ctx context.Context, actor Actor, cycleID string) ([]byte, string, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, "", err
	}
	id, err := s.resolveCycleID(ctx, cycleID)
	if err != nil {
		return nil, "", err
	}
	subs, err := s.store.ListSubmissions(ctx, id, false)
	if err != nil {
		return nil, "", err
	}
	b, err := ExportSubmissionsCSV(subs)
	if err != nil {
		return nil, "", err
	}
	return b, id, nil
}
