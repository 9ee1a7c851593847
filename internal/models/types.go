package models

import (
	"errors"
	"time"
)

// Store-level sentinels shared by every persistence backend.
var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned when a conditional write matched no row because
	// the row's state changed underneath the caller.
	ErrConflict = errors.New("conditional write rejected")
)

// CycleStatus is the collection state of a monthly cycle.
type CycleStatus string

const (
	CycleOpen     CycleStatus = "OPEN"
	CycleClosed   CycleStatus = "CLOSED"
	CycleArchived CycleStatus = "ARCHIVED"
)

// Valid reports whether s is one of the known statuses.
func (s CycleStatus) Valid() bool {
	switch s {
	case CycleOpen, CycleClosed, CycleArchived:
		return true
	}
	return false
}

// SurveyQuestion is the prompt shown for one pillar during a cycle.
type SurveyQuestion struct {
	Pillar    Pillar `json:"pillar"`
	Prompt    string `json:"prompt"`
	LowLabel  string `json:"low_label,omitempty"`
	HighLabel string `json:"high_label,omitempty"`
}

// Cycle is one monthly collection window.
type Cycle struct {
	ID              string           `json:"id"`
	Status          CycleStatus      `json:"status"`
	Label           string           `json:"label"`
	CreatedAt       time.Time        `json:"created_at"`
	SurveyQuestions []SurveyQuestion `json:"survey_questions,omitempty"`
}

// Clone returns a deep copy so callers never share the question slice.
func (c *Cycle) Clone() *Cycle {
	if c == nil {
		return nil
	}
	cp := *c
	if c.SurveyQuestions != nil {
		cp.SurveyQuestions = append([]SurveyQuestion(nil), c.SurveyQuestions...)
	}
	return &cp
}

// SubmissionMode selects how a check-in expresses its rating.
type SubmissionMode string

const (
	ModeScore   SubmissionMode = "score"   // single 1-10 stability score
	ModePillars SubmissionMode = "pillars" // one 1-5 response per pillar
)

// Mood is the respondent's self-reported feeling.
type Mood string

const (
	MoodHopeful     Mood = "hopeful"
	MoodOptimistic  Mood = "optimistic"
	MoodIndifferent Mood = "indifferent"
	MoodAnxious     Mood = "anxious"
	MoodFrustrated  Mood = "frustrated"
	MoodFearful     Mood = "fearful"
)

// Moods lists every accepted mood in display order.
var Moods = []Mood{MoodHopeful, MoodOptimistic, MoodIndifferent, MoodAnxious, MoodFrustrated, MoodFearful}

// Valid reports whether m is an accepted mood.
func (m Mood) Valid() bool {
	for _, v := range Moods {
		if v == m {
			return true
		}
	}
	return false
}

// Submission is one anonymous public check-in.
type Submission struct {
	ID               string         `json:"id"`
	CycleID          string         `json:"cycle_id"`
	CreatedAt        time.Time      `json:"created_at"`
	Mode             SubmissionMode `json:"mode"`
	StabilityScore   int            `json:"stability_score,omitempty"`
	PillarResponses  map[Pillar]int `json:"pillar_responses,omitempty"`
	Mood             Mood           `json:"mood"`
	Word             string         `json:"word"`
	DeviceHash       string         `json:"-"`
	SpotlightState   string         `json:"spotlight_state,omitempty"`
	SpotlightTags    []string       `json:"spotlight_tags,omitempty"`
	SpotlightComment string         `json:"spotlight_comment,omitempty"`
	IsFlagged        bool           `json:"is_flagged"`
}

// Clone returns a deep copy of the submission.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	cp := *s
	if s.PillarResponses != nil {
		cp.PillarResponses = make(map[Pillar]int, len(s.PillarResponses))
		for k, v := range s.PillarResponses {
			cp.PillarResponses[k] = v
		}
	}
	if s.SpotlightTags != nil {
		cp.SpotlightTags = append([]string(nil), s.SpotlightTags...)
	}
	return &cp
}

// SourceRef cites an external reference used by a snapshot.
type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Snapshot is one monthly report. It moves draft -> published -> locked and
// never backwards.
type Snapshot struct {
	ID                   string                `json:"id"`
	CycleID              string                `json:"cycle_id,omitempty"`
	Period               string                `json:"period"`
	OverallScore         float64               `json:"overall_score"`
	Narrative            string                `json:"narrative"`
	Pillars              PillarScoreSet        `json:"pillars,omitempty"`
	StateSpotlight       *StateSpotlight       `json:"state_spotlight,omitempty"`
	InstitutionSpotlight *InstitutionSpotlight `json:"institution_spotlight,omitempty"`
	StreetPulseSpotlight *StreetPulseSpotlight `json:"street_pulse_spotlight,omitempty"`
	Sources              []SourceRef           `json:"sources,omitempty"`
	Sentiment            *SentimentSummary     `json:"sentiment,omitempty"`
	PublishedAt          *time.Time            `json:"published_at,omitempty"`
	IsLocked             bool                  `json:"is_locked"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// Published reports whether the snapshot has ever been published.
func (s *Snapshot) Published() bool { return s != nil && s.PublishedAt != nil }

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Pillars = s.Pillars.Clone()
	if s.StateSpotlight != nil {
		v := *s.StateSpotlight
		cp.StateSpotlight = &v
	}
	if s.InstitutionSpotlight != nil {
		v := *s.InstitutionSpotlight
		cp.InstitutionSpotlight = &v
	}
	if s.StreetPulseSpotlight != nil {
		v := *s.StreetPulseSpotlight
		v.Quotes = append([]string(nil), s.StreetPulseSpotlight.Quotes...)
		cp.StreetPulseSpotlight = &v
	}
	if s.Sources != nil {
		cp.Sources = append([]SourceRef(nil), s.Sources...)
	}
	if s.Sentiment != nil {
		cp.Sentiment = s.Sentiment.Clone()
	}
	if s.PublishedAt != nil {
		t := *s.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}

// SnapshotSummary is the public "last known numbers" view of a published snapshot.
type SnapshotSummary struct {
	ID           string             `json:"id"`
	CycleID      string             `json:"cycle_id,omitempty"`
	Period       string             `json:"period"`
	OverallScore float64            `json:"overall_score"`
	Pillars      map[Pillar]float64 `json:"pillars,omitempty"`
	PublishedAt  time.Time          `json:"published_at"`
	IsLocked     bool               `json:"is_locked"`
}

// Summary projects the snapshot into its public summary. Unpublished
// snapshots have no summary.
func (s *Snapshot) Summary() *SnapshotSummary {
	if !s.Published() {
		return nil
	}
	out := &SnapshotSummary{
		ID:           s.ID,
		CycleID:      s.CycleID,
		Period:       s.Period,
		OverallScore: s.OverallScore,
		PublishedAt:  *s.PublishedAt,
		IsLocked:     s.IsLocked,
	}
	if len(s.Pillars) > 0 {
		out.Pillars = make(map[Pillar]float64, len(s.Pillars))
		for k, v := range s.Pillars {
			out.Pillars[k] = v.Score
		}
	}
	return out
}

// AuditEntry records one administrative state transition.
type AuditEntry struct {
	Time     time.Time         `json:"time"`
	Actor    string            `json:"actor,omitempty"`
	Action   string            `json:"action"`
	Target   string            `json:"target,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
