package models

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
)

// PillarScore is the editor's rating and summary for one pillar.
type PillarScore struct {
	Score   float64 `json:"score"`
	Summary string  `json:"summary,omitempty"`
}

// PillarScoreSet holds exactly one score per canonical pillar once validated.
type PillarScoreSet map[Pillar]PillarScore

// NewPillarScoreSet validates scores and returns them as a set.
func NewPillarScoreSet(scores map[Pillar]PillarScore) (PillarScoreSet, error) {
	set := PillarScoreSet(scores)
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set.Clone(), nil
}

// Validate checks that every canonical pillar is present, no unknown key is
// set, and every score lies in [0, 10].
func (p PillarScoreSet) Validate() error {
	for k := range p {
		if !k.Valid() {
			return fmt.Errorf("unknown pillar %q", k)
		}
	}
	for _, k := range Pillars {
		v, ok := p[k]
		if !ok {
			return fmt.Errorf("missing score for pillar %q", k)
		}
		if v.Score < 0 || v.Score > 10 {
			return fmt.Errorf("pillar %q score must be between 0 and 10", k)
		}
		if len(v.Summary) > 2000 {
			return fmt.Errorf("pillar %q summary too long", k)
		}
	}
	return nil
}

// Clone copies the set.
func (p PillarScoreSet) Clone() PillarScoreSet {
	if p == nil {
		return nil
	}
	out := make(PillarScoreSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SpotlightKind tags the stored shape of a spotlight block.
type SpotlightKind string

const (
	SpotlightState       SpotlightKind = "state"
	SpotlightInstitution SpotlightKind = "institution"
	SpotlightStreetPulse SpotlightKind = "street_pulse"
)

// Spotlight is implemented by every featured content block.
type Spotlight interface {
	Kind() SpotlightKind
	Validate() error
}

// StateSpotlight features one state of the federation.
type StateSpotlight struct {
	State    string   `json:"state"`
	Headline string   `json:"headline"`
	Body     string   `json:"body"`
	Score    *float64 `json:"score,omitempty"`
}

func (StateSpotlight) Kind() SpotlightKind { return SpotlightState }

func (s StateSpotlight) Validate() error {
	if strings.TrimSpace(s.State) == "" {
		return fmt.Errorf("state spotlight: state required")
	}
	if s.Score != nil && (*s.Score < 0 || *s.Score > 10) {
		return fmt.Errorf("state spotlight: score must be between 0 and 10")
	}
	return validateBlock("state spotlight", s.Headline, s.Body)
}

// InstitutionSpotlight features one public institution.
type InstitutionSpotlight struct {
	Institution string `json:"institution"`
	Headline    string `json:"headline"`
	Body        string `json:"body"`
	Verdict     string `json:"verdict,omitempty"`
}

func (InstitutionSpotlight) Kind() SpotlightKind { return SpotlightInstitution }

func (s InstitutionSpotlight) Validate() error {
	if strings.TrimSpace(s.Institution) == "" {
		return fmt.Errorf("institution spotlight: institution required")
	}
	if len(s.Verdict) > 64 {
		return fmt.Errorf("institution spotlight: verdict too long")
	}
	return validateBlock("institution spotlight", s.Headline, s.Body)
}

// StreetPulseSpotlight collects voices from the street.
type StreetPulseSpotlight struct {
	Location string   `json:"location,omitempty"`
	Headline string   `json:"headline"`
	Body     string   `json:"body"`
	Quotes   []string `json:"quotes,omitempty"`
}

func (StreetPulseSpotlight) Kind() SpotlightKind { return SpotlightStreetPulse }

func (s StreetPulseSpotlight) Validate() error {
	if len(s.Quotes) > 12 {
		return fmt.Errorf("street pulse spotlight: at most 12 quotes")
	}
	for _, q := range s.Quotes {
		if strings.TrimSpace(q) == "" || len(q) > 500 {
			return fmt.Errorf("street pulse spotlight: quotes must be 1-500 characters")
		}
	}
	return validateBlock("street pulse spotlight", s.Headline, s.Body)
}

func validateBlock(kind, headline, body string) error {
	if strings.TrimSpace(headline) == "" {
		return fmt.Errorf("%s: headline required", kind)
	}
	if len(headline) > 200 {
		return fmt.Errorf("%s: headline too long", kind)
	}
	if len(body) > 10000 {
		return fmt.Errorf("%s: body too long", kind)
	}
	return nil
}

// Validate checks a source reference title and, when set, its URL scheme.
func (s SourceRef) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("source title required")
	}
	if s.URL == "" {
		return nil
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source %q: url must be absolute http(s)", s.Title)
	}
	return nil
}

// WordCount is one entry of the most-used descriptors.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// DailyCount is the number of accepted check-ins on one UTC day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// SentimentSummary aggregates the non-flagged check-ins of one cycle.
type SentimentSummary struct {
	CycleID     string             `json:"cycle_id"`
	Responses   int                `json:"responses"`
	MeanScore   float64            `json:"mean_score"`
	PillarMeans map[Pillar]float64 `json:"pillar_means,omitempty"`
	PillarAlpha float64            `json:"pillar_alpha,omitempty"`
	Moods       map[Mood]int       `json:"moods,omitempty"`
	TopWords    []WordCount        `json:"top_words,omitempty"`
	Timeseries  []DailyCount       `json:"timeseries,omitempty"`
	ComputedAt  time.Time          `json:"computed_at"`
}

// Clone copies the summary.
func (s *SentimentSummary) Clone() *SentimentSummary {
	if s == nil {
		return nil
	}
	cp := *s
	if s.PillarMeans != nil {
		cp.PillarMeans = make(map[Pillar]float64, len(s.PillarMeans))
		for k, v := range s.PillarMeans {
			cp.PillarMeans[k] = v
		}
	}
	if s.Moods != nil {
		cp.Moods = make(map[Mood]int, len(s.Moods))
		for k, v := range s.Moods {
			cp.Moods[k] = v
		}
	}
	cp.TopWords = append([]WordCount(nil), s.TopWords...)
	cp.Timeseries = append([]DailyCount(nil), s.Timeseries...)
	return &cp
}

type taggedContent struct {
	Kind SpotlightKind   `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeSpotlight stores a spotlight as a {"kind","data"} envelope. A nil
// spotlight encodes to nil.
func EncodeSpotlight(s Spotlight) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedContent{Kind: s.Kind(), Data: data})
}

func decodeTagged(raw []byte, want SpotlightKind, out any) bool {
	if len(raw) == 0 {
		return false
	}
	var env taggedContent
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("content: decode %s envelope: %v", want, err)
		return false
	}
	if env.Kind != want {
		log.Printf("content: expected %s spotlight, found %q", want, env.Kind)
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		log.Printf("content: decode %s spotlight: %v", want, err)
		return false
	}
	return true
}

// DecodeStateSpotlight parses a stored state spotlight. Unreadable content
// yields nil rather than an error.
func DecodeStateSpotlight(raw []byte) *StateSpotlight {
	var s StateSpotlight
	if !decodeTagged(raw, SpotlightState, &s) {
		return nil
	}
	if s.Score != nil && (*s.Score < 0 || *s.Score > 10) {
		s.Score = nil
	}
	return &s
}

// DecodeInstitutionSpotlight parses a stored institution spotlight.
func DecodeInstitutionSpotlight(raw []byte) *InstitutionSpotlight {
	var s InstitutionSpotlight
	if !decodeTagged(raw, SpotlightInstitution, &s) {
		return nil
	}
	return &s
}

// DecodeStreetPulseSpotlight parses a stored street pulse spotlight.
func DecodeStreetPulseSpotlight(raw []byte) *StreetPulseSpotlight {
	var s StreetPulseSpotlight
	if !decodeTagged(raw, SpotlightStreetPulse, &s) {
		return nil
	}
	return &s
}

// DecodePillarScores parses stored pillar scores, dropping unknown pillars
// and clamping scores into [0, 10].
func DecodePillarScores(raw []byte) PillarScoreSet {
	if len(raw) == 0 {
		return nil
	}
	var in map[Pillar]PillarScore
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Printf("content: decode pillar scores: %v", err)
		return nil
	}
	out := make(PillarScoreSet, len(in))
	for k, v := range in {
		if !k.Valid() {
			continue
		}
		if v.Score < 0 {
			v.Score = 0
		}
		if v.Score > 10 {
			v.Score = 10
		}
		out[k] = v
	}
	return out
}

// DecodeSentiment parses a stored sentiment summary.
func DecodeSentiment(raw []byte) *SentimentSummary {
	if len(raw) == 0 {
		return nil
	}
	var s SentimentSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Printf("content: decode sentiment: %v", err)
		return nil
	}
	return &s
}

// DecodeSources parses stored source references, dropping entries without a title.
func DecodeSources(raw []byte) []SourceRef {
	if len(raw) == 0 {
		return nil
	}
	var in []SourceRef
	if err := json.Unmarshal(raw, &in); err != nil {
		log.Printf("content: decode sources: %v", err)
		return nil
	}
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s.Title) != "" {
			out = append(out, s)
		}
	}
	return out
}

// DecodeSurveyQuestions parses stored survey questions.
func DecodeSurveyQuestions(raw []byte) []SurveyQuestion {
	if len(raw) == 0 {
		return nil
	}
	var out []SurveyQuestion
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Printf("content: decode survey questions: %v", err)
		return nil
	}
	return out
}
