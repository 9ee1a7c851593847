// Package storetest holds the behaviour every entity store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
	"github.com/soaringjerry/Pulse/internal/services"
)

// Store is the union of the service store interfaces plus dataset export.
type Store interface {
	services.CycleStore
	services.SubmissionStore
	services.SnapshotStore
	services.AuditStore
	ExportDataset(ctx context.Context) (*models.Dataset, error)
}

// Run exercises open() against the shared contract. open must return an
// empty store; it is called once per subtest.
func Run(t *testing.T, open func(t *testing.T) Store) {
	t.Run("Cycles", func(t *testing.T) { testCycles(t, open(t)) })
	t.Run("Submissions", func(t *testing.T) { testSubmissions(t, open(t)) })
	t.Run("SnapshotLifecycle", func(t *testing.T) { testSnapshotLifecycle(t, open(t)) })
	t.Run("SnapshotContent", func(t *testing.T) { testSnapshotContent(t, open(t)) })
	t.Run("LatestPublished", func(t *testing.T) { testLatestPublished(t, open(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, open(t)) })
	t.Run("Export", func(t *testing.T) { testExport(t, open(t)) })
	t.Run("ConcurrentWrites", func(t *testing.T) { testConcurrentWrites(t, open(t)) })
}

var base = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func cycle(id string, minutes int) *models.Cycle {
	return &models.Cycle{ID: id, Status: models.CycleOpen, Label: "March 2026", CreatedAt: at(minutes)}
}

func submission(id, cycleID, device string) *models.Submission {
	return &models.Submission{
		ID:             id,
		CycleID:        cycleID,
		CreatedAt:      at(1),
		Mode:           models.ModeScore,
		StabilityScore: 7,
		Mood:           models.MoodHopeful,
		Word:           "steady",
		DeviceHash:     device,
	}
}

func snapshot(id, cycleID string, minutes int) *models.Snapshot {
	return &models.Snapshot{
		ID:           id,
		CycleID:      cycleID,
		Period:       "March 2026",
		OverallScore: 6.5,
		Narrative:    "A calm month.",
		CreatedAt:    at(minutes),
		UpdatedAt:    at(minutes),
	}
}

func testCycles(t *testing.T, s Store) {
	ctx := context.Background()
	if cur, err := s.CurrentCycle(ctx); err != nil || cur != nil {
		t.Fatalf("CurrentCycle on empty store = %v, %v; want nil, nil", cur, err)
	}
	if _, err := s.GetCycle(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetCycle(missing) err = %v, want ErrNotFound", err)
	}

	first := cycle("c1", 0)
	first.SurveyQuestions = []models.SurveyQuestion{{Pillar: models.PillarSecurity, Prompt: "How safe do you feel?"}}
	got, created, err := s.CreateCycleIfNone(ctx, first)
	if err != nil || !created || got.ID != "c1" {
		t.Fatalf("CreateCycleIfNone = %v, %v, %v", got, created, err)
	}
	got, created, err = s.CreateCycleIfNone(ctx, cycle("c-other", 1))
	if err != nil || created || got.ID != "c1" {
		t.Fatalf("second CreateCycleIfNone = %v, %v, %v; want existing c1", got, created, err)
	}
	if len(got.SurveyQuestions) != 1 || got.SurveyQuestions[0].Pillar != models.PillarSecurity {
		t.Fatalf("survey questions = %+v", got.SurveyQuestions)
	}

	closed, err := s.SetCycleStatus(ctx, "c1", models.CycleOpen, models.CycleClosed)
	if err != nil || closed.Status != models.CycleClosed || len(closed.SurveyQuestions) != 1 {
		t.Fatalf("SetCycleStatus = %+v, %v", closed, err)
	}
	if _, err := s.SetCycleStatus(ctx, "c1", models.CycleOpen, models.CycleClosed); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("SetCycleStatus(stale from) err = %v, want ErrConflict", err)
	}
	if _, err := s.SetCycleStatus(ctx, "missing", models.CycleOpen, models.CycleClosed); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("SetCycleStatus(missing) err = %v, want ErrNotFound", err)
	}
	qs := []models.SurveyQuestion{{Pillar: models.PillarFXEconomy, Prompt: "Are prices steady?"}}
	withQs, err := s.SetCycleQuestions(ctx, "c1", qs)
	if err != nil || withQs.Status != models.CycleClosed || len(withQs.SurveyQuestions) != 1 || withQs.SurveyQuestions[0].Pillar != models.PillarFXEconomy {
		t.Fatalf("SetCycleQuestions = %+v, %v", withQs, err)
	}
	if _, err := s.SetCycleQuestions(ctx, "missing", qs); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("SetCycleQuestions(missing) err = %v, want ErrNotFound", err)
	}
	cur, err := s.CurrentCycle(ctx)
	if err != nil || cur.Status != models.CycleClosed || !cur.CreatedAt.Equal(at(0)) {
		t.Fatalf("CurrentCycle = %+v, %v", cur, err)
	}

	if err := s.AdvanceCycle(ctx, "not-current", cycle("c2", 5)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("AdvanceCycle(stale) err = %v, want ErrConflict", err)
	}
	if err := s.AdvanceCycle(ctx, "c1", cycle("c2", 5)); err != nil {
		t.Fatalf("AdvanceCycle: %v", err)
	}
	if err := s.AdvanceCycle(ctx, "c1", cycle("c3", 6)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("repeated AdvanceCycle err = %v, want ErrConflict", err)
	}
	cur, err = s.CurrentCycle(ctx)
	if err != nil || cur.ID != "c2" || cur.Status != models.CycleOpen {
		t.Fatalf("CurrentCycle after advance = %+v, %v", cur, err)
	}
	old, err := s.GetCycle(ctx, "c1")
	if err != nil || old.Status != models.CycleArchived {
		t.Fatalf("archived cycle = %+v, %v", old, err)
	}

	// writes aimed at a cycle that is no longer current are rejected
	if _, err := s.SetCycleStatus(ctx, "c1", models.CycleArchived, models.CycleClosed); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("SetCycleStatus(archived) err = %v, want ErrConflict", err)
	}
	if _, err := s.SetCycleQuestions(ctx, "c1", nil); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("SetCycleQuestions(archived) err = %v, want ErrConflict", err)
	}
	old, err = s.GetCycle(ctx, "c1")
	if err != nil || old.Status != models.CycleArchived || len(old.SurveyQuestions) != 1 {
		t.Fatalf("archived cycle after stale writes = %+v, %v", old, err)
	}
}

func testSubmissions(t *testing.T, s Store) {
	ctx := context.Background()
	if _, _, err := s.CreateCycleIfNone(ctx, cycle("c1", 0)); err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if err := s.AdvanceCycle(ctx, "c1", cycle("c2", 1)); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if err := s.InsertSubmission(ctx, submission("s1", "c1", "dev-a")); err != nil {
		t.Fatalf("insert s1: %v", err)
	}
	if err := s.InsertSubmission(ctx, submission("s2", "c1", "dev-a")); !errors.Is(err, models.ErrDuplicate) {
		t.Fatalf("duplicate device err = %v, want ErrDuplicate", err)
	}
	if err := s.InsertSubmission(ctx, submission("s3", "c2", "dev-a")); err != nil {
		t.Fatalf("same device in another cycle: %v", err)
	}
	for _, id := range []string{"anon-1", "anon-2"} {
		if err := s.InsertSubmission(ctx, submission(id, "c1", "")); err != nil {
			t.Fatalf("insert %s without device: %v", id, err)
		}
	}
	pillars := submission("s4", "c1", "dev-b")
	pillars.Mode = models.ModePillars
	pillars.StabilityScore = 0
	pillars.PillarResponses = map[models.Pillar]int{}
	for i, p := range models.Pillars {
		pillars.PillarResponses[p] = i%5 + 1
	}
	pillars.SpotlightTags = []string{"fuel", "prices"}
	pillars.SpotlightComment = "queues again"
	if err := s.InsertSubmission(ctx, pillars); err != nil {
		t.Fatalf("insert pillar submission: %v", err)
	}

	found, err := s.FindSubmissionByDevice(ctx, "c1", "dev-b")
	if err != nil || found == nil {
		t.Fatalf("FindSubmissionByDevice = %v, %v", found, err)
	}
	if found.Mode != models.ModePillars || len(found.PillarResponses) != len(models.Pillars) ||
		found.PillarResponses[models.PillarGovernance] != pillars.PillarResponses[models.PillarGovernance] {
		t.Fatalf("pillar submission round trip = %+v", found)
	}
	if len(found.SpotlightTags) != 2 || found.SpotlightComment != "queues again" || !found.CreatedAt.Equal(at(1)) {
		t.Fatalf("spotlight fields round trip = %+v", found)
	}
	if found, err := s.FindSubmissionByDevice(ctx, "c1", "dev-z"); err != nil || found != nil {
		t.Fatalf("FindSubmissionByDevice(missing) = %v, %v; want nil, nil", found, err)
	}

	flagged, err := s.SetSubmissionFlag(ctx, "anon-1", true)
	if err != nil || !flagged.IsFlagged {
		t.Fatalf("SetSubmissionFlag = %+v, %v", flagged, err)
	}
	if _, err := s.SetSubmissionFlag(ctx, "missing", true); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("SetSubmissionFlag(missing) err = %v, want ErrNotFound", err)
	}
	visible, err := s.ListSubmissions(ctx, "c1", false)
	if err != nil || len(visible) != 3 {
		t.Fatalf("ListSubmissions(c1, visible) = %d rows, %v; want 3", len(visible), err)
	}
	all, err := s.ListSubmissions(ctx, "c1", true)
	if err != nil || len(all) != 4 {
		t.Fatalf("ListSubmissions(c1, all) = %d rows, %v; want 4", len(all), err)
	}
	for _, sub := range visible {
		if sub.ID == "anon-1" {
			t.Fatalf("flagged submission listed as visible")
		}
	}
	if other, _ := s.ListSubmissions(ctx, "c2", true); len(other) != 1 {
		t.Fatalf("ListSubmissions(c2) = %d rows, want 1", len(other))
	}
}

func testSnapshotLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	if _, err := s.GetSnapshot(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("GetSnapshot(missing) err = %v, want ErrNotFound", err)
	}
	if err := s.InsertSnapshot(ctx, snapshot("p1", "c1", 0)); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	if err := s.InsertSnapshot(ctx, snapshot("p1", "c1", 0)); !errors.Is(err, models.ErrDuplicate) {
		t.Fatalf("duplicate InsertSnapshot err = %v, want ErrDuplicate", err)
	}
	if _, err := s.LockSnapshot(ctx, "p1", at(1)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("lock draft err = %v, want ErrConflict", err)
	}

	edit := snapshot("p1", "c1", 0)
	edit.Narrative = "Revised."
	edit.UpdatedAt = at(2)
	updated, err := s.UpdateSnapshotContent(ctx, edit)
	if err != nil || updated.Narrative != "Revised." || updated.Published() {
		t.Fatalf("UpdateSnapshotContent = %+v, %v", updated, err)
	}
	if _, err := s.UpdateSnapshotContent(ctx, snapshot("missing", "", 0)); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("update missing err = %v, want ErrNotFound", err)
	}

	pub, first, err := s.PublishSnapshot(ctx, "p1", at(3))
	if err != nil || !first || pub.PublishedAt == nil || !pub.PublishedAt.Equal(at(3)) {
		t.Fatalf("PublishSnapshot = %+v, %v, %v", pub, first, err)
	}
	again, first, err := s.PublishSnapshot(ctx, "p1", at(4))
	if err != nil || first || !again.PublishedAt.Equal(at(3)) {
		t.Fatalf("republish = %+v, %v, %v; want original timestamp and first=false", again, first, err)
	}
	if _, _, err := s.PublishSnapshot(ctx, "missing", at(4)); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("publish missing err = %v, want ErrNotFound", err)
	}
	if ok, err := s.HasPublishedSnapshotForCycle(ctx, "c1"); err != nil || !ok {
		t.Fatalf("HasPublishedSnapshotForCycle(c1) = %v, %v", ok, err)
	}
	if ok, err := s.HasPublishedSnapshotForCycle(ctx, "c9"); err != nil || ok {
		t.Fatalf("HasPublishedSnapshotForCycle(c9) = %v, %v", ok, err)
	}

	edit.Narrative = "Correction after publish."
	updated, err = s.UpdateSnapshotContent(ctx, edit)
	if err != nil || updated.PublishedAt == nil || !updated.PublishedAt.Equal(at(3)) {
		t.Fatalf("edit published = %+v, %v; want publication time kept", updated, err)
	}

	locked, err := s.LockSnapshot(ctx, "p1", at(5))
	if err != nil || !locked.IsLocked {
		t.Fatalf("LockSnapshot = %+v, %v", locked, err)
	}
	if _, err := s.LockSnapshot(ctx, "p1", at(6)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("relock err = %v, want ErrConflict", err)
	}
	if _, err := s.UpdateSnapshotContent(ctx, edit); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("edit locked err = %v, want ErrConflict", err)
	}
	if _, _, err := s.PublishSnapshot(ctx, "p1", at(6)); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("publish locked err = %v, want ErrConflict", err)
	}
	final, err := s.GetSnapshot(ctx, "p1")
	if err != nil || final.Narrative != "Correction after publish." || !final.IsLocked {
		t.Fatalf("locked snapshot = %+v, %v", final, err)
	}
}

func testSnapshotContent(t *testing.T, s Store) {
	ctx := context.Background()
	score := 4.5
	full := snapshot("rich", "c1", 0)
	full.Pillars = models.PillarScoreSet{}
	for i, p := range models.Pillars {
		full.Pillars[p] = models.PillarScore{Score: float64(i) + 0.5, Summary: fmt.Sprintf("summary %d", i)}
	}
	full.StateSpotlight = &models.StateSpotlight{State: "Lagos", Headline: "Traffic", Body: "Better roads.", Score: &score}
	full.InstitutionSpotlight = &models.InstitutionSpotlight{Institution: "Central Bank", Headline: "Rates", Body: "Held.", Verdict: "steady"}
	full.StreetPulseSpotlight = &models.StreetPulseSpotlight{Headline: "Voices", Body: "Mixed.", Quotes: []string{"prices up", "calmer"}}
	full.Sources = []models.SourceRef{{Title: "Bulletin", URL: "https://example.org/bulletin"}}
	full.Sentiment = &models.SentimentSummary{CycleID: "c1", Responses: 12, MeanScore: 6.25, Moods: map[models.Mood]int{models.MoodHopeful: 7}, ComputedAt: at(0)}
	if err := s.InsertSnapshot(ctx, full); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	got, err := s.GetSnapshot(ctx, "rich")
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if len(got.Pillars) != len(models.Pillars) || got.Pillars[models.PillarFXEconomy] != full.Pillars[models.PillarFXEconomy] {
		t.Fatalf("pillars = %+v", got.Pillars)
	}
	if got.StateSpotlight == nil || got.StateSpotlight.State != "Lagos" || got.StateSpotlight.Score == nil || *got.StateSpotlight.Score != score {
		t.Fatalf("state spotlight = %+v", got.StateSpotlight)
	}
	if got.InstitutionSpotlight == nil || got.InstitutionSpotlight.Verdict != "steady" {
		t.Fatalf("institution spotlight = %+v", got.InstitutionSpotlight)
	}
	if got.StreetPulseSpotlight == nil || len(got.StreetPulseSpotlight.Quotes) != 2 {
		t.Fatalf("street pulse spotlight = %+v", got.StreetPulseSpotlight)
	}
	if len(got.Sources) != 1 || got.Sources[0].URL != "https://example.org/bulletin" {
		t.Fatalf("sources = %+v", got.Sources)
	}
	if got.Sentiment == nil || got.Sentiment.Responses != 12 || got.Sentiment.Moods[models.MoodHopeful] != 7 {
		t.Fatalf("sentiment = %+v", got.Sentiment)
	}

	bare := snapshot("bare", "", 1)
	if err := s.InsertSnapshot(ctx, bare); err != nil {
		t.Fatalf("InsertSnapshot(bare): %v", err)
	}
	got, err = s.GetSnapshot(ctx, "bare")
	if err != nil || got.CycleID != "" || got.Pillars != nil || got.StateSpotlight != nil || got.Sentiment != nil || got.Published() {
		t.Fatalf("bare snapshot = %+v, %v", got, err)
	}
}

func testLatestPublished(t *testing.T, s Store) {
	ctx := context.Background()
	if latest, err := s.LatestPublishedSnapshot(ctx); err != nil || latest != nil {
		t.Fatalf("LatestPublishedSnapshot on empty store = %v, %v", latest, err)
	}
	for i, id := range []string{"a", "b", "c"} {
		if err := s.InsertSnapshot(ctx, snapshot(id, "c1", i)); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, _, err := s.PublishSnapshot(ctx, "b", at(10)); err != nil {
		t.Fatalf("publish b: %v", err)
	}
	if _, _, err := s.PublishSnapshot(ctx, "a", at(20)); err != nil {
		t.Fatalf("publish a: %v", err)
	}
	latest, err := s.LatestPublishedSnapshot(ctx)
	if err != nil || latest == nil || latest.ID != "a" {
		t.Fatalf("LatestPublishedSnapshot = %+v, %v; want a", latest, err)
	}
	list, err := s.ListSnapshots(ctx)
	if err != nil || len(list) != 3 {
		t.Fatalf("ListSnapshots = %d, %v", len(list), err)
	}
	if list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("ListSnapshots order = %s, %s, %s; want newest first", list[0].ID, list[1].ID, list[2].ID)
	}
}

func testAudit(t *testing.T, s Store) {
	ctx := context.Background()
	for i, action := range []string{"cycle.open", "cycle.close", "cycle.advance"} {
		e := models.AuditEntry{Time: at(i), Actor: "ed1", Action: action, Target: "c1", Metadata: map[string]string{"n": fmt.Sprint(i)}}
		if err := s.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	got, err := s.ListAudit(ctx, 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("ListAudit(2) = %d, %v", len(got), err)
	}
	if got[0].Action != "cycle.advance" || got[1].Action != "cycle.close" {
		t.Fatalf("ListAudit order = %s, %s; want newest first", got[0].Action, got[1].Action)
	}
	if got[0].Metadata["n"] != "2" || got[0].Actor != "ed1" || !got[0].Time.Equal(at(2)) {
		t.Fatalf("audit entry = %+v", got[0])
	}
	if none, err := s.ListAudit(ctx, 0); err != nil || len(none) != 0 {
		t.Fatalf("ListAudit(0) = %v, %v", none, err)
	}
}

func testExport(t *testing.T, s Store) {
	ctx := context.Background()
	if _, _, err := s.CreateCycleIfNone(ctx, cycle("c1", 0)); err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if err := s.InsertSubmission(ctx, submission("s1", "c1", "dev-a")); err != nil {
		t.Fatalf("insert submission: %v", err)
	}
	if err := s.InsertSnapshot(ctx, snapshot("p1", "c1", 0)); err != nil {
		t.Fatalf("insert snapshot: %v", err)
	}
	if err := s.AppendAudit(ctx, models.AuditEntry{Time: at(0), Actor: "ed1", Action: "cycle.open", Target: "c1"}); err != nil {
		t.Fatalf("append audit: %v", err)
	}
	ds, err := s.ExportDataset(ctx)
	if err != nil {
		t.Fatalf("ExportDataset: %v", err)
	}
	if ds.Version != models.DatasetVersion || ds.CurrentCycleID != "c1" {
		t.Fatalf("dataset header = %d %q", ds.Version, ds.CurrentCycleID)
	}
	if len(ds.Cycles) != 1 || len(ds.Submissions) != 1 || len(ds.Snapshots) != 1 || len(ds.Audit) != 1 {
		t.Fatalf("dataset sizes = %d/%d/%d/%d", len(ds.Cycles), len(ds.Submissions), len(ds.Snapshots), len(ds.Audit))
	}
	if ds.Submissions[0].DeviceHash != "dev-a" {
		t.Fatalf("exported device hash = %q, want dev-a", ds.Submissions[0].DeviceHash)
	}
}

// racers is how many goroutines compete for the same conditional write.
const racers = 8

func testConcurrentWrites(t *testing.T, s Store) {
	ctx := context.Background()
	if _, _, err := s.CreateCycleIfNone(ctx, cycle("c1", 0)); err != nil {
		t.Fatalf("create cycle: %v", err)
	}
	if err := s.InsertSnapshot(ctx, snapshot("p1", "c1", 0)); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	if _, _, err := s.PublishSnapshot(ctx, "p1", at(1)); err != nil {
		t.Fatalf("PublishSnapshot: %v", err)
	}

	lockErrs := race(func(i int) error {
		_, err := s.LockSnapshot(ctx, "p1", at(2+i))
		return err
	})
	if n := countWinners(t, "LockSnapshot", lockErrs, models.ErrConflict); n != 1 {
		t.Fatalf("LockSnapshot winners = %d, want 1", n)
	}

	insertErrs := race(func(i int) error {
		return s.InsertSubmission(ctx, submission(fmt.Sprintf("s%d", i), "c1", "dev-race"))
	})
	if n := countWinners(t, "InsertSubmission", insertErrs, models.ErrDuplicate); n != 1 {
		t.Fatalf("InsertSubmission winners = %d, want 1", n)
	}
	rows, err := s.ListSubmissions(ctx, "c1", true)
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListSubmissions after racing inserts = %d rows, %v; want 1", len(rows), err)
	}
}

func race(fn func(i int) error) []error {
	errs := make([]error, racers)
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

// countWinners returns how many calls succeeded and fails on any loser
// error other than want.
func countWinners(t *testing.T, op string, errs []error, want error) int {
	t.Helper()
	n := 0
	for _, err := range errs {
		switch {
		case err == nil:
			n++
		case !errors.Is(err, want):
			t.Fatalf("%s err = %v, want nil or %v", op, err, want)
		}
	}
	return n
}
