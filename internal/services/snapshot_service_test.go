package services

import (
	"context"
	"errors"
	"testing"

	"github.com/soaringjerry/Pulse/internal/models"
)

func fullPillars(score float64) map[models.Pillar]models.PillarScore {
	out := map[models.Pillar]models.PillarScore{}
	for _, p := range models.Pillars {
		out[p] = models.PillarScore{Score: score, Summary: p.DisplayName() + " held steady"}
	}
	return out
}

func draft() SnapshotDraft {
	return SnapshotDraft{
		Period:       "March 2026",
		OverallScore: 5.5,
		Narrative:    "A tense month.",
		Pillars:      fullPillars(5),
		StateSpotlight: &models.StateSpotlight{
			State: "Lagos", Headline: "Fuel queues return", Body: "Long lines across the city.",
		},
		Sources: []models.SourceRef{{Title: "Central bank bulletin", URL: "https://example.org/bulletin"}},
	}
}

type recordingArchiver struct {
	keys []string
	err  error
}

func (r *recordingArchiver) Archive(ctx context.Context, s *models.Snapshot) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	key := "snapshots/" + s.ID + ".json"
	r.keys = append(r.keys, key)
	return key, nil
}

func TestSnapshotLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)

	snap, err := ts.snapshots.Save(ctx, testAdmin, draft())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if snap.Published() || snap.IsLocked {
		t.Fatalf("new snapshot should be a draft: %+v", snap)
	}
	pub, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !pub.Published() || pub.IsLocked {
		t.Fatalf("after publish: %+v", pub)
	}
	locked, err := ts.snapshots.Lock(ctx, testAdmin, snap.ID)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !locked.IsLocked || !locked.PublishedAt.Equal(*pub.PublishedAt) {
		t.Fatalf("after lock: %+v", locked)
	}

	d := draft()
	d.ID = snap.ID
	d.Period = "X"
	if _, err := ts.snapshots.Save(ctx, testAdmin, d); !HasCode(err, ErrorConflict) {
		t.Fatalf("save locked err = %v, want conflict", err)
	}
	if _, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID); !HasCode(err, ErrorConflict) {
		t.Fatalf("publish locked err = %v, want conflict", err)
	}
	if _, err := ts.snapshots.Lock(ctx, testAdmin, snap.ID); !HasCode(err, ErrorConflict) {
		t.Fatalf("lock locked err = %v, want conflict", err)
	}
	stored, _ := ts.store.GetSnapshot(ctx, snap.ID)
	if stored.Period != "March 2026" || !stored.IsLocked {
		t.Fatalf("locked snapshot mutated: %+v", stored)
	}

	want := []string{ActionSnapshotCreate, ActionSnapshotPublish, ActionSnapshotLock}
	got := ts.store.actions()
	if len(got) != len(want) {
		t.Fatalf("audit = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit = %v, want %v", got, want)
		}
	}
}

func TestPublishIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	snap, err := ts.snapshots.Save(ctx, testAdmin, draft())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID)
	if err != nil {
		t.Fatalf("Publish again: %v", err)
	}
	if !first.PublishedAt.Equal(*second.PublishedAt) {
		t.Fatalf("publishedAt changed: %v -> %v", first.PublishedAt, second.PublishedAt)
	}
	var metas []string
	for _, e := range ts.store.audit {
		if e.Action == ActionSnapshotPublish {
			metas = append(metas, e.Metadata["first_publish"])
		}
	}
	if len(metas) != 2 || metas[0] != "true" || metas[1] != "false" {
		t.Fatalf("publish audits = %v", metas)
	}

	// editing a published draft keeps its publication time
	d := draft()
	d.ID = snap.ID
	d.Narrative = "Revised."
	upd, err := ts.snapshots.Save(ctx, testAdmin, d)
	if err != nil {
		t.Fatalf("Save published: %v", err)
	}
	if upd.Narrative != "Revised." || !upd.PublishedAt.Equal(*first.PublishedAt) {
		t.Fatalf("update = %+v", upd)
	}
}

func TestLockRequiresPublication(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	snap, err := ts.snapshots.Save(ctx, testAdmin, draft())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err = ts.snapshots.Lock(ctx, testAdmin, snap.ID)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict || se.Message != "snapshot must be published before it can be locked" {
		t.Fatalf("lock draft err = %v", err)
	}
	for name, op := range map[string]func() error{
		"publish": func() error { _, err := ts.snapshots.Publish(ctx, testAdmin, "missing"); return err },
		"lock":    func() error { _, err := ts.snapshots.Lock(ctx, testAdmin, "missing"); return err },
		"save": func() error {
			d := draft()
			d.ID = "missing"
			_, err := ts.snapshots.Save(ctx, testAdmin, d)
			return err
		},
	} {
		if err := op(); !HasCode(err, ErrorNotFound) {
			t.Fatalf("%s missing err = %v, want not found", name, err)
		}
	}
}

func TestSaveValidation(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	mutate := func(f func(*SnapshotDraft)) SnapshotDraft {
		d := draft()
		f(&d)
		return d
	}
	cases := map[string]SnapshotDraft{
		"no period":      mutate(func(d *SnapshotDraft) { d.Period = " " }),
		"score high":     mutate(func(d *SnapshotDraft) { d.OverallScore = 10.5 }),
		"score negative": mutate(func(d *SnapshotDraft) { d.OverallScore = -1 }),
		"partial pillars": mutate(func(d *SnapshotDraft) {
			delete(d.Pillars, models.PillarGovernance)
		}),
		"pillar range": mutate(func(d *SnapshotDraft) {
			d.Pillars[models.PillarSecurity] = models.PillarScore{Score: 11}
		}),
		"spotlight": mutate(func(d *SnapshotDraft) { d.StateSpotlight.Headline = "" }),
		"source":    mutate(func(d *SnapshotDraft) { d.Sources = []models.SourceRef{{Title: "x", URL: "ftp://x"}} }),
	}
	for name, d := range cases {
		if _, err := ts.snapshots.Save(ctx, testAdmin, d); !HasCode(err, ErrorInvalid) {
			t.Fatalf("%s: err = %v, want invalid", name, err)
		}
	}
	if _, err := ts.snapshots.Save(ctx, testAdmin, mutate(func(d *SnapshotDraft) { d.CycleID = "nope" })); !HasCode(err, ErrorNotFound) {
		t.Fatalf("unknown cycle err = %v", err)
	}
	if len(ts.store.snapshots) != 0 {
		t.Fatalf("invalid drafts persisted")
	}
}

func TestSaveLockedReportsLockFirst(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	snap, err := ts.snapshots.Save(ctx, testAdmin, draft())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := ts.snapshots.Lock(ctx, testAdmin, snap.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	for name, d := range map[string]SnapshotDraft{
		"empty period":  {ID: snap.ID},
		"unknown cycle": {ID: snap.ID, Period: "X", CycleID: "nope"},
	} {
		_, err := ts.snapshots.Save(ctx, testAdmin, d)
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict || se.Message != "snapshot is locked" {
			t.Fatalf("%s: err = %v, want snapshot is locked conflict", name, err)
		}
	}

	missing := draft()
	missing.ID = "missing"
	if _, err := ts.snapshots.Save(ctx, testAdmin, missing); !HasCode(err, ErrorNotFound) {
		t.Fatalf("save missing err = %v, want not found", err)
	}
}

func TestLockArchives(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	arch := &recordingArchiver{}
	ts.snapshots.WithArchiver(arch)

	snap, _ := ts.snapshots.Save(ctx, testAdmin, draft())
	if _, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := ts.snapshots.Lock(ctx, testAdmin, snap.ID); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if len(arch.keys) != 1 || arch.keys[0] != "snapshots/"+snap.ID+".json" {
		t.Fatalf("archive keys = %v", arch.keys)
	}
	got := ts.store.actions()
	if got[len(got)-1] != ActionSnapshotArchive {
		t.Fatalf("audit = %v", got)
	}

	// archive failure never undoes the lock
	arch.err = errors.New("bucket gone")
	other, _ := ts.snapshots.Save(ctx, testAdmin, draft())
	if _, err := ts.snapshots.Publish(ctx, testAdmin, other.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	locked, err := ts.snapshots.Lock(ctx, testAdmin, other.ID)
	if err != nil || !locked.IsLocked {
		t.Fatalf("Lock with failing archive: %+v, %v", locked, err)
	}
}

func TestGetPublishedHidesDrafts(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	snap, _ := ts.snapshots.Save(ctx, testAdmin, draft())
	if _, err := ts.snapshots.GetPublished(ctx, snap.ID); !HasCode(err, ErrorNotFound) {
		t.Fatalf("draft visible publicly: %v", err)
	}
	if _, err := ts.snapshots.Get(ctx, testAdmin, snap.ID); err != nil {
		t.Fatalf("admin Get: %v", err)
	}
	if _, err := ts.snapshots.Publish(ctx, testAdmin, snap.ID); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := ts.snapshots.GetPublished(ctx, snap.ID); err != nil {
		t.Fatalf("published hidden: %v", err)
	}
	list, err := ts.snapshots.List(ctx, testAdmin)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
}
