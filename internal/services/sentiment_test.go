package services

import (
	"context"
	"testing"
	"time"

	"github.com/soaringjerry/Pulse/internal/models"
)

func TestAggregateSentiment(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	pillars := func(v int) map[models.Pillar]int {
		out := map[models.Pillar]int{}
		for _, p := range models.Pillars {
			out[p] = v
		}
		return out
	}
	subs := []*models.Submission{
		{Mode: models.ModeScore, StabilityScore: 4, Mood: models.MoodAnxious, Word: "Tense", CreatedAt: day1},
		{Mode: models.ModeScore, StabilityScore: 7, Mood: models.MoodHopeful, Word: "tense", CreatedAt: day1},
		{Mode: models.ModePillars, PillarResponses: pillars(2), Mood: models.MoodAnxious, Word: "calm", CreatedAt: day2},
		{Mode: models.ModePillars, PillarResponses: pillars(4), Mood: models.MoodAnxious, Word: "calm", CreatedAt: day2},
		{Mode: models.ModeScore, StabilityScore: 1, Mood: models.MoodFearful, Word: "spam", CreatedAt: day2, IsFlagged: true},
		nil,
	}
	got := AggregateSentiment("C1", subs, day2)
	if got.Responses != 4 {
		t.Fatalf("responses = %d, want 4", got.Responses)
	}
	if got.MeanScore != 5.5 {
		t.Fatalf("mean score = %v, want 5.5", got.MeanScore)
	}
	if got.PillarMeans[models.PillarGovernance] != 3 {
		t.Fatalf("pillar means = %v", got.PillarMeans)
	}
	if got.PillarAlpha != 1 {
		t.Fatalf("alpha = %v, want 1", got.PillarAlpha)
	}
	if got.Moods[models.MoodAnxious] != 3 || got.Moods[models.MoodFearful] != 0 {
		t.Fatalf("moods = %v", got.Moods)
	}
	if len(got.TopWords) != 2 || got.TopWords[0].Word != "calm" || got.TopWords[0].Count != 2 || got.TopWords[1].Word != "tense" {
		t.Fatalf("top words = %v", got.TopWords)
	}
	if len(got.Timeseries) != 2 || got.Timeseries[0].Date != "2026-03-01" || got.Timeseries[1].Count != 2 {
		t.Fatalf("timeseries = %v", got.Timeseries)
	}
}

func TestAggregateSentimentEmpty(t *testing.T) {
	got := AggregateSentiment("C1", nil, march2026)
	if got.Responses != 0 || got.Moods != nil || got.PillarMeans != nil || got.PillarAlpha != 0 {
		t.Fatalf("empty summary = %+v", got)
	}
}

func TestAuditListNewestFirst(t *testing.T) {
	ctx := context.Background()
	ts := newTestServices(march2026)
	if _, err := ts.cycles.Open(ctx, testAdmin); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ts.cycles.Close(ctx, testAdmin); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ts.audit.List(ctx, Anonymous, 10); !HasCode(err, ErrorUnauthorized) {
		t.Fatalf("anonymous audit list err = %v", err)
	}
	list, err := ts.audit.List(ctx, testAdmin, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Action != ActionCycleClose || list[0].Actor != testAdmin.ID {
		t.Fatalf("audit list = %+v", list)
	}
	if list[0].Metadata["from"] != string(models.CycleOpen) || list[0].Metadata["to"] != string(models.CycleClosed) {
		t.Fatalf("close metadata = %v", list[0].Metadata)
	}
}
