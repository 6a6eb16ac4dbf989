package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/storage"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestMatchLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	record := storage.MatchRecord{
		ID:        "m1a2b3c4",
		CreatedAt: created,
		Status:    storage.StatusRunning,
		Seed:      42,
		Tier:      2,
	}
	if err := store.CreateMatch(ctx, record); err != nil {
		t.Fatalf("create match: %v", err)
	}
	if err := store.CreateMatch(ctx, record); err == nil {
		t.Fatal("expected duplicate match id to be rejected")
	}

	loaded, err := store.GetMatch(ctx, "m1a2b3c4")
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if loaded.Status != storage.StatusRunning || loaded.Seed != 42 || loaded.Tier != 2 {
		t.Fatalf("unexpected record: %+v", loaded)
	}
	if !loaded.CreatedAt.Equal(created) {
		t.Fatalf("created at round trip: got %v want %v", loaded.CreatedAt, created)
	}
	if loaded.Challenge != nil || loaded.CompletedAt != nil {
		t.Fatalf("expected empty challenge and completion, got %+v", loaded)
	}

	ch := challenge.Challenge{
		Seed:            42,
		Tier:            2,
		BiomeSetting:    "bioluminescent fungal canyon",
		Inhabitants:     "nomadic glassblowers",
		TwistConstraint: "all water flows upward",
	}
	if err := store.SetChallenge(ctx, "m1a2b3c4", ch); err != nil {
		t.Fatalf("set challenge: %v", err)
	}

	completedAt := created.Add(90 * time.Second)
	if err := store.MarkCompleted(ctx, "m1a2b3c4", completedAt, "hash-a", "hash-b"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	loaded, err = store.GetMatch(ctx, "m1a2b3c4")
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if loaded.Status != storage.StatusCompleted {
		t.Fatalf("expected completed status, got %s", loaded.Status)
	}
	if loaded.Challenge == nil || *loaded.Challenge != ch {
		t.Fatalf("challenge round trip: %+v", loaded.Challenge)
	}
	if loaded.CompletedAt == nil || !loaded.CompletedAt.Equal(completedAt) {
		t.Fatalf("completed at round trip: %+v", loaded.CompletedAt)
	}
	if loaded.CanonHashA != "hash-a" || loaded.CanonHashB != "hash-b" {
		t.Fatalf("canon hashes: %+v", loaded)
	}
}

func TestMarkFailed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateMatch(ctx, storage.MatchRecord{ID: "m9", Seed: 7, Tier: 1}); err != nil {
		t.Fatalf("create match: %v", err)
	}
	failedAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.MarkFailed(ctx, "m9", failedAt, "unanimity required for crystallization"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	loaded, err := store.GetMatch(ctx, "m9")
	if err != nil {
		t.Fatalf("get match: %v", err)
	}
	if loaded.Status != storage.StatusFailed {
		t.Fatalf("expected failed status, got %s", loaded.Status)
	}
	if loaded.Error != "unanimity required for crystallization" {
		t.Fatalf("error round trip: %q", loaded.Error)
	}
}

func TestUpdatesOnMissingMatchReturnNotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetMatch(ctx, "missing"); err != storage.ErrNotFound {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if err := store.MarkCompleted(ctx, "missing", time.Now(), "a", "b"); err != storage.ErrNotFound {
		t.Fatalf("mark completed: expected ErrNotFound, got %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", time.Now(), "boom"); err != storage.ErrNotFound {
		t.Fatalf("mark failed: expected ErrNotFound, got %v", err)
	}
	if err := store.SetChallenge(ctx, "missing", challenge.Challenge{}); err != storage.ErrNotFound {
		t.Fatalf("set challenge: expected ErrNotFound, got %v", err)
	}
}

func TestAppendAndListEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateMatch(ctx, storage.MatchRecord{ID: "mev", Seed: 1, Tier: 1}); err != nil {
		t.Fatalf("create match: %v", err)
	}

	team := turn.TeamA
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for seq := int64(1); seq <= 3; seq++ {
		event := storage.Event{
			ID:      "mev:" + string(rune('0'+seq)),
			Seq:     seq,
			TS:      base.Add(time.Duration(seq) * time.Second),
			MatchID: "mev",
			Type:    "turn_emitted",
			Data:    map[string]any{"phase": float64(1), "round": float64(seq)},
		}
		if seq == 2 {
			event.TeamID = &team
		}
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("append event %d: %v", seq, err)
		}
	}

	if err := store.AppendEvent(ctx, storage.Event{ID: "mev:2", Seq: 2, MatchID: "mev", Type: "turn_emitted"}); err == nil {
		t.Fatal("expected duplicate seq to be rejected")
	}

	events, err := store.ListEvents(ctx, "mev", 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, event := range events {
		if event.Seq != int64(i+1) {
			t.Fatalf("events out of order: %+v", events)
		}
	}
	if events[1].TeamID == nil || *events[1].TeamID != turn.TeamA {
		t.Fatalf("team id round trip: %+v", events[1])
	}
	if events[0].TeamID != nil {
		t.Fatalf("expected match-scoped event without team, got %+v", events[0])
	}
	if events[2].Data["round"] != float64(3) {
		t.Fatalf("data round trip: %+v", events[2].Data)
	}

	tail, err := store.ListEvents(ctx, "mev", 2)
	if err != nil {
		t.Fatalf("list events after 2: %v", err)
	}
	if len(tail) != 1 || tail[0].Seq != 3 {
		t.Fatalf("expected only seq 3, got %+v", tail)
	}

	none, err := store.ListEvents(ctx, "other", 0)
	if err != nil {
		t.Fatalf("list events for other match: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events, got %+v", none)
	}
}

func TestJudgingScoresRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.CreateMatch(ctx, storage.MatchRecord{ID: "mj", Seed: 3, Tier: 3}); err != nil {
		t.Fatalf("create match: %v", err)
	}

	first := storage.JudgingScoreRecord{
		MatchID: "mj",
		Judge:   "judge-1",
		BlindID: "WORLD-1",
		Scores: storage.JudgingScores{
			InternalCoherence: 4,
			CreativeAmbition:  5,
			VisualFidelity:    3,
			ArtifactQuality:   4,
			ProcessQuality:    5,
		},
		Notes: "strong tension arc",
	}
	firstID, err := store.AddJudgingScore(ctx, first)
	if err != nil {
		t.Fatalf("add judging score: %v", err)
	}
	second := first
	second.BlindID = "WORLD-2"
	second.Notes = ""
	secondID, err := store.AddJudgingScore(ctx, second)
	if err != nil {
		t.Fatalf("add judging score: %v", err)
	}
	if secondID <= firstID {
		t.Fatalf("expected increasing ids, got %d then %d", firstID, secondID)
	}

	records, err := store.ListJudgingScores(ctx, "mj")
	if err != nil {
		t.Fatalf("list judging scores: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(records))
	}
	if records[0].BlindID != "WORLD-1" || records[1].BlindID != "WORLD-2" {
		t.Fatalf("insertion order lost: %+v", records)
	}
	if records[0].Scores != first.Scores {
		t.Fatalf("scores round trip: %+v", records[0].Scores)
	}
	if records[0].Notes != "strong tension arc" || records[1].Notes != "" {
		t.Fatalf("notes round trip: %+v", records)
	}
}

func TestNilStoreGuards(t *testing.T) {
	var store *Store
	if err := store.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
	if err := store.CreateMatch(context.Background(), storage.MatchRecord{ID: "x"}); err == nil {
		t.Fatal("expected error from nil store")
	}
}
