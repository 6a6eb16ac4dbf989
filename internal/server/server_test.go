package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/worldbuild.space/internal/contracts"
	"github.com/louisbranch/worldbuild.space/internal/match"
	"github.com/louisbranch/worldbuild.space/internal/provider"
	"github.com/louisbranch/worldbuild.space/internal/storage"
	"github.com/louisbranch/worldbuild.space/internal/storage/sqlite"
	"github.com/louisbranch/worldbuild.space/internal/stream"
)

type testEnv struct {
	server  *Server
	store   storage.Store
	matches *match.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "arena.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	hub := stream.NewHub()
	matches := match.NewService(store, hub, provider.NewMock(provider.Config{}), nil)
	return &testEnv{
		server:  New(store, hub, matches, nil),
		store:   store,
		matches: matches,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func (env *testEnv) completedMatch(t *testing.T, seed int64) string {
	t.Helper()
	response := env.do(t, http.MethodPost, "/matches", map[string]any{"seed": seed, "tier": 1})
	if response.Code != http.StatusOK {
		t.Fatalf("create match: %d %s", response.Code, response.Body)
	}
	var summary struct {
		MatchID string `json:"match_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Status != "running" {
		t.Fatalf("expected running match, got %s", summary.Status)
	}
	env.matches.Wait()
	return summary.MatchID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	response := env.do(t, http.MethodGet, "/health", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("health: %d", response.Code)
	}
	if got := strings.TrimSpace(response.Body.String()); got != `{"ok":true}` {
		t.Fatalf("health body: %s", got)
	}
}

func TestCreateMatchRejectsInvalidTier(t *testing.T) {
	env := newTestEnv(t)
	response := env.do(t, http.MethodPost, "/matches", map[string]any{"tier": 7})
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", response.Code, response.Body)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "INVALID_TIER" {
		t.Fatalf("error code: %s", body.Error.Code)
	}
}

func TestGetMatchLifecycle(t *testing.T) {
	env := newTestEnv(t)
	matchID := env.completedMatch(t, 42)

	response := env.do(t, http.MethodGet, "/matches/"+matchID, nil)
	if response.Code != http.StatusOK {
		t.Fatalf("get match: %d %s", response.Code, response.Body)
	}
	var detail struct {
		MatchID     string          `json:"match_id"`
		Status      string          `json:"status"`
		Seed        int64           `json:"seed"`
		Tier        int             `json:"tier"`
		Challenge   json.RawMessage `json:"challenge"`
		CompletedAt *string         `json:"completed_at"`
		CanonHashA  *string         `json:"canon_hash_a"`
		CanonHashB  *string         `json:"canon_hash_b"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Status != "completed" || detail.Seed != 42 || detail.Tier != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}
	if string(detail.Challenge) == "null" || detail.CompletedAt == nil {
		t.Fatalf("expected challenge and completion: %s", response.Body)
	}
	if detail.CanonHashA == nil || detail.CanonHashB == nil || *detail.CanonHashA == *detail.CanonHashB {
		t.Fatalf("expected distinct canon hashes: %s", response.Body)
	}

	missing := env.do(t, http.MethodGet, "/matches/does-not-exist", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestArtifactsRequireTerminalMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.CreateMatch(ctx, storage.MatchRecord{
		ID:        "stillrunning",
		CreatedAt: time.Now().UTC(),
		Status:    storage.StatusRunning,
		Seed:      1,
		Tier:      1,
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	response := env.do(t, http.MethodGet, "/matches/stillrunning/artifacts", nil)
	if response.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", response.Code, response.Body)
	}
}

func TestArtifactsDerivedFromLog(t *testing.T) {
	env := newTestEnv(t)
	matchID := env.completedMatch(t, 42)

	response := env.do(t, http.MethodGet, "/matches/"+matchID+"/artifacts", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("artifacts: %d %s", response.Code, response.Body)
	}
	var artifacts struct {
		MatchID string `json:"match_id"`
		TeamA   struct {
			Canon      json.RawMessage `json:"canon"`
			PromptPack json.RawMessage `json:"prompt_pack"`
		} `json:"team_a"`
		TeamB struct {
			Canon      json.RawMessage `json:"canon"`
			PromptPack json.RawMessage `json:"prompt_pack"`
		} `json:"team_b"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &artifacts); err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	for _, raw := range []json.RawMessage{artifacts.TeamA.Canon, artifacts.TeamB.Canon} {
		result, err := contracts.Validate(contracts.CanonSchema, raw)
		if err != nil {
			t.Fatalf("validate canon: %v", err)
		}
		if !result.OK {
			t.Fatalf("derived canon invalid: %v", result.Errors)
		}
	}
	for _, raw := range []json.RawMessage{artifacts.TeamA.PromptPack, artifacts.TeamB.PromptPack} {
		result, err := contracts.Validate(contracts.PromptPackSchema, raw)
		if err != nil {
			t.Fatalf("validate prompt pack: %v", err)
		}
		if !result.OK {
			t.Fatalf("derived prompt pack invalid: %v", result.Errors)
		}
	}
}

func TestBlindPackageAndRevealAgree(t *testing.T) {
	env := newTestEnv(t)
	matchID := env.completedMatch(t, 42)

	blind := env.do(t, http.MethodGet, "/matches/"+matchID+"/judging/blind", nil)
	if blind.Code != http.StatusOK {
		t.Fatalf("blind: %d %s", blind.Code, blind.Body)
	}
	var pkg struct {
		MatchID string `json:"match_id"`
		Entries []struct {
			BlindID string          `json:"blind_id"`
			Canon   json.RawMessage `json:"canon"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(blind.Body.Bytes(), &pkg); err != nil {
		t.Fatalf("decode blind package: %v", err)
	}
	if len(pkg.Entries) != 2 {
		t.Fatalf("expected two blinded worlds, got %d", len(pkg.Entries))
	}
	if pkg.Entries[0].BlindID != "WORLD-1" || pkg.Entries[1].BlindID != "WORLD-2" {
		t.Fatalf("blind ids: %+v", pkg.Entries)
	}
	if string(pkg.Entries[0].Canon) == string(pkg.Entries[1].Canon) {
		t.Fatal("blinded canons must differ")
	}

	reveal := env.do(t, http.MethodGet, "/matches/"+matchID+"/judging/reveal", nil)
	if reveal.Code != http.StatusOK {
		t.Fatalf("reveal: %d %s", reveal.Code, reveal.Body)
	}
	var mapping map[string]string
	if err := json.Unmarshal(reveal.Body.Bytes(), &mapping); err != nil {
		t.Fatalf("decode reveal: %v", err)
	}
	if mapping["WORLD-1"] == mapping["WORLD-2"] {
		t.Fatalf("reveal mapping must cover both teams: %v", mapping)
	}

	// The revealed team's world name carries its team prefix, so the
	// mapping can be checked against the blinded canon itself.
	for _, entry := range pkg.Entries {
		var c struct {
			WorldName string `json:"world_name"`
		}
		if err := json.Unmarshal(entry.Canon, &c); err != nil {
			t.Fatalf("decode canon: %v", err)
		}
		team := mapping[entry.BlindID]
		wantPrefix := map[string]string{"A": "Azure", "B": "Cinder"}[team]
		if !strings.HasPrefix(c.WorldName, wantPrefix) {
			t.Fatalf("blind %s revealed as team %s but world is %q", entry.BlindID, team, c.WorldName)
		}
	}
}

func TestJudgingScoresEndpointRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	matchID := env.completedMatch(t, 42)

	submit := map[string]any{
		"judge":    "judge-1",
		"blind_id": "WORLD-1",
		"scores": map[string]int{
			"internal_coherence": 4,
			"creative_ambition":  5,
			"visual_fidelity":    3,
			"artifact_quality":   4,
			"process_quality":    5,
		},
		"notes": "coherent ecology",
	}
	response := env.do(t, http.MethodPost, "/matches/"+matchID+"/judging/scores", submit)
	if response.Code != http.StatusOK {
		t.Fatalf("submit score: %d %s", response.Code, response.Body)
	}
	var record struct {
		ID      int64  `json:"id"`
		Judge   string `json:"judge"`
		BlindID string `json:"blind_id"`
	}
	if err := json.Unmarshal(response.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.ID == 0 || record.Judge != "judge-1" || record.BlindID != "WORLD-1" {
		t.Fatalf("unexpected record: %+v", record)
	}

	list := env.do(t, http.MethodGet, "/matches/"+matchID+"/judging/scores", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list scores: %d %s", list.Code, list.Body)
	}
	var listing struct {
		MatchID string `json:"match_id"`
		Scores  []struct {
			Judge  string `json:"judge"`
			Scores struct {
				InternalCoherence int `json:"internal_coherence"`
			} `json:"scores"`
		} `json:"scores"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Scores) != 1 || listing.Scores[0].Scores.InternalCoherence != 4 {
		t.Fatalf("unexpected listing: %s", list.Body)
	}

	outOfRange := submit
	outOfRange["scores"] = map[string]int{
		"internal_coherence": 6,
		"creative_ambition":  5,
		"visual_fidelity":    3,
		"artifact_quality":   4,
		"process_quality":    5,
	}
	bad := env.do(t, http.MethodPost, "/matches/"+matchID+"/judging/scores", outOfRange)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range score, got %d %s", bad.Code, bad.Body)
	}

	missingJudge := map[string]any{
		"judge":    " ",
		"blind_id": "WORLD-1",
		"scores":   submit["scores"],
	}
	bad = env.do(t, http.MethodPost, "/matches/"+matchID+"/judging/scores", missingJudge)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing judge, got %d %s", bad.Code, bad.Body)
	}
}

func TestEventStreamReplaysCompletedMatch(t *testing.T) {
	env := newTestEnv(t)
	matchID := env.completedMatch(t, 42)

	response := env.do(t, http.MethodGet, "/matches/"+matchID+"/events", nil)
	if response.Code != http.StatusOK {
		t.Fatalf("stream: %d", response.Code)
	}
	if ct := response.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: %s", ct)
	}

	var seqs []int64
	var lastType string
	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Seq  int64  `json:"seq"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		seqs = append(seqs, event.Seq)
		lastType = event.Type
	}
	if len(seqs) == 0 {
		t.Fatal("expected replayed events")
	}
	for i, seq := range seqs {
		if seq != int64(i+1) {
			t.Fatalf("sequence gap at frame %d: %v", i, seqs[:i+1])
		}
	}
	if lastType != "match_completed" {
		t.Fatalf("last frame type: %s", lastType)
	}

	// Resuming mid-log replays only the tail.
	cut := seqs[len(seqs)/2]
	resumed := env.do(t, http.MethodGet, "/matches/"+matchID+"/events?after="+jsonInt(cut), nil)
	if resumed.Code != http.StatusOK {
		t.Fatalf("resume: %d", resumed.Code)
	}
	first := firstDataSeq(t, resumed.Body.String())
	if first != cut+1 {
		t.Fatalf("resume started at %d, want %d", first, cut+1)
	}
}

func jsonInt(value int64) string {
	raw, _ := json.Marshal(value)
	return string(raw)
}

func firstDataSeq(t *testing.T, body string) int64 {
	t.Helper()
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Seq int64 `json:"seq"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return event.Seq
	}
	t.Fatal("no data frames")
	return 0
}

func TestEventStreamRejectsBadAfter(t *testing.T) {
	env := newTestEnv(t)
	matchID := env.completedMatch(t, 42)

	response := env.do(t, http.MethodGet, "/matches/"+matchID+"/events?after=nope", nil)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
}

func TestEventStreamUnknownMatch(t *testing.T) {
	env := newTestEnv(t)
	response := env.do(t, http.MethodGet, "/matches/ghost/events", nil)
	if response.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", response.Code)
	}
}
