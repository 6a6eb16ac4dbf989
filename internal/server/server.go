// Package server exposes the arena HTTP API: match lifecycle, derived
// artifacts, blind judging, and the live event stream.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/match"
	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
	"github.com/louisbranch/worldbuild.space/internal/platform/timeouts"
	"github.com/louisbranch/worldbuild.space/internal/projection"
	"github.com/louisbranch/worldbuild.space/internal/storage"
	"github.com/louisbranch/worldbuild.space/internal/stream"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

const ssePingInterval = timeouts.SSEPing

// Server hosts the arena REST and SSE endpoints.
type Server struct {
	store   storage.Store
	hub     *stream.Hub
	matches *match.Service
	logger  *slog.Logger
	handler http.Handler
}

// New wires the HTTP surface over the store, hub, and match service.
func New(store storage.Store, hub *stream.Hub, matches *match.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:   store,
		hub:     hub,
		matches: matches,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /matches", s.handleCreateMatch)
	mux.HandleFunc("GET /matches/{matchID}", s.handleGetMatch)
	mux.HandleFunc("GET /matches/{matchID}/artifacts", s.handleGetArtifacts)
	mux.HandleFunc("GET /matches/{matchID}/judging/blind", s.handleBlindPackage)
	mux.HandleFunc("GET /matches/{matchID}/judging/reveal", s.handleReveal)
	mux.HandleFunc("POST /matches/{matchID}/judging/scores", s.handleSubmitScore)
	mux.HandleFunc("GET /matches/{matchID}/judging/scores", s.handleListScores)
	mux.HandleFunc("GET /matches/{matchID}/events", s.handleStreamEvents)
	s.handler = withCORS(mux)

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{
			Code:    string(apperrors.CodeNotFound),
			Message: "match not found",
		}})
		return
	}
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		message = "internal error"
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(code),
		Message: message,
	}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type createMatchRequest struct {
	Seed *int64 `json:"seed"`
	Tier *int   `json:"tier"`
}

type matchSummaryResponse struct {
	MatchID string `json:"match_id"`
	Status  string `json:"status"`
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var request createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeInvalidTier, "decode request", err))
		return
	}
	tier := 1
	if request.Tier != nil {
		tier = *request.Tier
	}

	record, err := s.matches.Create(r.Context(), request.Seed, tier)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, matchSummaryResponse{
		MatchID: record.ID,
		Status:  string(record.Status),
	})
}

type matchDetailResponse struct {
	MatchID     string               `json:"match_id"`
	Status      string               `json:"status"`
	CreatedAt   string               `json:"created_at"`
	Seed        int64                `json:"seed"`
	Tier        int                  `json:"tier"`
	Challenge   *challenge.Challenge `json:"challenge"`
	CompletedAt *string              `json:"completed_at"`
	CanonHashA  *string              `json:"canon_hash_a"`
	CanonHashB  *string              `json:"canon_hash_b"`
	Error       *string              `json:"error"`
}

func matchDetail(record storage.MatchRecord) matchDetailResponse {
	detail := matchDetailResponse{
		MatchID:   record.ID,
		Status:    string(record.Status),
		CreatedAt: record.CreatedAt.UTC().Format(time.RFC3339Nano),
		Seed:      record.Seed,
		Tier:      record.Tier,
		Challenge: record.Challenge,
	}
	if record.CompletedAt != nil {
		completed := record.CompletedAt.UTC().Format(time.RFC3339Nano)
		detail.CompletedAt = &completed
	}
	if record.CanonHashA != "" {
		detail.CanonHashA = &record.CanonHashA
	}
	if record.CanonHashB != "" {
		detail.CanonHashB = &record.CanonHashB
	}
	if record.Error != "" {
		detail.Error = &record.Error
	}
	return detail
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	record, err := s.store.GetMatch(r.Context(), r.PathValue("matchID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, matchDetail(record))
}

type teamArtifacts struct {
	Canon      json.RawMessage `json:"canon"`
	PromptPack json.RawMessage `json:"prompt_pack"`
}

type artifactsResponse struct {
	MatchID string        `json:"match_id"`
	TeamA   teamArtifacts `json:"team_a"`
	TeamB   teamArtifacts `json:"team_b"`
}

func (s *Server) deriveTeamArtifacts(events []storage.Event, team turn.TeamID) (teamArtifacts, error) {
	doc, err := projection.DeriveCanon(events, team)
	if err != nil {
		return teamArtifacts{}, err
	}
	pack, err := projection.DerivePromptPack(events, team)
	if err != nil {
		return teamArtifacts{}, err
	}
	artifacts := teamArtifacts{Canon: json.RawMessage("null"), PromptPack: json.RawMessage("null")}
	if doc != nil {
		artifacts.Canon = json.RawMessage(doc)
	}
	if pack != nil {
		artifacts.PromptPack = pack
	}
	return artifacts, nil
}

func (s *Server) handleGetArtifacts(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	record, err := s.store.GetMatch(r.Context(), matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if record.Status != storage.StatusCompleted && record.Status != storage.StatusFailed {
		s.writeError(w, apperrors.New(apperrors.CodeMatchNotComplete, "match not complete"))
		return
	}

	events, err := s.store.ListEvents(r.Context(), matchID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	teamA, err := s.deriveTeamArtifacts(events, turn.TeamA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	teamB, err := s.deriveTeamArtifacts(events, turn.TeamB)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, artifactsResponse{
		MatchID: matchID,
		TeamA:   teamA,
		TeamB:   teamB,
	})
}

// blindPairOrderKey decides which team appears first in a blind package:
// the parity of the match id read as a little-endian integer, which
// reduces to the parity of its first byte.
func blindPairOrderKey(matchID string) int {
	if matchID == "" {
		return 0
	}
	return int(matchID[0]) % 2
}

type blindEntry struct {
	BlindID    string          `json:"blind_id"`
	Canon      json.RawMessage `json:"canon"`
	PromptPack json.RawMessage `json:"prompt_pack"`
}

type blindPackageResponse struct {
	MatchID string       `json:"match_id"`
	Entries []blindEntry `json:"entries"`
}

func (s *Server) requireCompleted(r *http.Request, matchID string) (storage.MatchRecord, error) {
	record, err := s.store.GetMatch(r.Context(), matchID)
	if err != nil {
		return storage.MatchRecord{}, err
	}
	if record.Status != storage.StatusCompleted {
		return storage.MatchRecord{}, apperrors.New(apperrors.CodeMatchNotComplete, "match not complete")
	}
	return record, nil
}

func (s *Server) handleBlindPackage(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	if _, err := s.requireCompleted(r, matchID); err != nil {
		s.writeError(w, err)
		return
	}

	events, err := s.store.ListEvents(r.Context(), matchID, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	teamA, err := s.deriveTeamArtifacts(events, turn.TeamA)
	if err != nil {
		s.writeError(w, err)
		return
	}
	teamB, err := s.deriveTeamArtifacts(events, turn.TeamB)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entries := []blindEntry{
		{BlindID: "WORLD-1", Canon: teamA.Canon, PromptPack: teamA.PromptPack},
		{BlindID: "WORLD-2", Canon: teamB.Canon, PromptPack: teamB.PromptPack},
	}
	if blindPairOrderKey(matchID) == 1 {
		entries[0], entries[1] = entries[1], entries[0]
	}
	s.writeJSON(w, http.StatusOK, blindPackageResponse{MatchID: matchID, Entries: entries})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	if _, err := s.requireCompleted(r, matchID); err != nil {
		s.writeError(w, err)
		return
	}

	mapping := map[string]string{"WORLD-1": "A", "WORLD-2": "B"}
	if blindPairOrderKey(matchID) == 1 {
		mapping = map[string]string{"WORLD-1": "B", "WORLD-2": "A"}
	}
	s.writeJSON(w, http.StatusOK, mapping)
}

type submitScoreRequest struct {
	Judge   string                `json:"judge"`
	BlindID string                `json:"blind_id"`
	Scores  storage.JudgingScores `json:"scores"`
	Notes   string                `json:"notes"`
}

func validateScores(scores storage.JudgingScores) error {
	for name, value := range map[string]int{
		"internal_coherence": scores.InternalCoherence,
		"creative_ambition":  scores.CreativeAmbition,
		"visual_fidelity":    scores.VisualFidelity,
		"artifact_quality":   scores.ArtifactQuality,
		"process_quality":    scores.ProcessQuality,
	} {
		if value < 1 || value > 5 {
			return apperrors.WithMetadata(
				apperrors.CodeJudgingInvalidScore,
				fmt.Sprintf("%s must be between 1 and 5", name),
				map[string]string{"dimension": name, "value": strconv.Itoa(value)},
			)
		}
	}
	return nil
}

func (s *Server) handleSubmitScore(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	if _, err := s.requireCompleted(r, matchID); err != nil {
		s.writeError(w, err)
		return
	}

	var request submitScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.CodeJudgingInvalidScore, "decode request", err))
		return
	}
	if strings.TrimSpace(request.Judge) == "" {
		s.writeError(w, apperrors.New(apperrors.CodeJudgingInvalidScore, "judge is required"))
		return
	}
	if strings.TrimSpace(request.BlindID) == "" {
		s.writeError(w, apperrors.New(apperrors.CodeJudgingInvalidScore, "blind_id is required"))
		return
	}
	if err := validateScores(request.Scores); err != nil {
		s.writeError(w, err)
		return
	}

	record := storage.JudgingScoreRecord{
		MatchID:   matchID,
		CreatedAt: time.Now().UTC(),
		Judge:     strings.TrimSpace(request.Judge),
		BlindID:   strings.TrimSpace(request.BlindID),
		Scores:    request.Scores,
		Notes:     request.Notes,
	}
	rowID, err := s.store.AddJudgingScore(r.Context(), record)
	if err != nil {
		s.writeError(w, err)
		return
	}
	record.ID = rowID
	s.writeJSON(w, http.StatusOK, record)
}

type listScoresResponse struct {
	MatchID string                       `json:"match_id"`
	Scores  []storage.JudgingScoreRecord `json:"scores"`
}

func (s *Server) handleListScores(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	if _, err := s.store.GetMatch(r.Context(), matchID); err != nil {
		s.writeError(w, err)
		return
	}

	records, err := s.store.ListJudgingScores(r.Context(), matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []storage.JudgingScoreRecord{}
	}
	s.writeJSON(w, http.StatusOK, listScoresResponse{MatchID: matchID, Scores: records})
}

func formatSSE(event storage.Event) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return []byte(fmt.Sprintf("id: %d\ndata: %s\n\n", event.Seq, payload)), nil
}

func isTerminalEvent(eventType string) bool {
	return eventType == "match_completed" || eventType == "match_failed"
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	matchID := r.PathValue("matchID")
	after := int64(0)
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "after must be a non-negative integer", http.StatusBadRequest)
			return
		}
		after = parsed
	}

	if _, err := s.store.GetMatch(r.Context(), matchID); err != nil {
		s.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before replay so nothing published during the replay is
	// lost; the dedupe below drops any overlap.
	sub := s.hub.Subscribe(matchID)
	defer s.hub.Unsubscribe(matchID, sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	lastSeq := after
	events, err := s.store.ListEvents(r.Context(), matchID, after)
	if err != nil {
		s.logger.Error("replay events", "match_id", matchID, "error", err)
		return
	}
	for _, event := range events {
		frame, err := formatSSE(event)
		if err != nil {
			s.logger.Error("format event", "match_id", matchID, "error", err)
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if event.Seq > lastSeq {
			lastSeq = event.Seq
		}
	}
	flusher.Flush()

	record, err := s.store.GetMatch(r.Context(), matchID)
	if err == nil && (record.Status == storage.StatusCompleted || record.Status == storage.StatusFailed) {
		return
	}

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-sub.Events():
			if !open {
				return
			}
			if event.Seq <= lastSeq {
				continue
			}
			lastSeq = event.Seq
			frame, err := formatSSE(event)
			if err != nil {
				s.logger.Error("format event", "match_id", matchID, "error", err)
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
			if isTerminalEvent(event.Type) {
				return
			}
		}
	}
}
