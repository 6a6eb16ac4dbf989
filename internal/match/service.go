// Package match orchestrates match execution: it runs the deliberation
// engine, wraps raw engine emissions into sequenced durable events, and
// fans them out to live subscribers.
package match

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/contracts"
	"github.com/louisbranch/worldbuild.space/internal/engine"
	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
	"github.com/louisbranch/worldbuild.space/internal/platform/id"
	"github.com/louisbranch/worldbuild.space/internal/platform/random"
	"github.com/louisbranch/worldbuild.space/internal/provider"
	"github.com/louisbranch/worldbuild.space/internal/storage"
	"github.com/louisbranch/worldbuild.space/internal/stream"
)

// Service creates matches and drives them to completion in the background.
type Service struct {
	store     storage.Store
	hub       *stream.Hub
	generator provider.TurnGenerator
	engineCfg engine.Config
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewService wires a match service over a store, a hub, and a turn generator.
func NewService(store storage.Store, hub *stream.Hub, generator provider.TurnGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		hub:       hub,
		generator: generator,
		engineCfg: engine.DefaultConfig,
		logger:    logger,
		running:   make(map[string]struct{}),
	}
}

// Create registers a new match and starts running it in the background.
// A nil seed draws a random one.
func (s *Service) Create(ctx context.Context, seed *int64, tier int) (storage.MatchRecord, error) {
	if tier < 1 || tier > 3 {
		return storage.MatchRecord{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTier,
			"tier must be between 1 and 3",
			map[string]string{"tier": fmt.Sprintf("%d", tier)},
		)
	}
	matchSeed := int64(0)
	if seed != nil {
		matchSeed = *seed
	} else {
		drawn, err := random.NewSeed()
		if err != nil {
			return storage.MatchRecord{}, fmt.Errorf("draw match seed: %w", err)
		}
		matchSeed = drawn
	}
	matchID, err := id.NewID()
	if err != nil {
		return storage.MatchRecord{}, fmt.Errorf("new match id: %w", err)
	}

	record := storage.MatchRecord{
		ID:        matchID,
		CreatedAt: time.Now().UTC(),
		Status:    storage.StatusRunning,
		Seed:      matchSeed,
		Tier:      tier,
	}
	if err := s.store.CreateMatch(ctx, record); err != nil {
		return storage.MatchRecord{}, fmt.Errorf("create match: %w", err)
	}

	s.mu.Lock()
	if _, ok := s.running[matchID]; ok {
		s.mu.Unlock()
		return storage.MatchRecord{}, apperrors.WithMetadata(
			apperrors.CodeMatchAlreadyRunning,
			"match is already running",
			map[string]string{"match_id": matchID},
		)
	}
	s.running[matchID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), record)
	}()

	return record, nil
}

// Wait blocks until all background matches finish. Used on shutdown and in
// tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, record storage.MatchRecord) {
	defer func() {
		s.mu.Lock()
		delete(s.running, record.ID)
		s.mu.Unlock()
	}()

	sink := &eventSink{service: s, matchID: record.ID}
	eng := engine.New(s.generator, s.engineCfg)
	err := eng.Run(ctx, record.Seed, record.Tier, sink.emit)
	if err == nil {
		return
	}

	s.logger.Error("match failed", "match_id", record.ID, "error", err)
	failure := engine.Event{
		Type: engine.EventMatchFailed,
		Data: map[string]any{"error": err.Error()},
	}
	if emitErr := sink.emit(failure); emitErr != nil {
		s.logger.Error("record match failure", "match_id", record.ID, "error", emitErr)
	}
	if markErr := s.store.MarkFailed(ctx, record.ID, time.Now().UTC(), err.Error()); markErr != nil {
		s.logger.Error("mark match failed", "match_id", record.ID, "error", markErr)
	}
}

// eventSink sequences and persists engine emissions for one match.
type eventSink struct {
	service *Service
	matchID string
	seq     int64
}

func (k *eventSink) emit(event engine.Event) error {
	k.seq++
	wrapped := storage.Event{
		ID:      fmt.Sprintf("%s:%d", k.matchID, k.seq),
		Seq:     k.seq,
		TS:      time.Now().UTC(),
		MatchID: k.matchID,
		Type:    string(event.Type),
		Data:    event.Data,
	}
	if event.Team != "" {
		team := event.Team
		wrapped.TeamID = &team
	}
	if wrapped.Data == nil {
		wrapped.Data = map[string]any{}
	}

	result, err := contracts.Validate(contracts.MatchEventSchema, wrapped)
	if err != nil {
		return fmt.Errorf("validate event: %w", err)
	}
	if !result.OK {
		return apperrors.WithMetadata(
			apperrors.CodeEventContractFailure,
			"event failed its contract",
			map[string]string{
				"event_id": wrapped.ID,
				"errors":   fmt.Sprintf("%v", result.Errors),
			},
		)
	}

	ctx := context.Background()
	if err := k.service.store.AppendEvent(ctx, wrapped); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	switch event.Type {
	case engine.EventChallengeRevealed:
		ch, err := challengeFromData(event.Data)
		if err != nil {
			return err
		}
		if err := k.service.store.SetChallenge(ctx, k.matchID, ch); err != nil {
			return fmt.Errorf("set challenge: %w", err)
		}
	case engine.EventMatchCompleted:
		hashA, _ := event.Data["canon_hash_a"].(string)
		hashB, _ := event.Data["canon_hash_b"].(string)
		if err := k.service.store.MarkCompleted(ctx, k.matchID, wrapped.TS, hashA, hashB); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
	}

	k.service.hub.Publish(wrapped)
	return nil
}

func challengeFromData(data map[string]any) (challenge.Challenge, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("marshal challenge data: %w", err)
	}
	var ch challenge.Challenge
	if err := json.Unmarshal(payload, &ch); err != nil {
		return challenge.Challenge{}, fmt.Errorf("unmarshal challenge data: %w", err)
	}
	return ch, nil
}
