// Package storage defines the persistence contract for matches, their
// append-only event logs, and judging scores.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/worldbuild.space/internal/challenge"
	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// MatchStatus is the lifecycle state of a match record.
type MatchStatus string

const (
	StatusRunning   MatchStatus = "running"
	StatusCompleted MatchStatus = "completed"
	StatusFailed    MatchStatus = "failed"
)

// MatchRecord is the durable summary row for one match.
type MatchRecord struct {
	ID          string
	CreatedAt   time.Time
	Status      MatchStatus
	Seed        int64
	Tier        int
	Challenge   *challenge.Challenge
	CompletedAt *time.Time
	CanonHashA  string
	CanonHashB  string
	Error       string
}

// Event is the wrapped, durable form of one engine emission. Seq starts at
// 1 and increases gaplessly within a match.
type Event struct {
	ID      string         `json:"id"`
	Seq     int64          `json:"seq"`
	TS      time.Time      `json:"ts"`
	MatchID string         `json:"match_id"`
	TeamID  *turn.TeamID   `json:"team_id,omitempty"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
}

// JudgingScores holds the five 1-5 rubric dimensions.
type JudgingScores struct {
	InternalCoherence int `json:"internal_coherence"`
	CreativeAmbition  int `json:"creative_ambition"`
	VisualFidelity    int `json:"visual_fidelity"`
	ArtifactQuality   int `json:"artifact_quality"`
	ProcessQuality    int `json:"process_quality"`
}

// JudgingScoreRecord is one judge's blind score for one world.
type JudgingScoreRecord struct {
	ID        int64         `json:"id"`
	MatchID   string        `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
	Judge     string        `json:"judge"`
	BlindID   string        `json:"blind_id"`
	Scores    JudgingScores `json:"scores"`
	Notes     string        `json:"notes,omitempty"`
}

// Store is the persistence surface the match service and API depend on.
type Store interface {
	CreateMatch(ctx context.Context, record MatchRecord) error
	GetMatch(ctx context.Context, matchID string) (MatchRecord, error)
	SetChallenge(ctx context.Context, matchID string, ch challenge.Challenge) error
	MarkCompleted(ctx context.Context, matchID string, completedAt time.Time, canonHashA, canonHashB string) error
	MarkFailed(ctx context.Context, matchID string, completedAt time.Time, errorMessage string) error

	AppendEvent(ctx context.Context, event Event) error
	ListEvents(ctx context.Context, matchID string, afterSeq int64) ([]Event, error)

	AddJudgingScore(ctx context.Context, record JudgingScoreRecord) (int64, error)
	ListJudgingScores(ctx context.Context, matchID string) ([]JudgingScoreRecord, error)
}
