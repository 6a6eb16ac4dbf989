// Package provider abstracts the model backends that generate debate turns.
// A backend keeps its own conversation state behind an opaque handle so the
// engine can stay ignorant of transport details.
package provider

import (
	"context"
	"encoding/json"

	"github.com/louisbranch/worldbuild.space/internal/canon"
	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// Handle is opaque per-team conversation state. Callers must treat it as a
// token: hold the latest value returned by GenerateTurn and pass it back on
// the next call.
type Handle any

// Context carries everything a backend needs to produce one turn. It is
// rebuilt for every call, including repair retries, so backends never see
// stale repair state.
type Context struct {
	MatchSeed            int64
	Team                 turn.TeamID
	Role                 turn.Role
	TurnType             turn.Type
	Phase                int
	Round                int
	Challenge            challenge.Challenge
	Canon                canon.Document
	PendingPatch         []turn.PatchOp
	AllowedPatchPrefixes []string
	ExpectedReferences   []string
	RepairErrors         []string
	Attempt              int
}

// TurnGenerator is the contract every model backend implements.
type TurnGenerator interface {
	// StartConversation opens a per-team conversation and returns its handle.
	StartConversation(ctx context.Context, team turn.TeamID, matchSeed int64, ch challenge.Challenge, initialCanon canon.Document) (Handle, error)

	// GenerateTurn produces one turn and the successor handle. The input
	// handle stays valid, so a repair retry can reuse it.
	GenerateTurn(ctx context.Context, handle Handle, tc Context) (turn.Output, Handle, error)

	// GeneratePromptPack converts a final canon into image prompts.
	GeneratePromptPack(ctx context.Context, matchSeed int64, team turn.TeamID, finalCanon canon.Document) (json.RawMessage, error)
}
