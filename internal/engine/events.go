package engine

import "github.com/louisbranch/worldbuild.space/internal/turn"

// EventType names an engine-emitted event.
type EventType string

const (
	EventMatchCreated         EventType = "match_created"
	EventChallengeRevealed    EventType = "challenge_revealed"
	EventCanonInitialized     EventType = "canon_initialized"
	EventPhaseStarted         EventType = "phase_started"
	EventTurnEmitted          EventType = "turn_emitted"
	EventTurnValidationFailed EventType = "turn_validation_failed"
	EventVoteResult           EventType = "vote_result"
	EventCanonPatchApplied    EventType = "canon_patch_applied"
	EventPromptPackGenerated  EventType = "prompt_pack_generated"
	EventMatchCompleted       EventType = "match_completed"
	EventMatchFailed          EventType = "match_failed"
)

// Event is one raw engine emission. Team is empty for match-scoped events.
// Sequencing, timestamps, and ids are added downstream by the match service.
type Event struct {
	Type EventType
	Team turn.TeamID
	Data map[string]any
}

// EmitFunc receives each engine event in order. Returning an error aborts
// the match; the engine never emits past a failed sink.
type EmitFunc func(Event) error
