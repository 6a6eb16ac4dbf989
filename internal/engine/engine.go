// Package engine runs the scripted deliberation protocol for one match:
// two teams of four roles debating through phased rounds, with validated
// turns, majority voting, and patch-by-patch canon evolution.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/worldbuild.space/internal/canon"
	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/contracts"
	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
	"github.com/louisbranch/worldbuild.space/internal/provider"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// Config tunes engine behavior.
type Config struct {
	// MaxRepairAttempts bounds how many times an invalid turn may be
	// regenerated before the match fails.
	MaxRepairAttempts int
}

// DefaultConfig is the engine configuration used when none is given.
var DefaultConfig = Config{MaxRepairAttempts: 2}

// Engine drives one match to completion, emitting events in order through
// the caller's sink. The engine itself never recovers from faults; the
// supervising match service is responsible for terminal failure handling.
type Engine struct {
	generator provider.TurnGenerator
	cfg       Config
}

// New builds an engine on top of a turn generator.
func New(generator provider.TurnGenerator, cfg Config) *Engine {
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = DefaultConfig.MaxRepairAttempts
	}
	return &Engine{generator: generator, cfg: cfg}
}

type teamState struct {
	id           turn.TeamID
	canon        canon.Document
	handle       provider.Handle
	nextProposer turn.Role
	turnCounter  int
}

// Run executes a full match. Events flow through emit strictly in order;
// the first emit error or engine fault aborts the run.
func (e *Engine) Run(ctx context.Context, seed int64, tier int, emit EmitFunc) error {
	ch, err := challenge.Generate(seed, tier)
	if err != nil {
		return err
	}

	if err := emit(Event{Type: EventMatchCreated, Data: map[string]any{"seed": seed, "tier": tier}}); err != nil {
		return err
	}
	if err := emit(Event{Type: EventChallengeRevealed, Data: map[string]any{
		"seed":             ch.Seed,
		"tier":             ch.Tier,
		"biome_setting":    ch.BiomeSetting,
		"inhabitants":      ch.Inhabitants,
		"twist_constraint": ch.TwistConstraint,
	}}); err != nil {
		return err
	}

	teams := make([]*teamState, 0, 2)
	for _, teamID := range []turn.TeamID{turn.TeamA, turn.TeamB} {
		state, err := e.initTeam(ctx, teamID, seed, ch, emit)
		if err != nil {
			return err
		}
		teams = append(teams, state)
	}

	for _, phase := range debatePhases {
		roundCount := PhaseRounds[phase]
		if err := emit(Event{Type: EventPhaseStarted, Data: map[string]any{"phase": phase, "round_count": roundCount}}); err != nil {
			return err
		}
		for round := 1; round <= roundCount; round++ {
			for _, state := range teams {
				if err := e.runTeamRound(ctx, state, seed, phase, round, ch, emit); err != nil {
					return err
				}
			}
		}
	}

	if err := emit(Event{Type: EventPhaseStarted, Data: map[string]any{"phase": 5, "round_count": PhaseRounds[5]}}); err != nil {
		return err
	}
	for _, state := range teams {
		if err := e.generateArtifacts(ctx, state, seed, emit); err != nil {
			return err
		}
	}

	hashA, err := teams[0].canon.Hash()
	if err != nil {
		return fmt.Errorf("hash final canon: %w", err)
	}
	hashB, err := teams[1].canon.Hash()
	if err != nil {
		return fmt.Errorf("hash final canon: %w", err)
	}
	return emit(Event{Type: EventMatchCompleted, Data: map[string]any{
		"canon_hash_a": hashA,
		"canon_hash_b": hashB,
	}})
}

func (e *Engine) initTeam(ctx context.Context, teamID turn.TeamID, seed int64, ch challenge.Challenge, emit EmitFunc) (*teamState, error) {
	initial := canon.Initial(teamID, ch)
	doc, err := canon.NewDocument(initial)
	if err != nil {
		return nil, err
	}
	hash, err := doc.Hash()
	if err != nil {
		return nil, err
	}
	if err := emit(Event{Type: EventCanonInitialized, Team: teamID, Data: map[string]any{
		"canon":      initial,
		"canon_hash": hash,
	}}); err != nil {
		return nil, err
	}

	handle, err := e.generator.StartConversation(ctx, teamID, seed, ch, doc)
	if err != nil {
		return nil, err
	}
	return &teamState{
		id:           teamID,
		canon:        doc,
		handle:       handle,
		nextProposer: turn.RoleArchitect,
	}, nil
}

func (e *Engine) runTeamRound(ctx context.Context, state *teamState, seed int64, phase, round int, ch challenge.Challenge, emit EmitFunc) error {
	if phase == 4 {
		return e.runCrystallization(ctx, state, seed, phase, round, ch, emit)
	}

	proposer := state.nextProposer
	responder := turn.RoleLorekeeper
	if proposer == turn.RoleLorekeeper {
		responder = turn.RoleArchitect
	}
	state.nextProposer = responder

	proposalID, _, err := e.generateTurn(ctx, state, seed, phase, round, proposer, turn.TypeProposal, ch, nil, nil, emit)
	if err != nil {
		return err
	}
	objectionID, _, err := e.generateTurn(ctx, state, seed, phase, round, turn.RoleContrarian, turn.TypeObjection, ch, []string{proposalID}, nil, emit)
	if err != nil {
		return err
	}
	responseID, _, err := e.generateTurn(ctx, state, seed, phase, round, responder, turn.TypeResponse, ch, []string{proposalID, objectionID}, nil, emit)
	if err != nil {
		return err
	}
	resolutionID, resolution, err := e.generateTurn(ctx, state, seed, phase, round, turn.RoleSynthesizer, turn.TypeResolution, ch, []string{proposalID, objectionID, responseID}, nil, emit)
	if err != nil {
		return err
	}

	candidate := resolution.CanonPatch
	votes := make([]turn.Output, 0, len(turn.VoteOrder))
	for _, role := range turn.VoteOrder {
		_, vote, err := e.generateTurn(ctx, state, seed, phase, round, role, turn.TypeVote, ch, []string{resolutionID}, candidate, emit)
		if err != nil {
			return err
		}
		votes = append(votes, vote)
	}

	outcome, patch, err := EvaluateVotes(votes, candidate)
	if err != nil {
		return err
	}
	if err := emit(Event{Type: EventVoteResult, Team: state.id, Data: map[string]any{
		"phase":  phase,
		"round":  round,
		"result": outcome,
		"tally":  TallyVotes(votes),
	}}); err != nil {
		return err
	}

	if len(patch) > 0 {
		if err := e.applyPatch(state, phase, round, resolutionID, patch, emit); err != nil {
			return err
		}
	}
	return nil
}

// runCrystallization is the reduced phase 4 round: one resolution, four
// votes, and a unanimity requirement. Its event order matches the regular
// rounds, vote result first, then the patch.
func (e *Engine) runCrystallization(ctx context.Context, state *teamState, seed int64, phase, round int, ch challenge.Challenge, emit EmitFunc) error {
	resolutionID, resolution, err := e.generateTurn(ctx, state, seed, phase, round, turn.RoleSynthesizer, turn.TypeResolution, ch, nil, nil, emit)
	if err != nil {
		return err
	}

	candidate := resolution.CanonPatch
	votes := make([]turn.Output, 0, len(turn.VoteOrder))
	for _, role := range turn.VoteOrder {
		_, vote, err := e.generateTurn(ctx, state, seed, phase, round, role, turn.TypeVote, ch, []string{resolutionID}, candidate, emit)
		if err != nil {
			return err
		}
		votes = append(votes, vote)
	}

	tally := TallyVotes(votes)
	if tally[turn.VoteAccept] != len(turn.VoteOrder) {
		return apperrors.WithMetadata(apperrors.CodeUnanimityRequired,
			"crystallization vote was not unanimous",
			map[string]string{
				"team":  string(state.id),
				"tally": fmt.Sprintf("ACCEPT=%d AMEND=%d REJECT=%d", tally[turn.VoteAccept], tally[turn.VoteAmend], tally[turn.VoteReject]),
			})
	}

	if err := emit(Event{Type: EventVoteResult, Team: state.id, Data: map[string]any{
		"phase":  phase,
		"round":  round,
		"result": OutcomeAccept,
		"tally":  tally,
	}}); err != nil {
		return err
	}

	if len(candidate) > 0 {
		if err := e.applyPatch(state, phase, round, resolutionID, candidate, emit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyPatch(state *teamState, phase, round int, turnID string, patch []turn.PatchOp, emit EmitFunc) error {
	beforeHash, err := state.canon.Hash()
	if err != nil {
		return err
	}
	patched, err := canon.Apply(state.canon, patch)
	if err != nil {
		return fmt.Errorf("apply accepted patch for %s: %w", turnID, err)
	}
	afterHash, err := patched.Hash()
	if err != nil {
		return err
	}
	state.canon = patched

	return emit(Event{Type: EventCanonPatchApplied, Team: state.id, Data: map[string]any{
		"phase":             phase,
		"round":             round,
		"turn_id":           turnID,
		"patch":             patch,
		"canon_before_hash": beforeHash,
		"canon_after_hash":  afterHash,
	}})
}

// generateTurn runs the bounded generate/validate repair loop for one turn
// slot. Every attempt's output is emitted; an invalid attempt additionally
// emits the validation errors that the next attempt is asked to repair.
func (e *Engine) generateTurn(
	ctx context.Context,
	state *teamState,
	seed int64,
	phase, round int,
	role turn.Role,
	turnType turn.Type,
	ch challenge.Challenge,
	expectedReferences []string,
	pendingPatch []turn.PatchOp,
	emit EmitFunc,
) (string, turn.Output, error) {
	state.turnCounter++
	turnID := fmt.Sprintf("%s-%d-%d-%d", state.id, phase, round, state.turnCounter)
	allowedPrefixes := AllowedPatchPrefixes(phase)

	var repairErrors []string
	for attempt := 0; ; attempt++ {
		tc := provider.Context{
			MatchSeed:            seed,
			Team:                 state.id,
			Role:                 role,
			TurnType:             turnType,
			Phase:                phase,
			Round:                round,
			Challenge:            ch,
			Canon:                state.canon,
			PendingPatch:         pendingPatch,
			AllowedPatchPrefixes: allowedPrefixes,
			ExpectedReferences:   expectedReferences,
			RepairErrors:         repairErrors,
			Attempt:              attempt,
		}
		output, nextHandle, err := e.generator.GenerateTurn(ctx, state.handle, tc)
		if err != nil {
			return "", turn.Output{}, err
		}

		if err := emit(Event{Type: EventTurnEmitted, Team: state.id, Data: map[string]any{
			"phase":   phase,
			"round":   round,
			"turn_id": turnID,
			"output":  output,
		}}); err != nil {
			return "", turn.Output{}, err
		}

		validation, err := ValidateTurnOutput(output, tc)
		if err != nil {
			return "", turn.Output{}, err
		}
		if validation.OK {
			state.handle = nextHandle
			return turnID, output, nil
		}

		if err := emit(Event{Type: EventTurnValidationFailed, Team: state.id, Data: map[string]any{
			"phase":   phase,
			"round":   round,
			"turn_id": turnID,
			"errors":  validation.Errors,
		}}); err != nil {
			return "", turn.Output{}, err
		}

		if attempt >= e.cfg.MaxRepairAttempts {
			return "", turn.Output{}, apperrors.WithMetadata(apperrors.CodeTurnValidationExhausted,
				fmt.Sprintf("turn failed validation after %d attempts", attempt+1),
				map[string]string{
					"turn_id": turnID,
					"errors":  strings.Join(validation.Errors, "; "),
				})
		}
		repairErrors = validation.Errors
	}
}

// generateArtifacts is the phase 5 step for one team: gate the final canon
// on the structural contract, then produce and gate the prompt pack.
func (e *Engine) generateArtifacts(ctx context.Context, state *teamState, seed int64, emit EmitFunc) error {
	canonResult, err := contracts.Validate(contracts.CanonSchema, []byte(state.canon))
	if err != nil {
		return err
	}
	if !canonResult.OK {
		return apperrors.WithMetadata(apperrors.CodeFinalArtifactSchemaFailure,
			"final canon violates the structural contract",
			map[string]string{
				"team":   string(state.id),
				"errors": strings.Join(canonResult.Errors, "; "),
			})
	}

	pack, err := e.generator.GeneratePromptPack(ctx, seed, state.id, state.canon)
	if err != nil {
		return err
	}
	packResult, err := contracts.Validate(contracts.PromptPackSchema, pack)
	if err != nil {
		return err
	}
	if !packResult.OK {
		return apperrors.WithMetadata(apperrors.CodeFinalArtifactSchemaFailure,
			"prompt pack violates the structural contract",
			map[string]string{
				"team":   string(state.id),
				"errors": strings.Join(packResult.Errors, "; "),
			})
	}

	return emit(Event{Type: EventPromptPackGenerated, Team: state.id, Data: map[string]any{
		"prompt_pack": pack,
	}})
}
