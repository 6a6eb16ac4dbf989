package engine

import (
	"github.com/louisbranch/worldbuild.space/internal/canon"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// Outcome classifies one round's vote.
type Outcome string

const (
	OutcomeAccept   Outcome = "ACCEPT"
	OutcomeAmend    Outcome = "AMEND"
	OutcomeReject   Outcome = "REJECT"
	OutcomeDeadlock Outcome = "DEADLOCK"
)

// TallyVotes counts the vote choices across the four cast votes.
func TallyVotes(votes []turn.Output) map[turn.VoteChoice]int {
	tally := map[turn.VoteChoice]int{
		turn.VoteAccept: 0,
		turn.VoteAmend:  0,
		turn.VoteReject: 0,
	}
	for _, vote := range votes {
		if vote.Vote == nil {
			continue
		}
		if _, known := tally[vote.Vote.Choice]; known {
			tally[vote.Vote.Choice]++
		}
	}
	return tally
}

// EvaluateVotes decides the round outcome and the patch to apply, if any.
// The decision rules fire in strict order: a reject majority wins outright,
// then a pair of identical amendments, then an accept supermajority. Anything
// else is a deadlock, which still applies the candidate patch when one exists.
func EvaluateVotes(votes []turn.Output, candidate []turn.PatchOp) (Outcome, []turn.PatchOp, error) {
	tally := TallyVotes(votes)

	// Group identical amendment patches, preserving first-seen order so
	// ties break deterministically.
	var amendKeys []string
	amendPatches := map[string][]turn.PatchOp{}
	amendCounts := map[string]int{}
	for _, vote := range votes {
		if vote.Vote == nil || vote.Vote.Choice != turn.VoteAmend || len(vote.CanonPatch) == 0 {
			continue
		}
		key, err := canon.PatchKey(vote.CanonPatch)
		if err != nil {
			return "", nil, err
		}
		if _, seen := amendCounts[key]; !seen {
			amendKeys = append(amendKeys, key)
		}
		amendPatches[key] = vote.CanonPatch
		amendCounts[key]++
	}
	var bestAmendment []turn.PatchOp
	for _, key := range amendKeys {
		if amendCounts[key] >= 2 {
			bestAmendment = amendPatches[key]
			break
		}
	}

	switch {
	case tally[turn.VoteReject] >= 2:
		return OutcomeReject, nil, nil
	case bestAmendment != nil:
		return OutcomeAmend, bestAmendment, nil
	case tally[turn.VoteAccept] >= 3 && len(candidate) > 0:
		return OutcomeAccept, candidate, nil
	case len(candidate) > 0:
		return OutcomeDeadlock, candidate, nil
	default:
		return OutcomeDeadlock, nil, nil
	}
}
