// Package turn defines the vocabulary of a deliberation: teams, roles,
// turn types, votes, and the structured output one agent contributes.
package turn

import "encoding/json"

// TeamID identifies one of the two debating teams.
type TeamID string

const (
	// TeamA is the first team.
	TeamA TeamID = "A"
	// TeamB is the second team.
	TeamB TeamID = "B"
)

// Role identifies one of the four debating agents on a team.
type Role string

const (
	// RoleArchitect proposes structural and physical elements.
	RoleArchitect Role = "ARCHITECT"
	// RoleLorekeeper proposes history, culture, and naming.
	RoleLorekeeper Role = "LOREKEEPER"
	// RoleContrarian challenges every proposal with a concrete objection.
	RoleContrarian Role = "CONTRARIAN"
	// RoleSynthesizer merges ideas and drives rounds to a vote.
	RoleSynthesizer Role = "SYNTHESIZER"
)

// VoteOrder is the fixed order in which the four roles cast their votes.
var VoteOrder = [4]Role{RoleArchitect, RoleLorekeeper, RoleContrarian, RoleSynthesizer}

// Type identifies the kind of a turn within a round.
type Type string

const (
	// TypeProposal opens a round with a patch-bearing suggestion.
	TypeProposal Type = "PROPOSAL"
	// TypeObjection challenges the round's proposal.
	TypeObjection Type = "OBJECTION"
	// TypeResponse answers the objection on behalf of the idea roles.
	TypeResponse Type = "RESPONSE"
	// TypeResolution synthesizes the round into a candidate patch.
	TypeResolution Type = "RESOLUTION"
	// TypeVote records one role's vote on the resolution.
	TypeVote Type = "VOTE"
)

// VoteChoice is one role's verdict on a resolution.
type VoteChoice string

const (
	// VoteAccept approves the candidate patch as-is.
	VoteAccept VoteChoice = "ACCEPT"
	// VoteAmend approves with a modified patch attached to the vote.
	VoteAmend VoteChoice = "AMEND"
	// VoteReject declines the candidate patch.
	VoteReject VoteChoice = "REJECT"
)

// PatchOp is a single JSON-Patch operation against a canon document.
// Value carries raw JSON so callers never re-encode provider output.
type PatchOp struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	From  string          `json:"from,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Vote is the vote block carried by a VOTE turn.
type Vote struct {
	Choice           VoteChoice `json:"choice"`
	AmendmentSummary string     `json:"amendment_summary,omitempty"`
}

// Output is one agent contribution as produced by a turn generator.
//
// Outputs are ephemeral: they live in the event log once emitted and are
// never stored independently.
type Output struct {
	SpeakerRole Role      `json:"speaker_role"`
	TurnType    Type      `json:"turn_type"`
	Content     string    `json:"content"`
	CanonPatch  []PatchOp `json:"canon_patch,omitempty"`
	References  []string  `json:"references,omitempty"`
	Vote        *Vote     `json:"vote,omitempty"`
}
