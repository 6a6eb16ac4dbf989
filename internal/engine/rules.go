package engine

import "github.com/louisbranch/worldbuild.space/internal/turn"

// PhaseRounds maps each debate phase to its fixed round count. Phase 5 is
// the artifact phase and runs once per team rather than in rounds.
var PhaseRounds = map[int]int{
	1: 3,
	2: 4,
	3: 2,
	4: 1,
	5: 1,
}

// debatePhases are the phases that run the turn protocol, in order.
var debatePhases = [4]int{1, 2, 3, 4}

// AllowedPatchPrefixes returns the canon paths a patch may touch in a phase.
func AllowedPatchPrefixes(phase int) []string {
	switch phase {
	case 1:
		return []string{"/world_name", "/governing_logic", "/aesthetic_mood", "/inhabitants"}
	case 2:
		return []string{"/landmarks"}
	case 3:
		return []string{"/tension"}
	case 4:
		return []string{"/"}
	default:
		return nil
	}
}

// RoleAllowed reports whether a role may speak a given turn type.
func RoleAllowed(role turn.Role, turnType turn.Type) bool {
	switch turnType {
	case turn.TypeProposal, turn.TypeResponse:
		return role == turn.RoleArchitect || role == turn.RoleLorekeeper
	case turn.TypeObjection:
		return role == turn.RoleContrarian
	case turn.TypeResolution:
		return role == turn.RoleSynthesizer
	case turn.TypeVote:
		return true
	default:
		return false
	}
}
