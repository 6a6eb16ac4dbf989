package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/louisbranch/worldbuild.space/internal/contracts"
	"github.com/louisbranch/worldbuild.space/internal/provider"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

var plusOnePattern = regexp.MustCompile(`(?i)^\s*(\+1\.?|i\s+agree|agree|sounds\s+good|looks\s+good)\s*\.?\s*$`)

// ValidationResult reports every rule a turn output violated. All checks
// run even after the first failure so a repair prompt can fix everything
// at once.
type ValidationResult struct {
	OK     bool
	Errors []string
}

// ValidateTurnOutput checks a generated turn against the structural
// contract and the protocol rules for its slot.
func ValidateTurnOutput(output turn.Output, tc provider.Context) (ValidationResult, error) {
	var errs []string

	contract, err := contracts.Validate(contracts.TurnOutputSchema, output)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("turn contract check: %w", err)
	}
	errs = append(errs, contract.Errors...)

	if !RoleAllowed(tc.Role, tc.TurnType) {
		errs = append(errs, fmt.Sprintf("<root>: role %s not allowed for %s", tc.Role, tc.TurnType))
	}

	switch tc.TurnType {
	case turn.TypeProposal, turn.TypeResolution:
		if len(output.CanonPatch) == 0 {
			errs = append(errs, "<root>: canon_patch required for proposal/resolution")
		}
	case turn.TypeObjection, turn.TypeResponse:
		if len(output.CanonPatch) > 0 {
			errs = append(errs, "<root>: canon_patch not allowed for objection/response")
		}
	}

	if tc.TurnType == turn.TypeResponse && plusOnePattern.MatchString(strings.TrimSpace(output.Content)) {
		errs = append(errs, "/content: '+1' style responses are forbidden")
	}

	if tc.TurnType == turn.TypeResolution {
		var missing []string
		for _, ref := range tc.ExpectedReferences {
			found := false
			for _, got := range output.References {
				if got == ref {
					found = true
					break
				}
			}
			if !found {
				missing = append(missing, ref)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("/references: missing required references: %s", strings.Join(missing, ", ")))
		}
	}

	if len(output.CanonPatch) > 0 {
		errs = append(errs, validatePatchPaths(output.CanonPatch, tc.AllowedPatchPrefixes)...)
	}

	return ValidationResult{OK: len(errs) == 0, Errors: errs}, nil
}

func validatePatchPaths(patch []turn.PatchOp, allowedPrefixes []string) []string {
	if len(allowedPrefixes) == 0 {
		return []string{"<root>: canon_patch not allowed in this phase"}
	}

	var errs []string
	for index, op := range patch {
		if op.Path == "" {
			errs = append(errs, fmt.Sprintf("/canon_patch/%d: missing 'path'", index))
			continue
		}
		if !pathAllowed(op.Path, allowedPrefixes) {
			errs = append(errs, fmt.Sprintf("/canon_patch/%d/path: '%s' not allowed for this phase", index, op.Path))
		}
		if op.From != "" && !pathAllowed(op.From, allowedPrefixes) {
			errs = append(errs, fmt.Sprintf("/canon_patch/%d/from: '%s' not allowed for this phase", index, op.From))
		}
	}
	return errs
}

func pathAllowed(path string, allowedPrefixes []string) bool {
	for _, prefix := range allowedPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
		if prefix == "/" && strings.HasPrefix(path, "/") {
			return true
		}
	}
	return false
}
