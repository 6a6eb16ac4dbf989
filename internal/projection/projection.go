// Package projection derives read-side state from a match's event log.
// The log is the source of truth; canon documents and prompt packs are
// reconstructed by replay rather than stored separately.
package projection

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/worldbuild.space/internal/canon"
	"github.com/louisbranch/worldbuild.space/internal/storage"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// DeriveCanon replays a team's canon from its initialization event and
// every applied patch, in log order. It returns nil when the log holds no
// canon for the team yet.
func DeriveCanon(events []storage.Event, team turn.TeamID) (canon.Document, error) {
	var doc canon.Document
	for _, event := range events {
		if event.TeamID == nil || *event.TeamID != team {
			continue
		}
		switch event.Type {
		case "canon_initialized":
			if doc != nil {
				continue
			}
			normalized, err := canon.CanonicalJSON(event.Data["canon"])
			if err != nil {
				return nil, fmt.Errorf("normalize initial canon: %w", err)
			}
			doc = canon.Document(normalized)
		case "canon_patch_applied":
			if doc == nil {
				return nil, fmt.Errorf("patch for team %s before canon initialization", team)
			}
			ops, err := patchOps(event.Data["patch"])
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", event.ID, err)
			}
			doc, err = canon.Apply(doc, ops)
			if err != nil {
				return nil, fmt.Errorf("replay patch %s: %w", event.ID, err)
			}
		}
	}
	return doc, nil
}

// DerivePromptPack returns the team's most recent generated prompt pack,
// or nil when none was generated.
func DerivePromptPack(events []storage.Event, team turn.TeamID) (json.RawMessage, error) {
	var pack json.RawMessage
	for _, event := range events {
		if event.Type != "prompt_pack_generated" {
			continue
		}
		if event.TeamID == nil || *event.TeamID != team {
			continue
		}
		payload, err := json.Marshal(event.Data["prompt_pack"])
		if err != nil {
			return nil, fmt.Errorf("marshal prompt pack: %w", err)
		}
		pack = payload
	}
	return pack, nil
}

func patchOps(value any) ([]turn.PatchOp, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal patch: %w", err)
	}
	var ops []turn.PatchOp
	if err := json.Unmarshal(payload, &ops); err != nil {
		return nil, fmt.Errorf("unmarshal patch: %w", err)
	}
	return ops, nil
}
