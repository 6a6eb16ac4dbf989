// Package canon models the evolving per-team world document and the
// patch engine that is the only legal way to mutate it.
package canon

import (
	"fmt"

	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// Landmark is one of the canon's three fixed landmark slots.
type Landmark struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Significance string `json:"significance"`
	VisualKey    string `json:"visual_key"`
}

// Inhabitants describes who lives in the world.
type Inhabitants struct {
	Appearance          string `json:"appearance"`
	CultureSnapshot     string `json:"culture_snapshot"`
	RelationshipToPlace string `json:"relationship_to_place"`
}

// Tension describes the world's central conflict.
type Tension struct {
	Conflict            string `json:"conflict"`
	Stakes              string `json:"stakes"`
	VisualManifestation string `json:"visual_manifestation"`
}

// Canon is the fixed-shape world document a team builds through
// deliberation. Landmarks always has exactly three entries.
type Canon struct {
	WorldName            string      `json:"world_name"`
	GoverningLogic       string      `json:"governing_logic"`
	AestheticMood        string      `json:"aesthetic_mood"`
	Landmarks            []Landmark  `json:"landmarks"`
	Inhabitants          Inhabitants `json:"inhabitants"`
	Tension              Tension     `json:"tension"`
	HeroImageDescription string      `json:"hero_image_description"`
}

// TeamPrefix names a team's placeholder world before the debate renames it.
func TeamPrefix(team turn.TeamID) string {
	if team == turn.TeamA {
		return "Azure"
	}
	return "Cinder"
}

// Initial builds the placeholder canon a team starts from. Every field is
// present so phase-scoped patches always have a target to replace.
func Initial(team turn.TeamID, ch challenge.Challenge) Canon {
	prefix := TeamPrefix(team)

	landmarks := make([]Landmark, 3)
	for i, numeral := range []string{"I", "II", "III"} {
		landmarks[i] = Landmark{
			Name:         "TBD Landmark " + numeral,
			Description:  "Placeholder landmark description.",
			Significance: "Placeholder significance.",
			VisualKey:    "Placeholder visual key.",
		}
	}

	return Canon{
		WorldName:      prefix + " Unnamed",
		GoverningLogic: fmt.Sprintf("(TBD) Twist: %s.", ch.TwistConstraint),
		AestheticMood:  "mysterious, unfinished, provisional",
		Landmarks:      landmarks,
		Inhabitants: Inhabitants{
			Appearance:          fmt.Sprintf("Placeholder %s.", ch.Inhabitants),
			CultureSnapshot:     "Placeholder culture snapshot.",
			RelationshipToPlace: "Placeholder relationship to place.",
		},
		Tension: Tension{
			Conflict:            "Placeholder conflict.",
			Stakes:              "Placeholder stakes.",
			VisualManifestation: "Placeholder visual manifestation.",
		},
		HeroImageDescription: "Placeholder hero image description.",
	}
}
