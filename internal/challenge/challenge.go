// Package challenge derives the immutable scenario parameters for a match.
package challenge

import (
	"math/rand"
	"strconv"

	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
)

// Challenge holds the scenario parameters seeding one match. Two matches
// created with the same seed and tier share an identical Challenge.
type Challenge struct {
	Seed            int64  `json:"seed"`
	Tier            int    `json:"tier"`
	BiomeSetting    string `json:"biome_setting"`
	Inhabitants     string `json:"inhabitants"`
	TwistConstraint string `json:"twist_constraint"`
}

var biomesByTier = map[int][]string{
	1: {
		"volcanic archipelago",
		"subterranean fungal forest",
		"floating desert islands",
		"temperate river-delta megacity",
	},
	2: {
		"frozen megastructure",
		"storm-wracked salt flats",
		"tidal canyon labyrinth",
		"sunken mangrove basin",
	},
	3: {
		"underwater city of air-breathers",
		"desert of drifting ice",
		"mountain peak beneath an inland sea",
		"forest that grows only in shadow",
	},
}

var inhabitantPool = []string{
	"posthuman monks",
	"symbiotic hive-beings",
	"nomadic machine-spirits",
	"amphibious traders",
	"ash-smeared archivists",
	"glass-masked surveyors",
}

var twistsByTier = map[int][]string{
	1: {
		"light is sacred and rationed",
		"all structures must be temporary",
		"vertical space is status",
		"the founders are still alive but sleeping",
	},
	2: {
		"fire is forbidden",
		"names are currency and can be stolen",
		"every building must have two exits: one real, one symbolic",
		"timekeeping is illegal; only tides and bells are allowed",
	},
	3: {
		"inhabitants fear submersion despite living underwater",
		"gravity is a negotiated service, not a constant",
		"speech causes structural decay, so silence is law",
		"the city repels maps; accuracy triggers earthquakes",
	},
}

// Generate derives a Challenge from seed and tier.
//
// The three pool draws (biome, inhabitants, twist) come from one seeded
// source in a fixed order, so the result is a pure function of the
// inputs. Tier must be 1, 2, or 3.
func Generate(seed int64, tier int) (Challenge, error) {
	biomes, ok := biomesByTier[tier]
	if !ok {
		return Challenge{}, apperrors.WithMetadata(
			apperrors.CodeInvalidTier,
			"tier must be 1, 2, or 3",
			map[string]string{"tier": strconv.Itoa(tier)},
		)
	}
	twists := twistsByTier[tier]

	rng := rand.New(rand.NewSource(seed))
	return Challenge{
		Seed:            seed,
		Tier:            tier,
		BiomeSetting:    biomes[rng.Intn(len(biomes))],
		Inhabitants:     inhabitantPool[rng.Intn(len(inhabitantPool))],
		TwistConstraint: twists[rng.Intn(len(twists))],
	}, nil
}
