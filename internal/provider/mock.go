package provider

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"

	"github.com/louisbranch/worldbuild.space/internal/canon"
	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

// Mock is a deterministic offline backend. Given the same match seed and
// turn coordinates it always produces the same output, which keeps full
// match runs reproducible without network access.
type Mock struct {
	Config Config
}

// NewMock returns a mock backend.
func NewMock(cfg Config) *Mock {
	return &Mock{Config: cfg}
}

type mockHandle struct {
	matchSeed int64
	challenge challenge.Challenge
	turnCount int
}

func (m *Mock) StartConversation(_ context.Context, team turn.TeamID, matchSeed int64, ch challenge.Challenge, _ canon.Document) (Handle, error) {
	_ = team
	return &mockHandle{matchSeed: matchSeed, challenge: ch}, nil
}

func (m *Mock) GenerateTurn(_ context.Context, handle Handle, tc Context) (turn.Output, Handle, error) {
	h, ok := handle.(*mockHandle)
	if !ok {
		return turn.Output{}, nil, fmt.Errorf("mock: foreign conversation handle %T", handle)
	}

	rng, err := stableRNG("mock-llm", h.matchSeed, string(tc.Team), tc.Phase, tc.Round, string(tc.Role), string(tc.TurnType), tc.Attempt)
	if err != nil {
		return turn.Output{}, nil, err
	}

	var output turn.Output
	switch tc.TurnType {
	case turn.TypeProposal:
		output = m.proposalTurn(rng, tc, h.challenge)
	case turn.TypeObjection:
		output = m.objectionTurn(rng, tc)
	case turn.TypeResponse:
		output = m.responseTurn(rng, tc)
	case turn.TypeResolution:
		output = m.resolutionTurn(rng, tc, h.challenge)
	case turn.TypeVote:
		output = m.voteTurn(tc)
	default:
		return turn.Output{}, nil, fmt.Errorf("mock: unhandled turn type %q", tc.TurnType)
	}

	next := &mockHandle{matchSeed: h.matchSeed, challenge: h.challenge, turnCount: h.turnCount + 1}
	return output, next, nil
}

func (m *Mock) GeneratePromptPack(_ context.Context, matchSeed int64, team turn.TeamID, finalCanon canon.Document) (json.RawMessage, error) {
	var c canon.Canon
	if err := json.Unmarshal(finalCanon, &c); err != nil {
		return nil, fmt.Errorf("mock: decode final canon: %w", err)
	}

	var generic any
	if err := json.Unmarshal(finalCanon, &generic); err != nil {
		return nil, fmt.Errorf("mock: decode final canon: %w", err)
	}
	rng, err := stableRNG("mock-prompt-pack", matchSeed, string(team), generic)
	if err != nil {
		return nil, err
	}

	worldName := c.WorldName
	if worldName == "" {
		worldName = canon.TeamPrefix(team)
	}
	mood := c.AestheticMood
	if mood == "" {
		mood = "atmospheric, cinematic"
	}

	styleTag := pick(rng,
		"cinematic concept art, ultra-detailed, volumetric lighting",
		"painterly matte painting, moody atmosphere, high detail",
		"photoreal, wide dynamic range, dramatic lighting",
		"stylized realism, rich texture, soft haze",
	)
	suffix := fmt.Sprintf("Style: %s. Mood: %s. Governing logic visible: %s", styleTag, mood, c.GoverningLogic)

	type imageSpec struct {
		Title       string `json:"title"`
		Prompt      string `json:"prompt"`
		AspectRatio string `json:"aspect_ratio"`
	}
	type promptPack struct {
		HeroImage          imageSpec    `json:"hero_image"`
		LandmarkTriptych   [3]imageSpec `json:"landmark_triptych"`
		InhabitantPortrait imageSpec    `json:"inhabitant_portrait"`
		TensionSnapshot    imageSpec    `json:"tension_snapshot"`
	}

	pack := promptPack{
		HeroImage: imageSpec{
			Title:       fmt.Sprintf("Hero Image: %s", worldName),
			Prompt:      strings.TrimSpace(c.HeroImageDescription + "\n" + suffix),
			AspectRatio: "16:9",
		},
		InhabitantPortrait: imageSpec{
			Title: fmt.Sprintf("Inhabitant Portrait: %s", worldName),
			Prompt: strings.TrimSpace(fmt.Sprintf(
				"Portrait of an inhabitant of %s in context. Appearance: %s. Culture: %s. Relationship to place: %s. %s",
				worldName, c.Inhabitants.Appearance, c.Inhabitants.CultureSnapshot, c.Inhabitants.RelationshipToPlace, suffix,
			)),
			AspectRatio: "3:4",
		},
		TensionSnapshot: imageSpec{
			Title: fmt.Sprintf("Tension Snapshot: %s", worldName),
			Prompt: strings.TrimSpace(fmt.Sprintf(
				"A narrative moment in %s showing the central tension. Conflict: %s. Stakes: %s. Visible manifestation: %s. %s",
				worldName, c.Tension.Conflict, c.Tension.Stakes, c.Tension.VisualManifestation, suffix,
			)),
			AspectRatio: "16:9",
		},
	}

	for i := 0; i < 3; i++ {
		lm := canon.Landmark{Name: fmt.Sprintf("Landmark %d", i+1)}
		if i < len(c.Landmarks) {
			lm = c.Landmarks[i]
		}
		pack.LandmarkTriptych[i] = imageSpec{
			Title: fmt.Sprintf("Landmark: %s", lm.Name),
			Prompt: strings.TrimSpace(fmt.Sprintf(
				"Square composition of %s. %s Key visual: %s. Significance: %s. %s",
				lm.Name, lm.Description, lm.VisualKey, lm.Significance, suffix,
			)),
			AspectRatio: "1:1",
		}
	}

	raw, err := json.Marshal(pack)
	if err != nil {
		return nil, fmt.Errorf("mock: encode prompt pack: %w", err)
	}
	return raw, nil
}

func (m *Mock) proposalTurn(rng *rand.Rand, tc Context, ch challenge.Challenge) turn.Output {
	team := canon.TeamPrefix(tc.Team)

	switch tc.Phase {
	case 1:
		worldName := team + " " + pick(rng, "Bastion", "Haven", "Sanctum", "Spires", "Archive")
		governingLogic := pick(rng,
			"Light is sacred and rationed; every public act consumes measured radiance.",
			"All structures must be temporary; permanence is treated as a social crime.",
			"Vertical space is status; altitude dictates law, diet, and dialect.",
			"The founders are alive but sleeping; citizens interpret their dreams as edicts.",
		)
		mood := adjectives(rng)
		patch := []turn.PatchOp{
			{Op: "replace", Path: "/world_name", Value: rawString(worldName)},
			{Op: "replace", Path: "/governing_logic", Value: rawString(governingLogic)},
			{Op: "replace", Path: "/aesthetic_mood", Value: rawString(mood)},
			{Op: "replace", Path: "/inhabitants/appearance", Value: rawString(
				pick(rng, "lithe", "scarred", "mask-wearing", "ink-stained") + " " + ch.Inhabitants)},
			{Op: "replace", Path: "/inhabitants/culture_snapshot", Value: rawString(
				"They trade in " + pick(rng, "songs", "salt", "ink", "hours") + " and speak in ritual shorthand to honor the rule.")},
			{Op: "replace", Path: "/inhabitants/relationship_to_place", Value: rawString(
				"They treat the environment as a living ledger; every change must be paid back later.")},
		}
		return turn.Output{
			SpeakerRole: tc.Role,
			TurnType:    tc.TurnType,
			Content:     fmt.Sprintf("Proposal: name the place **%s** and center it on: %s Mood: %s.", worldName, governingLogic, mood),
			CanonPatch:  patch,
		}

	case 2:
		landmarkIndex := tc.Round - 1
		if landmarkIndex > 2 {
			landmarkIndex = 2
		}
		landmarkName := team + " " + pick(rng, "Steps", "Furnace", "Grotto", "Causeway", "Aviary")
		base := fmt.Sprintf("/landmarks/%d", landmarkIndex)
		patch := []turn.PatchOp{
			{Op: "replace", Path: base + "/name", Value: rawString(landmarkName)},
			{Op: "replace", Path: base + "/description", Value: rawString(fmt.Sprintf(
				"A %s landmark shaped by the rule: %s.", ch.BiomeSetting,
				pick(rng, "echoing", "knife-edged", "slowly migrating", "lantern-lit")))},
			{Op: "replace", Path: base + "/significance", Value: rawString(pick(rng,
				"It is where disputes are settled by ritual measurements.",
				"It stores the community's most expensive resources.",
				"It marks the boundary between legal and taboo behavior.",
			))},
			{Op: "replace", Path: base + "/visual_key", Value: rawString(pick(rng,
				"floating lanterns tethered by braided wire",
				"obsidian tiles that drink reflections",
				"wind-bells made of bone-white glass",
				"a spiral of red moss glowing in the dark",
			))},
		}
		return turn.Output{
			SpeakerRole: tc.Role,
			TurnType:    tc.TurnType,
			Content:     fmt.Sprintf("Proposal: define landmark %d as **%s** tied to the governing logic.", landmarkIndex+1, landmarkName),
			CanonPatch:  patch,
		}

	case 3:
		patch := []turn.PatchOp{
			{Op: "replace", Path: "/tension/conflict", Value: rawString(pick(rng,
				"A black-market of forbidden permanence spreads beneath the official rituals.",
				"The ration of sacred light is shrinking, and no one agrees why.",
				"Old dream-edicts contradict new survival needs, splitting households.",
			))},
			{Op: "replace", Path: "/tension/stakes", Value: rawString(
				"If unresolved, the rule that holds the city together will become a weapon instead of a compass.")},
			{Op: "replace", Path: "/tension/visual_manifestation", Value: rawString(pick(rng,
				"public lamps flicker during arguments, casting long, accusatory shadows",
				"temporary buildings sag as if exhausted, then are torn down overnight",
				"secret stairways bloom with illegal carvings that refuse to erode",
			))},
		}
		return turn.Output{
			SpeakerRole: tc.Role,
			TurnType:    tc.TurnType,
			Content:     "Proposal: inject a tension that makes the rule unstable in a visible way.",
			CanonPatch:  patch,
		}

	case 4:
		hero := fmt.Sprintf(
			"A wide establishing shot of %s realm in a %s, with %s going about their daily rituals. "+
				"The twist constraint '%s' manifests in the architecture and lighting. "+
				"Foreground figures reveal culture through gesture, tools, and dress; the key tension is visible in the scene.",
			team, ch.BiomeSetting, ch.Inhabitants, ch.TwistConstraint,
		)
		return turn.Output{
			SpeakerRole: tc.Role,
			TurnType:    tc.TurnType,
			Content:     "Proposal: crystallize the final spec with a hero image description that embodies the canon.",
			CanonPatch: []turn.PatchOp{
				{Op: "replace", Path: "/hero_image_description", Value: rawString(hero)},
			},
		}
	}

	return turn.Output{
		SpeakerRole: tc.Role,
		TurnType:    tc.TurnType,
		Content:     "Proposal: (phase not handled by mock)",
	}
}

func (m *Mock) objectionTurn(rng *rand.Rand, tc Context) turn.Output {
	return turn.Output{
		SpeakerRole: tc.Role,
		TurnType:    tc.TurnType,
		Content: pick(rng,
			"Objection: What fails first under stress? If outsiders arrive, how does the rule prevent exploitation instead of enabling it?",
			"Objection: This risks becoming vibes-only. What concrete mechanism enforces the rule day-to-day, and what's the loophole?",
			"Objection: The proposal creates a neat story, but where does the mess come from? Waste, dissent, weather, scarcity?",
		),
	}
}

func (m *Mock) responseTurn(rng *rand.Rand, tc Context) turn.Output {
	return turn.Output{
		SpeakerRole: tc.Role,
		TurnType:    tc.TurnType,
		Content: pick(rng,
			"Response: Add a visible enforcement ritual (tokens, lamps, ledgers) and a quiet workaround that only insiders understand.",
			"Response: Tie the rule to infrastructure like water, light, and elevators, so breaking it has immediate material consequences.",
			"Response: Ground it with one concrete example of daily life, plus a contradiction that foreshadows later tension.",
		),
	}
}

func (m *Mock) resolutionTurn(rng *rand.Rand, tc Context, ch challenge.Challenge) turn.Output {
	proposalCtx := tc
	proposalCtx.TurnType = turn.TypeProposal
	base := m.proposalTurn(rng, proposalCtx, ch)
	return turn.Output{
		SpeakerRole: tc.Role,
		TurnType:    tc.TurnType,
		Content:     "Resolution: Merge the proposal with the objection's edge case by adding an enforcement mechanism and a known loophole.",
		CanonPatch:  base.CanonPatch,
		References:  append([]string(nil), tc.ExpectedReferences...),
	}
}

func (m *Mock) voteTurn(tc Context) turn.Output {
	choice := mockVoteChoice(tc.Role, tc.Phase, tc.Round)
	output := turn.Output{
		SpeakerRole: tc.Role,
		TurnType:    tc.TurnType,
		Content:     "Vote: " + string(choice),
		Vote:        &turn.Vote{Choice: choice},
	}
	if choice == turn.VoteAmend {
		output.Vote = &turn.Vote{
			Choice:           turn.VoteAmend,
			AmendmentSummary: "Sharpen the stakes with a specific visible tell.",
		}
		if len(tc.PendingPatch) > 0 {
			path := "/landmarks/0/visual_key"
			if tc.Phase == 3 {
				path = "/tension/visual_manifestation"
			}
			amended := append([]turn.PatchOp(nil), tc.PendingPatch...)
			amended = append(amended, turn.PatchOp{
				Op:    "replace",
				Path:  path,
				Value: rawString("a pulse of warning light that spreads across surfaces like spilled ink"),
			})
			output.CanonPatch = amended
		}
	}
	return output
}

// mockVoteChoice drives the scripted outcomes: two AMEND votes land at
// phase 2 round 2 and phase 3 round 1, everything else is unanimous ACCEPT.
func mockVoteChoice(role turn.Role, phase, round int) turn.VoteChoice {
	amendRound := (phase == 2 && round == 2) || (phase == 3 && round == 1)
	if amendRound && (role == turn.RoleContrarian || role == turn.RoleLorekeeper) {
		return turn.VoteAmend
	}
	return turn.VoteAccept
}

// stableRNG derives a reproducible generator from canonically encoded parts.
func stableRNG(parts ...any) (*rand.Rand, error) {
	material, err := canon.CanonicalJSON(parts)
	if err != nil {
		return nil, fmt.Errorf("mock: derive rng seed: %w", err)
	}
	digest := sha256.Sum256(material)
	seed := int64(binary.BigEndian.Uint64(digest[:8]) &^ (1 << 63))
	return rand.New(rand.NewSource(seed)), nil
}

func pick(rng *rand.Rand, options ...string) string {
	return options[rng.Intn(len(options))]
}

func adjectives(rng *rand.Rand) string {
	words := []string{
		"windswept", "luminous", "austere", "verdigris", "salt-stung", "hushed",
		"cathedralic", "labyrinthine", "brine-sweet", "rusted", "glasslike", "emberlit",
	}
	rng.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	n := 3 + rng.Intn(3)
	return strings.Join(words[:n], ", ")
}

func rawString(s string) json.RawMessage {
	raw, err := json.Marshal(s)
	if err != nil {
		// Marshaling a string cannot fail.
		panic(err)
	}
	return raw
}
