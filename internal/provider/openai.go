package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/louisbranch/worldbuild.space/internal/canon"
	"github.com/louisbranch/worldbuild.space/internal/challenge"
	"github.com/louisbranch/worldbuild.space/internal/contracts"
	apperrors "github.com/louisbranch/worldbuild.space/internal/platform/errors"
	"github.com/louisbranch/worldbuild.space/internal/turn"
)

const defaultOpenAIModel = "gpt-4.1-mini"

var roleMandates = map[turn.Role]string{
	turn.RoleArchitect:   "Propose structural/physical elements (geography, buildings, infrastructure). Think in systems and spaces.",
	turn.RoleLorekeeper:  "Propose history, culture, inhabitants, naming conventions. Think in stories and meaning.",
	turn.RoleContrarian:  "Challenge every proposal with a specific objection or edge case. Be constructively adversarial.",
	turn.RoleSynthesizer: "Resolve conflicts, merge ideas, call for votes, manage convergence. Be diplomatic and decisive. You cannot propose new ideas, only merge and refine existing ones.",
}

var turnTypeInstructions = map[turn.Type]string{
	turn.TypeProposal:   "Make a proposal with a canon_patch. Be specific and actionable.",
	turn.TypeObjection:  "Raise a specific concern or edge case about the current proposal. No vague objections.",
	turn.TypeResponse:   "Respond to the proposal and objection. You must add, modify, or object. No pure agreement.",
	turn.TypeResolution: "Synthesize the discussion. Merge ideas, resolve conflicts, prepare for vote. Include references to what you're merging.",
	turn.TypeVote:       "Vote ACCEPT, AMEND, or REJECT. If AMEND, include the amendment in canon_patch.",
}

// OpenAIConfig configures the OpenAI responses endpoint and HTTP behavior.
type OpenAIConfig struct {
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	ResponsesURL string
	HTTPClient   *http.Client
}

// OpenAI generates turns through the OpenAI responses API with structured
// output pinned to the turn output schema. Conversation continuity rides on
// previous_response_id, so the handle only stores the latest response id.
type OpenAI struct {
	cfg OpenAIConfig
}

// NewOpenAI builds an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.New(apperrors.CodeProviderInvalidConfig, "openai api key is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = "https://api.openai.com/v1/responses"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 900
	}
	return &OpenAI{cfg: cfg}, nil
}

type openAIHandle struct {
	responseID string
	matchSeed  int64
}

func (o *OpenAI) StartConversation(ctx context.Context, team turn.TeamID, matchSeed int64, ch challenge.Challenge, initialCanon canon.Document) (Handle, error) {
	_ = team
	payload := map[string]any{
		"model": o.cfg.Model,
		"input": buildSystemPrompt(ch, initialCanon),
		"store": true,
	}
	body, err := o.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	responseID := gjson.GetBytes(body, "id").String()
	if responseID == "" {
		return nil, apperrors.New(apperrors.CodeProviderMalformedTurnOutput, "openai response missing id")
	}
	return &openAIHandle{responseID: responseID, matchSeed: matchSeed}, nil
}

func (o *OpenAI) GenerateTurn(ctx context.Context, handle Handle, tc Context) (turn.Output, Handle, error) {
	h, ok := handle.(*openAIHandle)
	if !ok {
		return turn.Output{}, nil, fmt.Errorf("openai: foreign conversation handle %T", handle)
	}

	schema, err := contracts.SchemaJSON(contracts.TurnOutputSchema)
	if err != nil {
		return turn.Output{}, nil, err
	}

	payload := map[string]any{
		"model":                o.cfg.Model,
		"previous_response_id": h.responseID,
		"input": []map[string]any{
			{"role": "user", "content": buildTurnPrompt(tc)},
		},
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "TurnOutput",
				"schema": schema,
				"strict": true,
			},
		},
		"temperature":       o.cfg.Temperature,
		"max_output_tokens": o.cfg.MaxTokens,
		"store":             true,
	}
	body, err := o.post(ctx, payload)
	if err != nil {
		return turn.Output{}, nil, err
	}

	text, err := extractOutputText(body)
	if err != nil {
		return turn.Output{}, nil, err
	}
	var output turn.Output
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return turn.Output{}, nil, apperrors.Wrap(apperrors.CodeProviderMalformedTurnOutput, "openai output is not valid turn json", err)
	}

	next := &openAIHandle{responseID: gjson.GetBytes(body, "id").String(), matchSeed: h.matchSeed}
	return output, next, nil
}

func (o *OpenAI) GeneratePromptPack(ctx context.Context, matchSeed int64, team turn.TeamID, finalCanon canon.Document) (json.RawMessage, error) {
	schema, err := contracts.SchemaJSON(contracts.PromptPackSchema)
	if err != nil {
		return nil, err
	}

	maxTokens := o.cfg.MaxTokens
	if maxTokens < 1200 {
		maxTokens = 1200
	}
	payload := map[string]any{
		"model": o.cfg.Model,
		"input": []map[string]any{
			{"role": "user", "content": buildPromptPackPrompt(finalCanon)},
		},
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "PromptPack",
				"schema": schema,
				"strict": true,
			},
		},
		"temperature":       o.cfg.Temperature,
		"max_output_tokens": maxTokens,
		"store":             true,
		"metadata": map[string]any{
			"match_seed": fmt.Sprintf("%d", matchSeed),
			"team_id":    string(team),
			"purpose":    "prompt_pack",
		},
	}
	body, err := o.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	text, err := extractOutputText(body)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(text)) {
		return nil, apperrors.New(apperrors.CodeProviderMalformedTurnOutput, "openai prompt pack is not valid json")
	}
	return json.RawMessage(text), nil
}

func (o *OpenAI) post(ctx context.Context, payload map[string]any) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.ResponsesURL, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("build openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Credential material is sent only as an Authorization header and is never
	// echoed in errors or response payloads.
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	res, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProviderUnavailable, "openai request failed", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeProviderUnavailable, "read openai response", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, apperrors.WithMetadata(
			apperrors.CodeProviderUnavailable,
			fmt.Sprintf("openai request status %d", res.StatusCode),
			map[string]string{
				"status": strconv.Itoa(res.StatusCode),
				"body":   strings.TrimSpace(string(body)),
			},
		)
	}
	return body, nil
}

func extractOutputText(body []byte) (string, error) {
	text := strings.TrimSpace(gjson.GetBytes(body, "output_text").String())
	if text == "" {
		gjson.GetBytes(body, "output.#.content.#.text").ForEach(func(_, outer gjson.Result) bool {
			outer.ForEach(func(_, inner gjson.Result) bool {
				if candidate := strings.TrimSpace(inner.String()); candidate != "" {
					text = candidate
					return false
				}
				return true
			})
			return text == ""
		})
	}
	if text == "" {
		return "", apperrors.New(apperrors.CodeProviderMalformedTurnOutput, "openai response missing output text")
	}
	return text, nil
}

func buildSystemPrompt(ch challenge.Challenge, initialCanon canon.Document) string {
	var b strings.Builder
	b.WriteString("You are a worldbuilding debate agent on a team of 4 agents (Architect, Lorekeeper, Contrarian, Synthesizer).\n\n")
	fmt.Fprintf(&b, "CHALLENGE:\n- Biome/Setting: %s\n- Inhabitants: %s\n- Twist Constraint: %s\n\n", ch.BiomeSetting, ch.Inhabitants, ch.TwistConstraint)
	fmt.Fprintf(&b, "INITIAL CANON (starting world state):\n%s\n\n", string(initialCanon))
	b.WriteString(`RULES:
1. No pure "+1" responses. You must always add, modify, or object.
2. Contrarian must object to every proposal with a specific concern.
3. Synthesizer cannot propose new ideas, only merge/refine existing ones.
4. All canon changes must be valid JSON Patch operations.
5. Output must be valid JSON matching the TurnOutput schema.

The deliberation has 4 debate phases:
- Phase 1 (Foundation): Establish name, governing logic, aesthetic mood
- Phase 2 (Landmarks): Define 3 key landmarks
- Phase 3 (Tension): Inject conflict/stakes
- Phase 4 (Crystallization): Final ratification

You will be told your role and turn type for each turn. Respond accordingly.`)
	return b.String()
}

func buildTurnPrompt(tc Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "YOUR ROLE: %s\nMANDATE: %s\n\n", tc.Role, roleMandates[tc.Role])
	fmt.Fprintf(&b, "PHASE: %d, ROUND: %d\nTURN TYPE: %s\nINSTRUCTION: %s\n\n", tc.Phase, tc.Round, tc.TurnType, turnTypeInstructions[tc.TurnType])
	fmt.Fprintf(&b, "ALLOWED PATCH PREFIXES: %s", mustJSON(tc.AllowedPatchPrefixes))

	if len(tc.ExpectedReferences) > 0 {
		fmt.Fprintf(&b, "\nEXPECTED REFERENCES: %s", mustJSON(tc.ExpectedReferences))
	}
	if len(tc.PendingPatch) > 0 {
		fmt.Fprintf(&b, "\nPENDING PATCH (for voting): %s", mustJSON(tc.PendingPatch))
	}
	if len(tc.RepairErrors) > 0 {
		fmt.Fprintf(&b, "\n\nREPAIR REQUIRED (attempt %d):\nYour previous output had validation errors:\n%s\n\nFix these errors in your next response.",
			tc.Attempt+1, mustJSON(tc.RepairErrors))
	}

	b.WriteString("\n\nGenerate your TurnOutput now.")
	return b.String()
}

func buildPromptPackPrompt(finalCanon canon.Document) string {
	return fmt.Sprintf(`You are a neutral Prompt Engineer.

Convert the following final world canon into a PromptPack for image generation.

Rules:
- Do not mention teams, debates, or voting.
- Make prompts richly visual: environment, composition, lighting, materials, mood, and key props.
- Keep the world's governing logic visible in every prompt.
- Provide 6 prompts total:
  - hero_image (16:9 wide establishing shot)
  - landmark_triptych[0..2] (1:1)
  - inhabitant_portrait (3:4)
  - tension_snapshot (16:9)
- Each prompt should stand alone (no external references), and should be safe for general audiences.

FINAL CANON (JSON):
%s
`, string(finalCanon))
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
