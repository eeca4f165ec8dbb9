package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"github.com/rs/zerolog"

	"freight-ledger/internal/core"
	"freight-ledger/internal/logger"
)

// candidateRanking is one entry of the model's answer.
type candidateRanking struct {
	Kind       string  `json:"kind" jsonschema:"enum=transaction,enum=invoice"`
	ID         int     `json:"id"`
	Confidence float64 `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Reason     string  `json:"reason"`
}

type rankingResponse struct {
	Rankings []candidateRanking `json:"rankings"`
}

// askFunc sends a prompt with a strict JSON schema and returns the raw JSON text.
type askFunc func(ctx context.Context, prompt string, schema map[string]any) (string, error)

// MatchAdvisor re-ranks reconciliation candidates with an LLM. The wrapped
// strategy runs first; its ranking is returned unchanged whenever the model
// call or its answer fails.
type MatchAdvisor struct {
	fallback core.MatchStrategy
	ask      askFunc
	log      zerolog.Logger
}

func NewMatchAdvisor(apiKey, model string, fallback core.MatchStrategy) *MatchAdvisor {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = string(shared.ChatModelGPT4oMini)
	}
	return newMatchAdvisor(fallback, openAIAsk(&client, model))
}

func newMatchAdvisor(fallback core.MatchStrategy, ask askFunc) *MatchAdvisor {
	if fallback == nil {
		fallback = core.AmountDateStrategy{}
	}
	return &MatchAdvisor{fallback: fallback, ask: ask, log: logger.WithComponent("match_advisor")}
}

func openAIAsk(client *openai.Client, model string) askFunc {
	return func(ctx context.Context, prompt string, schema map[string]any) (string, error) {
		params := responses.ResponseNewParams{
			Model: shared.ResponsesModel(model),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: param.NewOpt(prompt),
			},
			Text: responses.ResponseTextConfigParam{
				Format: responses.ResponseFormatTextConfigUnionParam{
					OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
						Type:        constant.JSONSchema("json_schema"),
						Name:        "bank_match_ranking",
						Strict:      param.NewOpt(true),
						Schema:      schema,
						Description: param.NewOpt("Ranking of ledger entries that may correspond to a bank statement line"),
					},
				},
			},
		}

		resp, err := client.Responses.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("openai responses error: %w", err)
		}
		content := resp.OutputText()
		if content == "" {
			return "", fmt.Errorf("empty response content")
		}
		return content, nil
	}
}

// Rank implements core.MatchStrategy.
func (a *MatchAdvisor) Rank(ctx context.Context, line core.BankTransaction, candidates []core.MatchCandidate) ([]core.MatchCandidate, error) {
	base, err := a.fallback.Rank(ctx, line, candidates)
	if err != nil {
		return nil, err
	}
	if len(base) < 2 {
		return base, nil
	}

	schema, err := generateSchema()
	if err != nil {
		a.log.Warn().Err(err).Msg("schema generation failed, using fallback ranking")
		return base, nil
	}

	content, err := a.ask(ctx, buildPrompt(line, base), schema)
	if err != nil {
		a.log.Warn().Err(err).Int("bank_transaction_id", line.ID).Msg("advisor unavailable, using fallback ranking")
		return base, nil
	}

	var resp rankingResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		a.log.Warn().Err(err).Int("bank_transaction_id", line.ID).Msg("failed to parse advisor answer, using fallback ranking")
		return base, nil
	}
	return applyRankings(base, resp.Rankings), nil
}

func buildPrompt(line core.BankTransaction, candidates []core.MatchCandidate) string {
	var b strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&b, "- kind=%s id=%d date=%s amount=%s label=%q\n",
			c.Kind, c.ID, c.Date.Format("2006-01-02"), c.Amount.StringFixed(2), c.Label)
	}

	return fmt.Sprintf(`You reconcile bank statement lines for a freight forwarding company.
Rank the ledger entries below by how likely each one is the counterpart of the bank line.
Rules:
1. Only use the kind and id values listed.
2. Prefer exact amounts, then close dates, then references found in the description.
3. Provide a confidence score (0.0-1.0) and a one-sentence reason per entry.

Bank line: date=%s amount=%s description=%q

Candidates:
%s`, line.Date.Format("2006-01-02"), line.Amount.StringFixed(2), line.Description, b.String())
}

// applyRankings reorders base by the model's answer. Entries the model names
// come first with its confidence and reason; the rest keep their base order.
// Unknown or repeated entries are ignored.
func applyRankings(base []core.MatchCandidate, rankings []candidateRanking) []core.MatchCandidate {
	type key struct {
		kind core.CandidateKind
		id   int
	}
	index := make(map[key]int, len(base))
	for i, c := range base {
		index[key{c.Kind, c.ID}] = i
	}

	out := make([]core.MatchCandidate, 0, len(base))
	used := make([]bool, len(base))
	for _, r := range rankings {
		i, ok := index[key{core.CandidateKind(r.Kind), r.ID}]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		c := base[i]
		c.Score = min(max(r.Confidence, 0), 1)
		if r.Reason != "" {
			c.Reason = r.Reason
		}
		out = append(out, c)
	}
	for i, c := range base {
		if !used[i] {
			out = append(out, c)
		}
	}
	return out
}

func generateSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaJSON, err := json.Marshal(reflector.Reflect(rankingResponse{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schemaMap, nil
}
