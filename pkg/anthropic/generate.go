package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
)

// Generator turns one fully rendered prompt into raw insight text. It carries
// the model configuration so callers only deal in prompt strings.
type Generator struct {
	client      Client
	model       string
	maxTokens   int64
	temperature float64
	systemText  string
}

// NewGenerator wires a Client with fixed generation parameters. systemText
// may be empty; when set it is sent as a cached system block so repeated
// batches for one run share the prompt-cache entry.
func NewGenerator(client Client, model string, maxTokens int64, temperature float64, systemText string) *Generator {
	return &Generator{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		systemText:  systemText,
	}
}

// Generate sends the rendered prompt and returns the raw response text with
// its token usage.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, TokenUsage, error) {
	req := MessageRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: &g.temperature,
		Messages:    []Message{{Role: "user", Content: prompt}},
	}
	if g.systemText != "" {
		req.System = []SystemBlock{{
			Text:         g.systemText,
			CacheControl: &CacheControl{TTL: "1h"},
		}}
	}

	resp, err := g.client.CreateMessage(ctx, req)
	if err != nil {
		return "", TokenUsage{}, eris.Wrap(err, "anthropic: generate")
	}
	return resp.Text(), resp.Usage, nil
}
