// Package quality scores synthesis output with an LLM judge behind any
// OpenAI-compatible chat completions API.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const systemPrompt = `You are a strict reviewer of incident triage summaries.
Score the summary under review against the evidence on three axes:

- groundedness: every claim in the summary is supported by the evidence
- relevance: the summary addresses the question that was asked
- actionability: the summary gives the on-call engineer a concrete next move

Respond with only a JSON object mapping each axis to a score between 0.0 and
1.0, for example: {"groundedness": 0.9, "relevance": 0.8, "actionability": 0.7}`

// Evaluator implements agent.Evaluator over chat completions.
type Evaluator struct {
	client *openai.Client
	model  string
}

// New creates an evaluator. An empty baseURL targets the default OpenAI
// endpoint; any compatible gateway works.
func New(apiKey, baseURL, model string) *Evaluator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Evaluator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Evaluate asks the judge to score the summary. Non-numeric fields in the
// reply are ignored; scores are clamped to [0, 1].
func (e *Evaluator) Evaluate(ctx context.Context, query, evidence, summary string) (map[string]float64, error) {
	user := fmt.Sprintf("## Question\n%s\n\n## Evidence\n%s\n\n## Summary under review\n%s",
		query, evidence, summary)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion")
	}

	var raw map[string]any
	text := extractJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parse scores: %w", err)
	}

	scores := make(map[string]float64, len(raw))
	for metric, v := range raw {
		if f, ok := v.(float64); ok {
			scores[metric] = clamp01(f)
		}
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("no numeric scores in completion")
	}
	return scores, nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func extractJSON(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
