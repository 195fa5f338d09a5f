package agent

import "context"

// Provider is the interface for any LLM backend. The workflow only needs
// single-shot structured generation; tool use is driven by the engine itself.
type Provider interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is one prompt to the LLM provider.
type GenerateRequest struct {
	MaxTokens int
	System    string
	Prompt    string
}

// GenerateResponse is the provider's reply, including token usage.
type GenerateResponse struct {
	Text       string
	Model      string
	StopReason StopReason
	Usage      Usage
}

// StopReason indicates why the LLM stopped generating content.
type StopReason string

const (
	StopEnd       StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
)

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
