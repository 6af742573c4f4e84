// Package llm is the generation collaborator: it turns prompts into model
// responses and free-text responses into structured plans and actions.
// Scheduler logic never depends on parsing details; parse failures surface
// as explicit sentinel errors.
package llm

import "context"

// Request is a single generation call.
type Request struct {
	// Prompt is the user-turn content.
	Prompt string
	// SystemPrompt frames the model's role.
	SystemPrompt string
	// Model optionally overrides the client's default model.
	Model string
	// MaxTokens caps the response length. Zero uses the client default.
	MaxTokens int
	// Temperature controls randomness. Negative uses the client default.
	Temperature float64
}

// Response is the model output plus the usage it cost.
// Text is untrusted free text; callers must parse defensively.
type Response struct {
	Text             string
	PromptTokens     int64
	CompletionTokens int64
	CostUSD          float64
}

// Generator produces text from prompts. Implementations must be safe for
// concurrent use by multiple agents.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
