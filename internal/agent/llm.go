// Package agent implements the practice assistant chat pipeline: LLM
// clients, conversation history, guardrails, and the async job worker.
package agent

import "context"

// ChatRole identifies who authored a chat message.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is a single turn in an LLM conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// TokenUsage reports token counts for a completion.
type TokenUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
	TotalTokens  int32 `json:"total_tokens"`
}

// LLMRequest is a provider-agnostic completion request.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMResponse is the completion returned by a provider.
type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient generates completions. Implementations wrap a specific
// provider (Bedrock, Gemini) or compose others (fallback chains).
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
