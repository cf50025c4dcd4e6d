// Package llm defines the completion and embedding contract used by the
// pipeline stages and its Gemini implementation. Callers never talk to a
// model SDK directly: they send messages through a Client and get back text
// plus token usage, which keeps the generator, the enrichment calls and the
// discovery prompts swappable and testable offline.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Message roles. Gemini has no native assistant role, the client maps
// RoleAssistant to its "model" role and RoleSystem to a system instruction.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse is returned when the backend answered without content.
var ErrEmptyResponse = errors.New("empty response from model")

// Message is one turn of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting a backend reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Completion is the result of one completion call.
type Completion struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Model   string `json:"model"` // Model that actually served the call
}

// Options tunes a single completion call.
type Options struct {
	Temperature float32 // 0 means backend default
	MaxTokens   int32   // 0 means backend default
	JSON        bool    // Request a strict JSON response where the backend supports it
}

// Client is the completion and embedding backend contract.
type Client interface {
	// Complete sends the conversation and returns the model's reply with
	// token usage.
	Complete(ctx context.Context, messages []Message, opts Options) (Completion, error)
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	// ModelName identifies the completion model for cost accounting.
	ModelName() string
}

// UserMessage is shorthand for a single-turn user prompt.
func UserMessage(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}

// modelRates maps a model name to USD per million prompt/completion tokens.
// Unknown models fall back to the flash rates so cost reporting never
// silently reads zero.
var modelRates = map[string][2]float64{
	"gemini-2.5-flash":      {0.30, 2.50},
	"gemini-2.5-flash-lite": {0.10, 0.40},
	"gemini-2.5-pro":        {1.25, 10.00},
	"text-embedding-004":    {0.15, 0},
}

var defaultRates = [2]float64{0.30, 2.50}

// CostUSD estimates the dollar cost of the given usage for a model.
func CostUSD(model string, usage Usage) float64 {
	rates, ok := modelRates[model]
	if !ok {
		rates = defaultRates
	}
	cost := float64(usage.PromptTokens)/1e6*rates[0] + float64(usage.CompletionTokens)/1e6*rates[1]
	// Round to the cent's thousandth to keep summaries stable.
	return math.Round(cost*1e5) / 1e5
}

// EstimateTokens approximates a token count from text length, roughly four
// characters per token. Used when a backend reports no usage.
func EstimateTokens(prompt, completion string) int {
	return (len(prompt) + len(completion)) / 4
}

// ValidateMessages rejects requests the backends cannot serve.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return fmt.Errorf("no messages to send")
	}
	for i, m := range messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return fmt.Errorf("message %d has unknown role %q", i, m.Role)
		}
		if m.Content == "" {
			return fmt.Errorf("message %d has empty content", i)
		}
	}
	return nil
}
