// Package llm defines the completion client abstraction for the chatgate runtime.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role represents a message sender role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TokenUsage tracks token consumption for a single completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the sum of all token fields.
func (u TokenUsage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// ChatRequest contains parameters for a completion call.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse contains the service's reply to a chat request.
type ChatResponse struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`

	// UsageReported is true when the service returned an exact completion
	// token count. When false, callers should fall back to Estimate.
	UsageReported bool `json:"usage_reported"`
}

// Client is the interface for remote completion interactions.
type Client interface {
	// Chat sends a request and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ErrMalformed indicates the remote call succeeded but the payload lacked
// the expected fields (e.g. an empty choices list).
var ErrMalformed = errors.New("llm: malformed response payload")

// APIError is returned when the remote service responds with a non-2xx
// status. Status and body are preserved for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Body)
}
