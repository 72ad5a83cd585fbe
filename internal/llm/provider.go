package llm

import (
	"os"
	"strings"
)

// Provider identifies a completion provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ParseModelString parses a model string into provider and model name.
//
// Supported formats:
//
//	"openai/gpt-4o"            → (openai, "gpt-4o")
//	"anthropic/claude-sonnet"  → (anthropic, "claude-sonnet")
//	"claude-sonnet-4-20250514" → (anthropic, "claude-sonnet-4-20250514")
//	"deepseek-chat"            → (openai, "deepseek-chat")
func ParseModelString(model string) (Provider, string) {
	if i := strings.Index(model, "/"); i > 0 {
		prefix := strings.ToLower(model[:i])
		name := model[i+1:]
		switch prefix {
		case "openai":
			return ProviderOpenAI, name
		case "anthropic":
			return ProviderAnthropic, name
		}
	}

	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return ProviderAnthropic, model
	}

	// Anything else speaks the OpenAI-compatible wire format.
	return ProviderOpenAI, model
}

// NewClientForModel creates the appropriate completion client for the model
// string. baseURL and apiKey configure OpenAI-compatible endpoints; Anthropic
// models use apiKey or fall back to ANTHROPIC_API_KEY.
func NewClientForModel(model, baseURL, apiKey string, opts ...OpenAIOption) (Client, string) {
	provider, modelName := ParseModelString(model)

	switch provider {
	case ProviderAnthropic:
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey != "" {
			return NewAnthropicClientWithKey(apiKey), modelName
		}
		return NewAnthropicClient(), modelName

	default:
		if baseURL != "" {
			return NewOpenAICompatibleClient(baseURL, apiKey, opts...), modelName
		}
		return NewOpenAIClient(apiKey, opts...), modelName
	}
}
