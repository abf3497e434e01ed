package generator

import "context"

// LLMClient abstracts the model so providers can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings is the provider-independent client configuration.
type LLMSettings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// LLMFunc adapts a plain function to LLMClient.
type LLMFunc func(ctx context.Context, prompt Prompt) (string, error)

func (f LLMFunc) Complete(ctx context.Context, prompt Prompt) (string, error) {
	return f(ctx, prompt)
}
