package generator

import "fmt"

// BuildLLM constructs the client for cfg.Provider.
func BuildLLM(cfg LLMSettings) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAILLMFromConfig(&cfg)
	case "groq":
		if cfg.BaseURL == "" {
			cfg.BaseURL = GroqBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = "llama-3.3-70b-versatile"
		}
		return NewOpenAILLMFromConfig(&cfg)
	case "deepseek":
		// DeepSeek speaks the OpenAI chat protocol.
		if cfg.BaseURL == "" {
			cfg.BaseURL = DeepSeekBaseURL
		}
		return NewOpenAILLMFromConfig(&cfg)
	case "anthropic":
		return NewAnthropicLLMFromConfig(&cfg)
	case "gemini":
		return NewGeminiLLMFromConfig(&cfg)
	case "mock":
		return MockLLM{CompleteAfter: 2}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}
