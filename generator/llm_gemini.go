package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiLLM implements LLMClient on the Google Gen AI SDK. The underlying
// client needs a context to construct, so it is created on first use.
type GeminiLLM struct {
	Model       string
	MaxTokens   int
	Temperature float64
	apiKey      string

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGeminiLLMFromConfig(cfg *LLMSettings) (*GeminiLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("google api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	return &GeminiLLM{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		apiKey:      cfg.APIKey,
	}, nil
}

func (g *GeminiLLM) init(ctx context.Context) error {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	return g.initErr
}

func (g *GeminiLLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if err := g.init(ctx); err != nil {
		return "", fmt.Errorf("failed to create Gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(prompt.History)+1)
	for _, h := range prompt.History {
		role := genai.Role(genai.RoleUser)
		if h.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt.User, genai.RoleUser))

	temp := float32(g.Temperature)
	config := &genai.GenerateContentConfig{Temperature: &temp}
	if prompt.System != "" {
		config.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
	}
	if g.MaxTokens > 0 {
		config.MaxOutputTokens = int32(g.MaxTokens)
	}

	result, err := g.client.Models.GenerateContent(ctx, g.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text == "" || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini: empty response content")
	}
	return sb.String(), nil
}
