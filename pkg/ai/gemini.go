package ai

import (
	"context"
	"errors"
	"fmt"

	"supportdesk-backend/pkg/gemini"
)

// GeminiCompleter adapts the Gemini client to Completer
type GeminiCompleter struct {
	client *gemini.GeminiService
	apiKey string
	model  string
}

func NewGeminiCompleter(client *gemini.GeminiService, apiKey, model string) *GeminiCompleter {
	return &GeminiCompleter{client: client, apiKey: apiKey, model: model}
}

func (g *GeminiCompleter) Complete(ctx context.Context, req Request) (string, error) {
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = g.apiKey
	}
	if apiKey == "" {
		return "", &ProviderError{Provider: ProviderGemini, StatusCode: 401, Body: "no API key configured"}
	}
	model := req.Model
	if model == "" {
		model = g.model
	}

	text, err := g.client.GenerateContent(ctx, apiKey, model, req.Prompt, req.Temperature)
	if err != nil {
		var apiErr *gemini.APIError
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: ProviderGemini, StatusCode: apiErr.StatusCode, Body: apiErr.Body}
		}
		return "", fmt.Errorf("gemini: %w", err)
	}
	return text, nil
}
