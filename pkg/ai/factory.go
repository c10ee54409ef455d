package ai

import (
	"context"
	"fmt"

	"supportdesk-backend/pkg/gemini"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"
	Model    string

	// Gemini config
	GeminiAPIKey  string
	GeminiBaseURL string

	// Ollama config
	OllamaBaseURL string // e.g., "http://localhost:11434"
	OllamaModel   string // e.g., "llama3", "mistral"
}

// Router picks a provider per request. Requests without a provider use the
// configured default.
type Router struct {
	defaultProvider ProviderType
	providers       map[ProviderType]Completer
}

// NewCompleter builds a Router from config.
// This is the factory function - switch AI provider by changing config.Provider
func NewCompleter(cfg Config) (*Router, error) {
	geminiCompleter := NewGeminiCompleter(gemini.NewGeminiService(cfg.GeminiBaseURL), cfg.GeminiAPIKey, cfg.Model)
	ollama := NewOllamaService(cfg.OllamaBaseURL, cfg.OllamaModel)

	r := &Router{
		defaultProvider: cfg.Provider,
		providers: map[ProviderType]Completer{
			ProviderGemini: geminiCompleter,
			ProviderOllama: ollama,
			ProviderAuto:   NewFallbackService(geminiCompleter, ollama),
		},
	}

	switch cfg.Provider {
	case ProviderGemini, ProviderOllama, ProviderAuto:
	case "":
		// Default to Gemini if API key is available, otherwise Ollama
		if cfg.GeminiAPIKey != "" {
			r.defaultProvider = ProviderGemini
		} else {
			r.defaultProvider = ProviderOllama
		}
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
	return r, nil
}

func (r *Router) Complete(ctx context.Context, req Request) (string, error) {
	provider := req.Provider
	if provider == "" {
		provider = r.defaultProvider
	}
	c, ok := r.providers[provider]
	if !ok {
		return "", &ProviderError{Provider: provider, StatusCode: 400, Body: "unknown provider"}
	}
	return c.Complete(ctx, req)
}
