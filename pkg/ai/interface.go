package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

const maxErrorBody = 300

// Request is a single completion call. Empty fields fall back to the
// completer's configured defaults.
type Request struct {
	Provider    ProviderType
	Prompt      string
	Model       string
	APIKey      string
	Temperature float64
}

// Completer turns a prompt into text
// Implement this interface to add new AI providers (Gemini, Ollama, OpenAI, etc.)
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderAuto   ProviderType = "auto"
)

// ProviderError is a non-2xx answer from a completion provider
type ProviderError struct {
	Provider   ProviderType
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, clipBody(e.Body, maxErrorBody))
}

// Retryable reports whether the provider may succeed later (rate limit or 5xx)
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// clipBody keeps at most limit bytes of a provider body without splitting a rune
func clipBody(body string, limit int) string {
	body = strings.ToValidUTF8(body, "\uFFFD")
	if len(body) <= limit {
		return body
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
