package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
)

// FallbackService tries the primary provider and moves to the secondary when
// the primary is unreachable or out of quota.
type FallbackService struct {
	primary   Completer
	secondary Completer
}

// NewFallbackService creates a new fallback service with both providers
func NewFallbackService(primary, secondary Completer) *FallbackService {
	return &FallbackService{
		primary:   primary,
		secondary: secondary,
	}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	connectionIndicators := []string{
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"eof",
	}
	for _, indicator := range connectionIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr.StatusCode == 429 {
		return true
	}

	errStr := strings.ToLower(err.Error())
	quotaIndicators := []string{
		"quota",
		"rate limit",
		"too many requests",
		"resource_exhausted",
	}
	for _, indicator := range quotaIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}

// IsTransient reports whether a completion error is worth retrying later.
// Provider 4xx answers other than 429 are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	if isConnectionError(err) || isQuotaError(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// Malformed or empty bodies from a provider are treated as glitches
	return true
}

func (f *FallbackService) Complete(ctx context.Context, req Request) (string, error) {
	if f.primary != nil {
		result, err := f.primary.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		if f.secondary == nil || !IsTransient(err) {
			return "", err
		}
		log.Printf("[AI] Primary provider failed: %v, falling back", err)
	}

	if f.secondary != nil {
		// Credentials and model belong to the primary provider
		req.APIKey = ""
		req.Model = ""
		result, err := f.secondary.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("fallback provider failed: %w", err)
		}
		return result, nil
	}

	return "", fmt.Errorf("no AI provider available")
}
