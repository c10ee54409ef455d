// Package token caches provider access tokens and refreshes them on demand.
package token

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"supportdesk-backend/internal/queue/domain"
)

const (
	// expirySkew keeps a token from being presented in its final seconds
	expirySkew       = 30 * time.Second
	defaultLifetime  = time.Hour
	exchangeDeadline = 30 * time.Second
)

// Source performs the provider's token exchange
type Source interface {
	ExchangeToken(ctx context.Context) (*oauth2.Token, error)
}

// Provider describes how to obtain and recognize a rejected token
type Provider struct {
	Source Source
	// IsUnauthorized reports a provider 401 in an error returned by a call
	IsUnauthorized func(error) bool
}

// Manager hands out valid tokens per provider. Concurrent refreshes for the
// same provider share one exchange.
type Manager struct {
	store     Store
	mu        sync.RWMutex
	providers map[string]Provider
	group     singleflight.Group
	now       func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{
		store:     store,
		providers: make(map[string]Provider),
		now:       time.Now,
	}
}

func (m *Manager) Register(name string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[name] = p
}

func (m *Manager) provider(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("token provider %q is not registered", name)
	}
	return p, nil
}

func (m *Manager) usable(tok *ExternalToken) bool {
	return tok != nil && tok.AccessToken != "" && m.now().Before(tok.ExpiresAt.Add(-expirySkew))
}

// GetToken returns a cached token or exchanges a new one
func (m *Manager) GetToken(ctx context.Context, provider string) (string, error) {
	p, err := m.provider(provider)
	if err != nil {
		return "", err
	}

	cached, err := m.store.Get(ctx, provider)
	if err != nil {
		log.Printf("[TokenManager] Cache read for %s failed, exchanging: %v", provider, err)
	} else if m.usable(cached) {
		return cached.AccessToken, nil
	}

	return m.exchange(ctx, provider, p)
}

func (m *Manager) exchange(ctx context.Context, provider string, p Provider) (string, error) {
	v, err, _ := m.group.Do(provider, func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the cache
		if cached, err := m.store.Get(ctx, provider); err == nil && m.usable(cached) {
			return cached.AccessToken, nil
		}

		// Shared by every waiter, so it must not die with the first caller
		exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exchangeDeadline)
		defer cancel()

		tok, err := p.Source.ExchangeToken(exCtx)
		if err != nil {
			if p.IsUnauthorized != nil && p.IsUnauthorized(err) {
				return nil, &domain.AuthError{Provider: provider, Err: err}
			}
			return nil, fmt.Errorf("%s token exchange: %w", provider, err)
		}

		expires := tok.Expiry
		if expires.IsZero() {
			expires = m.now().Add(defaultLifetime)
		}
		record := &ExternalToken{
			Provider:    provider,
			AccessToken: tok.AccessToken,
			ExpiresAt:   expires.UTC(),
			UpdatedAt:   m.now().UTC(),
		}
		if err := m.store.Put(exCtx, record); err != nil {
			log.Printf("[TokenManager] Failed to cache %s token: %v", provider, err)
		}
		log.Printf("[TokenManager] Exchanged new %s token, expires %s", provider, record.ExpiresAt.Format(time.RFC3339))
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call exchanges
func (m *Manager) Invalidate(ctx context.Context, provider string) error {
	return m.store.Delete(ctx, provider)
}

// invalidateStale drops the cached token only if it is still the one that
// was rejected, so a token refreshed by a concurrent caller survives.
func (m *Manager) invalidateStale(ctx context.Context, provider, stale string) error {
	cached, err := m.store.Get(ctx, provider)
	if err != nil {
		return err
	}
	if cached == nil || cached.AccessToken != stale {
		return nil
	}
	return m.store.Delete(ctx, provider)
}

// Do runs fn with a valid token. If the provider rejects it, the token is
// refreshed once and fn is retried; a second rejection is an AuthError.
func (m *Manager) Do(ctx context.Context, provider string, fn func(ctx context.Context, accessToken string) error) error {
	p, err := m.provider(provider)
	if err != nil {
		return err
	}

	tok, err := m.GetToken(ctx, provider)
	if err != nil {
		return err
	}
	err = fn(ctx, tok)
	if err == nil || p.IsUnauthorized == nil || !p.IsUnauthorized(err) {
		return err
	}

	log.Printf("[TokenManager] %s rejected the cached token, refreshing", provider)
	if ierr := m.invalidateStale(ctx, provider, tok); ierr != nil {
		log.Printf("[TokenManager] Failed to invalidate %s token: %v", provider, ierr)
	}

	fresh, err := m.exchange(ctx, provider, p)
	if err != nil {
		return err
	}
	err = fn(ctx, fresh)
	if err != nil && p.IsUnauthorized(err) {
		return &domain.AuthError{Provider: provider, Err: err}
	}
	return err
}
