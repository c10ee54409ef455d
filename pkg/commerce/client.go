package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

type ClientOptions struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
	HTTPClient   *http.Client
	// RequestsPerSecond throttles calls to the provider; zero means 5/s
	RequestsPerSecond float64
	Burst             int
}

// Client talks to the commerce provider's order API
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      *clientcredentials.Config
	limiter    *rate.Limiter
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		creds: &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ExchangeToken runs the client-credentials grant. A rejected client is
// reported as ErrUnauthorized.
func (c *Client) ExchangeToken(ctx context.Context) (*oauth2.Token, error) {
	if c.creds.TokenURL == "" || c.creds.ClientID == "" {
		return nil, fmt.Errorf("commerce credentials are not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.creds.Token(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			switch code := rerr.Response.StatusCode; {
			case code == http.StatusUnauthorized || code == http.StatusBadRequest || code == http.StatusForbidden:
				return nil, fmt.Errorf("%w: token exchange rejected (%d)", ErrUnauthorized, code)
			default:
				return nil, &StatusError{StatusCode: code, Body: string(rerr.Body)}
			}
		}
		return nil, fmt.Errorf("commerce token exchange: %w", err)
	}
	return tok, nil
}

// ListOrders fetches one page of orders matching filter
func (c *Client) ListOrders(ctx context.Context, accessToken string, filter OrderFilter, cursor string) (*OrderPage, error) {
	q := url.Values{}
	if filter.RefundRequested {
		q.Set("refund_requested", "true")
	}
	if !filter.UpdatedSince.IsZero() {
		q.Set("updated_since", filter.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if filter.PageSize > 0 {
		q.Set("limit", strconv.Itoa(filter.PageSize))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var page OrderPage
	if _, err := c.get(ctx, accessToken, "/orders?"+q.Encode(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetOrder looks an order up by its customer-facing number. Returns nil when
// the provider does not know it.
func (c *Client) GetOrder(ctx context.Context, accessToken, number string) (*Order, error) {
	var order Order
	found, err := c.get(ctx, accessToken, "/orders/"+url.PathEscape(number), &order)
	if err != nil || !found {
		return nil, err
	}
	return &order, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, out any) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("commerce base URL is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("commerce request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return true, nil
}
