// Package cdr reads call detail records from the telephony provider.
package cdr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

const maxErrorBody = 300

// Record is one call as reported by the PBX
type Record struct {
	ID           string    `json:"id"`
	Caller       string    `json:"caller"`
	Callee       string    `json:"callee"`
	Direction    string    `json:"direction"`
	Disposition  string    `json:"disposition"`
	Missed       bool      `json:"missed"`
	Duration     int       `json:"duration"`
	StartedAt    time.Time `json:"started_at"`
	RecordingURL string    `json:"recording_url"`
}

// StatusError is a non-2xx answer from the CDR API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cdr API error (%d): %s", e.StatusCode, clipBody(e.Body, maxErrorBody))
}

// Temporary reports whether the request may succeed if repeated
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type ClientOptions struct {
	BaseURL           string
	APIKey            string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	// MaxPages bounds a single ListCalls walk
	MaxPages int
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxPages   int
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxPages:   maxPages,
	}
}

type callsPage struct {
	Calls    []Record `json:"calls"`
	NextPage int      `json:"next_page"`
}

// ListCalls returns every record that started within [from, to)
func (c *Client) ListCalls(ctx context.Context, from, to time.Time) ([]Record, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("cdr base URL is not configured")
	}

	var records []Record
	page := 1
	for i := 0; i < c.maxPages; i++ {
		p, err := c.fetchPage(ctx, from, to, page)
		if err != nil {
			return nil, err
		}
		records = append(records, p.Calls...)
		if p.NextPage <= page {
			return records, nil
		}
		page = p.NextPage
	}
	return nil, fmt.Errorf("cdr listing exceeded %d pages", c.maxPages)
}

func (c *Client) fetchPage(ctx context.Context, from, to time.Time, page int) (*callsPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/calls?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cdr request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var p callsPage
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &p, nil
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
