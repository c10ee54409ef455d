package commerce

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		id, secret, _ := r.BasicAuth()
		if id != "cid" || secret != "csecret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "true", r.URL.Query().Get("refund_requested"))
		assert.Equal(t, "2025-01-02T03:04:05Z", r.URL.Query().Get("updated_since"))
		if r.URL.Query().Get("cursor") == "" {
			_, _ = w.Write([]byte(`{"orders":[{"id":"o-1","number":"12345","customer":{"email":"a@example.com"},"refund":{"reason":"damaged","amount":10.5}}],"next_cursor":"c2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"orders":[],"next_cursor":""}`))
	})
	mux.HandleFunc("/orders/12345", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"o-1","number":"12345","status":"SHIPPED","total_amount":99.9,"currency":"TRY"}`))
	})
	mux.HandleFunc("/orders/500", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server, secret string) *Client {
	return NewClient(ClientOptions{
		BaseURL:           srv.URL,
		TokenURL:          srv.URL + "/oauth/token",
		ClientID:          "cid",
		ClientSecret:      secret,
		RequestsPerSecond: 1000,
		Burst:             10,
	})
}

func TestExchangeToken(t *testing.T) {
	srv := newTestServer(t)

	tok, err := newTestClient(srv, "csecret").ExchangeToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

	_, err = newTestClient(srv, "wrong").ExchangeToken(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListOrdersPaging(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(srv, "csecret")
	filter := OrderFilter{RefundRequested: true, UpdatedSince: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), PageSize: 50}

	page, err := c.ListOrders(context.Background(), "tok-1", filter, "")
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "12345", page.Orders[0].Number)
	require.NotNil(t, page.Orders[0].Refund)
	assert.Equal(t, "damaged", page.Orders[0].Refund.Reason)
	assert.Equal(t, "c2", page.NextCursor)

	page, err = c.ListOrders(context.Background(), "tok-1", filter, page.NextCursor)
	require.NoError(t, err)
	assert.Empty(t, page.Orders)
	assert.Empty(t, page.NextCursor)

	_, err = c.ListOrders(context.Background(), "stale", filter, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetOrder(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(srv, "csecret")

	order, err := c.GetOrder(context.Background(), "tok-1", "12345")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "SHIPPED", order.Status)

	order, err = c.GetOrder(context.Background(), "tok-1", "777")
	require.NoError(t, err)
	assert.Nil(t, order)

	_, err = c.GetOrder(context.Background(), "tok-1", "500")
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.True(t, serr.Temporary())
}

func TestStatusErrorClipsBody(t *testing.T) {
	err := &StatusError{StatusCode: http.StatusInternalServerError, Body: "x" + strings.Repeat("ş", 1<<20)}
	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Less(t, len(msg), 400)
}
