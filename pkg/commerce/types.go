package commerce

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const maxErrorBody = 300

// ErrUnauthorized means the provider rejected the access token
var ErrUnauthorized = errors.New("commerce: unauthorized")

// StatusError is any other non-2xx answer
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("commerce API error (%d): %s", e.StatusCode, clipBody(e.Body, maxErrorBody))
}

// Temporary reports whether the request may succeed if repeated
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Refund struct {
	Reason      string    `json:"reason"`
	Amount      float64   `json:"amount"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requested_at"`
}

type Order struct {
	ID          string    `json:"id"`
	Number      string    `json:"number"`
	Customer    Customer  `json:"customer"`
	TotalAmount float64   `json:"total_amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	OrderedAt   time.Time `json:"ordered_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Refund      *Refund   `json:"refund,omitempty"`
}

// OrderFilter narrows ListOrders
type OrderFilter struct {
	RefundRequested bool
	UpdatedSince    time.Time
	PageSize        int
}

// OrderPage is one page of orders. NextCursor is empty on the last page.
type OrderPage struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor"`
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
