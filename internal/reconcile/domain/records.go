package domain

import (
	"time"
)

// Kind names a reconciled entity
type Kind string

const (
	KindCustomer Kind = "customer"
	KindOrder    Kind = "order"
	KindReturn   Kind = "return"
	KindCall     Kind = "call"
)

// NaturalKey identifies a row by its business key columns
type NaturalKey map[string]any

// Attrs holds the sync-owned columns to write
type Attrs map[string]any

type UpsertResult struct {
	ID      string
	Created bool
}

// CustomerRecord is a customer as reported by a provider
type CustomerRecord struct {
	Email string `validate:"required,email"`
	Name  string `validate:"max=255"`
	Phone string `validate:"max=32"`
}

type OrderRecord struct {
	OrderNumber     string `validate:"required,max=64"`
	CustomerID      *string
	ProviderOrderID string  `validate:"max=64"`
	TotalAmount     float64 `validate:"gte=0"`
	Currency        string  `validate:"omitempty,len=3"`
	ProviderStatus  string  `validate:"max=32"`
	OrderedAt       *time.Time
}

type ReturnRecord struct {
	OrderID        string  `validate:"required"`
	Source         string  `validate:"required,max=32"`
	Reason         string  `validate:"max=4000"`
	RefundAmount   float64 `validate:"gte=0"`
	ProviderStatus string  `validate:"max=32"`
	RequestedAt    *time.Time
}

type CallRecord struct {
	ProviderCallID  string `validate:"required,max=64"`
	CustomerID      *string
	PhoneNumber     string `validate:"max=32"`
	Direction       string `validate:"omitempty,oneof=inbound outbound internal"`
	Disposition     string `validate:"max=32"`
	Missed          bool
	Status          CallStatus `validate:"required,oneof=COMPLETED NO_ANSWER FAILED"`
	DurationSeconds int        `validate:"gte=0"`
	StartedAt       time.Time  `validate:"required"`
	RecordingURL    string     `validate:"omitempty,url"`
}
