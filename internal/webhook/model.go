package webhook

import (
	"encoding/json"
	"time"
)

const (
	StatusReceived  = "received"
	StatusProcessed = "processed"
	StatusFailed    = "failed"

	EventChargeSucceeded = "charge.succeeded"
	EventChargeRefunded  = "charge.refunded"
)

// Event is the idempotency record for one provider webhook delivery. The
// unique (provider, provider_event_id) pair is the replay guard; an insert
// conflict means the event was already seen and all side effects are skipped.
type Event struct {
	ID              int64      `db:"id" json:"id"`
	Provider        string     `db:"provider" json:"provider"`
	ProviderEventID string     `db:"provider_event_id" json:"provider_event_id"`
	Checksum        string     `db:"checksum" json:"checksum"`
	Status          string     `db:"status" json:"status"`
	ReceivedAt      time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt     *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Delivery is a verified webhook callback. Signature verification happens
// upstream; by the time a delivery reaches this package it is trusted.
type Delivery struct {
	Provider string          `json:"provider"`
	EventID  string          `json:"event_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// Result reports the outcome of ingesting one delivery.
type Result struct {
	RecordID         int64 `json:"record_id"`
	AlreadyProcessed bool  `json:"already_processed"`
}
