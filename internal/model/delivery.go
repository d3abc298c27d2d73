package model

import "time"

type DeliveryStatus string

const (
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) Valid() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// DeliveryLogEntry is one immutable row of the append-only delivery log.
// Every attempt gets its own row, including retries; the log is an attempt
// history, not a mutable per-request status. Callers wanting the terminal
// outcome read the most recent row for a reference.
type DeliveryLogEntry struct {
	ID               int64          `db:"id" json:"id"`
	Reference        string         `db:"reference" json:"reference"`
	Timestamp        time.Time      `db:"ts" json:"timestamp"`
	Phone            string         `db:"phone" json:"phone"`
	Message          string         `db:"message" json:"message"`
	Status           DeliveryStatus `db:"status" json:"status"`
	ProviderResponse string         `db:"provider_response" json:"provider_response"`
	EventType        EventType      `db:"event_type" json:"event_type"`
	CampaignID       string         `db:"campaign_id" json:"campaign_id,omitempty"`
}
