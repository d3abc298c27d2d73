package model

import "strings"

type EventType string

const (
	EventManual   EventType = "manual"
	EventCampaign EventType = "campaign"
	EventWebhook  EventType = "webhook"
)

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	return t == EventManual || t == EventCampaign || t == EventWebhook
}

// ParseEventType normalizes input; empty => manual.
// Returns (value, true) if valid; otherwise (manual, false).
func ParseEventType(s string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "manual":
		return EventManual, true
	case "campaign":
		return EventCampaign, true
	case "webhook":
		return EventWebhook, true
	default:
		return EventManual, false
	}
}

// SendRequest is the ephemeral payload carried on the queue. It exists only
// until a terminal outcome for the send is recorded in the delivery log.
type SendRequest struct {
	Phone      string    `json:"phone"`
	Message    string    `json:"message"`
	EventType  EventType `json:"event_type"`
	CampaignID string    `json:"campaign_id,omitempty"`
}
