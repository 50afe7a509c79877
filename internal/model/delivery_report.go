// internal/model/delivery_report.go
package model

import "time"

type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryRead      DeliveryStatus = "READ"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// rank orders the non-terminal statuses. FAILED is handled separately.
var rank = map[DeliveryStatus]int{
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

func (s DeliveryStatus) Valid() bool {
	_, ok := rank[s]
	return ok || s == DeliveryFailed
}

// ValidFor reports whether a channel's provider can emit the status.
// Only the chat channel knows about delivery and read receipts.
func (s DeliveryStatus) ValidFor(ch Channel) bool {
	if !s.Valid() {
		return false
	}
	if ch == ChannelSMS {
		return s == DeliverySent || s == DeliveryFailed
	}
	return true
}

// CanAdvanceTo implements the monotonic rule: SENT -> DELIVERED -> READ,
// FAILED reachable from anything but itself, nothing leaves FAILED.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == DeliveryFailed {
		return false
	}
	if next == DeliveryFailed {
		return true
	}
	cur, ok := rank[s]
	if !ok {
		return false
	}
	n, ok := rank[next]
	return ok && n > cur
}

type DeliveryReport struct {
	ID                string         `db:"id" json:"id"`
	CampaignID        string         `db:"campaign_id" json:"campaign_id"`
	ContactID         string         `db:"contact_id" json:"contact_id"`
	ListID            string         `db:"list_id" json:"list_id,omitempty"`
	Channel           Channel        `db:"channel" json:"channel"`
	Status            DeliveryStatus `db:"status" json:"status"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	FailureReason     *string        `db:"failure_reason" json:"failure_reason,omitempty"`
	SentAt            time.Time      `db:"sent_at" json:"sent_at"`
	DeliveredAt       *time.Time     `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time     `db:"read_at" json:"read_at,omitempty"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// StatusEvent is an asynchronous provider acknowledgement after it has been
// normalised by a webhook adapter.
type StatusEvent struct {
	Channel           Channel        `json:"channel"`
	ProviderMessageID string         `json:"provider_message_id"`
	Status            DeliveryStatus `json:"status"`
	Timestamp         time.Time      `json:"timestamp"`
	Reason            string         `json:"reason,omitempty"`
}
