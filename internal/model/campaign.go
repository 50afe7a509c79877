// internal/model/campaign.go
package model

import "time"

// Channel is one of the two hard-wired outbound transports.
type Channel string

const (
	ChannelChat Channel = "CHAT"
	ChannelSMS  Channel = "SMS"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelChat, ChannelSMS}

func (c Channel) Valid() bool {
	return c == ChannelChat || c == ChannelSMS
}

type CampaignStatus string

const (
	CampaignPending   CampaignStatus = "PENDING"
	CampaignQueued    CampaignStatus = "QUEUED"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignSending   CampaignStatus = "SENDING"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
)

// Requeueable reports whether an administrative re-queue may move the
// campaign back to QUEUED.
func (s CampaignStatus) Requeueable() bool {
	switch s {
	case CampaignPending, CampaignQueued, CampaignScheduled, CampaignFailed:
		return true
	}
	return false
}

type Campaign struct {
	ID       string         `db:"id" json:"id"`
	TenantID string         `db:"tenant_id" json:"tenant_id"`
	Name     string         `db:"name" json:"name"`
	Channel  Channel        `db:"channel" json:"channel"`
	Status   CampaignStatus `db:"status" json:"status"`
	ListIDs  []string       `db:"list_ids" json:"list_ids"`

	// SMS body, or the fallback text for the chat channel.
	Body string `db:"body" json:"body,omitempty"`

	// Chat channel only.
	TemplateID   string            `db:"template_id" json:"template_id,omitempty"`
	TemplateVars map[string]string `db:"template_vars" json:"template_vars,omitempty"`
	MediaURL     string            `db:"media_url" json:"media_url,omitempty"`

	// SMS only.
	GatewayID string `db:"gateway_id" json:"gateway_id,omitempty"`

	ScheduledAt      *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt           *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ClaimedAt        *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	DispatchAttempts int        `db:"dispatch_attempts" json:"dispatch_attempts"`
	LastError        string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// RetryStatus is the status a failed dispatch rolls back to. Scheduled
// campaigns keep their due time, so the next pass picks them up again.
func (c *Campaign) RetryStatus() CampaignStatus {
	if c.ScheduledAt != nil {
		return CampaignScheduled
	}
	return CampaignQueued
}
