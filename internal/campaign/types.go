package campaign

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a campaign email record. Transitions only
// move forward from PENDING; a status may be re-asserted, which bumps
// RetryCount.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusSent                Status = "SENT"
	StatusPartiallySent       Status = "PARTIALLY_SENT"
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusFailed              Status = "FAILED"
)

// EventType classifies a tracking event.
type EventType string

const (
	EventSend       EventType = "Send"
	EventOpen       EventType = "Open"
	EventClick      EventType = "Click"
	EventUnverified EventType = "Unverified"
	EventFailed     EventType = "Failed"
)

const (
	// EmailIDMain is the sort key of the canonical record for a drip
	// campaign; per-step sends use generated email ids.
	EmailIDMain    = "email#main"
	EmailIDRegular = "email#regular"

	CampaignTypeDrip = "drip"

	campaignPrefix = "campaign#"
	emailPrefix    = "email#"
)

// Drip step names. A drip config maps these to per-step content.
const (
	StepInitial  = "email1"
	StepOpened   = "emailA"
	StepUnopened = "emailB"
)

// DripStep holds the content for one step of a drip sequence.
type DripStep struct {
	Subject string `dynamodbav:"subject" json:"subject"`
	Body    string `dynamodbav:"body" json:"body"`
}

// Campaign is one email record in the campaign table, keyed by
// (campaign_id, email_id).
type Campaign struct {
	CampaignID         string              `dynamodbav:"campaign_id" json:"campaign_id"`
	EmailID            string              `dynamodbav:"email_id" json:"email_id"`
	Subject            string              `dynamodbav:"subject,omitempty" json:"subject,omitempty"`
	Body               string              `dynamodbav:"body,omitempty" json:"body,omitempty"`
	Recipients         []string            `dynamodbav:"recipients,omitempty" json:"recipients,omitempty"`
	Status             Status              `dynamodbav:"status,omitempty" json:"status,omitempty"`
	RetryCount         int                 `dynamodbav:"retry_count,omitempty" json:"retry_count,omitempty"`
	MessageID          string              `dynamodbav:"message_id,omitempty" json:"message_id,omitempty"`
	UnverifiedEmails   []string            `dynamodbav:"unverified_emails,omitempty" json:"unverified_emails,omitempty"`
	CampaignType       string              `dynamodbav:"campaign_type,omitempty" json:"campaign_type,omitempty"`
	DripConfig         map[string]DripStep `dynamodbav:"drip_config,omitempty" json:"drip_config,omitempty"`
	OriginalCampaignID string              `dynamodbav:"original_campaign_id,omitempty" json:"original_campaign_id,omitempty"`
	Timestamp          string              `dynamodbav:"timestamp,omitempty" json:"timestamp,omitempty"`
}

// IsDrip reports whether this record belongs to a drip campaign.
func (c *Campaign) IsDrip() bool {
	return c.CampaignType == CampaignTypeDrip
}

// TrackingEvent is one append-only row in the tracking table, keyed by
// message_id. Send/Unverified/Failed events are written by the dispatcher;
// Open/Click events arrive from the tracking endpoint and are only read here.
type TrackingEvent struct {
	MessageID        string    `dynamodbav:"message_id" json:"message_id"`
	SESMessageID     string    `dynamodbav:"ses_message_id,omitempty" json:"ses_message_id,omitempty"`
	CampaignID       string    `dynamodbav:"campaign_id" json:"campaign_id"`
	EventType        EventType `dynamodbav:"event_type" json:"event_type"`
	Timestamp        string    `dynamodbav:"timestamp" json:"timestamp"`
	Recipients       []string  `dynamodbav:"recipients,omitempty" json:"recipients,omitempty"`
	RecipientPrimary string    `dynamodbav:"recipient_primary,omitempty" json:"recipient_primary,omitempty"`
	RawEvent         string    `dynamodbav:"raw_event,omitempty" json:"raw_event,omitempty"`
	ErrorMessage     string    `dynamodbav:"error_message,omitempty" json:"error_message,omitempty"`
	VerificationSent bool      `dynamodbav:"verification_sent,omitempty" json:"verification_sent,omitempty"`
}

// NewCampaignID returns a fresh campaign id in the wire format
// "campaign#<short-uuid>".
func NewCampaignID() string {
	return campaignPrefix + uuid.NewString()[:8]
}

// NewEmailID returns a fresh email id in the wire format "email#<short-uuid>".
func NewEmailID() string {
	return emailPrefix + uuid.NewString()[:8]
}

// NewMessageID returns a fresh per-recipient message id ("msg-<uuid>").
func NewMessageID() string {
	return "msg-" + uuid.NewString()
}

// NormalizeCampaignID ensures the "campaign#" prefix callers may omit on
// external triggers.
func NormalizeCampaignID(id string) string {
	if strings.HasPrefix(id, campaignPrefix) {
		return id
	}
	return campaignPrefix + id
}

// HasCampaignPrefix reports whether the id is in the internal
// "campaign#..." form.
func HasCampaignPrefix(id string) bool {
	return strings.HasPrefix(id, campaignPrefix)
}

// StripCampaignPrefix returns the bare id used in tracking URLs and
// template data.
func StripCampaignPrefix(id string) string {
	return strings.TrimPrefix(id, campaignPrefix)
}

// Now returns the timestamp format stored on campaign and tracking records.
func Now() string {
	return time.Now().Format(time.RFC3339)
}
