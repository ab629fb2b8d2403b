// Package engage decides which recipients genuinely opened a campaign
// email, filtering out automated link-prefetch opens.
package engage

import (
	"context"
	"encoding/json"
	"log"

	"github.com/oachxalach/campaign-engine/internal/campaign"
)

// TrackingReader is the slice of the tracking store the classifier needs.
type TrackingReader interface {
	QueryEvents(ctx context.Context, campaignID string, eventType campaign.EventType) ([]campaign.TrackingEvent, error)
}

// Verdict is the classification of a single Open event's payload.
type Verdict int

const (
	// VerdictHuman: payload carries verified_human=true.
	VerdictHuman Verdict = iota
	// VerdictAutomated: payload parsed but the flag is false or absent;
	// treated as bot/prefetch traffic.
	VerdictAutomated
	// VerdictUnknown: payload missing or unparseable. Counted as a real
	// open so that senders that never attached the flag keep working.
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictHuman:
		return "verified human"
	case VerdictAutomated:
		return "automated prefetch"
	default:
		return "unknown payload"
	}
}

// Counts reports whether an event with this verdict counts as an open.
func (v Verdict) Counts() bool {
	return v == VerdictHuman || v == VerdictUnknown
}

// Classifier derives the opened-recipient set for a campaign from its Open
// tracking events.
type Classifier struct {
	tracking TrackingReader
}

// NewClassifier creates a classifier over a tracking store.
func NewClassifier(tracking TrackingReader) *Classifier {
	return &Classifier{tracking: tracking}
}

// ClassifyOpens returns the set of recipients with at least one Open event
// that counts (verified human, or legacy events without the flag payload).
func (c *Classifier) ClassifyOpens(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	events, err := c.tracking.QueryEvents(ctx, campaignID, campaign.EventOpen)
	if err != nil {
		return nil, err
	}

	opened := make(map[string]struct{})
	for _, evt := range events {
		verdict := classifyPayload(evt.RawEvent)
		if verdict.Counts() {
			for _, r := range evt.Recipients {
				opened[r] = struct{}{}
			}
			log.Printf("[engage] counting open (%s): %v", verdict, evt.Recipients)
		} else {
			log.Printf("[engage] skipping open (%s): %v", verdict, evt.Recipients)
		}
	}
	return opened, nil
}

// classifyPayload evaluates the raw_event payload attached to an Open
// event. Events written before the flag existed carry no payload and
// land in VerdictUnknown.
func classifyPayload(raw string) Verdict {
	if raw == "" {
		return VerdictUnknown
	}

	var payload struct {
		VerifiedHuman bool `json:"verified_human"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return VerdictUnknown
	}
	if payload.VerifiedHuman {
		return VerdictHuman
	}
	return VerdictAutomated
}
