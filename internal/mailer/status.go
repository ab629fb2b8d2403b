package mailer

import (
	"context"
	"log"

	"github.com/oachxalach/campaign-engine/internal/campaign"
)

// CampaignUpdater persists status transitions on campaign email records.
type CampaignUpdater interface {
	UpdateEmailStatus(ctx context.Context, campaignID, emailID string, status campaign.Status, messageID string, unverified []string) (bool, error)
}

// ResolveStatus maps a send outcome onto the campaign status state machine.
// Unverified recipients take precedence over partial failure: the campaign
// stays actionable (addresses can still be verified and resent) rather than
// being written off as partially sent.
func ResolveStatus(outcome SendOutcome) campaign.Status {
	switch {
	case len(outcome.Failed) == 0 && len(outcome.Unverified) == 0 && outcome.Success:
		return campaign.StatusSent
	case len(outcome.Unverified) > 0:
		return campaign.StatusPendingVerification
	case !outcome.Success:
		return campaign.StatusFailed
	default:
		return campaign.StatusPartiallySent
	}
}

// Reconciler folds send outcomes into durable campaign state.
type Reconciler struct {
	campaigns CampaignUpdater
}

// NewReconciler creates a reconciler over a campaign store.
func NewReconciler(campaigns CampaignUpdater) *Reconciler {
	return &Reconciler{campaigns: campaigns}
}

// Apply resolves the outcome's status and persists it. Returns false when
// the target record does not exist; the caller decides whether that
// matters.
func (r *Reconciler) Apply(ctx context.Context, campaignID, emailID string, outcome SendOutcome) bool {
	status := ResolveStatus(outcome)

	var messageID string
	if status == campaign.StatusSent && len(outcome.MessageIDs) > 0 {
		messageID = outcome.MessageIDs[0]
	}

	var unverified []string
	if status == campaign.StatusPendingVerification {
		unverified = outcome.Unverified
	}

	ok, err := r.campaigns.UpdateEmailStatus(ctx, campaignID, emailID, status, messageID, unverified)
	if err != nil {
		log.Printf("[mailer] status update for %s/%s failed: %v", campaignID, emailID, err)
		return false
	}
	return ok
}
