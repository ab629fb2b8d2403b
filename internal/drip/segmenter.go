// Package drip orchestrates engagement-keyed follow-up sends for drip
// campaigns.
package drip

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/oachxalach/campaign-engine/internal/campaign"
)

// CampaignReader loads campaign records.
type CampaignReader interface {
	GetEmail(ctx context.Context, campaignID, emailID string) (*campaign.Campaign, error)
}

// OpenClassifier derives the genuinely-opened recipient set.
type OpenClassifier interface {
	ClassifyOpens(ctx context.Context, campaignID string) (map[string]struct{}, error)
}

// Publisher enqueues send-request messages.
type Publisher interface {
	SendBatch(ctx context.Context, bodies [][]byte) error
}

// Result summarizes one follow-up pass.
type Result struct {
	Skipped        bool `json:"skipped,omitempty"`
	SentToOpened   int  `json:"sent_to_opened"`
	SentToUnopened int  `json:"sent_to_unopened"`
}

// followUpMessage is the queue body for one segment's send request.
type followUpMessage struct {
	CampaignID string   `json:"campaign_id"`
	EmailStep  string   `json:"email_step"`
	Recipients []string `json:"recipients"`
	FromEmail  string   `json:"from_email"`
}

// Segmenter splits a drip campaign's recipients by real engagement and
// enqueues the configured follow-up step for each segment.
type Segmenter struct {
	campaigns   CampaignReader
	classifier  OpenClassifier
	queue       Publisher
	settleDelay time.Duration
	fromEmail   string

	// wait is swapped in tests to avoid the real settle delay.
	wait func(ctx context.Context, d time.Duration)
}

// NewSegmenter creates a drip segmenter.
func NewSegmenter(campaigns CampaignReader, classifier OpenClassifier, queue Publisher, settleDelay time.Duration, fromEmail string) *Segmenter {
	return &Segmenter{
		campaigns:   campaigns,
		classifier:  classifier,
		queue:       queue,
		settleDelay: settleDelay,
		fromEmail:   fromEmail,
		wait:        waitCtx,
	}
}

// ProcessFollowUp runs one follow-up pass for a drip campaign. It first
// waits the settle delay so concurrently-arriving tracking writes land in
// the eventually-consistent tracking store before segmentation reads them.
func (s *Segmenter) ProcessFollowUp(ctx context.Context, campaignID string) (Result, error) {
	log.Printf("[drip] follow-up triggered for %s, waiting %s for tracking events to settle", campaignID, s.settleDelay)
	s.wait(ctx, s.settleDelay)

	main, err := s.campaigns.GetEmail(ctx, campaignID, campaign.EmailIDMain)
	if err != nil {
		return Result{}, err
	}
	if main == nil || !main.IsDrip() {
		log.Printf("[drip] %s is not a drip campaign or does not exist, skipping", campaignID)
		return Result{Skipped: true}, nil
	}

	opened, err := s.classifier.ClassifyOpens(ctx, campaignID)
	if err != nil {
		return Result{}, err
	}

	var openedList, unopenedList []string
	for _, r := range main.Recipients {
		if _, ok := opened[r]; ok {
			openedList = append(openedList, r)
		} else {
			unopenedList = append(unopenedList, r)
		}
	}
	log.Printf("[drip] %s: %d real opens, %d unopened", campaignID, len(openedList), len(unopenedList))

	var bodies [][]byte
	result := Result{}

	if body := s.buildStep(main, campaign.StepOpened, openedList); body != nil {
		bodies = append(bodies, body)
		result.SentToOpened = len(openedList)
	}
	if body := s.buildStep(main, campaign.StepUnopened, unopenedList); body != nil {
		bodies = append(bodies, body)
		result.SentToUnopened = len(unopenedList)
	}

	if len(bodies) == 0 {
		log.Printf("[drip] %s: nothing to enqueue", campaignID)
		return result, nil
	}

	if err := s.queue.SendBatch(ctx, bodies); err != nil {
		return Result{}, fmt.Errorf("enqueuing follow-up for %s: %w", campaignID, err)
	}
	log.Printf("[drip] %s: enqueued %d follow-up message(s)", campaignID, len(bodies))
	return result, nil
}

// buildStep returns the queue body for one segment, or nil when the segment
// is empty or the step is not configured.
func (s *Segmenter) buildStep(main *campaign.Campaign, step string, recipients []string) []byte {
	if len(recipients) == 0 {
		return nil
	}
	if _, ok := main.DripConfig[step]; !ok {
		log.Printf("[drip] %s: step %s not configured, skipping segment of %d", main.CampaignID, step, len(recipients))
		return nil
	}

	body, err := json.Marshal(followUpMessage{
		CampaignID: main.CampaignID,
		EmailStep:  step,
		Recipients: recipients,
		FromEmail:  s.fromEmail,
	})
	if err != nil {
		log.Printf("[drip] marshaling %s message for %s: %v", step, main.CampaignID, err)
		return nil
	}
	return body
}

func waitCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
