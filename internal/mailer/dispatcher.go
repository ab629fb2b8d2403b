// Package mailer delivers campaign emails in batches through SES and
// reconciles per-recipient outcomes into campaign status.
package mailer

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/oachxalach/campaign-engine/internal/campaign"
	"github.com/oachxalach/campaign-engine/internal/config"
)

// SESAPI is the subset of the SESv2 client used by the dispatcher.
type SESAPI interface {
	SendBulkEmail(ctx context.Context, params *sesv2.SendBulkEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendBulkEmailOutput, error)
	CreateEmailIdentity(ctx context.Context, params *sesv2.CreateEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error)
}

// TrackingWriter records delivery tracking events.
type TrackingWriter interface {
	PutEvent(ctx context.Context, evt *campaign.TrackingEvent) error
}

// LinkRewriter rewrites body links into per-recipient tracking URLs.
type LinkRewriter interface {
	Rewrite(body, campaignID, messageID, recipient string) string
}

// SendOutcome is the result of one batched send. Partial failure is
// reported through the Failed and Unverified lists, never as an error.
type SendOutcome struct {
	Success    bool
	MessageIDs []string
	Failed     []string
	Unverified []string
}

// Dispatcher submits recipient batches to SES and classifies each
// per-recipient result.
type Dispatcher struct {
	ses      SESAPI
	tracking TrackingWriter
	rewriter LinkRewriter

	defaultFrom      string
	replyTo          string
	templateName     string
	configurationSet string
	batchSize        int
	pause            time.Duration

	// sleep is swapped in tests to avoid real inter-chunk pauses.
	sleep func(ctx context.Context, d time.Duration)
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(ses SESAPI, tracking TrackingWriter, rewriter LinkRewriter, sesCfg config.SESConfig, sendCfg config.SendConfig) *Dispatcher {
	return &Dispatcher{
		ses:              ses,
		tracking:         tracking,
		rewriter:         rewriter,
		defaultFrom:      sesCfg.FromEmail,
		replyTo:          sesCfg.ReplyToEmail,
		templateName:     sesCfg.TemplateName,
		configurationSet: sesCfg.ConfigurationSet,
		batchSize:        sendCfg.BatchSize,
		pause:            sendCfg.InterBatchPause(),
		sleep:            sleepCtx,
	}
}

// Send delivers to all recipients in fixed-size chunks. Each chunk is one
// bulk templated submission with a per-recipient rewritten body; chunks
// are paced to stay under the transport's send rate.
func (d *Dispatcher) Send(ctx context.Context, recipients []string, subject, body, campaignID, fromEmail string) SendOutcome {
	var outcome SendOutcome

	if fromEmail == "" {
		fromEmail = d.defaultFrom
	}
	if len(recipients) == 0 {
		log.Printf("[mailer] no recipients for campaign %s", campaignID)
		return outcome
	}

	log.Printf("[mailer] sending campaign %s to %d recipients from %s", campaignID, len(recipients), fromEmail)

	for start := 0; start < len(recipients); start += d.batchSize {
		end := start + d.batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		if start > 0 {
			d.sleep(ctx, d.pause)
		}

		d.sendChunk(ctx, chunk, subject, body, campaignID, fromEmail, &outcome)
	}

	outcome.Success = len(outcome.MessageIDs) > 0
	log.Printf("[mailer] campaign %s complete: %d sent, %d failed, %d unverified",
		campaignID, len(outcome.MessageIDs), len(outcome.Failed), len(outcome.Unverified))
	return outcome
}

func (d *Dispatcher) sendChunk(ctx context.Context, chunk []string, subject, body, campaignID, fromEmail string, outcome *SendOutcome) {
	bareID := campaign.StripCampaignPrefix(campaignID)

	messageIDs := make([]string, len(chunk))
	entries := make([]types.BulkEmailEntry, 0, len(chunk))
	for i, recipient := range chunk {
		messageIDs[i] = campaign.NewMessageID()

		templateData, err := json.Marshal(map[string]string{
			"campaign_id": bareID,
			"message_id":  messageIDs[i],
			"recipient":   recipient,
			"body":        d.rewriter.Rewrite(body, campaignID, messageIDs[i], recipient),
			"subject":     subject,
		})
		if err != nil {
			log.Printf("[mailer] marshaling template data for %s: %v", recipient, err)
			outcome.Failed = append(outcome.Failed, recipient)
			continue
		}

		entries = append(entries, types.BulkEmailEntry{
			Destination: &types.Destination{ToAddresses: []string{recipient}},
			ReplacementEmailContent: &types.ReplacementEmailContent{
				ReplacementTemplate: &types.ReplacementTemplate{
					ReplacementTemplateData: aws.String(string(templateData)),
				},
			},
		})
	}

	defaultData, _ := json.Marshal(map[string]string{"body": "Default body", "subject": "Default subject"})

	out, err := d.ses.SendBulkEmail(ctx, &sesv2.SendBulkEmailInput{
		FromEmailAddress:     aws.String(fromEmail),
		ConfigurationSetName: aws.String(d.configurationSet),
		ReplyToAddresses:     []string{d.replyTo},
		DefaultEmailTags: []types.MessageTag{
			{Name: aws.String("campaign_type"), Value: aws.String("marketing")},
		},
		DefaultContent: &types.BulkEmailContent{
			Template: &types.Template{
				TemplateName: aws.String(d.templateName),
				TemplateData: aws.String(string(defaultData)),
			},
		},
		BulkEmailEntries: entries,
	})
	if err != nil {
		log.Printf("[mailer] bulk send failed for campaign %s chunk: %v", campaignID, err)
		outcome.Failed = append(outcome.Failed, chunk...)
		return
	}

	results := out.BulkEmailEntryResults
	if len(results) == 0 {
		log.Printf("[mailer] no per-recipient statuses in bulk response for campaign %s", campaignID)
		outcome.Failed = append(outcome.Failed, chunk...)
		return
	}

	for i, result := range results {
		if i >= len(chunk) {
			break
		}
		recipient := chunk[i]
		messageID := messageIDs[i]

		if result.Status == types.BulkEmailStatusSuccess {
			d.recordSent(ctx, campaignID, recipient, messageID, aws.ToString(result.MessageId), outcome)
			continue
		}

		errText := aws.ToString(result.Error)
		if strings.Contains(strings.ToLower(errText), "not verified") {
			d.recordUnverified(ctx, campaignID, recipient, messageID, errText, outcome)
		} else {
			d.recordFailed(ctx, campaignID, recipient, messageID, errText, outcome)
		}
	}
}

func (d *Dispatcher) recordSent(ctx context.Context, campaignID, recipient, messageID, sesMessageID string, outcome *SendOutcome) {
	outcome.MessageIDs = append(outcome.MessageIDs, sesMessageID)

	evt := &campaign.TrackingEvent{
		MessageID:        messageID,
		SESMessageID:     sesMessageID,
		CampaignID:       campaignID,
		EventType:        campaign.EventSend,
		Timestamp:        campaign.Now(),
		Recipients:       []string{recipient},
		RecipientPrimary: recipient,
	}
	if err := d.tracking.PutEvent(ctx, evt); err != nil {
		log.Printf("[mailer] recording Send event for %s: %v", recipient, err)
	}
	log.Printf("[mailer] sent to %s (message_id=%s, ses=%s)", recipient, messageID, sesMessageID)
}

func (d *Dispatcher) recordUnverified(ctx context.Context, campaignID, recipient, messageID, errText string, outcome *SendOutcome) {
	log.Printf("[mailer] unverified address: %s", recipient)
	outcome.Unverified = append(outcome.Unverified, recipient)

	verificationSent := d.RequestVerification(ctx, recipient)

	evt := &campaign.TrackingEvent{
		MessageID:        messageID,
		CampaignID:       campaignID,
		EventType:        campaign.EventUnverified,
		Timestamp:        campaign.Now(),
		Recipients:       []string{recipient},
		RecipientPrimary: recipient,
		ErrorMessage:     errText,
		VerificationSent: verificationSent,
	}
	if err := d.tracking.PutEvent(ctx, evt); err != nil {
		log.Printf("[mailer] recording Unverified event for %s: %v", recipient, err)
	}
}

func (d *Dispatcher) recordFailed(ctx context.Context, campaignID, recipient, messageID, errText string, outcome *SendOutcome) {
	log.Printf("[mailer] failed to send to %s: %s", recipient, errText)
	outcome.Failed = append(outcome.Failed, recipient)

	evt := &campaign.TrackingEvent{
		MessageID:        messageID,
		CampaignID:       campaignID,
		EventType:        campaign.EventFailed,
		Timestamp:        campaign.Now(),
		Recipients:       []string{recipient},
		RecipientPrimary: recipient,
		ErrorMessage:     errText,
	}
	if err := d.tracking.PutEvent(ctx, evt); err != nil {
		log.Printf("[mailer] recording Failed event for %s: %v", recipient, err)
	}
}

// RequestVerification asks the transport to start identity verification
// for an address. Returns false on any error; callers treat the recipient
// as still unverified.
func (d *Dispatcher) RequestVerification(ctx context.Context, address string) bool {
	_, err := d.ses.CreateEmailIdentity(ctx, &sesv2.CreateEmailIdentityInput{
		EmailIdentity: aws.String(address),
	})
	if err != nil {
		log.Printf("[mailer] verification request for %s failed: %v", address, err)
		return false
	}
	log.Printf("[mailer] verification requested for %s", address)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
