// Package ingest routes inbound triggers (queued send requests, scheduler
// batches, resend requests, ad-hoc sends) to batch delivery and status
// reconciliation.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/oachxalach/campaign-engine/internal/campaign"
	"github.com/oachxalach/campaign-engine/internal/mailer"
)

// CampaignStore is the slice of the campaign store the router needs.
type CampaignStore interface {
	GetEmail(ctx context.Context, campaignID, emailID string) (*campaign.Campaign, error)
	PutCampaign(ctx context.Context, c *campaign.Campaign) error
	QueryCampaign(ctx context.Context, campaignID string) ([]campaign.Campaign, error)
	ScanPending(ctx context.Context) ([]campaign.Campaign, error)
}

// Dispatcher submits a recipient batch to the email transport.
type Dispatcher interface {
	Send(ctx context.Context, recipients []string, subject, body, campaignID, fromEmail string) mailer.SendOutcome
}

// Reconciler persists a send outcome onto a campaign record.
type Reconciler interface {
	Apply(ctx context.Context, campaignID, emailID string, outcome mailer.SendOutcome) bool
}

// OpenClassifier derives the genuinely-opened recipient set.
type OpenClassifier interface {
	ClassifyOpens(ctx context.Context, campaignID string) (map[string]struct{}, error)
}

// Queue is the send-request queue: enqueue new requests, acknowledge
// processed ones.
type Queue interface {
	Send(ctx context.Context, body []byte) error
	Delete(ctx context.Context, receiptHandle string) error
}

// Response is the outcome reported to HTTP-style callers.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// sendRequest is the queue message body for one send.
type sendRequest struct {
	CampaignID string   `json:"campaign_id"`
	EmailID    string   `json:"email_id,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
	FromEmail  string   `json:"from_email,omitempty"`
	EmailStep  string   `json:"email_step,omitempty"`
}

// Router dispatches one inbound trigger to the matching processing path.
// Invocations are independent and may run concurrently; correctness under
// overlap relies on idempotent-enough status updates and the queue's
// visibility timeout, not on any cross-invocation lock.
type Router struct {
	campaigns   CampaignStore
	dispatcher  Dispatcher
	reconciler  Reconciler
	classifier  OpenClassifier
	queue       Queue
	defaultFrom string
}

// NewRouter creates an ingest router.
func NewRouter(campaigns CampaignStore, dispatcher Dispatcher, reconciler Reconciler, classifier OpenClassifier, queue Queue, defaultFrom string) *Router {
	return &Router{
		campaigns:   campaigns,
		dispatcher:  dispatcher,
		reconciler:  reconciler,
		classifier:  classifier,
		queue:       queue,
		defaultFrom: defaultFrom,
	}
}

// Handle executes exactly one processing path for the request, then always
// runs the legacy PENDING sweep as a fallback reconciliation pass. A panic
// anywhere below is converted into a 500 response so one bad trigger never
// takes the worker down.
func (r *Router) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[ingest] recovered from panic: %v", rec)
			resp = Response{StatusCode: 500, Message: fmt.Sprintf("Error processing emails: %v", rec)}
		}
	}()

	switch req := req.(type) {
	case QueueBatch:
		resp = r.handleQueueBatch(ctx, req)
	case SchedulerBatch:
		resp = r.handleSchedulerBatch(ctx, req)
	case ResendRequest:
		resp = r.handleResend(ctx, req)
	case DirectSend:
		resp = r.handleDirectSend(ctx, req)
	case Sweep:
		resp = Response{StatusCode: 200, Message: "Emails processed successfully"}
	default:
		resp = Response{StatusCode: 200, Message: "Emails processed successfully"}
	}

	r.sweepPending(ctx)
	return resp
}

// handleQueueBatch processes queued send requests. Messages are
// acknowledged whether or not the send succeeded: a failed send is
// recorded as FAILED campaign state, not redelivered.
func (r *Router) handleQueueBatch(ctx context.Context, batch QueueBatch) Response {
	log.Printf("[ingest] received %d queue message(s)", len(batch.Messages))

	for _, msg := range batch.Messages {
		var req sendRequest
		if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
			log.Printf("[ingest] unparseable queue message, acknowledging: %v", err)
			r.ack(ctx, msg.ReceiptHandle)
			continue
		}

		if req.CampaignID == "" || len(req.Recipients) == 0 {
			log.Printf("[ingest] queue message missing campaign_id or recipients, acknowledging")
			r.ack(ctx, msg.ReceiptHandle)
			continue
		}

		subject := req.Subject
		if subject == "" {
			subject = "No Subject"
		}
		body := req.Body
		if body == "" {
			body = "<p>No content</p>"
		}
		emailID := req.EmailID
		if emailID == "" {
			emailID = campaign.EmailIDRegular
		}
		fromEmail := req.FromEmail
		if fromEmail == "" {
			fromEmail = r.defaultFrom
		}

		subject, body = r.overlayDripStep(ctx, req.CampaignID, req.EmailStep, subject, body)

		outcome := r.dispatcher.Send(ctx, req.Recipients, subject, body, req.CampaignID, fromEmail)
		r.reconciler.Apply(ctx, req.CampaignID, emailID, outcome)
		r.ack(ctx, msg.ReceiptHandle)
	}

	return Response{StatusCode: 200, Message: "Emails processed successfully"}
}

// overlayDripStep substitutes per-step subject/body from the drip config
// when a queued send is a drip sub-send. Lookup failures keep the original
// content.
func (r *Router) overlayDripStep(ctx context.Context, campaignID, step, subject, body string) (string, string) {
	if step != campaign.StepInitial && step != campaign.StepOpened && step != campaign.StepUnopened {
		return subject, body
	}
	if !campaign.HasCampaignPrefix(campaignID) {
		return subject, body
	}

	main, err := r.campaigns.GetEmail(ctx, campaignID, campaign.EmailIDMain)
	if err != nil {
		log.Printf("[ingest] loading drip config for %s: %v", campaignID, err)
		return subject, body
	}
	if main == nil || !main.IsDrip() {
		return subject, body
	}

	stepCfg, ok := main.DripConfig[step]
	if !ok {
		return subject, body
	}
	if stepCfg.Subject != "" {
		subject = stepCfg.Subject
	}
	if stepCfg.Body != "" {
		body = stepCfg.Body
	}
	log.Printf("[ingest] applied drip step %s content for %s", step, campaignID)
	return subject, body
}

// handleSchedulerBatch processes scheduler-originated sends: content and
// recipients come from the stored campaign record, not the message.
func (r *Router) handleSchedulerBatch(ctx context.Context, batch SchedulerBatch) Response {
	log.Printf("[ingest] received %d scheduler message(s)", len(batch.Messages))

	for _, msg := range batch.Messages {
		var req sendRequest
		if err := json.Unmarshal([]byte(msg.MessageBody), &req); err != nil {
			log.Printf("[ingest] unparseable scheduler message: %v", err)
			continue
		}
		if req.CampaignID == "" {
			log.Printf("[ingest] scheduler message missing campaign_id")
			continue
		}

		emailID := req.EmailID
		if emailID == "" {
			emailID = campaign.EmailIDRegular
		}

		record, err := r.campaigns.GetEmail(ctx, req.CampaignID, emailID)
		if err != nil {
			log.Printf("[ingest] loading scheduled campaign %s/%s: %v", req.CampaignID, emailID, err)
			continue
		}
		if record == nil {
			log.Printf("[ingest] no record for campaign_id=%s email_id=%s", req.CampaignID, emailID)
			continue
		}
		if len(record.Recipients) == 0 {
			log.Printf("[ingest] no recipients for scheduled campaign %s", req.CampaignID)
			continue
		}

		subject := record.Subject
		if subject == "" {
			subject = "No Subject"
		}
		body := record.Body
		if body == "" {
			body = "<p>No content</p>"
		}
		fromEmail := req.FromEmail
		if fromEmail == "" {
			fromEmail = r.defaultFrom
		}

		log.Printf("[ingest] sending scheduled campaign %s to %d recipients", req.CampaignID, len(record.Recipients))
		outcome := r.dispatcher.Send(ctx, record.Recipients, subject, body, req.CampaignID, fromEmail)
		r.reconciler.Apply(ctx, req.CampaignID, emailID, outcome)
	}

	return Response{StatusCode: 200, Message: "Emails processed successfully"}
}

// handleResend creates a fresh campaign addressed to the original
// campaign's unopened recipients and enqueues a send request for it.
func (r *Router) handleResend(ctx context.Context, req ResendRequest) Response {
	if req.CampaignID == "" {
		return Response{StatusCode: 400, Message: "Missing campaign_id"}
	}

	campaignID := campaign.NormalizeCampaignID(req.CampaignID)
	items, err := r.campaigns.QueryCampaign(ctx, campaignID)
	if err != nil {
		log.Printf("[ingest] querying campaign %s for resend: %v", campaignID, err)
		return Response{StatusCode: 500, Message: "Error processing emails"}
	}
	if len(items) == 0 {
		log.Printf("[ingest] campaign not found: %s", campaignID)
		return Response{StatusCode: 404, Message: "Campaign not found"}
	}

	unopened := r.unopenedRecipients(ctx, campaignID, items)
	if len(unopened) == 0 {
		log.Printf("[ingest] no unopened recipients for %s", campaignID)
		return Response{StatusCode: 200, Message: "No unopened recipients found"}
	}

	original := items[0]
	resend := &campaign.Campaign{
		CampaignID:         campaign.NewCampaignID(),
		EmailID:            campaign.NewEmailID(),
		Subject:            original.Subject,
		Body:               original.Body,
		Recipients:         unopened,
		Status:             campaign.StatusPending,
		Timestamp:          campaign.Now(),
		OriginalCampaignID: campaignID,
	}
	if err := r.campaigns.PutCampaign(ctx, resend); err != nil {
		log.Printf("[ingest] creating resend campaign: %v", err)
		return Response{StatusCode: 500, Message: "Error processing emails"}
	}
	log.Printf("[ingest] created resend campaign %s for %d unopened recipients of %s",
		resend.CampaignID, len(unopened), campaignID)

	body, err := json.Marshal(sendRequest{
		CampaignID: resend.CampaignID,
		EmailID:    resend.EmailID,
		FromEmail:  r.defaultFrom,
		Recipients: unopened,
		Subject:    resend.Subject,
		Body:       resend.Body,
	})
	if err == nil {
		err = r.queue.Send(ctx, body)
	}
	if err != nil {
		log.Printf("[ingest] enqueuing resend for %s: %v", resend.CampaignID, err)
		return Response{StatusCode: 500, Message: "Error processing emails"}
	}

	return Response{StatusCode: 200, Message: fmt.Sprintf("Resend campaign created: %s", resend.CampaignID)}
}

// unopenedRecipients returns the campaign's recipients with no counted
// Open event. Classifier errors degrade to an empty result so the resend
// path reports "none found" rather than failing the invocation.
func (r *Router) unopenedRecipients(ctx context.Context, campaignID string, items []campaign.Campaign) []string {
	var all []string
	for _, item := range items {
		all = append(all, item.Recipients...)
	}
	if len(all) == 0 {
		return nil
	}

	opened, err := r.classifier.ClassifyOpens(ctx, campaignID)
	if err != nil {
		log.Printf("[ingest] classifying opens for %s: %v", campaignID, err)
		return nil
	}

	var unopened []string
	for _, recipient := range all {
		if _, ok := opened[recipient]; !ok {
			unopened = append(unopened, recipient)
		}
	}
	return unopened
}

// handleDirectSend creates a campaign record for an ad-hoc send, then
// dispatches it immediately.
func (r *Router) handleDirectSend(ctx context.Context, req DirectSend) Response {
	if len(req.To) == 0 {
		log.Printf("[ingest] direct send with no recipients")
		return Response{StatusCode: 200, Message: "Emails processed successfully"}
	}

	record := &campaign.Campaign{
		CampaignID: campaign.NewCampaignID(),
		EmailID:    campaign.NewEmailID(),
		Subject:    req.Subject,
		Body:       req.Body,
		Recipients: req.To,
		Status:     campaign.StatusPending,
		Timestamp:  campaign.Now(),
		MessageID:  campaign.NewMessageID(),
	}

	log.Printf("[ingest] creating campaign %s for direct send to %d recipient(s)", record.CampaignID, len(req.To))
	if err := r.campaigns.PutCampaign(ctx, record); err != nil {
		log.Printf("[ingest] creating direct-send campaign: %v", err)
		return Response{StatusCode: 200, Message: "Emails processed successfully"}
	}

	outcome := r.dispatcher.Send(ctx, req.To, req.Subject, req.Body, record.CampaignID, r.defaultFrom)
	r.reconciler.Apply(ctx, record.CampaignID, record.EmailID, outcome)

	return Response{StatusCode: 200, Message: "Emails processed successfully"}
}

// sweepPending reconciles legacy PENDING, non-drip records. Runs after
// every path as a fallback; per-record failures never stop the sweep.
func (r *Router) sweepPending(ctx context.Context) {
	pending, err := r.campaigns.ScanPending(ctx)
	if err != nil {
		log.Printf("[ingest] scanning pending campaigns: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	log.Printf("[ingest] sweeping %d pending record(s)", len(pending))

	for _, record := range pending {
		if record.IsDrip() {
			log.Printf("[ingest] sweep skipping drip campaign %s", record.CampaignID)
			continue
		}
		if len(record.Recipients) == 0 {
			log.Printf("[ingest] sweep skipping %s: no recipients", record.EmailID)
			continue
		}

		subject := record.Subject
		if subject == "" {
			subject = "No Subject (old campaign)"
		}
		body := record.Body
		if body == "" {
			body = "<p>No content (old campaign)</p>"
		}

		log.Printf("[ingest] sweep processing pending email %s", record.EmailID)
		outcome := r.dispatcher.Send(ctx, record.Recipients, subject, body, record.CampaignID, r.defaultFrom)
		r.reconciler.Apply(ctx, record.CampaignID, record.EmailID, outcome)
	}
}

func (r *Router) ack(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	if err := r.queue.Delete(ctx, receiptHandle); err != nil {
		log.Printf("[ingest] acknowledging queue message: %v", err)
	}
}
