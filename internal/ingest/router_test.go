package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oachxalach/campaign-engine/internal/campaign"
	"github.com/oachxalach/campaign-engine/internal/mailer"
)

type fakeStore struct {
	records map[string]*campaign.Campaign
	pending []campaign.Campaign
	puts    []campaign.Campaign
}

func (f *fakeStore) GetEmail(ctx context.Context, campaignID, emailID string) (*campaign.Campaign, error) {
	return f.records[campaignID+"/"+emailID], nil
}

func (f *fakeStore) PutCampaign(ctx context.Context, c *campaign.Campaign) error {
	f.puts = append(f.puts, *c)
	return nil
}

func (f *fakeStore) QueryCampaign(ctx context.Context, campaignID string) ([]campaign.Campaign, error) {
	var items []campaign.Campaign
	for _, c := range f.records {
		if c.CampaignID == campaignID {
			items = append(items, *c)
		}
	}
	return items, nil
}

func (f *fakeStore) ScanPending(ctx context.Context) ([]campaign.Campaign, error) {
	return f.pending, nil
}

type dispatchCall struct {
	recipients []string
	subject    string
	body       string
	campaignID string
	fromEmail  string
}

type fakeDispatcher struct {
	calls   []dispatchCall
	outcome mailer.SendOutcome
}

func (f *fakeDispatcher) Send(ctx context.Context, recipients []string, subject, body, campaignID, fromEmail string) mailer.SendOutcome {
	f.calls = append(f.calls, dispatchCall{recipients, subject, body, campaignID, fromEmail})
	return f.outcome
}

type applyCall struct {
	campaignID string
	emailID    string
	outcome    mailer.SendOutcome
}

type fakeReconciler struct {
	calls []applyCall
}

func (f *fakeReconciler) Apply(ctx context.Context, campaignID, emailID string, outcome mailer.SendOutcome) bool {
	f.calls = append(f.calls, applyCall{campaignID, emailID, outcome})
	return true
}

type fakeOpens struct {
	opened map[string]struct{}
	err    error
}

func (f *fakeOpens) ClassifyOpens(ctx context.Context, campaignID string) (map[string]struct{}, error) {
	return f.opened, f.err
}

type fakeQueue struct {
	sent    [][]byte
	deleted []string
}

func (f *fakeQueue) Send(ctx context.Context, body []byte) error {
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeQueue) Delete(ctx context.Context, receiptHandle string) error {
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

type routerFixture struct {
	store      *fakeStore
	dispatcher *fakeDispatcher
	reconciler *fakeReconciler
	opens      *fakeOpens
	queue      *fakeQueue
	router     *Router
}

func newFixture() *routerFixture {
	f := &routerFixture{
		store:      &fakeStore{records: map[string]*campaign.Campaign{}},
		dispatcher: &fakeDispatcher{outcome: mailer.SendOutcome{Success: true, MessageIDs: []string{"ses-1"}}},
		reconciler: &fakeReconciler{},
		opens:      &fakeOpens{opened: map[string]struct{}{}},
		queue:      &fakeQueue{},
	}
	f.router = NewRouter(f.store, f.dispatcher, f.reconciler, f.opens, f.queue, "noreply@oachxalach.com")
	return f
}

func queueMsg(t *testing.T, req sendRequest) QueueMessage {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return QueueMessage{Body: string(body), ReceiptHandle: "rh-" + req.CampaignID}
}

func TestHandle_QueueMessageDispatchesAndAcks(t *testing.T) {
	f := newFixture()

	resp := f.router.Handle(context.Background(), QueueBatch{Messages: []QueueMessage{
		queueMsg(t, sendRequest{
			CampaignID: "campaign#1",
			Recipients: []string{"a@example.com"},
			Subject:    "Hi",
			Body:       "<p>Hello</p>",
		}),
	}})

	assert.Equal(t, 200, resp.StatusCode)

	require.Len(t, f.dispatcher.calls, 1)
	call := f.dispatcher.calls[0]
	assert.Equal(t, []string{"a@example.com"}, call.recipients)
	assert.Equal(t, "Hi", call.subject)
	assert.Equal(t, "noreply@oachxalach.com", call.fromEmail)

	require.Len(t, f.reconciler.calls, 1)
	assert.Equal(t, campaign.EmailIDRegular, f.reconciler.calls[0].emailID)

	assert.Equal(t, []string{"rh-campaign#1"}, f.queue.deleted)
}

func TestHandle_QueueMessageAcksEvenOnFailure(t *testing.T) {
	f := newFixture()
	f.dispatcher.outcome = mailer.SendOutcome{Failed: []string{"a@example.com"}}

	f.router.Handle(context.Background(), QueueBatch{Messages: []QueueMessage{
		queueMsg(t, sendRequest{CampaignID: "campaign#1", Recipients: []string{"a@example.com"}}),
	}})

	assert.Len(t, f.queue.deleted, 1)
	require.Len(t, f.reconciler.calls, 1)
	assert.Equal(t, mailer.SendOutcome{Failed: []string{"a@example.com"}}, f.reconciler.calls[0].outcome)
}

func TestHandle_MalformedQueueMessageAckedAndSkipped(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unparseable", "not json"},
		{"missing campaign_id", `{"recipients": ["a@example.com"]}`},
		{"missing recipients", `{"campaign_id": "campaign#1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()

			f.router.Handle(context.Background(), QueueBatch{Messages: []QueueMessage{
				{Body: tt.body, ReceiptHandle: "rh-bad"},
			}})

			assert.Empty(t, f.dispatcher.calls)
			assert.Equal(t, []string{"rh-bad"}, f.queue.deleted)
		})
	}
}

func TestHandle_QueueMessageAppliesDripStepOverlay(t *testing.T) {
	f := newFixture()
	f.store.records["campaign#d1/"+campaign.EmailIDMain] = &campaign.Campaign{
		CampaignID:   "campaign#d1",
		EmailID:      campaign.EmailIDMain,
		CampaignType: campaign.CampaignTypeDrip,
		DripConfig: map[string]campaign.DripStep{
			campaign.StepOpened: {Subject: "Thanks for reading", Body: "<p>Step A</p>"},
		},
	}

	f.router.Handle(context.Background(), QueueBatch{Messages: []QueueMessage{
		queueMsg(t, sendRequest{
			CampaignID: "campaign#d1",
			Recipients: []string{"a@example.com"},
			EmailStep:  campaign.StepOpened,
		}),
	}})

	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, "Thanks for reading", f.dispatcher.calls[0].subject)
	assert.Equal(t, "<p>Step A</p>", f.dispatcher.calls[0].body)
}

func TestHandle_DripOverlayIgnoredForNonDripCampaign(t *testing.T) {
	f := newFixture()
	f.store.records["campaign#r1/"+campaign.EmailIDMain] = &campaign.Campaign{
		CampaignID: "campaign#r1",
		EmailID:    campaign.EmailIDMain,
	}

	f.router.Handle(context.Background(), QueueBatch{Messages: []QueueMessage{
		queueMsg(t, sendRequest{
			CampaignID: "campaign#r1",
			Recipients: []string{"a@example.com"},
			EmailStep:  campaign.StepOpened,
			Subject:    "Original",
		}),
	}})

	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, "Original", f.dispatcher.calls[0].subject)
}

func TestHandle_SchedulerMessageReadsRecord(t *testing.T) {
	f := newFixture()
	f.store.records["campaign#s1/"+campaign.EmailIDRegular] = &campaign.Campaign{
		CampaignID: "campaign#s1",
		EmailID:    campaign.EmailIDRegular,
		Subject:    "Scheduled",
		Body:       "<p>From record</p>",
		Recipients: []string{"a@example.com", "b@example.com"},
	}

	body, _ := json.Marshal(sendRequest{CampaignID: "campaign#s1"})
	f.router.Handle(context.Background(), SchedulerBatch{Messages: []SchedulerMessage{
		{MessageBody: string(body)},
	}})

	require.Len(t, f.dispatcher.calls, 1)
	call := f.dispatcher.calls[0]
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, call.recipients)
	assert.Equal(t, "Scheduled", call.subject)
	assert.Equal(t, "<p>From record</p>", call.body)

	require.Len(t, f.reconciler.calls, 1)
}

func TestHandle_SchedulerMessageMissingRecordSkipped(t *testing.T) {
	f := newFixture()

	body, _ := json.Marshal(sendRequest{CampaignID: "campaign#ghost"})
	f.router.Handle(context.Background(), SchedulerBatch{Messages: []SchedulerMessage{
		{MessageBody: string(body)},
	}})

	assert.Empty(t, f.dispatcher.calls)
	assert.Empty(t, f.reconciler.calls)
}

func TestHandle_ResendMissingID(t *testing.T) {
	f := newFixture()
	resp := f.router.Handle(context.Background(), ResendRequest{})
	assert.Equal(t, 400, resp.StatusCode)
	assert.Equal(t, "Missing campaign_id", resp.Message)
}

func TestHandle_ResendCampaignNotFound(t *testing.T) {
	f := newFixture()
	resp := f.router.Handle(context.Background(), ResendRequest{CampaignID: "ghost"})
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "Campaign not found", resp.Message)
}

func TestHandle_ResendNoUnopenedRecipients(t *testing.T) {
	f := newFixture()
	f.store.records["campaign#1/email#a"] = &campaign.Campaign{
		CampaignID: "campaign#1",
		EmailID:    "email#a",
		Recipients: []string{"a@example.com"},
	}
	f.opens.opened = map[string]struct{}{"a@example.com": {}}

	resp := f.router.Handle(context.Background(), ResendRequest{CampaignID: "1"})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "No unopened recipients found", resp.Message)
	assert.Empty(t, f.store.puts)
	assert.Empty(t, f.queue.sent)
}

func TestHandle_ResendCreatesCampaignAndEnqueues(t *testing.T) {
	f := newFixture()
	f.store.records["campaign#1/email#a"] = &campaign.Campaign{
		CampaignID: "campaign#1",
		EmailID:    "email#a",
		Subject:    "Original subject",
		Body:       "<p>Original</p>",
		Recipients: []string{"a@example.com", "b@example.com", "c@example.com"},
	}
	f.opens.opened = map[string]struct{}{"a@example.com": {}}

	// Campaign id without prefix must be normalized.
	resp := f.router.Handle(context.Background(), ResendRequest{CampaignID: "1"})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Contains(t, resp.Message, "Resend campaign created: campaign#")

	require.Len(t, f.store.puts, 1)
	created := f.store.puts[0]
	assert.Equal(t, campaign.StatusPending, created.Status)
	assert.Equal(t, "campaign#1", created.OriginalCampaignID)
	assert.Equal(t, "Original subject", created.Subject)
	assert.ElementsMatch(t, []string{"b@example.com", "c@example.com"}, created.Recipients)
	assert.NotEqual(t, "campaign#1", created.CampaignID)

	require.Len(t, f.queue.sent, 1)
	var enqueued sendRequest
	require.NoError(t, json.Unmarshal(f.queue.sent[0], &enqueued))
	assert.Equal(t, created.CampaignID, enqueued.CampaignID)
	assert.Equal(t, created.EmailID, enqueued.EmailID)
	assert.ElementsMatch(t, []string{"b@example.com", "c@example.com"}, enqueued.Recipients)
}

func TestHandle_ResendClassifierErrorMeansNoneFound(t *testing.T) {
	f := newFixture()
	f.store.records["campaign#1/email#a"] = &campaign.Campaign{
		CampaignID: "campaign#1",
		EmailID:    "email#a",
		Recipients: []string{"a@example.com"},
	}
	f.opens.err = fmt.Errorf("index unavailable")

	resp := f.router.Handle(context.Background(), ResendRequest{CampaignID: "campaign#1"})

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "No unopened recipients found", resp.Message)
	assert.Empty(t, f.store.puts)
}

func TestHandle_DirectSendCreatesRecordThenDispatches(t *testing.T) {
	f := newFixture()

	resp := f.router.Handle(context.Background(), DirectSend{
		To:      []string{"a@example.com"},
		Subject: "Hi",
		Body:    "<p>Hello</p>",
	})

	assert.Equal(t, 200, resp.StatusCode)

	require.Len(t, f.store.puts, 1)
	created := f.store.puts[0]
	assert.Equal(t, campaign.StatusPending, created.Status)
	assert.Contains(t, created.MessageID, "msg-")

	require.Len(t, f.dispatcher.calls, 1)
	assert.Equal(t, created.CampaignID, f.dispatcher.calls[0].campaignID)

	require.Len(t, f.reconciler.calls, 1)
	assert.Equal(t, created.EmailID, f.reconciler.calls[0].emailID)
}

func TestHandle_SweepProcessesPendingNonDrip(t *testing.T) {
	f := newFixture()
	f.store.pending = []campaign.Campaign{
		{CampaignID: "campaign#old", EmailID: "email#old", Recipients: []string{"a@example.com"}},
		{CampaignID: "campaign#drip", EmailID: campaign.EmailIDMain, CampaignType: campaign.CampaignTypeDrip, Recipients: []string{"b@example.com"}},
		{CampaignID: "campaign#empty", EmailID: "email#empty"},
	}

	resp := f.router.Handle(context.Background(), Sweep{})

	assert.Equal(t, 200, resp.StatusCode)
	require.Len(t, f.dispatcher.calls, 1)
	call := f.dispatcher.calls[0]
	assert.Equal(t, "campaign#old", call.campaignID)
	assert.Equal(t, "No Subject (old campaign)", call.subject)
	assert.Equal(t, "<p>No content (old campaign)</p>", call.body)
}

func TestHandle_SweepRunsAfterEveryPath(t *testing.T) {
	f := newFixture()
	f.store.pending = []campaign.Campaign{
		{CampaignID: "campaign#old", EmailID: "email#old", Recipients: []string{"x@example.com"}},
	}

	f.router.Handle(context.Background(), QueueBatch{Messages: []QueueMessage{
		queueMsg(t, sendRequest{CampaignID: "campaign#1", Recipients: []string{"a@example.com"}}),
	}})

	// One dispatch for the queue message, one for the swept pending record.
	require.Len(t, f.dispatcher.calls, 2)
	assert.Equal(t, "campaign#old", f.dispatcher.calls[1].campaignID)
}
