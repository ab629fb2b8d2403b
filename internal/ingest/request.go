package ingest

import (
	"encoding/json"
)

// Request is the closed set of inbound triggers the router handles.
// Exactly one variant is produced per inbound document.
type Request interface {
	isRequest()
}

// QueueMessage is one raw message delivered from the send-request queue.
type QueueMessage struct {
	Body          string `json:"body"`
	ReceiptHandle string `json:"receiptHandle"`
}

// QueueBatch is a batch of queued send requests.
type QueueBatch struct {
	Messages []QueueMessage
}

// SchedulerMessage is one message from the scheduler-originated source.
type SchedulerMessage struct {
	MessageBody string `json:"MessageBody"`
}

// SchedulerBatch is a batch of scheduler messages.
type SchedulerBatch struct {
	Messages []SchedulerMessage
}

// ResendRequest asks for a resend to a campaign's unopened recipients.
type ResendRequest struct {
	CampaignID string
}

// DirectSend is an ad-hoc single-shot send that also creates a campaign
// record.
type DirectSend struct {
	To      []string
	Subject string
	Body    string
}

// Sweep is the fallback: reconcile all legacy PENDING records.
type Sweep struct{}

func (QueueBatch) isRequest()     {}
func (SchedulerBatch) isRequest() {}
func (ResendRequest) isRequest()  {}
func (DirectSend) isRequest()     {}
func (Sweep) isRequest()          {}

// rawEvent mirrors the shapes an inbound trigger document can take.
type rawEvent struct {
	Records        []QueueMessage     `json:"Records"`
	Messages       []SchedulerMessage `json:"messages"`
	PathParameters map[string]string  `json:"pathParameters"`
	Action         string             `json:"action"`
	CampaignID     string             `json:"campaign_id"`
	Event          *struct {
		Action     string `json:"action"`
		CampaignID string `json:"campaign_id"`
	} `json:"event"`
	Detail *struct {
		Time    string          `json:"time"`
		To      json.RawMessage `json:"to"`
		Subject string          `json:"subject"`
		Body    string          `json:"body"`
	} `json:"detail"`
	To      json.RawMessage `json:"to"`
	Subject string          `json:"subject"`
	Body    string          `json:"body"`
}

const actionResendUnopened = "resend_unopened"

// Decode inspects an inbound trigger document and produces exactly one
// request variant. Anything unrecognized falls through to Sweep.
func Decode(raw []byte) Request {
	var evt rawEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Sweep{}
	}

	if len(evt.Records) > 0 {
		return QueueBatch{Messages: evt.Records}
	}
	if len(evt.Messages) > 0 {
		return SchedulerBatch{Messages: evt.Messages}
	}

	if id, ok := evt.PathParameters["id"]; ok && id != "" {
		return ResendRequest{CampaignID: id}
	}
	if evt.Event != nil && evt.Event.Action == actionResendUnopened {
		return ResendRequest{CampaignID: evt.Event.CampaignID}
	}
	if evt.Action == actionResendUnopened {
		return ResendRequest{CampaignID: evt.CampaignID}
	}

	if evt.Detail != nil && evt.Detail.Time != "" {
		return DirectSend{
			To:      decodeRecipients(evt.Detail.To),
			Subject: evt.Detail.Subject,
			Body:    evt.Detail.Body,
		}
	}
	if len(evt.To) > 0 && evt.Subject != "" && evt.Body != "" {
		return DirectSend{
			To:      decodeRecipients(evt.To),
			Subject: evt.Subject,
			Body:    evt.Body,
		}
	}

	return Sweep{}
}

// decodeRecipients accepts either a single address string or a list.
func decodeRecipients(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}
