package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Request
	}{
		{
			name: "queue records",
			raw:  `{"Records": [{"body": "{\"campaign_id\":\"campaign#1\"}", "receiptHandle": "rh-1"}]}`,
			want: QueueBatch{Messages: []QueueMessage{{Body: `{"campaign_id":"campaign#1"}`, ReceiptHandle: "rh-1"}}},
		},
		{
			name: "scheduler messages",
			raw:  `{"messages": [{"MessageBody": "{\"campaign_id\":\"campaign#1\"}"}]}`,
			want: SchedulerBatch{Messages: []SchedulerMessage{{MessageBody: `{"campaign_id":"campaign#1"}`}}},
		},
		{
			name: "resend via path parameter",
			raw:  `{"pathParameters": {"id": "abc123"}}`,
			want: ResendRequest{CampaignID: "abc123"},
		},
		{
			name: "resend via nested event",
			raw:  `{"event": {"action": "resend_unopened", "campaign_id": "campaign#abc"}}`,
			want: ResendRequest{CampaignID: "campaign#abc"},
		},
		{
			name: "resend via top-level action",
			raw:  `{"action": "resend_unopened", "campaign_id": "campaign#abc"}`,
			want: ResendRequest{CampaignID: "campaign#abc"},
		},
		{
			name: "direct send flat with string recipient",
			raw:  `{"to": "a@example.com", "subject": "Hi", "body": "<p>Hello</p>"}`,
			want: DirectSend{To: []string{"a@example.com"}, Subject: "Hi", Body: "<p>Hello</p>"},
		},
		{
			name: "direct send flat with list",
			raw:  `{"to": ["a@example.com", "b@example.com"], "subject": "Hi", "body": "<p>Hello</p>"}`,
			want: DirectSend{To: []string{"a@example.com", "b@example.com"}, Subject: "Hi", Body: "<p>Hello</p>"},
		},
		{
			name: "direct send via scheduled detail",
			raw:  `{"detail": {"time": "2026-08-30T12:00:00Z", "to": "a@example.com", "subject": "Hi", "body": "B"}}`,
			want: DirectSend{To: []string{"a@example.com"}, Subject: "Hi", Body: "B"},
		},
		{
			name: "empty object falls through to sweep",
			raw:  `{}`,
			want: Sweep{},
		},
		{
			name: "invalid json falls through to sweep",
			raw:  `not json`,
			want: Sweep{},
		},
		{
			name: "unknown action falls through to sweep",
			raw:  `{"action": "delete_campaign", "campaign_id": "campaign#abc"}`,
			want: Sweep{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode([]byte(tt.raw))
			require.IsType(t, tt.want, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_QueueBatchWinsOverOtherShapes(t *testing.T) {
	raw := `{"Records": [{"body": "x", "receiptHandle": "rh"}], "action": "resend_unopened", "campaign_id": "campaign#1"}`
	got := Decode([]byte(raw))
	assert.IsType(t, QueueBatch{}, got)
}
