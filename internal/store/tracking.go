package store

import (
	"context"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/oachxalach/campaign-engine/internal/campaign"
)

// TrackingStore provides access to the tracking table, keyed by message_id
// with a (campaign_id, event_type) secondary index.
type TrackingStore struct {
	db    DynamoAPI
	table string
	index string
}

// NewTrackingStore creates a tracking store over the given DynamoDB client.
func NewTrackingStore(db DynamoAPI, table, index string) *TrackingStore {
	return &TrackingStore{db: db, table: table, index: index}
}

// PutEvent appends one tracking event.
func (s *TrackingStore) PutEvent(ctx context.Context, evt *campaign.TrackingEvent) error {
	av, err := attributevalue.MarshalMap(evt)
	if err != nil {
		return fmt.Errorf("marshaling tracking event %s: %w", evt.MessageID, err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting tracking event %s: %w", evt.MessageID, err)
	}
	return nil
}

// QueryEvents returns all events of one type recorded for a campaign, via
// the campaign_id-event_type index.
func (s *TrackingStore) QueryEvents(ctx context.Context, campaignID string, eventType campaign.EventType) ([]campaign.TrackingEvent, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(s.index),
		KeyConditionExpression: aws.String("campaign_id = :cid AND event_type = :et"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: campaignID},
			":et":  &types.AttributeValueMemberS{Value: string(eventType)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying %s events for %s: %w", eventType, campaignID, err)
	}

	var events []campaign.TrackingEvent
	for _, item := range out.Items {
		var evt campaign.TrackingEvent
		if err := attributevalue.UnmarshalMap(item, &evt); err != nil {
			log.Printf("[store] skipping unreadable tracking event for %s: %v", campaignID, err)
			continue
		}
		events = append(events, evt)
	}
	return events, nil
}
