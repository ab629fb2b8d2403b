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

// DynamoAPI is the subset of the DynamoDB client used by the stores.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// CampaignStore provides access to the campaign table, keyed by
// (campaign_id, email_id).
type CampaignStore struct {
	db    DynamoAPI
	table string
}

// NewCampaignStore creates a campaign store over the given DynamoDB client.
func NewCampaignStore(db DynamoAPI, table string) *CampaignStore {
	return &CampaignStore{db: db, table: table}
}

// GetEmail fetches one email record. Returns (nil, nil) when the record
// does not exist.
func (s *CampaignStore) GetEmail(ctx context.Context, campaignID, emailID string) (*campaign.Campaign, error) {
	out, err := s.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       emailKey(campaignID, emailID),
	})
	if err != nil {
		return nil, fmt.Errorf("getting campaign %s/%s: %w", campaignID, emailID, err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var c campaign.Campaign
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshaling campaign %s/%s: %w", campaignID, emailID, err)
	}
	return &c, nil
}

// PutCampaign writes a full campaign record.
func (s *CampaignStore) PutCampaign(ctx context.Context, c *campaign.Campaign) error {
	av, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshaling campaign %s: %w", c.CampaignID, err)
	}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting campaign %s: %w", c.CampaignID, err)
	}
	return nil
}

// QueryCampaign returns every email record stored under a campaign id.
func (s *CampaignStore) QueryCampaign(ctx context.Context, campaignID string) ([]campaign.Campaign, error) {
	out, err := s.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("campaign_id = :cid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cid": &types.AttributeValueMemberS{Value: campaignID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("querying campaign %s: %w", campaignID, err)
	}

	var items []campaign.Campaign
	for _, item := range out.Items {
		var c campaign.Campaign
		if err := attributevalue.UnmarshalMap(item, &c); err != nil {
			log.Printf("[store] skipping unreadable record in campaign %s: %v", campaignID, err)
			continue
		}
		items = append(items, c)
	}
	return items, nil
}

// UpdateEmailStatus sets the status of an existing email record and bumps
// retry_count, optionally recording a transport message id and the list of
// unverified recipients. Returns false without error when the record does
// not exist.
//
// The update is read-then-write without a condition on a version attribute;
// concurrent updates to the same record are last-write-wins.
func (s *CampaignStore) UpdateEmailStatus(ctx context.Context, campaignID, emailID string, status campaign.Status, messageID string, unverified []string) (bool, error) {
	existing, err := s.GetEmail(ctx, campaignID, emailID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		log.Printf("[store] no record for campaign_id=%s email_id=%s", campaignID, emailID)
		return false, nil
	}

	updateExpr := "SET #st = :s, retry_count = if_not_exists(retry_count, :zero) + :inc"
	exprNames := map[string]string{"#st": "status"}
	exprValues := map[string]types.AttributeValue{
		":s":    &types.AttributeValueMemberS{Value: string(status)},
		":zero": &types.AttributeValueMemberN{Value: "0"},
		":inc":  &types.AttributeValueMemberN{Value: "1"},
	}

	if messageID != "" {
		updateExpr += ", message_id = :m"
		exprValues[":m"] = &types.AttributeValueMemberS{Value: messageID}
	}
	if len(unverified) > 0 {
		list, err := attributevalue.MarshalList(unverified)
		if err != nil {
			return false, fmt.Errorf("marshaling unverified list: %w", err)
		}
		updateExpr += ", unverified_emails = :uv"
		exprValues[":uv"] = &types.AttributeValueMemberL{Value: list}
	}

	_, err = s.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       emailKey(campaignID, emailID),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  exprNames,
		ExpressionAttributeValues: exprValues,
	})
	if err != nil {
		return false, fmt.Errorf("updating status for %s/%s: %w", campaignID, emailID, err)
	}

	log.Printf("[store] %s/%s status updated to %s", campaignID, emailID, status)
	return true, nil
}

// ScanPending returns every email record still in PENDING status.
func (s *CampaignStore) ScanPending(ctx context.Context) ([]campaign.Campaign, error) {
	out, err := s.db.Scan(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		FilterExpression:         aws.String("#status = :status_value"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status_value": &types.AttributeValueMemberS{Value: string(campaign.StatusPending)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scanning pending campaigns: %w", err)
	}

	var items []campaign.Campaign
	for _, item := range out.Items {
		var c campaign.Campaign
		if err := attributevalue.UnmarshalMap(item, &c); err != nil {
			log.Printf("[store] skipping unreadable pending record: %v", err)
			continue
		}
		items = append(items, c)
	}
	return items, nil
}

func emailKey(campaignID, emailID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"campaign_id": &types.AttributeValueMemberS{Value: campaignID},
		"email_id":    &types.AttributeValueMemberS{Value: emailID},
	}
}
