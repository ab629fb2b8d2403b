package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/oachxalach/campaign-engine/internal/config"
	"github.com/oachxalach/campaign-engine/internal/engage"
	"github.com/oachxalach/campaign-engine/internal/ingest"
	"github.com/oachxalach/campaign-engine/internal/links"
	"github.com/oachxalach/campaign-engine/internal/mailer"
	"github.com/oachxalach/campaign-engine/internal/queue"
	"github.com/oachxalach/campaign-engine/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.AccessKey != "" && cfg.AWS.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKey, cfg.AWS.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Fatalf("loading AWS config: %v", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	campaigns := store.NewCampaignStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.CampaignTable)
	tracking := store.NewTrackingStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.TrackingTable, cfg.Store.TrackingIndex)
	queueClient := queue.NewClient(sqsClient, cfg.Queue.URL)

	classifier := engage.NewClassifier(tracking)
	rewriter := links.NewRewriter(cfg.Tracking.Domain)
	dispatcher := mailer.NewDispatcher(sesv2.NewFromConfig(awsCfg), tracking, rewriter, cfg.SES, cfg.Send)
	reconciler := mailer.NewReconciler(campaigns)
	router := ingest.NewRouter(campaigns, dispatcher, reconciler, classifier, queueClient, cfg.SES.FromEmail)

	handler := func(ctx context.Context, messages []sqstypes.Message) {
		batch := ingest.QueueBatch{Messages: make([]ingest.QueueMessage, 0, len(messages))}
		for _, msg := range messages {
			batch.Messages = append(batch.Messages, ingest.QueueMessage{
				Body:          aws.ToString(msg.Body),
				ReceiptHandle: aws.ToString(msg.ReceiptHandle),
			})
		}
		router.Handle(ctx, batch)
	}

	consumer := queue.NewConsumer(sqsClient, cfg.Queue.URL, cfg.Queue.WaitTimeSeconds, cfg.Queue.MaxMessages, handler)
	consumer.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down send worker...")
	consumer.Stop()
	cancel()
}
