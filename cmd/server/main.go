package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/oachxalach/campaign-engine/internal/api"
	"github.com/oachxalach/campaign-engine/internal/config"
	"github.com/oachxalach/campaign-engine/internal/drip"
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

	ctx := context.Background()

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

	campaigns := store.NewCampaignStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.CampaignTable)
	tracking := store.NewTrackingStore(dynamodb.NewFromConfig(awsCfg), cfg.Store.TrackingTable, cfg.Store.TrackingIndex)
	queueClient := queue.NewClient(sqs.NewFromConfig(awsCfg), cfg.Queue.URL)

	classifier := engage.NewClassifier(tracking)
	rewriter := links.NewRewriter(cfg.Tracking.Domain)
	dispatcher := mailer.NewDispatcher(sesv2.NewFromConfig(awsCfg), tracking, rewriter, cfg.SES, cfg.Send)
	reconciler := mailer.NewReconciler(campaigns)
	router := ingest.NewRouter(campaigns, dispatcher, reconciler, classifier, queueClient, cfg.SES.FromEmail)
	segmenter := drip.NewSegmenter(campaigns, classifier, queueClient, cfg.Send.SettleDelay(), cfg.SES.FromEmail)

	handlers := api.NewHandlers(router, segmenter)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.SetupRoutes(handlers, cfg.Server.AllowedOrigin),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("campaign trigger API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down campaign trigger API...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
