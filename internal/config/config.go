package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campaign engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	AWS      AWSConfig      `yaml:"aws"`
	SES      SESConfig      `yaml:"ses"`
	Queue    QueueConfig    `yaml:"queue"`
	Store    StoreConfig    `yaml:"store"`
	Tracking TrackingConfig `yaml:"tracking"`
	Send     SendConfig     `yaml:"send"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

// AWSConfig holds shared AWS client settings. Static credentials are
// optional; the default chain applies when they are empty.
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// SESConfig holds email transport settings.
type SESConfig struct {
	FromEmail        string `yaml:"from_email"`
	ReplyToEmail     string `yaml:"reply_to_email"`
	TemplateName     string `yaml:"template_name"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// QueueConfig holds the SQS send-request queue settings.
type QueueConfig struct {
	URL             string `yaml:"url"`
	WaitTimeSeconds int32  `yaml:"wait_time_seconds"`
	MaxMessages     int32  `yaml:"max_messages"`
}

// StoreConfig holds DynamoDB table names.
type StoreConfig struct {
	CampaignTable string `yaml:"campaign_table"`
	TrackingTable string `yaml:"tracking_table"`
	TrackingIndex string `yaml:"tracking_index"`
}

// TrackingConfig holds click-tracking link settings.
type TrackingConfig struct {
	Domain string `yaml:"domain"`
}

// SendConfig holds batch delivery tuning. The defaults are load-bearing:
// the 50-recipient chunk and 1s inter-chunk pause match the transport's
// rate limits, and the 30s settle delay covers the tracking store's
// eventual consistency window.
type SendConfig struct {
	BatchSize           int `yaml:"batch_size"`
	InterBatchPauseSecs int `yaml:"inter_batch_pause_seconds"`
	SettleDelaySecs     int `yaml:"settle_delay_seconds"`
	MaxRetry            int `yaml:"max_retry"`
}

// InterBatchPause returns the pause between bulk-send chunks.
func (s SendConfig) InterBatchPause() time.Duration {
	return time.Duration(s.InterBatchPauseSecs) * time.Second
}

// SettleDelay returns the wait before reading tracking data for drip
// segmentation.
func (s SendConfig) SettleDelay() time.Duration {
	return time.Duration(s.SettleDelaySecs) * time.Second
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads config from a YAML file, then overrides sensitive or
// deploy-specific values from the environment (.env supported).
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWS.Region = region
	}
	if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
		cfg.AWS.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
		cfg.AWS.SecretKey = secretKey
	}
	if queueURL := os.Getenv("SQS_EMAIL_QUEUE_URL"); queueURL != "" {
		cfg.Queue.URL = queueURL
	}
	if from := os.Getenv("FROM_EMAIL"); from != "" {
		cfg.SES.FromEmail = from
	}
	if domain := os.Getenv("TRACKING_DOMAIN"); domain != "" {
		cfg.Tracking.Domain = domain
	}
	if origin := os.Getenv("ALLOWED_ORIGIN"); origin != "" {
		cfg.Server.AllowedOrigin = origin
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.SES.FromEmail == "" {
		c.SES.FromEmail = "noreply@oachxalach.com"
	}
	if c.SES.ReplyToEmail == "" {
		c.SES.ReplyToEmail = "support@oachxalach.com"
	}
	if c.SES.TemplateName == "" {
		c.SES.TemplateName = "EmailCampaignTemplate"
	}
	if c.SES.ConfigurationSet == "" {
		c.SES.ConfigurationSet = "EmailTracking"
	}
	if c.Queue.WaitTimeSeconds == 0 {
		c.Queue.WaitTimeSeconds = 20
	}
	if c.Queue.MaxMessages == 0 {
		c.Queue.MaxMessages = 10
	}
	if c.Store.CampaignTable == "" {
		c.Store.CampaignTable = "EmailCampaigns"
	}
	if c.Store.TrackingTable == "" {
		c.Store.TrackingTable = "EmailTracking"
	}
	if c.Store.TrackingIndex == "" {
		c.Store.TrackingIndex = "campaign_id-event_type-index"
	}
	if c.Send.BatchSize == 0 {
		c.Send.BatchSize = 50
	}
	if c.Send.InterBatchPauseSecs == 0 {
		c.Send.InterBatchPauseSecs = 1
	}
	if c.Send.SettleDelaySecs == 0 {
		c.Send.SettleDelaySecs = 30
	}
	if c.Send.MaxRetry == 0 {
		c.Send.MaxRetry = 3
	}
}

// Validate checks for settings without usable defaults.
func (c *Config) Validate() error {
	if c.Queue.URL == "" {
		return fmt.Errorf("queue.url is required")
	}
	if c.Tracking.Domain == "" {
		return fmt.Errorf("tracking.domain is required")
	}
	return nil
}
