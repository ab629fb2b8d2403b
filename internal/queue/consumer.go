package queue

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Handler processes one received batch of messages. Acknowledgement is the
// handler's responsibility: the consumer never deletes messages itself.
type Handler func(ctx context.Context, messages []types.Message)

// Consumer long-polls the queue and hands received batches to a handler.
type Consumer struct {
	sqs         SQSAPI
	queueURL    string
	waitSeconds int32
	maxMessages int32
	handler     Handler
	done        chan struct{}
}

// NewConsumer creates a consumer for the given queue.
func NewConsumer(api SQSAPI, queueURL string, waitSeconds, maxMessages int32, handler Handler) *Consumer {
	return &Consumer{
		sqs:         api,
		queueURL:    queueURL,
		waitSeconds: waitSeconds,
		maxMessages: maxMessages,
		handler:     handler,
		done:        make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (c *Consumer) Start(ctx context.Context) {
	log.Printf("SQS consumer started (queue=%s)", c.queueURL)
	go c.poll(ctx)
}

// Stop terminates the polling loop.
func (c *Consumer) Stop() {
	close(c.done)
}

func (c *Consumer) poll(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: c.maxMessages,
			WaitTimeSeconds:     c.waitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("SQS receive error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		if len(out.Messages) == 0 {
			continue
		}

		c.handler(ctx, out.Messages)
	}
}
