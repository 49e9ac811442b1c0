// Package notify publishes terminal publish-job events to SQS so the
// surrounding application can react (UI updates, user notifications)
// without polling this service.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"mediarelay/internal/logging"
	"mediarelay/internal/models"
)

// Notifier publishes terminal events. A nil *SQSNotifier is a no-op, so
// wiring stays unconditional when no queue is configured.
type Notifier interface {
	JobTerminal(ctx context.Context, event models.TerminalEvent)
}

type SQSNotifier struct {
	client   *sqs.Client
	queueURL string
	logger   *logging.Logger
}

func NewSQSNotifier(ctx context.Context, region, accessKey, secretKey, queueURL string, logger *logging.Logger) (*SQSNotifier, error) {
	var cfg aws.Config
	var err error

	if accessKey != "" && secretKey != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		)
	} else if os.Getenv("ECS_CONTAINER_METADATA_URI_V4") != "" {
		cfg, err = config.LoadDefaultConfig(ctx)
	} else {
		err = fmt.Errorf("no AWS credentials provided")
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SQSNotifier{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		logger:   logger,
	}, nil
}

// JobTerminal sends one terminal event. Delivery is best-effort: a send
// failure is logged, never propagated, because the job record already
// holds the authoritative state.
func (n *SQSNotifier) JobTerminal(ctx context.Context, event models.TerminalEvent) {
	if n == nil {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("failed to marshal terminal event", "job_id", event.JobID, "error", err)
		return
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		n.logger.Error("failed to send terminal event", "job_id", event.JobID, "error", err)
		return
	}

	n.logger.Debug("terminal event published", "job_id", event.JobID, "state", event.State)
}

var _ Notifier = (*SQSNotifier)(nil)
