package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"
)

// SQSAPI is the part of the SQS client the publisher needs.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends each topic to its own queue. Topics without a queue are dropped.
type SQSPublisher struct {
	client SQSAPI
	queues map[string]string
	logger *zap.Logger
}

func NewSQSPublisher(client SQSAPI, queues map[string]string, logger *zap.Logger) *SQSPublisher {
	return &SQSPublisher{client: client, queues: queues, logger: logger}
}

// NewSQSClient builds a client from the default AWS credential chain.
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

func (p *SQSPublisher) Publish(ctx context.Context, e Event) error {
	queueURL, ok := p.queues[e.Topic]
	if !ok || queueURL == "" {
		p.logger.Debug("no queue for topic", zap.String("topic", e.Topic))
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Topic": {
				StringValue: aws.String(e.Topic),
				DataType:    aws.String("String"),
			},
			"Key": {
				StringValue: aws.String(e.Key),
				DataType:    aws.String("String"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}
	return nil
}
