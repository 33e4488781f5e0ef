package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
)

// SNSAdapter delivers SMS notifications via AWS SNS.
type SNSAdapter struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

func NewSNSAdapter(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSAdapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSAdapter{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send publishes an SMS job to the recipient phone number.
func (a *SNSAdapter) Send(ctx context.Context, j *job.NotificationJob) (Result, error) {
	if j.Channel != job.ChannelSMS {
		return Result{}, fmt.Errorf("sns adapter only supports sms, got: %s", j.Channel)
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(j.Recipient),
		Message:     aws.String(j.Body),
	}

	result, err := a.client.Publish(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("sns publish failed: %w", err)
	}

	a.logger.Info("SMS sent via SNS",
		zap.String("id", j.ID.String()),
		zap.String("phone_number", j.Recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return Result{MessageID: aws.ToString(result.MessageId)}, nil
}

func (a *SNSAdapter) SupportsChannel(channel string) bool {
	return channel == job.ChannelSMS
}
