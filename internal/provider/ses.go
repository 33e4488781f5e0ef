package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/job"
)

// SESAdapter delivers email notifications via AWS SES.
type SESAdapter struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESAdapter(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESAdapter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	return &SESAdapter{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers an email job. Recipient format is the provider's
// problem; intake only guarantees it is non-empty.
func (a *SESAdapter) Send(ctx context.Context, j *job.NotificationJob) (Result, error) {
	if j.Channel != job.ChannelEmail {
		return Result{}, fmt.Errorf("ses adapter only supports email, got: %s", j.Channel)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(a.from),
		Destination: &types.Destination{
			ToAddresses: []string{j.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(j.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(j.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := a.client.SendEmail(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("ses send failed: %w", err)
	}

	a.logger.Info("email sent via SES",
		zap.String("id", j.ID.String()),
		zap.String("to", j.Recipient),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)

	return Result{MessageID: aws.ToString(result.MessageId)}, nil
}

func (a *SESAdapter) SupportsChannel(channel string) bool {
	return channel == job.ChannelEmail
}
