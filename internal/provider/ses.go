package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"mailqueue/internal/models"
)

// SES sends through Amazon SES. Settings: region. Credentials come from the
// default AWS chain (env, shared config, instance role).
type SES struct {
	client *ses.Client
}

func NewSES(ctx context.Context, cfg *models.ProviderConfig) (*SES, error) {
	region := cfg.Settings["region"]
	if region == "" {
		return nil, fmt.Errorf("ses config requires region")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SES{client: ses.NewFromConfig(awsCfg)}, nil
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, msg *Message) error {
	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTMLBody)},
			},
		},
	}

	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return &DeliveryError{Provider: "ses", Reason: err.Error(), Err: err}
	}
	return nil
}
