package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/maildrip/maildrip/internal/config"
	"github.com/maildrip/maildrip/internal/pkg/logger"
)

// SESSender sends emails via AWS SES using the SDK v2.
type SESSender struct {
	client    *sesv2.Client
	fromName  string
	fromEmail string
}

// NewSESSender creates an SES sender from static credentials.
func NewSESSender(ctx context.Context, cfg appconfig.SESConfig, fromName, fromEmail string) (*SESSender, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SESSender{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  fromName,
		fromEmail: fromEmail,
	}, nil
}

// Send delivers a single email through AWS SES. Rejections that retrying
// cannot fix are returned as PermanentError; throttling and transport
// failures come back unwrapped so the queue layer retries them.
func (s *SESSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.fromName, s.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(htmlBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if textBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(textBody), Charset: aws.String("UTF-8")}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if isSESPermanent(err) {
			return Permanent(err)
		}
		return fmt.Errorf("ses send: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	logger.Debug("ses send accepted", "to", logger.RedactEmail(to), "message_id", messageID)
	return nil
}

// isSESPermanent classifies SES API errors. Rejected messages, unverified
// identities, and suspended accounts don't recover on retry; throttling and
// limit errors do.
func isSESPermanent(err error) bool {
	var rejected *types.MessageRejected
	var notVerified *types.MailFromDomainNotVerifiedException
	var suspended *types.AccountSuspendedException
	var paused *types.SendingPausedException
	var bad *types.BadRequestException
	return errors.As(err, &rejected) ||
		errors.As(err, &notVerified) ||
		errors.As(err, &suspended) ||
		errors.As(err, &paused) ||
		errors.As(err, &bad)
}
