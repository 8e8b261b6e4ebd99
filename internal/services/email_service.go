package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	pkglogger "github.com/BradenHooton/clinitrust/pkg/logger"
)

// Mailer delivers administrative notices to account holders.
type Mailer interface {
	SendTemporaryPassword(ctx context.Context, email, username, tempPassword string) error
}

// SESAPI is the part of the SES client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// AWSSESMailer sends emails using AWS SES
type AWSSESMailer struct {
	sesClient   SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESMailer creates a mailer from the default AWS credential chain.
func NewAWSSESMailer(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*AWSSESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSSESMailerWithClient(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func NewAWSSESMailerWithClient(client SESAPI, fromAddress string, logger *slog.Logger) *AWSSESMailer {
	return &AWSSESMailer{
		sesClient:   client,
		fromAddress: fromAddress,
		logger:      logger,
	}
}

// SendTemporaryPassword mails a password set by an administrator. The
// holder must replace it at next login.
func (s *AWSSESMailer) SendTemporaryPassword(ctx context.Context, email, username, tempPassword string) error {
	textBody := fmt.Sprintf(`Your password has been reset

Hello %s,

An administrator has reset the password for your account. Sign in with the
temporary password below; you will be asked to choose a new one.

%s

If you did not expect this, contact your administrator immediately.

This is an automated message. Please do not reply to this email.
`, username, tempPassword)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Your password has been reset"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send password reset email via SES",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("password reset email sent",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}
