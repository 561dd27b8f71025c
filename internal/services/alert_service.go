package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AlertService defines the interface for sending security alert emails
type AlertService interface {
	SendNewDeviceAlert(ctx context.Context, email, firstName, ipAddress, deviceDescription string, at time.Time) error
}

// AWSSESAlertService sends security alerts using AWS SES
type AWSSESAlertService struct {
	sesClient   *ses.Client
	fromAddress string
	supportURL  string
	logger      *slog.Logger
}

// NewAWSSESAlertService creates a new AWS SES alert service
func NewAWSSESAlertService(region, fromAddress, supportURL string, logger *slog.Logger) (*AWSSESAlertService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESAlertService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		supportURL:  supportURL,
		logger:      logger,
	}, nil
}

// SendNewDeviceAlert notifies an account that it was signed into from a
// previously unseen device
func (s *AWSSESAlertService) SendNewDeviceAlert(ctx context.Context, email, firstName, ipAddress, deviceDescription string, at time.Time) error {
	greeting := "Hi"
	if firstName != "" {
		greeting = "Hi " + firstName
	}

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2>New sign-in to your account</h2>
        <p>%s,</p>
        <p>Your account was just signed into from a device we haven't seen before:</p>
        <ul>
            <li><strong>Device:</strong> %s</li>
            <li><strong>Network address:</strong> %s</li>
            <li><strong>Time:</strong> %s</li>
        </ul>
        <p>If this was you, no action is needed.</p>
        <p><strong>Didn't sign in?</strong> Change your password right away and contact support: <a href="%s">%s</a></p>
        <p style="color: #666; font-size: 12px; margin-top: 20px;">This is an automated security notification. Please do not reply.</p>
    </div>
</body>
</html>
`, greeting, deviceDescription, ipAddress, at.UTC().Format(time.RFC1123), s.supportURL, s.supportURL)

	textBody := fmt.Sprintf(`New sign-in to your account

%s,

Your account was just signed into from a device we haven't seen before:

  Device: %s
  Network address: %s
  Time: %s

If this was you, no action is needed.

Didn't sign in? Change your password right away and contact support: %s

This is an automated security notification. Please do not reply.
`, greeting, deviceDescription, ipAddress, at.UTC().Format(time.RFC1123), s.supportURL)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{email},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("New sign-in from an unrecognized device"),
			},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send new device alert: %w", err)
	}

	s.logger.Info("new device alert sent", slog.String("ip_address", ipAddress))
	return nil
}
