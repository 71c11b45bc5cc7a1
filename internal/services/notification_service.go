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

	"github.com/campuskit/checkpoint/internal/metrics"
	"github.com/campuskit/checkpoint/internal/models"
	"github.com/campuskit/checkpoint/internal/realtime"
	pkglogger "github.com/campuskit/checkpoint/pkg/logger"
)

// EmailSender defines the interface for sending emails
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// AWSSESEmailSender sends emails using AWS SES
type AWSSESEmailSender struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailSender creates a new AWS SES email sender
func NewAWSSESEmailSender(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailSender{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// Send delivers one email via SES.
func (s *AWSSESEmailSender) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", *result.MessageId))

	return nil
}

// UserLookup resolves a user ID to a deliverable address.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// NotificationService fans security events out to email and the
// realtime channel. Email delivery is fire-and-forget with bounded
// retries; a failed notification never fails the operation that raised
// it.
type NotificationService struct {
	emailer     EmailSender
	users       UserLookup
	broadcaster Broadcaster
	logger      *slog.Logger

	maxRetries int
	backoff    time.Duration
}

func NewNotificationService(emailer EmailSender, users UserLookup, broadcaster Broadcaster, logger *slog.Logger, maxRetries int, backoff time.Duration) *NotificationService {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &NotificationService{
		emailer:     emailer,
		users:       users,
		broadcaster: broadcaster,
		logger:      logger,
		maxRetries:  maxRetries,
		backoff:     backoff,
	}
}

// NotifyFraudAlert informs the session owner about a raised alert,
// immediately on the realtime channel and asynchronously by email.
func (s *NotificationService) NotifyFraudAlert(alert *models.FraudAlert, session *models.AttendanceSession) {
	title := fmt.Sprintf("%s fraud alert in %s", alert.Severity, session.Title)
	s.broadcaster.Publish(realtime.Notify(session.OwnerID, title, alert.Description, "warning"))

	if s.emailer == nil {
		return
	}

	htmlBody, textBody := fraudAlertEmail(alert, session)
	go s.deliverEmail(session.OwnerID, title, htmlBody, textBody)
}

// NotifySessionEnded informs the owner that a session was auto-completed.
func (s *NotificationService) NotifySessionEnded(session *models.AttendanceSession, presentCount int) {
	title := fmt.Sprintf("Session %q completed", session.Title)
	message := fmt.Sprintf("%d students marked present", presentCount)
	s.broadcaster.Publish(realtime.Notify(session.OwnerID, title, message, "info"))
}

func (s *NotificationService) deliverEmail(userID, subject string, htmlBody, textBody string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		s.logger.Error("cannot resolve notification recipient",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if attempt > 1 {
			metrics.NotificationRetries.Inc()
			select {
			case <-ctx.Done():
				s.logger.Error("notification delivery abandoned", slog.Any("error", ctx.Err()))
				return
			case <-time.After(s.backoff << (attempt - 2)):
			}
		}

		if lastErr = s.emailer.Send(ctx, user.Email, subject, htmlBody, textBody); lastErr == nil {
			return
		}
	}

	s.logger.Error("notification delivery failed after retries",
		slog.String("email", pkglogger.SanitizedEmail(user.Email)),
		slog.Int("attempts", s.maxRetries),
		slog.Any("error", lastErr))
}

func fraudAlertEmail(alert *models.FraudAlert, session *models.AttendanceSession) (string, string) {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8d7da; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .detail { background-color: #f8f9fa; padding: 10px; border-left: 4px solid #dc3545; margin: 10px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Fraud Alert: %s</h1>
        </div>
        <div class="content">
            <p>A suspicious attendance attempt was flagged in <strong>%s</strong>.</p>
            <div class="detail">
                <p><strong>Type:</strong> %s<br>
                <strong>Severity:</strong> %s<br>
                <strong>Student:</strong> %s<br>
                <strong>Details:</strong> %s</p>
            </div>
            <p>Review and resolve this alert from the session dashboard.</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, alert.Severity, session.Title, alert.AlertType, alert.Severity, alert.StudentID, alert.Description)

	textBody := fmt.Sprintf(`Fraud Alert: %s

A suspicious attendance attempt was flagged in %s.

Type: %s
Severity: %s
Student: %s
Details: %s

Review and resolve this alert from the session dashboard.

This is an automated message. Please do not reply to this email.
`, alert.Severity, session.Title, alert.AlertType, alert.Severity, alert.StudentID, alert.Description)

	return htmlBody, textBody
}
