// Package receipts delivers post-confirmation notifications: a receipt email
// to the payer and a lifecycle event on the payments topic. Delivery failures
// are logged and never fail the confirmation itself.
package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	awsx "payment-orchestrator/internal/common/aws"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/storage"
)

// EmailSender sends receipt emails.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// EventPublisher publishes lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// Sender fans a confirmed payment out to email and the event topic. Either
// channel may be nil when not configured.
type Sender struct {
	email    EmailSender
	events   EventPublisher
	from     string
	topicARN string
	logger   logger.Logger
}

func NewSender(email *awsx.SESClient, events *awsx.SNSClient, from, topicARN string, log logger.Logger) *Sender {
	s := &Sender{
		from:     from,
		topicARN: topicARN,
		logger:   log.WithFields(map[string]interface{}{"component": "receipts"}),
	}
	if email != nil {
		s.email = email
	}
	if events != nil {
		s.events = events
	}
	return s
}

// PaymentConfirmed sends the receipt and publishes the confirmed event.
func (s *Sender) PaymentConfirmed(ctx context.Context, payerEmail string, attempt *storage.PaymentAttempt) {
	s.sendReceipt(ctx, payerEmail, attempt)
	s.publishEvent(ctx, "payment.confirmed", attempt)
}

// PaymentCancelled publishes the cancelled event; no email is sent.
func (s *Sender) PaymentCancelled(ctx context.Context, attempt *storage.PaymentAttempt) {
	s.publishEvent(ctx, "payment.cancelled", attempt)
}

func (s *Sender) sendReceipt(ctx context.Context, payerEmail string, attempt *storage.PaymentAttempt) {
	if s.email == nil || payerEmail == "" {
		return
	}

	subject := fmt.Sprintf("Payment receipt: %s %.2f", attempt.Currency, attempt.Amount)
	body := fmt.Sprintf(
		"Your payment of %s %.2f for plan %d was confirmed on %s.\nReference: %s",
		attempt.Currency, attempt.Amount, attempt.PlanID,
		attempt.UpdatedAt.Format(time.RFC1123), attempt.ExternalReference,
	)

	_, err := s.email.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &sestypes.Destination{ToAddresses: []string{payerEmail}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		s.logger.Warn("receipt email delivery failed", map[string]interface{}{
			"reference": attempt.ExternalReference,
			"error":     err.Error(),
		})
	}
}

func (s *Sender) publishEvent(ctx context.Context, eventType string, attempt *storage.PaymentAttempt) {
	if s.events == nil || s.topicARN == "" {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"type":               eventType,
		"external_reference": attempt.ExternalReference,
		"gateway":            string(attempt.Gateway),
		"plan_id":            attempt.PlanID,
		"amount":             attempt.Amount,
		"currency":           attempt.Currency,
		"status":             string(attempt.Status),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	_, err = s.events.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
	})
	if err != nil {
		s.logger.Warn("lifecycle event publish failed", map[string]interface{}{
			"reference": attempt.ExternalReference,
			"type":      eventType,
			"error":     err.Error(),
		})
	}
}
