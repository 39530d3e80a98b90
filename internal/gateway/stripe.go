package gateway

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/models"
)

// CardConfirmer completes a tokenized session through the card SDK without
// leaving the app: card token -> payment method with billing details ->
// intent confirmation.
type CardConfirmer struct {
	sc     *client.API
	logger logger.Logger
}

func NewCardConfirmer(apiKey string, log logger.Logger) *CardConfirmer {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &CardConfirmer{
		sc:     sc,
		logger: log.WithFields(map[string]interface{}{"component": "card-confirmer"}),
	}
}

// Confirm attaches the tokenized card to the session's payment intent and
// confirms it. A non-succeeded intent status is surfaced as a gateway error
// so the user can retry.
func (c *CardConfirmer) Confirm(ctx context.Context, session *models.PaymentSession, cardToken string, billing models.BillingDetails) error {
	if session.Kind != models.GatewayTokenized {
		return apperrors.NewValidationError("card confirmation requires a tokenized session")
	}
	if session.ClientSecret == "" {
		return apperrors.NewValidationError("session has no client secret")
	}
	if cardToken == "" {
		return apperrors.NewValidationError("card token is required")
	}

	pm, err := c.sc.PaymentMethods.New(&stripe.PaymentMethodParams{
		Params: stripe.Params{Context: ctx},
		Type:   stripe.String("card"),
		Card:   &stripe.PaymentMethodCardParams{Token: stripe.String(cardToken)},
		BillingDetails: &stripe.PaymentMethodBillingDetailsParams{
			Email: stripe.String(billing.Email),
			Name:  stripe.String(billing.Name),
			Phone: stripe.String(billing.Phone),
			Address: &stripe.AddressParams{
				Country: stripe.String(billing.Country),
				State:   stripe.String(billing.State),
			},
		},
	})
	if err != nil {
		return apperrors.NewGatewayInitError("stripe", fmt.Sprintf("create payment method: %v", err))
	}

	intent, err := c.sc.PaymentIntents.Confirm(session.ExternalReference, &stripe.PaymentIntentConfirmParams{
		Params:        stripe.Params{Context: ctx},
		PaymentMethod: stripe.String(pm.ID),
	})
	if err != nil {
		return apperrors.NewBackendConfirmError(err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return apperrors.NewBackendConfirmError(fmt.Errorf("payment intent status %s", intent.Status))
	}

	c.logger.Info("card payment confirmed", map[string]interface{}{
		"paymentIntentId": session.ExternalReference,
	})
	return nil
}
