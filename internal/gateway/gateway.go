// Package gateway initializes payment sessions against the backend: hosted
// checkout orders for the redirect flow, payment intents for the tokenized
// flow.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/models"
)

const (
	createOrderPath  = "/payments/paypal/orders"
	createIntentPath = "/payments/stripe/intents"
)

// Backend is the REST client the adapter talks to.
type Backend interface {
	Call(ctx context.Context, method, path string, body interface{}, params url.Values) (json.RawMessage, error)
}

// Adapter resolves a PaymentRequest into a PaymentSession for either
// gateway kind.
type Adapter struct {
	backend Backend
	logger  logger.Logger
}

func NewAdapter(backend Backend, log logger.Logger) *Adapter {
	return &Adapter{
		backend: backend,
		logger:  log.WithFields(map[string]interface{}{"component": "gateway"}),
	}
}

// orderResponse is the backend's create-order payload.
type orderResponse struct {
	OrderID     string `json:"order_id"`
	ApprovalURL string `json:"approval_url"`
}

// intentResponse is the backend's create-payment-intent payload.
type intentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
}

// Initialize validates the request and creates a gateway session. Validation
// failures never reach the network.
func (a *Adapter) Initialize(ctx context.Context, req models.PaymentRequest, kind models.GatewayKind) (*models.PaymentSession, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	switch kind {
	case models.GatewayRedirect:
		return a.initializeRedirect(ctx, req)
	case models.GatewayTokenized:
		return a.initializeTokenized(ctx, req)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown gateway kind %q", kind))
	}
}

func validateRequest(req models.PaymentRequest) error {
	var problems []string
	if req.Amount <= 0 {
		problems = append(problems, "amount must be positive")
	}
	if strings.TrimSpace(req.Currency) == "" {
		problems = append(problems, "currency is required")
	}
	if req.PlanID == 0 {
		problems = append(problems, "plan id is required")
	}
	if req.Hours < 0 {
		problems = append(problems, "hours must not be negative")
	}
	if len(problems) > 0 {
		return apperrors.NewValidationError(strings.Join(problems, "; "))
	}
	return nil
}

func (a *Adapter) initializeRedirect(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	body := map[string]interface{}{
		"plan_id":  req.PlanID,
		"amount":   req.Amount,
		"currency": req.Currency,
		"hours":    req.Hours,
	}
	raw, err := a.backend.Call(ctx, http.MethodPost, createOrderPath, body, nil)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.NewGatewayInitError("paypal", fmt.Sprintf("malformed create-order response: %v", err))
	}
	if resp.ApprovalURL == "" {
		return nil, apperrors.NewGatewayInitError("paypal", "backend returned no approval URL")
	}
	if resp.OrderID == "" {
		return nil, apperrors.NewGatewayInitError("paypal", "backend returned no order id")
	}

	session := models.NewPaymentSession(models.GatewayRedirect, resp.OrderID)
	session.ApprovalURL = resp.ApprovalURL
	a.logger.Info("redirect session initialized", map[string]interface{}{
		"orderId": resp.OrderID,
		"planId":  req.PlanID,
	})
	return session, nil
}

func (a *Adapter) initializeTokenized(ctx context.Context, req models.PaymentRequest) (*models.PaymentSession, error) {
	body := map[string]interface{}{
		"plan_id":  req.PlanID,
		"amount":   req.Amount,
		"currency": req.Currency,
		"hours":    req.Hours,
	}
	raw, err := a.backend.Call(ctx, http.MethodPost, createIntentPath, body, nil)
	if err != nil {
		return nil, err
	}

	var resp intentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.NewGatewayInitError("stripe", fmt.Sprintf("malformed create-intent response: %v", err))
	}
	if resp.ClientSecret == "" {
		return nil, apperrors.NewGatewayInitError("stripe", "backend returned no client secret")
	}
	if resp.PaymentIntentID == "" {
		return nil, apperrors.NewGatewayInitError("stripe", "backend returned no payment intent id")
	}

	session := models.NewPaymentSession(models.GatewayTokenized, resp.PaymentIntentID)
	session.ClientSecret = resp.ClientSecret
	a.logger.Info("tokenized session initialized", map[string]interface{}{
		"paymentIntentId": resp.PaymentIntentID,
		"planId":          req.PlanID,
	})
	return session, nil
}
