// Package orchestrator performs the guarded, at-most-once backend
// confirmation after a gateway reports its result, reconciles membership
// state and resolves the post-payment navigation target.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/common/metrics"
	"payment-orchestrator/internal/identity"
	"payment-orchestrator/internal/localstate"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/navigation"
	"payment-orchestrator/internal/notifier"
	"payment-orchestrator/internal/storage"
)

const (
	confirmPayPalPath = "/payments/paypal/confirm"
	confirmStripePath = "/payments/stripe/confirm"
	profilePath       = "/profile"
)

// ErrConfirmationInFlight signals that a confirmation attempt is already
// running for the session. Callers treat it as a no-op.
var ErrConfirmationInFlight = errors.New("confirmation already in flight")

// Backend is the REST client used for confirmation and profile refresh.
type Backend interface {
	Call(ctx context.Context, method, path string, body interface{}, params url.Values) (json.RawMessage, error)
}

// AuditTrail records attempt status transitions. Optional.
type AuditTrail interface {
	UpdateStatus(ctx context.Context, externalReference string, status models.SessionStatus, errorCode string) error
	LatestByReference(ctx context.Context, externalReference string) (*storage.PaymentAttempt, error)
}

// ReceiptSender delivers post-confirmation notifications. Optional.
type ReceiptSender interface {
	PaymentConfirmed(ctx context.Context, payerEmail string, attempt *storage.PaymentAttempt)
	PaymentCancelled(ctx context.Context, attempt *storage.PaymentAttempt)
}

// Result is the single terminal outcome of a gateway result: one navigation
// target and exactly one user-visible notice.
type Result struct {
	Target navigation.Target    `json:"target"`
	Notice string               `json:"notice"`
	Status models.SessionStatus `json:"status"`
}

// Orchestrator coordinates the confirmation flow.
type Orchestrator struct {
	backend  Backend
	state    *localstate.Store
	identity *identity.Resolver
	notifier *notifier.SessionNotifier
	audit    AuditTrail
	receipts ReceiptSender
	logger   logger.Logger
}

func New(backend Backend, state *localstate.Store, resolver *identity.Resolver, n *notifier.SessionNotifier, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		backend:  backend,
		state:    state,
		identity: resolver,
		notifier: n,
		logger:   log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// WithAudit attaches the payment attempt audit trail.
func (o *Orchestrator) WithAudit(audit AuditTrail) *Orchestrator {
	o.audit = audit
	return o
}

// WithReceipts attaches the receipt/event sender.
func (o *Orchestrator) WithReceipts(receipts ReceiptSender) *Orchestrator {
	o.receipts = receipts
	return o
}

// confirmResponse is the backend's confirmation payload.
type confirmResponse struct {
	Success             bool                     `json:"success"`
	HasActiveMembership bool                     `json:"has_active_membership"`
	Profile             *models.UserSessionState `json:"profile,omitempty"`
	Message             string                   `json:"message,omitempty"`
}

// OnGatewayResult handles a gateway outcome for a payment session. The
// processing guard admits at most one confirmation attempt per session; a
// duplicate call returns ErrConfirmationInFlight with no side effects. The
// guard is released on every exit path.
func (o *Orchestrator) OnGatewayResult(ctx context.Context, succeeded bool, session *models.PaymentSession, req models.PaymentRequest, payerEmail string) (*Result, error) {
	if !session.BeginConfirm() {
		o.logger.Debug("duplicate gateway result ignored", map[string]interface{}{
			"reference": session.ExternalReference,
		})
		return nil, ErrConfirmationInFlight
	}
	defer session.EndConfirm()

	switch session.Status() {
	case models.StatusSucceeded, models.StatusCancelled:
		// The outcome already settled; a late duplicate is a no-op.
		o.logger.Debug("gateway result after settled outcome ignored", map[string]interface{}{
			"reference": session.ExternalReference,
			"status":    string(session.Status()),
		})
		return nil, ErrConfirmationInFlight
	case models.StatusFailed:
		// Re-entry on a failed session is the user's retry from the same
		// screen. The guard is held, so the reset cannot race a duplicate.
		if err := session.Reset(); err != nil {
			return nil, apperrors.NewBackendConfirmError(err)
		}
	}

	if !succeeded {
		return o.handleCancel(ctx, session)
	}
	return o.handleSuccess(ctx, session, req, payerEmail)
}

// Teardown releases the processing guard when the payment flow is abandoned
// before confirmation completed, so a later retry is not permanently blocked.
func (o *Orchestrator) Teardown(session *models.PaymentSession) {
	session.EndConfirm()
}

func (o *Orchestrator) handleCancel(ctx context.Context, session *models.PaymentSession) (*Result, error) {
	if err := session.SetStatus(models.StatusCancelled); err != nil {
		o.logger.Warn("cancel on terminal session", map[string]interface{}{
			"reference": session.ExternalReference,
			"error":     err.Error(),
		})
	}
	o.recordStatus(ctx, session, models.StatusCancelled, string(apperrors.ErrCodeUserCancelled))
	metrics.PaymentsCancelled.WithLabelValues(string(session.Kind)).Inc()

	if o.receipts != nil && o.audit != nil {
		if attempt, err := o.audit.LatestByReference(ctx, session.ExternalReference); err == nil {
			o.receipts.PaymentCancelled(ctx, attempt)
		}
	}

	o.logger.Info("payment cancelled by user", map[string]interface{}{
		"reference": session.ExternalReference,
	})
	return &Result{
		Target: navigation.Previous(),
		Notice: "Payment cancelled",
		Status: models.StatusCancelled,
	}, nil
}

func (o *Orchestrator) handleSuccess(ctx context.Context, session *models.PaymentSession, req models.PaymentRequest, payerEmail string) (*Result, error) {
	// 1. The auth token must still be present; its absence is session
	// expiry, and no backend call may follow.
	token, err := o.state.AuthToken(ctx)
	if err != nil {
		return nil, o.fail(ctx, session, apperrors.NewTransportError(err))
	}
	if token == "" {
		_ = o.state.ClearCredentials(ctx)
		o.notifier.Show()
		return nil, o.fail(ctx, session, apperrors.NewAuthExpiredError("auth token absent at confirmation"))
	}

	// 2. Ordered fallback chain for the effective user identity.
	who, err := o.identity.Resolve(ctx)
	if err != nil {
		return nil, o.fail(ctx, session, err)
	}

	// 3. Plan tag from profile type and membership status.
	profile, err := o.state.CachedProfile(ctx)
	if err != nil {
		o.logger.Warn("profile cache read failed, defaulting plan type", map[string]interface{}{
			"error": err.Error(),
		})
	}
	var planType models.PlanType
	if profile != nil {
		planType = models.PlanTypeFor(profile.ProfileType, profile.HasActiveMembership)
	} else {
		planType = models.PlanTypeFor("", false)
	}

	if err := session.SetStatus(models.StatusConfirming); err != nil {
		return nil, o.fail(ctx, session, apperrors.NewBackendConfirmError(err))
	}

	// 4. Backend confirmation.
	start := time.Now()
	resp, err := o.confirm(ctx, session, req, planType, who.UserID)
	metrics.ConfirmDuration.WithLabelValues(string(session.Kind)).Observe(time.Since(start).Seconds())
	if err != nil {
		// On auth expiry the HTTP layer has already cleared credentials and
		// raised the notifier; everything else is surfaced for manual retry.
		return nil, o.fail(ctx, session, err)
	}

	// 5. Reconcile membership state and refresh the profile.
	if err := o.state.SetMembershipActive(ctx, resp.HasActiveMembership); err != nil {
		o.logger.Warn("membership cache update failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	fresh := o.refreshProfile(ctx, resp.Profile)
	if fresh == nil {
		fresh = &models.UserSessionState{UserID: who.UserID, HasActiveMembership: resp.HasActiveMembership}
	}

	if err := session.SetStatus(models.StatusSucceeded); err != nil {
		o.logger.Warn("status transition after confirm", map[string]interface{}{
			"error": err.Error(),
		})
	}
	o.recordStatus(ctx, session, models.StatusSucceeded, "")
	metrics.PaymentsConfirmed.WithLabelValues(string(session.Kind)).Inc()

	if o.receipts != nil && o.audit != nil {
		if attempt, auditErr := o.audit.LatestByReference(ctx, session.ExternalReference); auditErr == nil {
			o.receipts.PaymentConfirmed(ctx, payerEmail, attempt)
		}
	}

	o.logger.Info("payment confirmed", map[string]interface{}{
		"reference": session.ExternalReference,
		"planType":  string(planType),
		"userId":    who.UserID,
	})

	return &Result{
		Target: navigation.Resolve(*fresh),
		Notice: "Payment successful",
		Status: models.StatusSucceeded,
	}, nil
}

func (o *Orchestrator) confirm(ctx context.Context, session *models.PaymentSession, req models.PaymentRequest, planType models.PlanType, userID string) (*confirmResponse, error) {
	path := confirmPayPalPath
	if session.Kind == models.GatewayTokenized {
		path = confirmStripePath
	}

	body := map[string]interface{}{
		"external_reference": session.ExternalReference,
		"plan_id":            req.PlanID,
		"hours":              req.Hours,
		"plan_type":          string(planType),
		"user_id":            userID,
		"idempotency_key":    uuid.New().String(),
	}

	raw, err := o.backend.Call(ctx, http.MethodPost, path, body, nil)
	if err != nil {
		return nil, err
	}

	var resp confirmResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apperrors.NewBackendConfirmError(fmt.Errorf("malformed confirm response: %w", err))
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, apperrors.NewBackendConfirmError(errors.New(msg))
	}
	return &resp, nil
}

// refreshProfile prefers the profile embedded in the confirm response and
// falls back to the get-profile endpoint. The result is cached; a nil return
// means neither source was usable.
func (o *Orchestrator) refreshProfile(ctx context.Context, embedded *models.UserSessionState) *models.UserSessionState {
	if embedded != nil {
		o.cacheProfile(ctx, embedded)
		return embedded
	}

	raw, err := o.backend.Call(ctx, http.MethodGet, profilePath, nil, nil)
	if err != nil {
		o.logger.Warn("profile refresh failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	var state models.UserSessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		o.logger.Warn("profile refresh returned malformed payload", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	o.cacheProfile(ctx, &state)
	return &state
}

// cacheProfile persists the refreshed profile and its onboarding step so the
// next flow starts from current state even before the backend is reachable.
func (o *Orchestrator) cacheProfile(ctx context.Context, state *models.UserSessionState) {
	if err := o.state.SetCachedProfile(ctx, state); err != nil {
		o.logger.Warn("profile cache write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := o.state.SetAccountStep(ctx, state.AccountStep); err != nil {
		o.logger.Warn("account step write failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// fail marks the session FAILED, records the attempt and returns the error
// unchanged so the caller surfaces exactly one notice.
func (o *Orchestrator) fail(ctx context.Context, session *models.PaymentSession, err error) error {
	if statusErr := session.SetStatus(models.StatusFailed); statusErr != nil {
		// Settled sessions keep their recorded outcome.
		o.logger.Warn("failed to mark session failed", map[string]interface{}{
			"error": statusErr.Error(),
		})
		return err
	}
	code := string(apperrors.CodeOf(err))
	o.recordStatus(ctx, session, models.StatusFailed, code)
	metrics.PaymentsFailed.WithLabelValues(string(session.Kind), code).Inc()

	o.logger.Error("payment confirmation failed", map[string]interface{}{
		"reference": session.ExternalReference,
		"errorCode": code,
		"error":     err.Error(),
	})
	return err
}

func (o *Orchestrator) recordStatus(ctx context.Context, session *models.PaymentSession, status models.SessionStatus, errorCode string) {
	if o.audit == nil {
		return
	}
	if err := o.audit.UpdateStatus(ctx, session.ExternalReference, status, errorCode); err != nil {
		o.logger.Warn("audit update failed", map[string]interface{}{
			"reference": session.ExternalReference,
			"status":    string(status),
			"error":     err.Error(),
		})
	}
}
