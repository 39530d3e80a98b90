package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/metrics"
	"payment-orchestrator/internal/detector"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/orchestrator"
	"payment-orchestrator/internal/storage"
)

type initializeRequest struct {
	PlanID     int64                 `json:"plan_id"`
	Amount     float64               `json:"amount"`
	Currency   string                `json:"currency"`
	Hours      int                   `json:"hours"`
	Gateway    models.GatewayKind    `json:"gateway"`
	PayerEmail string                `json:"payer_email"`
	Billing    models.BillingDetails `json:"billing"`
}

type initializeResponse struct {
	ExternalReference string             `json:"external_reference"`
	Gateway           models.GatewayKind `json:"gateway"`
	ApprovalURL       string             `json:"approval_url,omitempty"`
	ClientSecret      string             `json:"client_secret,omitempty"`
	Status            string             `json:"status"`
}

type navigationEventRequest struct {
	URL string `json:"url"`
}

type navigationEventResponse struct {
	State           detector.State `json:"state"`
	ContinueLoading bool           `json:"continue_loading"`
	Result          interface{}    `json:"result,omitempty"`
}

type cardConfirmRequest struct {
	CardToken string `json:"card_token"`
}

type errorResponse struct {
	Code   string `json:"code"`
	Notice string `json:"notice"`
}

func (s *Server) handleInitialize(c echo.Context) error {
	var req initializeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Code:   string(apperrors.ErrCodeValidation),
			Notice: "Malformed payment request",
		})
	}

	payment := models.PaymentRequest{
		PlanID:   req.PlanID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Hours:    req.Hours,
	}

	session, err := s.gateway.Initialize(c.Request().Context(), payment, req.Gateway)
	if err != nil {
		return s.writeError(c, err)
	}

	if s.audit != nil {
		attempt := &storage.PaymentAttempt{
			ExternalReference: session.ExternalReference,
			Gateway:           session.Kind,
			PlanID:            payment.PlanID,
			Amount:            payment.Amount,
			Currency:          payment.Currency,
			Hours:             payment.Hours,
			Status:            models.StatusPending,
		}
		if err := s.audit.RecordAttempt(c.Request().Context(), attempt); err != nil {
			s.logger.Warn("audit insert failed", map[string]interface{}{
				"reference": session.ExternalReference,
				"error":     err.Error(),
			})
		}
	}

	entry := &flowEntry{
		session:    session,
		request:    payment,
		payerEmail: req.PayerEmail,
		billing:    req.Billing,
		startedAt:  time.Now(),
	}
	if session.Kind == models.GatewayRedirect {
		entry.detector = detector.New(s.logger)
	}
	s.registry.Put(session.ExternalReference, entry)

	metrics.PaymentsInitialized.WithLabelValues(string(session.Kind)).Inc()

	return c.JSON(http.StatusCreated, initializeResponse{
		ExternalReference: session.ExternalReference,
		Gateway:           session.Kind,
		ApprovalURL:       session.ApprovalURL,
		ClientSecret:      session.ClientSecret,
		Status:            string(session.Status()),
	})
}

// handleNavigationEvent feeds one embedded-browser navigation URL through the
// completion detector and, on a terminal state, hands the outcome to the
// orchestrator.
func (s *Server) handleNavigationEvent(c echo.Context) error {
	reference := c.Param("reference")
	entry, ok := s.registry.Get(reference)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{
			Code:   "UNKNOWN_REFERENCE",
			Notice: "No active payment for this reference",
		})
	}
	if entry.detector == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Code:   string(apperrors.ErrCodeValidation),
			Notice: "Navigation events apply to redirect checkouts only",
		})
	}

	var req navigationEventRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Code:   string(apperrors.ErrCodeValidation),
			Notice: "Navigation event requires a url",
		})
	}

	state, cont := entry.detector.Observe(req.URL)
	if state == detector.StateLoading {
		return c.JSON(http.StatusOK, navigationEventResponse{State: state, ContinueLoading: cont})
	}

	return s.settle(c, reference, entry, state == detector.StateSuccess)
}

// handleCardConfirm completes a tokenized checkout: confirm through the card
// SDK first, then run the same orchestration as the redirect flow.
func (s *Server) handleCardConfirm(c echo.Context) error {
	reference := c.Param("reference")
	entry, ok := s.registry.Get(reference)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{
			Code:   "UNKNOWN_REFERENCE",
			Notice: "No active payment for this reference",
		})
	}
	if entry.session.Kind != models.GatewayTokenized {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Code:   string(apperrors.ErrCodeValidation),
			Notice: "Card confirmation applies to tokenized checkouts only",
		})
	}
	if s.cards == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{
			Code:   string(apperrors.ErrCodeGatewayInit),
			Notice: "Card gateway is not configured",
		})
	}

	var req cardConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Code:   string(apperrors.ErrCodeValidation),
			Notice: "Malformed card confirmation request",
		})
	}

	if err := s.cards.Confirm(c.Request().Context(), entry.session, req.CardToken, entry.billing); err != nil {
		return s.writeError(c, err)
	}

	return s.settle(c, reference, entry, true)
}

func (s *Server) handleCancel(c echo.Context) error {
	reference := c.Param("reference")
	entry, ok := s.registry.Get(reference)
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{
			Code:   "UNKNOWN_REFERENCE",
			Notice: "No active payment for this reference",
		})
	}
	return s.settle(c, reference, entry, false)
}

func (s *Server) handleGetAttempt(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{
			Code:   "AUDIT_DISABLED",
			Notice: "Payment history is not available",
		})
	}
	attempt, err := s.audit.LatestByReference(c.Request().Context(), c.Param("reference"))
	if errors.Is(err, storage.ErrAttemptNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{
			Code:   "UNKNOWN_REFERENCE",
			Notice: "No payment attempt for this reference",
		})
	}
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, attempt)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// settle runs the orchestrator for a terminal gateway outcome and tears the
// flow down on completion.
func (s *Server) settle(c echo.Context, reference string, entry *flowEntry, succeeded bool) error {
	result, err := s.orchestrator.OnGatewayResult(
		c.Request().Context(), succeeded, entry.session, entry.request, entry.payerEmail,
	)
	if err != nil {
		if errors.Is(err, orchestrator.ErrConfirmationInFlight) {
			return c.JSON(http.StatusAccepted, navigationEventResponse{
				State:           entry.detectorState(),
				ContinueLoading: false,
			})
		}
		// Failed flows stay registered so the user can retry from the same
		// screen; session expiry tears down since re-auth restarts the flow.
		if apperrors.IsAuthExpired(err) {
			s.registry.Remove(reference)
		}
		s.recordFlow(c, entry, string(models.StatusFailed))
		return s.writeError(c, err)
	}

	s.registry.Remove(reference)
	s.recordFlow(c, entry, string(result.Status))
	return c.JSON(http.StatusOK, navigationEventResponse{
		State:           entry.detectorState(),
		ContinueLoading: false,
		Result:          result,
	})
}

// recordFlow feeds the flow outcome and its initialize-to-terminal duration
// into the meter.
func (s *Server) recordFlow(c echo.Context, entry *flowEntry, status string) {
	if s.obs == nil {
		return
	}
	ctx := c.Request().Context()
	status = strings.ToLower(status)
	s.obs.RecordPaymentProcessed(ctx, status)
	if !entry.startedAt.IsZero() {
		s.obs.RecordPaymentDuration(ctx, time.Since(entry.startedAt), status)
	}
}

func (e *flowEntry) detectorState() detector.State {
	if e.detector != nil && e.detector.State() != detector.StateLoading {
		return e.detector.State()
	}
	if e.session.Status() == models.StatusCancelled {
		return detector.StateCancelled
	}
	return detector.StateSuccess
}

// writeError maps the error taxonomy to HTTP statuses, surfacing exactly one
// notice per terminal transition.
func (s *Server) writeError(c echo.Context, err error) error {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	notice := "Something went wrong, please try again"

	switch code {
	case apperrors.ErrCodeValidation:
		status = http.StatusBadRequest
		notice = "Payment request is invalid"
	case apperrors.ErrCodeAuthExpired:
		status = http.StatusUnauthorized
		notice = "Your session has expired, please sign in again"
	case apperrors.ErrCodePermission:
		status = http.StatusForbidden
		notice = "You are not allowed to perform this payment"
	case apperrors.ErrCodeMissingUserID:
		status = http.StatusConflict
		notice = "Could not resolve your account, please sign in again"
	case apperrors.ErrCodeGatewayInit:
		status = http.StatusBadGateway
		notice = "Payment provider is unavailable, please try again"
	case apperrors.ErrCodeBackendConfirm:
		status = http.StatusBadGateway
		notice = "Payment could not be confirmed, please try again"
	case apperrors.ErrCodeTransport, apperrors.ErrCodeServer:
		status = http.StatusBadGateway
		notice = "Network issue, please try again"
	}

	return c.JSON(status, errorResponse{Code: string(code), Notice: notice})
}
