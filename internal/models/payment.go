package models

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// GatewayKind identifies how a payment is completed.
type GatewayKind string

const (
	// GatewayRedirect is a hosted checkout completed in an embedded browser
	// view; completion is inferred from navigation URLs.
	GatewayRedirect GatewayKind = "REDIRECT"
	// GatewayTokenized is an SDK flow that exchanges card details for a
	// client secret without leaving the app.
	GatewayTokenized GatewayKind = "TOKENIZED"
)

// SessionStatus tracks the lifecycle of a payment session. Transitions are
// monotonic except FAILED -> PENDING on explicit retry.
type SessionStatus string

const (
	StatusPending    SessionStatus = "PENDING"
	StatusConfirming SessionStatus = "CONFIRMING"
	StatusSucceeded  SessionStatus = "SUCCEEDED"
	StatusCancelled  SessionStatus = "CANCELLED"
	StatusFailed     SessionStatus = "FAILED"
)

// statusRank orders statuses for the monotonicity check.
var statusRank = map[SessionStatus]int{
	StatusPending:    0,
	StatusConfirming: 1,
	StatusSucceeded:  2,
	StatusCancelled:  2,
	StatusFailed:     2,
}

// terminal reports whether a status admits no further transition. The single
// way out of a terminal status is the explicit FAILED -> PENDING reset.
func (st SessionStatus) terminal() bool {
	switch st {
	case StatusSucceeded, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// PaymentRequest is created when the user confirms a plan selection. It is
// immutable once submitted to the gateway adapter.
type PaymentRequest struct {
	PlanID   int64   `json:"plan_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Hours    int     `json:"hours"`
}

// BillingDetails is forwarded to the tokenized card SDK.
type BillingDetails struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Country string `json:"country"`
	State   string `json:"state"`
}

// PaymentSession is created on gateway initialization and lives until the
// flow terminates or is torn down.
type PaymentSession struct {
	Kind              GatewayKind `json:"gateway_kind"`
	ExternalReference string      `json:"external_reference"`
	ApprovalURL       string      `json:"approval_url,omitempty"`
	ClientSecret      string      `json:"client_secret,omitempty"`

	mu     sync.Mutex
	status SessionStatus

	// processing guards the confirmation routine: at most one confirmation
	// attempt may execute per session.
	processing atomic.Bool
}

// NewPaymentSession creates a session in PENDING state.
func NewPaymentSession(kind GatewayKind, externalReference string) *PaymentSession {
	return &PaymentSession{
		Kind:              kind,
		ExternalReference: externalReference,
		status:            StatusPending,
	}
}

// Status returns the current lifecycle status.
func (s *PaymentSession) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus advances the lifecycle. Moving backwards is rejected, terminal
// states are absorbing; use Reset for the FAILED -> PENDING retry transition.
func (s *PaymentSession) SetStatus(next SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == s.status {
		return nil
	}
	if s.status.terminal() || statusRank[next] < statusRank[s.status] {
		return fmt.Errorf("invalid status transition %s -> %s", s.status, next)
	}
	s.status = next
	return nil
}

// Reset returns a FAILED session to PENDING for an explicit retry. Any other
// starting state is rejected. The processing guard is left untouched so a
// holder may reset the status without giving up its at-most-once slot.
func (s *PaymentSession) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusFailed {
		return fmt.Errorf("cannot reset session in status %s", s.status)
	}
	s.status = StatusPending
	return nil
}

// BeginConfirm attempts to acquire the processing guard. It returns false if
// a confirmation attempt is already in flight for this session.
func (s *PaymentSession) BeginConfirm() bool {
	return s.processing.CompareAndSwap(false, true)
}

// EndConfirm releases the processing guard. Safe to call on teardown even if
// the guard was never taken.
func (s *PaymentSession) EndConfirm() {
	s.processing.Store(false)
}

// Confirming reports whether a confirmation attempt is in flight.
func (s *PaymentSession) Confirming() bool {
	return s.processing.Load()
}
