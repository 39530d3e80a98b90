// Package storage persists the payment attempt audit trail.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/models"
)

// ErrAttemptNotFound is returned when no attempt exists for a reference.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// PaymentAttempt is one row of the audit trail: a single initialize /
// confirm / cancel lifecycle for an external gateway reference.
type PaymentAttempt struct {
	ID                string
	ExternalReference string
	Gateway           models.GatewayKind
	PlanID            int64
	Amount            float64
	Currency          string
	Hours             int
	Status            models.SessionStatus
	ErrorCode         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Repository reads and writes payment attempts.
type Repository struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRepository(db *sql.DB, log logger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "payment-repository"}),
	}
}

// RecordAttempt inserts a new attempt row. The ID is generated when absent.
func (r *Repository) RecordAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	query := `INSERT INTO payment_attempts
		(id, external_reference, gateway, plan_id, amount, currency, hours, status, error_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.ExternalReference, string(attempt.Gateway),
		attempt.PlanID, attempt.Amount, attempt.Currency, attempt.Hours,
		string(attempt.Status), attempt.ErrorCode, attempt.CreatedAt, attempt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("record payment attempt: %w", err)
	}
	return nil
}

// UpdateStatus moves the latest attempt for a reference to a new status.
func (r *Repository) UpdateStatus(ctx context.Context, externalReference string, status models.SessionStatus, errorCode string) error {
	query := `UPDATE payment_attempts
		SET status = $1, error_code = $2, updated_at = $3
		WHERE external_reference = $4`
	res, err := r.db.ExecContext(ctx, query, string(status), errorCode, time.Now().UTC(), externalReference)
	if err != nil {
		return fmt.Errorf("update payment attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// LatestByReference returns the most recent attempt for a gateway reference.
func (r *Repository) LatestByReference(ctx context.Context, externalReference string) (*PaymentAttempt, error) {
	query := `SELECT id, external_reference, gateway, plan_id, amount, currency, hours, status, error_code, created_at, updated_at
		FROM payment_attempts
		WHERE external_reference = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var attempt PaymentAttempt
	var gateway, status string
	err := r.db.QueryRowContext(ctx, query, externalReference).Scan(
		&attempt.ID, &attempt.ExternalReference, &gateway,
		&attempt.PlanID, &attempt.Amount, &attempt.Currency, &attempt.Hours,
		&status, &attempt.ErrorCode, &attempt.CreatedAt, &attempt.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment attempt: %w", err)
	}
	attempt.Gateway = models.GatewayKind(gateway)
	attempt.Status = models.SessionStatus(status)
	return &attempt, nil
}
