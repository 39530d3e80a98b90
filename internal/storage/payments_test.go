package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	return db, mock
}

func testAttempt() *PaymentAttempt {
	return &PaymentAttempt{
		ExternalReference: "ORDER-1",
		Gateway:           models.GatewayRedirect,
		PlanID:            7,
		Amount:            49.99,
		Currency:          "AUD",
		Hours:             10,
		Status:            models.StatusPending,
	}
}

// ==========================
// RecordAttempt Tests
// ==========================

func TestRepository_RecordAttempt(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))
	attempt := testAttempt()

	mock.ExpectExec("INSERT INTO payment_attempts").
		WithArgs(sqlmock.AnyArg(), "ORDER-1", "REDIRECT", int64(7), 49.99, "AUD", 10,
			"PENDING", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RecordAttempt(context.Background(), attempt))
	assert.NotEmpty(t, attempt.ID, "id must be generated when absent")
	assert.False(t, attempt.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RecordAttempt_KeepsProvidedID(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))
	attempt := testAttempt()
	attempt.ID = "fixed-id"

	mock.ExpectExec("INSERT INTO payment_attempts").
		WithArgs("fixed-id", "ORDER-1", "REDIRECT", int64(7), 49.99, "AUD", 10,
			"PENDING", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RecordAttempt(context.Background(), attempt))
	assert.Equal(t, "fixed-id", attempt.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RecordAttempt_DBError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))

	mock.ExpectExec("INSERT INTO payment_attempts").
		WillReturnError(errors.New("connection reset"))

	err := repo.RecordAttempt(context.Background(), testAttempt())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record payment attempt")
}

// ==========================
// UpdateStatus Tests
// ==========================

func TestRepository_UpdateStatus(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))

	mock.ExpectExec("UPDATE payment_attempts").
		WithArgs("SUCCEEDED", "", sqlmock.AnyArg(), "ORDER-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), "ORDER-1", models.StatusSucceeded, ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_UpdateStatus_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))

	mock.ExpectExec("UPDATE payment_attempts").
		WithArgs("FAILED", "SERVER_ERROR", sqlmock.AnyArg(), "UNKNOWN").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "UNKNOWN", models.StatusFailed, "SERVER_ERROR")
	assert.True(t, errors.Is(err, ErrAttemptNotFound))
}

// ==========================
// LatestByReference Tests
// ==========================

func TestRepository_LatestByReference(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "external_reference", "gateway", "plan_id", "amount", "currency",
		"hours", "status", "error_code", "created_at", "updated_at",
	}).AddRow("id-1", "ORDER-1", "REDIRECT", int64(7), 49.99, "AUD", 10, "SUCCEEDED", "", now, now)

	mock.ExpectQuery("SELECT (.+) FROM payment_attempts").
		WithArgs("ORDER-1").
		WillReturnRows(rows)

	attempt, err := repo.LatestByReference(context.Background(), "ORDER-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", attempt.ID)
	assert.Equal(t, models.GatewayRedirect, attempt.Gateway)
	assert.Equal(t, models.StatusSucceeded, attempt.Status)
	assert.Equal(t, 49.99, attempt.Amount)
}

func TestRepository_LatestByReference_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	repo := NewRepository(db, logger.NewTestLogger(t))

	mock.ExpectQuery("SELECT (.+) FROM payment_attempts").
		WithArgs("MISSING").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.LatestByReference(context.Background(), "MISSING")
	assert.True(t, errors.Is(err, ErrAttemptNotFound))
}
