package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
)

func fixedSource(name, id string) Source {
	return Source{
		Name:   name,
		Lookup: func(ctx context.Context) (string, error) { return id, nil },
	}
}

func failingSource(name string) Source {
	return Source{
		Name:   name,
		Lookup: func(ctx context.Context) (string, error) { return "", errors.New("lookup exploded") },
	}
}

func TestResolver_FirstNonEmptyWins(t *testing.T) {
	r := NewResolver(logger.NewTestLogger(t),
		fixedSource("store", ""),
		fixedSource("cache", "user-from-cache"),
		fixedSource("auth", "user-from-auth"),
	)

	who, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-from-cache", who.UserID)
	assert.Equal(t, "cache", who.Origin)
}

func TestResolver_PriorityOrderRespected(t *testing.T) {
	r := NewResolver(logger.NewTestLogger(t),
		fixedSource("store", "user-from-store"),
		fixedSource("cache", "user-from-cache"),
	)

	who, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-from-store", who.UserID)
	assert.Equal(t, "store", who.Origin)
}

func TestResolver_LookupErrorIsAMiss(t *testing.T) {
	r := NewResolver(logger.NewTestLogger(t),
		failingSource("store"),
		fixedSource("auth", "user-from-auth"),
	)

	who, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-from-auth", who.UserID)
}

func TestResolver_AuthExpiryAbortsChain(t *testing.T) {
	var laterCalled bool
	r := NewResolver(logger.NewTestLogger(t),
		Source{
			Name: "store",
			Lookup: func(ctx context.Context) (string, error) {
				return "", apperrors.NewAuthExpiredError("401 from profile endpoint")
			},
		},
		Source{
			Name: "cache",
			Lookup: func(ctx context.Context) (string, error) {
				laterCalled = true
				return "user-from-cache", nil
			},
		},
	)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsAuthExpired(err), "expiry must surface as itself, not as a miss")
	assert.False(t, laterCalled, "expiry must not fall through to later sources")
}

func TestResolver_ExhaustionIsMissingUserID(t *testing.T) {
	r := NewResolver(logger.NewTestLogger(t),
		fixedSource("store", ""),
		failingSource("cache"),
		fixedSource("auth", ""),
	)

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMissingUserID, apperrors.CodeOf(err))

	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Contains(t, stdErr.Details, "store")
	assert.Contains(t, stdErr.Details, "auth")
}

func TestResolver_NoSources(t *testing.T) {
	r := NewResolver(logger.NewTestLogger(t))

	_, err := r.Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeMissingUserID, apperrors.CodeOf(err))
}
