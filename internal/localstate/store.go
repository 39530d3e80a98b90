// Package localstate is the key-value collaborator holding the auth token,
// the cached user profile, the account-step counter and the membership flag.
package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"payment-orchestrator/internal/common/logger"
	"payment-orchestrator/internal/models"
)

const (
	keyAuthToken     = "auth_token"
	keyProfile       = "profile"
	keyAccountStep   = "account_step"
	keyMembership    = "membership_active"
	profileCacheTTL  = 5 * time.Minute
	membershipKeyTTL = 24 * time.Hour
)

// Store wraps a Redis client with the flat key schema used by the flow.
type Store struct {
	rdb    *redis.Client
	prefix string
	logger logger.Logger
}

func New(rdb *redis.Client, prefix string, log logger.Logger) *Store {
	return &Store{
		rdb:    rdb,
		prefix: prefix,
		logger: log.WithFields(map[string]interface{}{"component": "localstate"}),
	}
}

func (s *Store) key(name string) string {
	return s.prefix + ":" + name
}

// Ping tests the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("localstate ping failed: %w", err)
	}
	return nil
}

// AuthToken returns the cached bearer token, or empty string when absent.
func (s *Store) AuthToken(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key(keyAuthToken)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read auth token: %w", err)
	}
	return val, nil
}

// SetAuthToken stores the bearer token without expiry; it lives until logout
// or expiry interception clears it.
func (s *Store) SetAuthToken(ctx context.Context, token string) error {
	return s.rdb.Set(ctx, s.key(keyAuthToken), token, 0).Err()
}

// ClearCredentials removes the auth token and the cached profile. Called by
// the HTTP layer on 401 and by explicit logout.
func (s *Store) ClearCredentials(ctx context.Context) error {
	return s.rdb.Del(ctx, s.key(keyAuthToken), s.key(keyProfile)).Err()
}

// CachedProfile returns the cached user session state, or nil on cache miss.
func (s *Store) CachedProfile(ctx context.Context) (*models.UserSessionState, error) {
	val, err := s.rdb.Get(ctx, s.key(keyProfile)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached profile: %w", err)
	}
	var state models.UserSessionState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		s.logger.Warn("cached profile is corrupt, dropping it", map[string]interface{}{
			"error": err.Error(),
		})
		_ = s.rdb.Del(ctx, s.key(keyProfile)).Err()
		return nil, nil
	}
	return &state, nil
}

// SetCachedProfile caches the user session state with a short TTL.
func (s *Store) SetCachedProfile(ctx context.Context, state *models.UserSessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	return s.rdb.Set(ctx, s.key(keyProfile), data, profileCacheTTL).Err()
}

// AccountStep returns the persisted profile-completion counter, 0 when unset.
func (s *Store) AccountStep(ctx context.Context) (int, error) {
	val, err := s.rdb.Get(ctx, s.key(keyAccountStep)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read account step: %w", err)
	}
	step, err := strconv.Atoi(val)
	if err != nil {
		return 0, nil
	}
	return step, nil
}

// SetAccountStep persists the profile-completion counter.
func (s *Store) SetAccountStep(ctx context.Context, step int) error {
	return s.rdb.Set(ctx, s.key(keyAccountStep), strconv.Itoa(step), 0).Err()
}

// MembershipActive reports the cached membership flag.
func (s *Store) MembershipActive(ctx context.Context) (bool, error) {
	val, err := s.rdb.Get(ctx, s.key(keyMembership)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read membership flag: %w", err)
	}
	return val == "1", nil
}

// SetMembershipActive updates the membership cache after a confirmed payment.
func (s *Store) SetMembershipActive(ctx context.Context, active bool) error {
	val := "0"
	if active {
		val = "1"
	}
	return s.rdb.Set(ctx, s.key(keyMembership), val, membershipKeyTTL).Err()
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	if s.rdb != nil {
		return s.rdb.Close()
	}
	return nil
}
