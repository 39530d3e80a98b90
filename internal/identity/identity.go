// Package identity resolves the effective user id through an ordered
// fallback chain with a typed result and an explicit not-found terminal.
package identity

import (
	"context"
	"strings"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
)

// Source is one place a user id may come from. An empty id with a nil error
// means "this source has nothing"; the chain moves on.
type Source struct {
	Name   string
	Lookup func(ctx context.Context) (string, error)
}

// Identity is the resolved user with the source that produced it.
type Identity struct {
	UserID string
	Origin string
}

// Resolver tries sources in priority order: live store state, then the
// cached local profile, then the previously stored auth payload.
type Resolver struct {
	sources []Source
	logger  logger.Logger
}

func NewResolver(log logger.Logger, sources ...Source) *Resolver {
	return &Resolver{
		sources: sources,
		logger:  log.WithFields(map[string]interface{}{"component": "identity"}),
	}
}

// Resolve returns the first non-empty user id. Lookup errors are logged and
// treated as a miss so a flaky source does not mask a later one; auth expiry
// is the exception and aborts the chain, since every later source would hand
// back an identity the backend no longer accepts. When every source comes up
// empty the chain terminates with MissingUserIDError.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	tried := make([]string, 0, len(r.sources))
	for _, src := range r.sources {
		tried = append(tried, src.Name)
		id, err := src.Lookup(ctx)
		if err != nil {
			if apperrors.IsAuthExpired(err) {
				return Identity{}, err
			}
			r.logger.Warn("identity source failed", map[string]interface{}{
				"source": src.Name,
				"error":  err.Error(),
			})
			continue
		}
		if id != "" {
			return Identity{UserID: id, Origin: src.Name}, nil
		}
	}
	return Identity{}, apperrors.NewMissingUserIDError("tried: " + strings.Join(tried, ", "))
}
