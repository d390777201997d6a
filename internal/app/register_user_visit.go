package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

const visitTTL = 5 * time.Minute

type userRepository interface {
	RegisterVisit(ctx context.Context, userID string) (domain.User, error)
	GetActiveSessionID(ctx context.Context, userID string) (string, error)
	SetActiveSessionID(ctx context.Context, userID string, sessionID string) error
}

// visitRegistry is the actor check: the user is registered at most once per ttl
type visitRegistry struct {
	repo  userRepository
	users *ttlcache.Cache[string, domain.User]
	group singleflight.Group
}

func newVisitRegistry(repo userRepository, ttl time.Duration) *visitRegistry {
	return &visitRegistry{
		repo: repo,
		users: ttlcache.New[string, domain.User](
			ttlcache.WithTTL[string, domain.User](ttl),
			ttlcache.WithDisableTouchOnHit[string, domain.User](),
		),
	}
}

func (r *visitRegistry) Register(ctx context.Context, userID string) (domain.User, error) {
	if userID == "" {
		return domain.User{}, fmt.Errorf("%w: missing user id", domain.ErrInvalidInput)
	}

	if item := r.users.Get(userID); item != nil {
		return item.Value(), nil
	}

	result, err, _ := r.group.Do(userID, func() (any, error) {
		user, err := r.repo.RegisterVisit(context.WithoutCancel(ctx), userID)
		if err != nil {
			// NOTE: UserRepository implementations handle their own error reporting
			return domain.User{}, fmt.Errorf("failed to register visit: %w", err)
		}
		r.users.Set(userID, user, ttlcache.DefaultTTL)
		return user, nil
	})
	if err != nil {
		return domain.User{}, err
	}

	return result.(domain.User), nil
}

func (r *visitRegistry) Len() int {
	return r.users.Len()
}

func (r *visitRegistry) Cleanup() {
	r.users.DeleteExpired()
}

func (r *visitRegistry) Clear() {
	r.users.DeleteAll()
}
