package userrepository

import (
	"context"

	"github.com/Amund211/chatrelay/internal/domain"
)

type UserRepository interface {
	RegisterVisit(ctx context.Context, userID string) (domain.User, error)
	GetActiveSessionID(ctx context.Context, userID string) (string, error)
	SetActiveSessionID(ctx context.Context, userID string, sessionID string) error
}

var _ UserRepository = (*Postgres)(nil)
