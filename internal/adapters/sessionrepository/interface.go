package sessionrepository

import (
	"context"
	"time"

	"github.com/Amund211/chatrelay/internal/domain"
)

type SessionRepository interface {
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)
	CreateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	UpdateSessionTitle(ctx context.Context, userID string, sessionID string, title string) error
	DeleteSession(ctx context.Context, userID string, sessionID string) error

	ListMessages(ctx context.Context, userID string, sessionID string) ([]domain.Message, error)
	UpsertMessages(ctx context.Context, messages []domain.Message) error

	TouchSessions(ctx context.Context, userID string, sessionIDs []string, at time.Time) error
}

var _ SessionRepository = (*Postgres)(nil)
