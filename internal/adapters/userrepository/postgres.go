package userrepository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/Amund211/chatrelay/internal/reporting"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// foreign_key_violation
const foreignKeyViolation = "23503"

type Postgres struct {
	db      *sqlx.DB
	schema  string
	tracer  trace.Tracer
	nowFunc func() time.Time
}

func NewPostgres(db *sqlx.DB, schema string, nowFunc func() time.Time) *Postgres {
	tracer := otel.Tracer("chatrelay/userrepository/postgres")
	return &Postgres{
		db:      db,
		schema:  schema,
		tracer:  tracer,
		nowFunc: nowFunc,
	}
}

type dbUser struct {
	UserID      string    `db:"user_id"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
	SeenCount   int64     `db:"seen_count"`
}

func (p *Postgres) RegisterVisit(ctx context.Context, userID string) (domain.User, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.RegisterVisit")
	defer span.End()

	if userID == "" {
		err := fmt.Errorf("%w: userID is empty", domain.ErrInvalidInput)
		reporting.Report(ctx, err)
		return domain.User{}, err
	}

	now := p.nowFunc()

	var user dbUser
	err := p.db.QueryRowxContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s.users
		(user_id, first_seen_at, last_seen_at, seen_count)
		VALUES ($1, $2, $2, 1)
		ON CONFLICT (user_id)
		DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at,
			seen_count = users.seen_count + 1
		RETURNING user_id, first_seen_at, last_seen_at, seen_count`,
			pq.QuoteIdentifier(p.schema)),
		userID,
		now,
	).StructScan(&user)
	if err != nil {
		err := fmt.Errorf("failed to insert or update user: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID": userID,
		})
		return domain.User{}, err
	}

	return domain.User{
		UserID:      user.UserID,
		FirstSeenAt: user.FirstSeenAt,
		LastSeenAt:  user.LastSeenAt,
		SeenCount:   user.SeenCount,
	}, nil
}

// GetActiveSessionID returns the empty string when the user has no active session
func (p *Postgres) GetActiveSessionID(ctx context.Context, userID string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.GetActiveSessionID")
	defer span.End()

	var sessionID string
	err := p.db.GetContext(
		ctx,
		&sessionID,
		fmt.Sprintf(
			`SELECT COALESCE(active_session_id::text, '') FROM %s.user_preferences WHERE user_id = $1`,
			pq.QuoteIdentifier(p.schema),
		),
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		err := fmt.Errorf("failed to get active session: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID": userID,
		})
		return "", err
	}

	return sessionID, nil
}

// SetActiveSessionID stores the active session of the user. An empty sessionID clears it.
func (p *Postgres) SetActiveSessionID(ctx context.Context, userID string, sessionID string) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.SetActiveSessionID")
	defer span.End()

	_, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s.user_preferences
		(user_id, active_session_id, updated_at)
		VALUES ($1, NULLIF($2, '')::uuid, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			active_session_id = EXCLUDED.active_session_id,
			updated_at = EXCLUDED.updated_at`,
			pq.QuoteIdentifier(p.schema)),
		userID,
		sessionID,
		p.nowFunc(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}

		err := fmt.Errorf("failed to set active session: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":    userID,
			"sessionID": sessionID,
		})
		return err
	}

	return nil
}
