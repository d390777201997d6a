package sessionrepository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/Amund211/chatrelay/internal/reporting"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultContentType = "text"

type Postgres struct {
	db     *sqlx.DB
	schema string
	tracer trace.Tracer
}

func NewPostgres(db *sqlx.DB, schema string) *Postgres {
	tracer := otel.Tracer("chatrelay/sessionrepository/postgres")
	return &Postgres{
		db:     db,
		schema: schema,
		tracer: tracer,
	}
}

type dbSession struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s dbSession) toDomain() domain.Session {
	return domain.Session{
		ID:        s.ID,
		UserID:    s.UserID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

type dbMessage struct {
	ID          string    `db:"id"`
	SessionID   string    `db:"session_id"`
	UserID      string    `db:"user_id"`
	Role        string    `db:"role"`
	Content     string    `db:"content"`
	ParentID    string    `db:"parent_id"`
	ContentType string    `db:"content_type"`
	CreatedAt   time.Time `db:"created_at"`
}

func (m dbMessage) toDomain() domain.Message {
	return domain.Message{
		ID:          m.ID,
		SessionID:   m.SessionID,
		UserID:      m.UserID,
		Role:        domain.Role(m.Role),
		Content:     m.Content,
		ParentID:    m.ParentID,
		ContentType: m.ContentType,
		CreatedAt:   m.CreatedAt,
	}
}

func (p *Postgres) table(name string) string {
	return fmt.Sprintf("%s.%s", pq.QuoteIdentifier(p.schema), name)
}

func (p *Postgres) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.ListSessions")
	defer span.End()

	var rows []dbSession
	err := p.db.SelectContext(
		ctx,
		&rows,
		fmt.Sprintf(
			`SELECT id, user_id, title, created_at, updated_at
			FROM %s
			WHERE user_id = $1
			ORDER BY updated_at DESC, id ASC`,
			p.table("sessions"),
		),
		userID,
	)
	if err != nil {
		err := fmt.Errorf("failed to list sessions: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID": userID,
		})
		return nil, err
	}

	sessions := make([]domain.Session, len(rows))
	for i, row := range rows {
		sessions[i] = row.toDomain()
	}
	span.SetAttributes(attribute.Int("sessions", len(sessions)))

	return sessions, nil
}

func (p *Postgres) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.CreateSession")
	defer span.End()

	var row dbSession
	err := p.db.QueryRowxContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO %s
			(id, user_id, title, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, user_id, title, created_at, updated_at`,
			p.table("sessions"),
		),
		session.ID,
		session.UserID,
		session.Title,
		session.CreatedAt,
		session.UpdatedAt,
	).StructScan(&row)
	if err != nil {
		err := fmt.Errorf("failed to create session: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":    session.UserID,
			"sessionID": session.ID,
		})
		return domain.Session{}, err
	}

	return row.toDomain(), nil
}

func (p *Postgres) UpdateSessionTitle(ctx context.Context, userID string, sessionID string, title string) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.UpdateSessionTitle")
	defer span.End()

	result, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf(`UPDATE %s SET title = $1 WHERE id = $2 AND user_id = $3`, p.table("sessions")),
		title,
		sessionID,
		userID,
	)
	if err != nil {
		err := fmt.Errorf("failed to update session title: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":    userID,
			"sessionID": sessionID,
		})
		return err
	}

	return requireAffected(result.RowsAffected, 1, sessionID)
}

func (p *Postgres) DeleteSession(ctx context.Context, userID string, sessionID string) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.DeleteSession")
	defer span.End()

	result, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, p.table("sessions")),
		sessionID,
		userID,
	)
	if err != nil {
		err := fmt.Errorf("failed to delete session: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":    userID,
			"sessionID": sessionID,
		})
		return err
	}

	return requireAffected(result.RowsAffected, 1, sessionID)
}

func (p *Postgres) ListMessages(ctx context.Context, userID string, sessionID string) ([]domain.Message, error) {
	ctx, span := p.tracer.Start(ctx, "Postgres.ListMessages")
	defer span.End()

	var rows []dbMessage
	err := p.db.SelectContext(
		ctx,
		&rows,
		fmt.Sprintf(
			`SELECT id, session_id, user_id, role, content, COALESCE(parent_id, '') AS parent_id, content_type, created_at
			FROM %s
			WHERE session_id = $1 AND user_id = $2
			ORDER BY created_at ASC, id ASC`,
			p.table("messages"),
		),
		sessionID,
		userID,
	)
	if err != nil {
		err := fmt.Errorf("failed to list messages: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":    userID,
			"sessionID": sessionID,
		})
		return nil, err
	}

	messages := make([]domain.Message, len(rows))
	for i, row := range rows {
		messages[i] = row.toDomain()
	}
	span.SetAttributes(attribute.Int("messages", len(messages)))

	return messages, nil
}

// UpsertMessages stores all messages in one statement.
//
// Messages are only written to sessions owned by their user. If any message
// could not be written, ErrSessionNotFound is returned. The message IDs must
// be unique within the call.
func (p *Postgres) UpsertMessages(ctx context.Context, messages []domain.Message) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.UpsertMessages")
	defer span.End()
	span.SetAttributes(attribute.Int("messages", len(messages)))

	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, len(messages))
	sessionIDs := make([]string, len(messages))
	userIDs := make([]string, len(messages))
	roles := make([]string, len(messages))
	contents := make([]string, len(messages))
	parentIDs := make([]string, len(messages))
	contentTypes := make([]string, len(messages))
	createdAts := make([]string, len(messages))
	for i, message := range messages {
		ids[i] = message.ID
		sessionIDs[i] = message.SessionID
		userIDs[i] = message.UserID
		roles[i] = string(message.Role)
		contents[i] = message.Content
		parentIDs[i] = message.ParentID
		contentTypes[i] = message.ContentType
		if contentTypes[i] == "" {
			contentTypes[i] = defaultContentType
		}
		createdAts[i] = message.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	result, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO %[1]s
			(id, session_id, user_id, role, content, parent_id, content_type, created_at)
			SELECT t.id, t.session_id::uuid, t.user_id, t.role, t.content, NULLIF(t.parent_id, ''), t.content_type, t.created_at::timestamptz
			FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[], $8::text[])
				AS t(id, session_id, user_id, role, content, parent_id, content_type, created_at)
			WHERE EXISTS (
				SELECT 1 FROM %[2]s s WHERE s.id = t.session_id::uuid AND s.user_id = t.user_id
			)
			ON CONFLICT (id)
			DO UPDATE SET
				role = EXCLUDED.role,
				content = EXCLUDED.content,
				parent_id = EXCLUDED.parent_id,
				content_type = EXCLUDED.content_type
			WHERE messages.user_id = EXCLUDED.user_id AND messages.session_id = EXCLUDED.session_id`,
			p.table("messages"),
			p.table("sessions"),
		),
		pq.Array(ids),
		pq.Array(sessionIDs),
		pq.Array(userIDs),
		pq.Array(roles),
		pq.Array(contents),
		pq.Array(parentIDs),
		pq.Array(contentTypes),
		pq.Array(createdAts),
	)
	if err != nil {
		err := fmt.Errorf("failed to upsert messages: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"messages":   strconv.Itoa(len(messages)),
			"sessionIDs": strings.Join(unique(sessionIDs), ","),
		})
		return err
	}

	return requireAffected(result.RowsAffected, int64(len(messages)), strings.Join(unique(sessionIDs), ","))
}

// TouchSessions sets updated_at of every listed session owned by userID in one statement
func (p *Postgres) TouchSessions(ctx context.Context, userID string, sessionIDs []string, at time.Time) error {
	ctx, span := p.tracer.Start(ctx, "Postgres.TouchSessions")
	defer span.End()
	span.SetAttributes(attribute.Int("sessions", len(sessionIDs)))

	if len(sessionIDs) == 0 {
		return nil
	}

	_, err := p.db.ExecContext(
		ctx,
		fmt.Sprintf(
			`UPDATE %s SET updated_at = $1 WHERE user_id = $2 AND id = ANY($3::uuid[])`,
			p.table("sessions"),
		),
		at,
		userID,
		pq.Array(sessionIDs),
	)
	if err != nil {
		err := fmt.Errorf("failed to touch sessions: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"userID":     userID,
			"sessionIDs": strings.Join(sessionIDs, ","),
		})
		return err
	}

	return nil
}

func requireAffected(rowsAffected func() (int64, error), expected int64, sessionID string) error {
	affected, err := rowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected < expected {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	return nil
}

func unique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
