package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Amund211/chatrelay/internal/adapters/cache"
	"github.com/Amund211/chatrelay/internal/batching"
	"github.com/Amund211/chatrelay/internal/domain"
	"github.com/Amund211/chatrelay/internal/logging"
	"github.com/google/uuid"
)

const (
	sessionsTTL      = 5 * time.Minute
	messagesTTL      = 10 * time.Minute
	activeSessionTTL = 5 * time.Minute
	completionTTL    = 30 * time.Minute

	messageWriteWindow = 50 * time.Millisecond
	sessionTouchWindow = 1 * time.Second

	maxEntriesPerStore = 1000

	// Shorter queries are too generic to be answered by a similar one
	semanticMinQueryLength = 10
)

type sessionRepository interface {
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)
	CreateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	UpdateSessionTitle(ctx context.Context, userID string, sessionID string, title string) error
	DeleteSession(ctx context.Context, userID string, sessionID string) error
	ListMessages(ctx context.Context, userID string, sessionID string) ([]domain.Message, error)
	UpsertMessages(ctx context.Context, messages []domain.Message) error
	TouchSessions(ctx context.Context, userID string, sessionIDs []string, at time.Time) error
}

type completionProvider interface {
	Complete(ctx context.Context, request domain.CompletionRequest) (domain.Completion, error)
	Stream(ctx context.Context, request domain.CompletionRequest, onDelta func(delta string) error) (domain.Completion, error)
}

type CompletionStats struct {
	Hits          int64
	Misses        int64
	APICallsSaved int64
	HitRate       float64
}

type Stats struct {
	Completions     CompletionStats
	Stores          map[string]cache.StoreStats
	SemanticEntries int
	Actors          int
	InFlight        int
	PendingWrites   int
	PendingTouches  int
}

// AccessService serves sessions, messages, preferences and completions from
// local caches where it can, and talks to the repositories and the completion
// API where it must.
//
// Reads go cache, then an in-flight request for the same key, then the remote.
// Writes update the cache first, so the writer reads its own write, and drop
// the optimistic entries again when the remote write fails.
type AccessService struct {
	users       userRepository
	sessions    sessionRepository
	completions completionProvider
	nowFunc     func() time.Time
	newID       func() string

	visits   *visitRegistry
	versions *writeVersions

	sessionsCache      *cache.Store[[]domain.Session]
	messagesCache      *cache.Store[[]domain.Message]
	activeSessionCache *cache.Store[string]
	completionCache    *cache.Store[domain.Completion]
	semanticCache      *cache.SemanticIndex[domain.Completion]
	generalCache       *cache.Store[any]
	generalSemantic    *cache.SemanticIndex[any]

	sessionsRequests      *cache.Coordinator[[]domain.Session]
	messagesRequests      *cache.Coordinator[[]domain.Message]
	activeSessionRequests *cache.Coordinator[string]
	completionRequests    *cache.Coordinator[domain.Completion]
	generalRequests       *cache.Coordinator[any]

	messageWrites  *batching.Scheduler[domain.Message, struct{}]
	sessionTouches *batching.Scheduler[string, struct{}]
	generalBatches *batching.Scheduler[any, any]

	completionHits   atomic.Int64
	completionMisses atomic.Int64
	apiCallsSaved    atomic.Int64
}

func NewAccessService(
	users userRepository,
	sessions sessionRepository,
	completions completionProvider,
	nowFunc func() time.Time,
	afterFunc batching.AfterFunc,
) *AccessService {
	return &AccessService{
		users:       users,
		sessions:    sessions,
		completions: completions,
		nowFunc:     nowFunc,
		newID:       uuid.NewString,

		visits:   newVisitRegistry(users, visitTTL),
		versions: newWriteVersions(writeVersionTTL),

		sessionsCache:      cache.NewStore[[]domain.Session]("sessions", maxEntriesPerStore, nowFunc),
		messagesCache:      cache.NewStore[[]domain.Message]("messages", maxEntriesPerStore, nowFunc),
		activeSessionCache: cache.NewStore[string]("active-session", maxEntriesPerStore, nowFunc),
		completionCache:    cache.NewStore[domain.Completion]("completions", maxEntriesPerStore, nowFunc),
		semanticCache: cache.NewSemanticIndex[domain.Completion](
			"completions-semantic", cache.DefaultSimilarityThreshold, cache.JaccardSimilarity, maxEntriesPerStore, nowFunc,
		),
		generalCache: cache.NewStore[any]("general", maxEntriesPerStore, nowFunc),
		generalSemantic: cache.NewSemanticIndex[any](
			"general-semantic", cache.DefaultSimilarityThreshold, cache.JaccardSimilarity, maxEntriesPerStore, nowFunc,
		),

		sessionsRequests:      cache.NewCoordinator[[]domain.Session]("sessions"),
		messagesRequests:      cache.NewCoordinator[[]domain.Message]("messages"),
		activeSessionRequests: cache.NewCoordinator[string]("active-session"),
		completionRequests:    cache.NewCoordinator[domain.Completion]("completions"),
		generalRequests:       cache.NewCoordinator[any]("general"),

		messageWrites:  batching.NewScheduler[domain.Message, struct{}]("message-writes", messageWriteWindow, afterFunc),
		sessionTouches: batching.NewScheduler[string, struct{}]("session-touches", sessionTouchWindow, afterFunc),
		generalBatches: batching.NewScheduler[any, any]("general", messageWriteWindow, afterFunc),
	}
}

// readThrough returns the cached value for key, or produces it once for all
// concurrent callers and caches it. Failures are never cached, and neither
// are values fetched while a write to key was in progress.
func readThrough[T any](
	ctx context.Context,
	versions *writeVersions,
	store *cache.Store[T],
	coordinator *cache.Coordinator[T],
	key string,
	ttl time.Duration,
	producer func(ctx context.Context) (T, error),
) (T, error) {
	if value, ok := store.Get(key); ok {
		return value, nil
	}

	version := versions.current(key)
	return coordinator.Do(ctx, requestKey(key, version), func(ctx context.Context) (T, error) {
		value, err := producer(ctx)
		if err != nil {
			return value, err
		}
		if !versions.storeIfUnchanged(key, version, func() { store.Set(key, value, ttl) }) {
			logging.FromContext(ctx).InfoContext(ctx, "Not caching read that overlapped a write", "key", key)
		}
		return value, nil
	})
}

func (s *AccessService) checkActor(ctx context.Context, userID string) (context.Context, error) {
	ctx = logging.AddMetaToContext(ctx, slog.String("userId", userID))
	if _, err := s.visits.Register(ctx, userID); err != nil {
		return ctx, fmt.Errorf("actor check failed: %w", err)
	}
	return ctx, nil
}

func validateSessionID(sessionID string) error {
	if _, err := uuid.Parse(sessionID); err != nil {
		return fmt.Errorf("%w: invalid session id '%s'", domain.ErrInvalidInput, sessionID)
	}
	return nil
}

func (s *AccessService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessions, err := readThrough(ctx, s.versions, s.sessionsCache, s.sessionsRequests, sessionsKey(userID), sessionsTTL,
		func(ctx context.Context) ([]domain.Session, error) {
			// NOTE: SessionRepository implementations handle their own error reporting
			return s.sessions.ListSessions(ctx, userID)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return slices.Clone(sessions), nil
}

func (s *AccessService) CreateSession(ctx context.Context, userID string, firstMessage string) (domain.CreatedSession, error) {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return domain.CreatedSession{}, err
	}

	now := s.nowFunc()
	created, err := s.sessions.CreateSession(ctx, domain.Session{
		ID:        s.newID(),
		UserID:    userID,
		Title:     SessionTitle(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.CreatedSession{}, fmt.Errorf("failed to create session: %w", err)
	}

	applyWrite(s.versions, s.sessionsCache, sessionsKey(userID), sessionsTTL,
		func(cached []domain.Session, ok bool) ([]domain.Session, bool) {
			if !ok {
				return nil, false
			}
			if slices.ContainsFunc(cached, func(session domain.Session) bool { return session.ID == created.ID }) {
				return cached, true
			}
			return append([]domain.Session{created}, cached...), true
		},
	)
	applyWrite(s.versions, s.messagesCache, messagesKey(userID, created.ID), messagesTTL,
		func([]domain.Message, bool) ([]domain.Message, bool) {
			return []domain.Message{}, true
		},
	)

	logging.FromContext(ctx).InfoContext(ctx, "Created session", "sessionId", created.ID)

	return domain.CreatedSession{
		Session: created,
		URL:     sessionURL(created.ID, firstMessage),
	}, nil
}

func (s *AccessService) RenameSession(ctx context.Context, userID string, sessionID string, title string) error {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is empty", domain.ErrInvalidInput)
	}

	key := sessionsKey(userID)
	rename := func(cached []domain.Session, ok bool) ([]domain.Session, bool) {
		if !ok {
			return nil, false
		}
		renamed := slices.Clone(cached)
		for i := range renamed {
			if renamed[i].ID == sessionID {
				renamed[i].Title = title
			}
		}
		return renamed, true
	}

	applyWrite(s.versions, s.sessionsCache, key, sessionsTTL, rename)
	if err := s.sessions.UpdateSessionTitle(ctx, userID, sessionID, title); err != nil {
		discardWrite(s.versions, s.sessionsCache, key)
		return fmt.Errorf("failed to rename session: %w", err)
	}
	applyWrite(s.versions, s.sessionsCache, key, sessionsTTL, rename)

	return nil
}

func (s *AccessService) DeleteSession(ctx context.Context, userID string, sessionID string) error {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	key := sessionsKey(userID)
	remove := func(cached []domain.Session, ok bool) ([]domain.Session, bool) {
		if !ok {
			return nil, false
		}
		return slices.DeleteFunc(slices.Clone(cached), func(session domain.Session) bool {
			return session.ID == sessionID
		}), true
	}

	applyWrite(s.versions, s.sessionsCache, key, sessionsTTL, remove)
	err = s.sessions.DeleteSession(ctx, userID, sessionID)
	// The messages are gone either way, or the cached copy is suspect
	discardWrite(s.versions, s.messagesCache, messagesKey(userID, sessionID))
	if err != nil {
		discardWrite(s.versions, s.sessionsCache, key)
		return fmt.Errorf("failed to delete session: %w", err)
	}
	applyWrite(s.versions, s.sessionsCache, key, sessionsTTL, remove)

	// Deleting the active session clears the preference
	applyWrite(s.versions, s.activeSessionCache, activeSessionKey(userID), activeSessionTTL,
		func(active string, ok bool) (string, bool) {
			return active, ok && active != sessionID
		},
	)

	return nil
}

func (s *AccessService) ListMessages(ctx context.Context, userID string, sessionID string) ([]domain.Message, error) {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	messages, err := readThrough(ctx, s.versions, s.messagesCache, s.messagesRequests, messagesKey(userID, sessionID), messagesTTL,
		func(ctx context.Context) ([]domain.Message, error) {
			return s.sessions.ListMessages(ctx, userID, sessionID)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return slices.Clone(messages), nil
}

// mergeMessages replaces messages in existing by id and appends the rest in order
func mergeMessages(existing []domain.Message, messages []domain.Message) []domain.Message {
	merged := slices.Clone(existing)
	for _, message := range messages {
		index := slices.IndexFunc(merged, func(m domain.Message) bool {
			return m.ID == message.ID
		})
		if index == -1 {
			merged = append(merged, message)
			continue
		}
		merged[index] = message
	}
	return merged
}

// SaveMessages upserts messages into the session. Writes from all callers
// within a short window are stored in one statement.
func (s *AccessService) SaveMessages(ctx context.Context, userID string, sessionID string, messages []domain.Message) error {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return err
	}
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	now := s.nowFunc()
	prepared := make([]domain.Message, len(messages))
	for i, message := range messages {
		if err := message.Validate(); err != nil {
			return err
		}
		message.SessionID = sessionID
		message.UserID = userID
		if message.ContentType == "" {
			message.ContentType = "text"
		}
		if message.CreatedAt.IsZero() {
			message.CreatedAt = now
		}
		prepared[i] = message
	}

	key := messagesKey(userID, sessionID)
	applyWrite(s.versions, s.messagesCache, key, messagesTTL, mergeInto(prepared))

	results := make([]<-chan batching.Result[struct{}], len(prepared))
	for i, message := range prepared {
		results[i] = s.messageWrites.Submit(ctx, key, message, s.flushMessages)
	}
	written := make(chan error, 1)
	go func() {
		written <- firstError(results)
	}()

	select {
	case err := <-written:
		s.settleMessages(key, prepared, err)
		if err != nil {
			return fmt.Errorf("failed to save messages: %w", err)
		}
	case <-ctx.Done():
		// The write continues without us, and the cache follows its outcome
		go func() {
			s.settleMessages(key, prepared, <-written)
		}()
		return ctx.Err()
	}

	// Fire and forget: a lost touch only affects the session order
	_ = s.sessionTouches.Submit(ctx, touchBatchKey(userID), sessionID, s.flushTouches(userID))

	return nil
}

// mergeInto returns a cache update that merges messages into the cached session
func mergeInto(messages []domain.Message) func([]domain.Message, bool) ([]domain.Message, bool) {
	return func(cached []domain.Message, ok bool) ([]domain.Message, bool) {
		if !ok {
			return nil, false
		}
		return mergeMessages(cached, messages), true
	}
}

// firstError waits for every result and returns the first error
func firstError[T any](results []<-chan batching.Result[T]) error {
	var first error
	for _, result := range results {
		if r := <-result; r.Err != nil && first == nil {
			first = r.Err
		}
	}
	return first
}

// settleMessages brings the cached session in line with the outcome of a write
func (s *AccessService) settleMessages(key string, messages []domain.Message, err error) {
	if err != nil {
		discardWrite(s.versions, s.messagesCache, key)
		return
	}
	applyWrite(s.versions, s.messagesCache, key, messagesTTL, mergeInto(messages))
}

func (s *AccessService) flushMessages(ctx context.Context, messages []domain.Message) ([]struct{}, error) {
	// One row per id, the latest write wins
	latest := make(map[string]int, len(messages))
	for i, message := range messages {
		latest[message.ID] = i
	}
	unique := make([]domain.Message, 0, len(latest))
	for i, message := range messages {
		if latest[message.ID] == i {
			unique = append(unique, message)
		}
	}

	if err := s.sessions.UpsertMessages(ctx, unique); err != nil {
		return nil, err
	}
	return make([]struct{}, len(messages)), nil
}

func (s *AccessService) flushTouches(userID string) batching.FlushFunc[string, struct{}] {
	return func(ctx context.Context, sessionIDs []string) ([]struct{}, error) {
		unique := slices.Clone(sessionIDs)
		slices.Sort(unique)
		unique = slices.Compact(unique)

		if err := s.sessions.TouchSessions(ctx, userID, unique, s.nowFunc()); err != nil {
			return nil, err
		}
		// The order of the sessions changed
		discardWrite(s.versions, s.sessionsCache, sessionsKey(userID))
		return make([]struct{}, len(sessionIDs)), nil
	}
}

func (s *AccessService) GetActiveSessionID(ctx context.Context, userID string) (string, error) {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return "", err
	}

	sessionID, err := readThrough(ctx, s.versions, s.activeSessionCache, s.activeSessionRequests, activeSessionKey(userID), activeSessionTTL,
		func(ctx context.Context) (string, error) {
			return s.users.GetActiveSessionID(ctx, userID)
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get active session: %w", err)
	}

	return sessionID, nil
}

// SetActiveSessionID stores the active session of the user. An empty sessionID clears it.
func (s *AccessService) SetActiveSessionID(ctx context.Context, userID string, sessionID string) error {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return err
	}
	if sessionID != "" {
		if err := validateSessionID(sessionID); err != nil {
			return err
		}
	}

	key := activeSessionKey(userID)
	set := func(string, bool) (string, bool) {
		return sessionID, true
	}

	applyWrite(s.versions, s.activeSessionCache, key, activeSessionTTL, set)
	if err := s.users.SetActiveSessionID(ctx, userID, sessionID); err != nil {
		discardWrite(s.versions, s.activeSessionCache, key)
		return fmt.Errorf("failed to set active session: %w", err)
	}
	applyWrite(s.versions, s.activeSessionCache, key, activeSessionTTL, set)

	return nil
}

func semanticQuery(request domain.CompletionRequest) (string, bool) {
	query := request.LastUserQuery()
	return query, utf8.RuneCountInString(query) > semanticMinQueryLength
}

// cachedCompletion looks for an answer to request by exact key, then by similar query
func (s *AccessService) cachedCompletion(ctx context.Context, request domain.CompletionRequest) (domain.Completion, bool) {
	logger := logging.FromContext(ctx)

	if completion, ok := s.completionCache.Get(completionKey(request)); ok {
		logger.InfoContext(ctx, "Completion cache hit", "match", "exact")
		return completion, true
	}

	if query, ok := semanticQuery(request); ok {
		if match, ok := s.semanticCache.LookupEntry(query); ok {
			logger.InfoContext(ctx, "Completion cache hit", "match", "semantic", "cachedQuery", match.QueryText)
			return match.Value, true
		}
	}

	return domain.Completion{}, false
}

func (s *AccessService) storeCompletion(request domain.CompletionRequest, completion domain.Completion) {
	s.completionCache.Set(completionKey(request), completion, completionTTL)
	if query, ok := semanticQuery(request); ok {
		s.semanticCache.Store(query, completion, completionTTL)
	}
}

func (s *AccessService) Complete(ctx context.Context, userID string, request domain.CompletionRequest) (domain.Completion, error) {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return domain.Completion{}, err
	}
	request = request.WithDefaults()
	if err := request.Validate(); err != nil {
		return domain.Completion{}, err
	}

	if completion, ok := s.cachedCompletion(ctx, request); ok {
		s.completionHits.Add(1)
		s.apiCallsSaved.Add(1)
		completion.Cached = true
		return completion, nil
	}
	s.completionMisses.Add(1)

	called := false
	completion, err := s.completionRequests.Do(ctx, completionKey(request), func(ctx context.Context) (domain.Completion, error) {
		called = true
		completion, err := s.completions.Complete(ctx, request)
		if err != nil {
			// NOTE: CompletionProvider implementations handle their own error reporting
			return domain.Completion{}, err
		}
		s.storeCompletion(request, completion)
		return completion, nil
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("failed to complete: %w", err)
	}
	if !called {
		// Answered by a concurrent request for the same messages
		s.apiCallsSaved.Add(1)
	}

	return completion, nil
}

// StreamCompletion calls onDelta with the answer as it arrives. Cached and
// shared answers arrive as a single delta.
func (s *AccessService) StreamCompletion(
	ctx context.Context,
	userID string,
	request domain.CompletionRequest,
	onDelta func(delta string) error,
) (domain.Completion, error) {
	ctx, err := s.checkActor(ctx, userID)
	if err != nil {
		return domain.Completion{}, err
	}
	request = request.WithDefaults()
	if err := request.Validate(); err != nil {
		return domain.Completion{}, err
	}

	if completion, ok := s.cachedCompletion(ctx, request); ok {
		s.completionHits.Add(1)
		s.apiCallsSaved.Add(1)
		completion.Cached = true
		if err := onDelta(completion.Content); err != nil {
			return domain.Completion{}, fmt.Errorf("failed to forward cached answer: %w", err)
		}
		return completion, nil
	}
	s.completionMisses.Add(1)

	// The leader streams to its caller. Identical requests arriving meanwhile
	// get the finished answer as a single delta.
	called := false
	var forwardErr error
	completion, err := s.completionRequests.Do(ctx, completionKey(request), func(ctx context.Context) (domain.Completion, error) {
		called = true
		completion, err := s.completions.Stream(ctx, request, func(delta string) error {
			if forwardErr != nil {
				return nil
			}
			// Keep reading after our caller is gone, others may be waiting for the answer
			forwardErr = onDelta(delta)
			return nil
		})
		if err != nil {
			return domain.Completion{}, err
		}
		s.storeCompletion(request, completion)
		return completion, nil
	})
	if err != nil {
		return domain.Completion{}, fmt.Errorf("failed to stream completion: %w", err)
	}
	if called {
		if forwardErr != nil {
			return domain.Completion{}, fmt.Errorf("failed to forward delta: %w", forwardErr)
		}
		return completion, nil
	}

	// Answered by a concurrent request for the same messages
	s.apiCallsSaved.Add(1)
	if err := onDelta(completion.Content); err != nil {
		return domain.Completion{}, fmt.Errorf("failed to forward shared answer: %w", err)
	}
	return completion, nil
}

func (s *AccessService) CacheGet(key string) (any, bool) {
	return s.generalCache.Get(key)
}

func (s *AccessService) CacheSet(key string, value any, ttl time.Duration) {
	s.generalCache.Set(key, value, ttl)
}

func (s *AccessService) CacheInvalidate(key string) {
	s.generalCache.Invalidate(key)
}

func (s *AccessService) SemanticGet(query string) (any, bool) {
	return s.generalSemantic.Lookup(query)
}

func (s *AccessService) SemanticPut(query string, value any, ttl time.Duration) {
	s.generalSemantic.Store(query, value, ttl)
}

// DedupeRequest runs producer once for all concurrent callers with the same key
func (s *AccessService) DedupeRequest(ctx context.Context, key string, producer func(ctx context.Context) (any, error)) (any, error) {
	return s.generalRequests.Do(ctx, key, producer)
}

// BatchRequest queues item with everything else submitted under batchKey
// within the window and waits for its result from the shared flush.
func (s *AccessService) BatchRequest(ctx context.Context, batchKey string, item any, flush batching.FlushFunc[any, any]) (any, error) {
	return s.generalBatches.Request(ctx, batchKey, item, flush)
}

func (s *AccessService) Stats() Stats {
	hits := s.completionHits.Load()
	misses := s.completionMisses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return Stats{
		Completions: CompletionStats{
			Hits:          hits,
			Misses:        misses,
			APICallsSaved: s.apiCallsSaved.Load(),
			HitRate:       hitRate,
		},
		Stores: map[string]cache.StoreStats{
			"sessions":       s.sessionsCache.Stats(),
			"messages":       s.messagesCache.Stats(),
			"active-session": s.activeSessionCache.Stats(),
			"completions":    s.completionCache.Stats(),
			"general":        s.generalCache.Stats(),
		},
		SemanticEntries: s.semanticCache.Len() + s.generalSemantic.Len(),
		Actors:          s.visits.Len(),
		InFlight: s.sessionsRequests.InFlight() +
			s.messagesRequests.InFlight() +
			s.activeSessionRequests.InFlight() +
			s.completionRequests.InFlight() +
			s.generalRequests.InFlight(),
		PendingWrites:  s.messageWrites.PendingTotal(),
		PendingTouches: s.sessionTouches.PendingTotal(),
	}
}

// Clear drops every cached value and resets the counters. Queued writes are kept.
func (s *AccessService) Clear() {
	s.sessionsCache.Clear()
	s.messagesCache.Clear()
	s.activeSessionCache.Clear()
	s.completionCache.Clear()
	s.semanticCache.Clear()
	s.generalCache.Clear()
	s.generalSemantic.Clear()
	s.visits.Clear()

	s.sessionsRequests.Clear()
	s.messagesRequests.Clear()
	s.activeSessionRequests.Clear()
	s.completionRequests.Clear()
	s.generalRequests.Clear()

	s.completionHits.Store(0)
	s.completionMisses.Store(0)
	s.apiCallsSaved.Store(0)
}

func (s *AccessService) cleanup() int {
	removed := s.sessionsCache.Cleanup() +
		s.messagesCache.Cleanup() +
		s.activeSessionCache.Cleanup() +
		s.completionCache.Cleanup() +
		s.semanticCache.Cleanup() +
		s.generalCache.Cleanup() +
		s.generalSemantic.Cleanup()
	s.visits.Cleanup()
	s.versions.Cleanup()
	return removed
}

// RunCleanup removes expired entries every interval until ctx is done
func (s *AccessService) RunCleanup(ctx context.Context, interval time.Duration) {
	logger := logging.FromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.cleanup()
			if removed > 0 {
				logger.InfoContext(ctx, "Removed expired cache entries", "count", removed)
			}
		}
	}
}

// Shutdown writes every queued message and session touch now
func (s *AccessService) Shutdown() {
	s.messageWrites.Flush()
	s.generalBatches.Flush()
	s.sessionTouches.Flush()
}
