package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/models"
)

var _ infra.SessionStore = (*inmemDB)(nil)

// inmemDB keeps snapshots of live stream sessions. The relay owns the
// session it updates; the store only ever holds copies.
type inmemDB struct {
	logger *zap.Logger
	db     map[string]models.StreamSession
	mu     sync.RWMutex
}

func New(log *zap.Logger) infra.SessionStore {
	return &inmemDB{
		logger: log,
		db:     make(map[string]models.StreamSession),
	}
}

func (db *inmemDB) SaveSession(ctx context.Context, session models.StreamSession) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if session.ID == "" {
		return ErrSessionIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.db[session.ID] = session

	return nil
}

func (db *inmemDB) ReserveSession(ctx context.Context, session models.StreamSession, limit int) (bool, error) {
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if session.ID == "" {
		return false, ErrSessionIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if limit > 0 && db.countActiveLocked() >= limit {
		return false, nil
	}
	db.db[session.ID] = session

	return true, nil
}

func (db *inmemDB) GetSession(ctx context.Context, id string) (models.StreamSession, error) {
	select {
	case <-ctx.Done():
		return models.StreamSession{}, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if id == "" {
		return models.StreamSession{}, ErrSessionIDEmpty
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	session, exists := db.db[id]
	if !exists {
		return models.StreamSession{}, ErrSessionNotFound
	}

	return session, nil
}

func (db *inmemDB) ListSessions(ctx context.Context) ([]models.StreamSession, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	db.mu.RLock()
	sessions := make([]models.StreamSession, 0, len(db.db))
	for _, session := range db.db {
		sessions = append(sessions, session)
	}
	db.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	return sessions, nil
}

func (db *inmemDB) CountActive(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.countActiveLocked(), nil
}

func (db *inmemDB) countActiveLocked() int {
	count := 0
	for _, session := range db.db {
		if session.State == models.SessionStateStreaming ||
			session.State == models.SessionStateDraining {
			count++
		}
	}
	return count
}

func (db *inmemDB) DeleteSession(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if id == "" {
		return ErrSessionIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.db[id]; !exists {
		return ErrSessionNotFound
	}

	delete(db.db, id)
	db.logger.Debug("сессия удалена", zap.String("session_id", id))

	return nil
}
