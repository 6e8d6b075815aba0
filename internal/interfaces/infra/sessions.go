package infra

import (
	"context"

	"github.com/sunr3d/zipstream/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=SessionStore --output=../../../mocks
type SessionStore interface {
	SaveSession(ctx context.Context, session models.StreamSession) error
	// ReserveSession stores session only if fewer than limit sessions are
	// active; a limit of zero or less means no limit. It reports whether
	// the session was stored.
	ReserveSession(ctx context.Context, session models.StreamSession, limit int) (bool, error)
	GetSession(ctx context.Context, id string) (models.StreamSession, error)
	ListSessions(ctx context.Context) ([]models.StreamSession, error)
	CountActive(ctx context.Context) (int, error)
	DeleteSession(ctx context.Context, id string) error
}
