package services

import (
	"context"
	"io"

	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=ArchiveService --output=../../../mocks
type ArchiveService interface {
	Resolve(ctx context.Context, token string) (*models.ArchiveRequest, error)

	Open(ctx context.Context, req *models.ArchiveRequest) (*models.StreamSession, infra.ArchiveProcess, error)
	Relay(ctx context.Context, proc infra.ArchiveProcess, sink io.Writer, session *models.StreamSession) models.RelayResult
	Close(ctx context.Context, session *models.StreamSession, proc infra.ArchiveProcess) error

	Session(ctx context.Context, id string) (*models.StreamSession, error)
	Sessions(ctx context.Context) ([]models.StreamSession, error)
}
