package archive_service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/config"
	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/internal/interfaces/services"
	"github.com/sunr3d/zipstream/internal/metrics"
	"github.com/sunr3d/zipstream/models"
)

var _ services.ArchiveService = (*archiveService)(nil)

type archiveService struct {
	repo     infra.SessionStore
	archiver infra.Archiver
	fs       afero.Fs
	logger   *zap.Logger
	cfg      *config.Config
	metrics  *metrics.Metrics

	// sleep is replaced in tests to observe throttling without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(
	log *zap.Logger,
	cfg *config.Config,
	fs afero.Fs,
	repo infra.SessionStore,
	archiver infra.Archiver,
	m *metrics.Metrics,
) services.ArchiveService {
	return &archiveService{
		repo:     repo,
		archiver: archiver,
		fs:       fs,
		logger:   log,
		cfg:      cfg,
		metrics:  m,
		sleep:    sleepCtx,
	}
}

func (s *archiveService) Resolve(ctx context.Context, token string) (*models.ArchiveRequest, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	dir, err := ResolvePath(s.fs, s.cfg.PathToFiles, token)
	if err != nil {
		return nil, err
	}

	return &models.ArchiveRequest{Token: token, Dir: dir}, nil
}

func (s *archiveService) Open(ctx context.Context, req *models.ArchiveRequest) (*models.StreamSession, infra.ArchiveProcess, error) {
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	now := time.Now()
	session := &models.StreamSession{
		ID:        uuid.NewString(),
		Token:     req.Token,
		Dir:       req.Dir,
		Throttle:  s.cfg.Throttling,
		State:     models.SessionStateStreaming,
		StartedAt: now,
		UpdatedAt: now,
	}

	// The slot is taken before the archiver is spawned so that concurrent
	// requests cannot all pass the limit.
	reserved, err := s.repo.ReserveSession(ctx, *session, s.cfg.MaxActiveStreams)
	if err != nil {
		return nil, nil, fmt.Errorf("не удалось зарегистрировать загрузку: %w", err)
	}
	if !reserved {
		return nil, nil, ErrServerBusy
	}

	proc, err := s.archiver.Start(ctx, req.Dir)
	if err != nil {
		s.release(ctx, session.ID)
		return nil, nil, fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}

	s.logger.Info("загрузка архива начата",
		zap.String("session_id", session.ID),
		zap.String("token", req.Token),
		zap.String("path", req.Dir),
		zap.Int("pid", proc.Pid()),
		zap.Bool("throttling", session.Throttle),
	)

	return session, proc, nil
}

// Close releases the process whatever state the relay left it in: a live
// process is killed, then reaped, and the session is forgotten. An exit
// status the relay already reported is not reported again.
func (s *archiveService) Close(ctx context.Context, session *models.StreamSession, proc infra.ArchiveProcess) error {
	var err error

	if proc != nil {
		relayed := session != nil && session.State != models.SessionStateStreaming
		if proc.Alive() {
			if termErr := proc.Terminate(); termErr != nil {
				err = multierr.Append(err, termErr)
			}
		}
		if _, waitErr := proc.Wait(); waitErr != nil && !relayed {
			err = multierr.Append(err, waitErr)
		}
	}

	if session != nil {
		if session.State == models.SessionStateStreaming || session.State == models.SessionStateDraining {
			session.State = models.SessionStateAborted
		}
		s.release(ctx, session.ID)
	}

	if err != nil {
		return fmt.Errorf("%w: %v", ErrCleanup, err)
	}
	return nil
}

func (s *archiveService) Session(ctx context.Context, id string) (*models.StreamSession, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}

	return &session, nil
}

func (s *archiveService) Sessions(ctx context.Context) ([]models.StreamSession, error) {
	return s.repo.ListSessions(ctx)
}

// track stores a snapshot of session. Bookkeeping must survive the request
// context being cancelled.
func (s *archiveService) track(ctx context.Context, session *models.StreamSession) {
	session.UpdatedAt = time.Now()
	if err := s.repo.SaveSession(context.WithoutCancel(ctx), *session); err != nil {
		s.logger.Debug("не удалось сохранить состояние сессии",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
}

func (s *archiveService) release(ctx context.Context, id string) {
	if err := s.repo.DeleteSession(context.WithoutCancel(ctx), id); err != nil {
		s.logger.Debug("сессия не удалена из реестра",
			zap.String("session_id", id),
			zap.Error(err),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
