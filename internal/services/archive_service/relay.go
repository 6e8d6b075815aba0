package archive_service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/models"
)

// Relay copies the archive from proc to sink one chunk at a time.
//
// The loop is streaming -> draining -> done, with aborted reachable from
// any point. Cancellation of ctx kills the process immediately, which also
// unblocks a pending read, so it is noticed within one read or one
// throttling delay. Nothing is written to sink once ctx is done or a write
// has failed. The process is reaped here only on the clean EOF path; every
// other path leaves it terminated for Close to reap.
func (s *archiveService) Relay(ctx context.Context, proc infra.ArchiveProcess, sink io.Writer, session *models.StreamSession) models.RelayResult {
	stop := context.AfterFunc(ctx, func() {
		_ = proc.Terminate()
	})
	defer stop()

	log := s.logger.With(zap.String("session_id", session.ID), zap.String("token", session.Token))
	res := models.RelayResult{}

	finish := func(outcome models.RelayOutcome, err error) models.RelayResult {
		res.Outcome = outcome
		res.Err = err
		res.BytesSent = session.BytesSent
		res.ChunksSent = session.ChunksSent
		if outcome == models.RelayCompleted {
			session.State = models.SessionStateDone
		} else {
			session.State = models.SessionStateAborted
		}
		s.track(ctx, session)
		s.metrics.StreamFinished(outcome)
		return res
	}

	abort := func(cause error) models.RelayResult {
		_ = proc.Terminate()
		return finish(models.RelayAborted, fmt.Errorf("%w: %w", ErrStreamAborted, cause))
	}

	write := func(p []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := sink.Write(p)
		session.BytesSent += int64(n)
		if err != nil {
			return err
		}
		session.ChunksSent++
		s.metrics.ChunkSent(n)
		return nil
	}

	buf := make([]byte, s.cfg.ChunkSize)
	for {
		n, readErr := proc.ReadChunk(buf)
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		if n > 0 {
			if err := write(buf[:n]); err != nil {
				return abort(err)
			}
			log.Debug("отправлен фрагмент архива",
				zap.Int("bytes", n),
				zap.Int64("chunks_sent", session.ChunksSent),
			)
			s.track(ctx, session)
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			_ = proc.Terminate()
			return finish(models.RelayFailed, fmt.Errorf("%w: %v", ErrStreamRead, readErr))
		}

		if s.cfg.Throttling && n > 0 {
			if err := s.sleep(ctx, s.cfg.ThrottleDelay); err != nil {
				return abort(err)
			}
		}
	}

	session.State = models.SessionStateDraining
	s.track(ctx, session)

	residual, waitErr := proc.Wait()
	if err := ctx.Err(); err != nil {
		return abort(err)
	}
	if len(residual) > 0 {
		if err := write(residual); err != nil {
			return abort(err)
		}
		log.Debug("отправлен остаток архива", zap.Int("bytes", len(residual)))
	}
	if waitErr != nil {
		return finish(models.RelayFailed, fmt.Errorf("%w: %v", ErrSubprocessFailed, waitErr))
	}

	return finish(models.RelayCompleted, nil)
}
