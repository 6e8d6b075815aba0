package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const readHeaderTimeout = 10 * time.Second

type Server struct {
	server          *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// New builds a server for long-lived streaming responses: there is no
// overall write timeout, slow writes are bounded per chunk by the handler.
func New(host, port string, handler http.Handler, logger *zap.Logger, shutdownTimeout time.Duration) *Server {
	return &Server{
		server: &http.Server{
			Addr:              net.JoinHostPort(host, port),
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			ErrorLog:          zap.NewStdLog(logger.Named("http")),
		},
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("ошибка HTTP сервера: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs until ctx is done, SIGINT/SIGTERM arrives or the listener
// fails. On shutdown, streams still running after the shutdown timeout are
// cut off, which cancels their requests and kills their archivers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(done)

	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info("Запуск HTTP сервера", zap.String("address", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("ошибка HTTP сервера: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case sig := <-done:
		s.logger.Info("Получен сигнал завершения", zap.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменен", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("активные загрузки не завершились вовремя, соединения будут закрыты", zap.Error(err))
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("ошибка при завершении сервера: %w", err)
		}
	}

	s.logger.Info("HTTP сервер успешно остановлен")
	return nil
}
