package entrypoint

import (
	"context"
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/api"
	"github.com/sunr3d/zipstream/internal/config"
	"github.com/sunr3d/zipstream/internal/infra/inmem"
	"github.com/sunr3d/zipstream/internal/infra/zipcmd"
	"github.com/sunr3d/zipstream/internal/interfaces/infra"
	"github.com/sunr3d/zipstream/internal/metrics"
	"github.com/sunr3d/zipstream/internal/middleware"
	"github.com/sunr3d/zipstream/internal/server"
	"github.com/sunr3d/zipstream/internal/services/archive_service"
)

func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log.Info("каталог с архивами",
		zap.String("path", cfg.PathToFiles),
		zap.Bool("throttling", cfg.Throttling),
		zap.Int("chunk_size", cfg.ChunkSize),
	)

	archiver := zipcmd.New(log.Named("zipcmd"), zipcmd.ZipOptions(cfg.ArchiverBin, cfg.FlatNames))
	router := NewRouter(cfg, log, afero.NewOsFs(), archiver)

	srv := server.New(cfg.HTTPHost, cfg.HTTPPort, router, log, cfg.ShutdownTimeout)
	return srv.Start(ctx)
}

// NewRouter assembles the HTTP surface around the given archiver.
func NewRouter(cfg *config.Config, log *zap.Logger, fs afero.Fs, archiver infra.Archiver) http.Handler {
	m := metrics.New()
	db := inmem.New(log.Named("sessions"))
	m.RegisterActiveStreams(db)

	svc := archive_service.New(log.Named("archive"), cfg, fs, db, archiver, m)
	controller := api.New(svc, log.Named("api"), cfg, fs)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", controller.Index)
	mux.HandleFunc("GET /archive/{token}/{$}", controller.StreamArchive)
	mux.HandleFunc("GET /archive/{token}", controller.StreamArchive)
	mux.HandleFunc("GET /streams", controller.Sessions)
	mux.HandleFunc("GET /streams/{id}", controller.Session)
	mux.Handle("GET /metrics", m.Handler())

	router := http.Handler(mux)
	router = middleware.ReqLogger(log, m)(router)
	router = middleware.Recovery(log)(router)

	return router
}
