package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sunr3d/zipstream/internal/config"
	"github.com/sunr3d/zipstream/internal/interfaces/services"
	"github.com/sunr3d/zipstream/internal/services/archive_service"
	"github.com/sunr3d/zipstream/models"
)

const NotFoundMessage = "Archive does not exist or was removed."

type ArchiveAPI struct {
	service services.ArchiveService
	logger  *zap.Logger
	cfg     *config.Config
	fs      afero.Fs
}

func New(service services.ArchiveService, logger *zap.Logger, cfg *config.Config, fs afero.Fs) *ArchiveAPI {
	return &ArchiveAPI{
		service: service,
		logger:  logger,
		cfg:     cfg,
		fs:      fs,
	}
}

// GET /
func (h *ArchiveAPI) Index(w http.ResponseWriter, r *http.Request) {
	page, err := afero.ReadFile(h.fs, h.cfg.IndexPath)
	if err != nil {
		h.logger.Error("не удалось прочитать главную страницу", zap.String("path", h.cfg.IndexPath), zap.Error(err))
		http.Error(w, "Главная страница недоступна", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// GET /archive/{token}/
//
// Streams the archive of the token's directory as the archiver produces it.
// A stream that is cut short, by the client or by the archiver, ends by
// aborting the connection once the process has been reaped, so the client
// never mistakes a truncated archive for a complete one.
func (h *ArchiveAPI) StreamArchive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.PathValue("token")

	req, err := h.service.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, archive_service.ErrArchiveNotFound) {
			h.logger.Info("архив не найден", zap.String("token", token), zap.Error(err))
			writeNotFound(w)
			return
		}
		h.logger.Info("запрос отменен до начала загрузки", zap.String("token", token), zap.Error(err))
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Content-Disposition", contentDisposition(req.Token))

	session, proc, err := h.service.Open(ctx, req)
	if err != nil {
		w.Header().Del("Content-Disposition")
		switch {
		case errors.Is(err, archive_service.ErrServerBusy):
			h.logger.Warn("загрузка отклонена", zap.String("token", token), zap.Error(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, archive_service.ErrContextDone):
			h.logger.Info("запрос отменен до начала загрузки", zap.String("token", token), zap.Error(err))
		default:
			h.logger.Error("ошибка запуска архиватора", zap.String("token", token), zap.Error(err))
			http.Error(w, "Внутренняя ошибка сервера при подготовке архива", http.StatusInternalServerError)
		}
		return
	}

	log := h.logger.With(
		zap.String("session_id", session.ID),
		zap.String("token", req.Token),
		zap.String("path", req.Dir),
	)
	defer func() {
		if err := h.service.Close(ctx, session, proc); err != nil {
			log.Warn("ошибка при завершении архиватора", zap.Error(err))
		}
	}()

	sink := newResponseSink(w, h.cfg.ChunkWriteTimeout)
	w.WriteHeader(http.StatusOK)
	if err := sink.flush(); err != nil {
		log.Info("клиент отключился до начала загрузки", zap.Error(err))
	}

	start := time.Now()
	res := h.service.Relay(ctx, proc, sink, session)
	fields := []zap.Field{
		zap.Int64("bytes_sent", res.BytesSent),
		zap.Int64("chunks_sent", res.ChunksSent),
		zap.Duration("duration", time.Since(start)),
	}

	switch res.Outcome {
	case models.RelayCompleted:
		log.Info("архив отправлен", fields...)
		return
	case models.RelayAborted:
		log.Info("загрузка была прервана", append(fields, zap.Error(res.Err))...)
	default:
		log.Error("архив отправлен не полностью", append(fields, zap.Error(res.Err))...)
	}

	panic(http.ErrAbortHandler)
}

// GET /streams
func (h *ArchiveAPI) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.Sessions(r.Context())
	if err != nil {
		h.logger.Error("ошибка получения списка загрузок", zap.Error(err))
		http.Error(w, "Внутренняя ошибка сервера при получении списка загрузок", http.StatusInternalServerError)
		return
	}

	resp := sessionsResp{
		Active: lo.CountBy(sessions, func(s models.StreamSession) bool {
			return s.State == models.SessionStateStreaming || s.State == models.SessionStateDraining
		}),
		Sessions: lo.Map(sessions, func(s models.StreamSession, _ int) sessionResp {
			return toSessionResp(s)
		}),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("ошибка кодирования JSON ответа", zap.Error(err))
		http.Error(w, "Внутренняя ошибка сервера при кодировании JSON ответа", http.StatusInternalServerError)
	}
}

// GET /streams/{id}
func (h *ArchiveAPI) Session(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	session, err := h.service.Session(r.Context(), id)
	if err != nil {
		if errors.Is(err, archive_service.ErrSessionNotFound) {
			h.logger.Info("загрузка не найдена", zap.String("session_id", id), zap.Error(err))
			http.Error(w, "Загрузка не найдена", http.StatusNotFound)
			return
		}
		h.logger.Error("ошибка получения загрузки", zap.String("session_id", id), zap.Error(err))
		http.Error(w, "Внутренняя ошибка сервера при получении загрузки", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toSessionResp(*session)); err != nil {
		h.logger.Error("ошибка кодирования JSON ответа", zap.Error(err))
		http.Error(w, "Внутренняя ошибка сервера при кодировании JSON ответа", http.StatusInternalServerError)
	}
}

func toSessionResp(s models.StreamSession) sessionResp {
	return sessionResp{
		ID:         s.ID,
		Token:      s.Token,
		State:      string(s.State),
		Throttle:   s.Throttle,
		BytesSent:  s.BytesSent,
		ChunksSent: s.ChunksSent,
		StartedAt:  s.StartedAt.Format(time.RFC3339),
		UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
	}
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(NotFoundMessage))
}

func contentDisposition(token string) string {
	name := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, token)
	return fmt.Sprintf("attachment; filename=\"%s.zip\"", name)
}
