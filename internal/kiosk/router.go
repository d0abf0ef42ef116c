package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"minwondesk/internal/domain"
	"minwondesk/internal/logging"
	"minwondesk/internal/usecase"
)

// Controller is the part of the dialogue controller the kiosk drives.
type Controller interface {
	Start(ctx context.Context) error
	Choose(ctx context.Context, option domain.Option) error
	SubmitText(ctx context.Context, text string) error
	StopListening(ctx context.Context) error
	Reset(ctx context.Context) error
	Status() domain.Snapshot
}

// Config holds router dependencies.
type Config struct {
	Controller     Controller
	Hub            *Hub
	MetricsHandler http.Handler
	Logger         *zap.Logger
	AllowedOrigins []string
}

type handler struct {
	controller Controller
	hub        *Hub
	logger     *zap.Logger
	origins    []string
}

// NewRouter builds the kiosk HTTP surface.
func NewRouter(cfg Config) http.Handler {
	if cfg.Controller == nil || cfg.Hub == nil {
		panic("kiosk: controller and hub required")
	}
	h := &handler{
		controller: cfg.Controller,
		hub:        cfg.Hub,
		logger:     logging.OrNop(cfg.Logger),
		origins:    cfg.AllowedOrigins,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/health", h.health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.Get("/ws", h.serveWS)

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", h.status)
		r.Post("/start", h.start)
		r.Post("/choice", h.choice)
		r.Post("/text", h.text)
		r.Post("/stop-listening", h.stopListening)
		r.Post("/reset", h.reset)
	})
	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", reqID),
				zap.Int("status", ww.Status()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.controller.Start(r.Context()))
}

func (h *handler) choice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Option string `json:"option"`
	}
	if !decode(w, r, &body) {
		return
	}
	option := strings.TrimSpace(body.Option)
	if option == "" {
		writeError(w, http.StatusBadRequest, "option is required")
		return
	}
	h.respond(w, h.controller.Choose(r.Context(), domain.Option(option)))
}

func (h *handler) text(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &body) {
		return
	}
	h.respond(w, h.controller.SubmitText(r.Context(), body.Text))
}

func (h *handler) stopListening(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.controller.StopListening(r.Context()))
}

func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.controller.Reset(r.Context()))
}

// respond maps a controller error to a status code, or returns the current
// snapshot with 202 since the dialogue reacts asynchronously.
func (h *handler) respond(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, h.controller.Status())
	case errors.Is(err, usecase.ErrControllerStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
	default:
		h.logger.Error("kiosk request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
