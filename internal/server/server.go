// Package server exposes the HTTP endpoints that ingest two-factor codes
// forwarded from a phone, plus read-only batch history.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/balance-cli/internal/model"
	"github.com/sells-group/balance-cli/internal/store"
	"github.com/sells-group/balance-cli/internal/twofactor"
)

// CodeSaver persists ingested code messages.
type CodeSaver interface {
	SaveCode(ctx context.Context, msg model.CodeMessage) (*model.CodeMessage, error)
}

// RunReader reads batch history.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*model.BatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.BatchRun, error)
}

// Option configures the router.
type Option func(*handler)

// WithToken requires "Authorization: Bearer <token>" on every endpoint
// except /health.
func WithToken(token string) Option {
	return func(h *handler) { h.token = token }
}

// WithRunReader enables GET /runs and GET /runs/{id}.
func WithRunReader(r RunReader) Option {
	return func(h *handler) { h.runs = r }
}

type handler struct {
	codes   CodeSaver
	runs    RunReader
	token   string
	nowFunc func() time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(codes CodeSaver, opts ...Option) http.Handler {
	h := &handler{codes: codes, nowFunc: time.Now}
	for _, o := range opts {
		o(h)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.auth)
		r.Post("/sms", h.postSMS)
		r.Post("/accounts/{id}/code", h.postAccountCode)
		if h.runs != nil {
			r.Get("/runs", h.listRuns)
			r.Get("/runs/{id}", h.getRun)
		}
	})
	return r
}

func (h *handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) postSMS(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromNumber string `json:"from_number"`
		Text       string `json:"text"`
		AccountID  string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	h.save(w, r, model.CodeMessage{
		AccountID:  req.AccountID,
		FromNumber: req.FromNumber,
		Text:       req.Text,
		Code:       twofactor.ExtractCode(req.Text),
	})
}

func (h *handler) postAccountCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code := twofactor.ExtractCode(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "code must be 4 to 8 digits")
		return
	}

	h.save(w, r, model.CodeMessage{
		AccountID: chi.URLParam(r, "id"),
		Text:      req.Code,
		Code:      code,
	})
}

func (h *handler) save(w http.ResponseWriter, r *http.Request, msg model.CodeMessage) {
	msg.ReceivedAt = h.nowFunc().UTC()
	saved, err := h.codes.SaveCode(r.Context(), msg)
	if err != nil {
		zap.L().Error("server: save code", zap.String("account_id", msg.AccountID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store message")
		return
	}

	zap.L().Info("server: code message stored",
		zap.String("id", saved.ID),
		zap.String("account_id", saved.AccountID),
		zap.Bool("has_code", saved.Code != ""),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "stored",
		"id":         saved.ID,
		"account_id": saved.AccountID,
		"has_code":   saved.Code != "",
	})
}

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		zap.L().Error("server: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("server: get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe serves handler on addr until ctx is cancelled, then shuts
// down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}
