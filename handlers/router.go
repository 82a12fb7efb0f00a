package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"finledger/auth"
)

// Pinger reports whether the backing store is reachable. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewRouter wires the API routes under /api/v1 plus the /healthz probe.
func NewRouter(app *App) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errRouteNotFound.WriteJSON(w)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errMethodNotAllowed.WriteJSON(w)
	})

	r.HandleFunc("/healthz", app.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users", app.Register).Methods(http.MethodPost)
	api.HandleFunc("/sessions", app.Login).Methods(http.MethodPost)

	s := api.NewRoute().Subrouter()
	s.Use(auth.VerifyToken(app.Auth))
	s.HandleFunc("/profile", app.Profile).Methods(http.MethodGet)
	s.HandleFunc("/statements/deposit", app.Deposit).Methods(http.MethodPost)
	s.HandleFunc("/statements/withdraw", app.Withdraw).Methods(http.MethodPost)
	s.HandleFunc("/statements/transfer/{user_id}", app.Transfer).Methods(http.MethodPost)
	s.HandleFunc("/statements/balance", app.Balance).Methods(http.MethodGet)
	s.HandleFunc("/statements/export", app.Export).Methods(http.MethodGet)
	s.HandleFunc("/statements/{statement_id}", app.GetStatement).Methods(http.MethodGet)

	return loggingMiddleware(app.Logger, recoverer(app.Logger, r))
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	payload := map[string]any{"status": "ok"}
	if a.Health != nil {
		if err := a.Health.PingContext(ctx); err != nil {
			a.Logger.Error("health probe failed", "error", err)
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
			payload["error"] = err.Error()
		}
	}
	writeJSON(w, status, payload)
}

func recoverer(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				writeInternal(w, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
