// Package httpapi exposes the trigger surface: cycle runs, admin broadcasts,
// the Telegram webhook, health, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"stock-count-alerts/internal/alerting"
	"stock-count-alerts/internal/bot"
	"stock-count-alerts/internal/monitor"
	"stock-count-alerts/internal/storage"
)

// CycleRunner triggers one monitoring cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, opts monitor.RunOptions) monitor.Outcome
}

// MessageSender serves admin broadcasts.
type MessageSender interface {
	Broadcast(ctx context.Context, text string, mode storage.SubscriberMode) (alerting.Report, error)
	DispatchTo(ctx context.Context, text string, chatIDs []string) alerting.Report
}

// UpdateHandler processes Telegram webhook updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update bot.Update) error
}

// Deps wires the router's collaborators.
type Deps struct {
	Engine      CycleRunner
	Broadcaster MessageSender
	Bot         UpdateHandler
	// AdminToken guards the run and broadcast endpoints. Empty disables
	// the check (local use only).
	AdminToken string
	Logger     zerolog.Logger
}

// NewRouter assembles the HTTP handler tree.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger.With().Str("component", "httpapi").Logger()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(adminTokenMiddleware(deps.AdminToken))
		r.Post("/run", handleRun(deps.Engine, logger))
		r.Post("/broadcast", handleBroadcast(deps.Broadcaster, logger))
	})

	r.Post("/telegram/webhook", handleWebhook(deps.Bot, logger))

	return r
}

func adminTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("X-Admin-Token") != token {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type runRequest struct {
	ManualCount       *int `json:"manualCount"`
	OverrideThreshold *int `json:"overrideThreshold"`
}

func handleRun(engine CycleRunner, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req runRequest
		if r.Body != nil {
			// Empty bodies are fine; the cycle runs with stored settings.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		outcome := engine.RunCycle(r.Context(), monitor.RunOptions{
			ManualCount:       req.ManualCount,
			OverrideThreshold: req.OverrideThreshold,
		})

		status := http.StatusOK
		if outcome.Status == monitor.StatusFailed {
			status = http.StatusBadGateway
		}
		logger.Info().Str("status", string(outcome.Status)).Msg("cycle triggered via http")
		writeJSON(w, status, outcome)
	}
}

type broadcastRequest struct {
	Message string   `json:"message"`
	ChatIDs []string `json:"chatIds"`
}

type broadcastResponse struct {
	Success bool     `json:"success"`
	Sent    int      `json:"sent"`
	Failed  int      `json:"failed"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

func handleBroadcast(sender MessageSender, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
			return
		}
		if req.Message == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "message is required"})
			return
		}

		var report alerting.Report
		if len(req.ChatIDs) > 0 {
			report = sender.DispatchTo(r.Context(), req.Message, req.ChatIDs)
		} else {
			var err error
			report, err = sender.Broadcast(r.Context(), req.Message, storage.ModeAllActive)
			if err != nil {
				logger.Error().Err(err).Msg("broadcast failed")
				writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
				return
			}
		}

		writeJSON(w, http.StatusOK, broadcastResponse{
			Success: true,
			Sent:    report.Sent,
			Failed:  report.Failed,
			Total:   report.Sent + report.Failed,
			Errors:  report.Errors,
		})
	}
}

func handleWebhook(handler UpdateHandler, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update bot.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			// Telegram retries on non-2xx; malformed updates are dropped.
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}

		if err := handler.HandleUpdate(r.Context(), update); err != nil {
			logger.Error().Err(err).Msg("webhook update failed")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
