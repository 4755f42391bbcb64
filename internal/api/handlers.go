package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maltedev/marketplace-agent/internal/marketplace"
	"github.com/maltedev/marketplace-agent/internal/models"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100

	defaultRunLimit = 20
	maxRunLimit     = 200
)

// Tool runs one marketplace action.
type Tool interface {
	Execute(ctx context.Context, req marketplace.Request) models.ToolResult
}

// OutboxStats reports the backlog of the event relay.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

// RunLister reads the operation journal.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]models.OperationRun, error)
}

type Handlers struct {
	tool   Tool
	stats  OutboxStats
	runs   RunLister
	logger *slog.Logger
}

// NewHandlers wires the HTTP surface. stats and runs may be nil when the
// journal is disabled.
func NewHandlers(tool Tool, stats OutboxStats, runs RunLister, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		tool:   tool,
		stats:  stats,
		runs:   runs,
		logger: logger.With("component", "api"),
	}
}

// ToolResponse wraps a tool result with the request id it was served under.
type ToolResponse struct {
	RequestID string `json:"request_id,omitempty"`
	models.ToolResult
}

// ExecuteTool handles a tool call whose action is named in the body.
func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req marketplace.Request
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action == "" {
		h.respondError(w, http.StatusBadRequest, "action is required")
		return
	}
	h.execute(w, r, req)
}

// ExecuteAction handles a tool call whose action is the {action} path segment.
func (h *Handlers) ExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req marketplace.Request
	if err := decode(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Action = chi.URLParam(r, "action")
	h.execute(w, r, req)
}

func (h *Handlers) execute(w http.ResponseWriter, r *http.Request, req marketplace.Request) {
	reqID := middleware.GetReqID(r.Context())
	h.logger.Info("tool call", "action", req.Action, "request_id", reqID)

	result := h.tool.Execute(r.Context(), req)
	h.respondJSON(w, statusFor(result), ToolResponse{RequestID: reqID, ToolResult: result})
}

// ListActions returns the names ExecuteAction accepts.
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{"actions": marketplace.Actions})
}

// ListRuns returns the most recent journaled operations.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		h.respondError(w, http.StatusNotFound, "run journal is disabled")
		return
	}

	limit := defaultRunLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// Health reports liveness and, with a journal, the outbox backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	if h.stats == nil {
		h.respondJSON(w, http.StatusOK, health)
		return
	}

	pending, err := h.stats.GetPendingCount(r.Context())
	if err != nil {
		h.logger.Warn("failed to count pending events", "error", err)
	}
	deadLetter, err := h.stats.GetDeadLetterCount(r.Context())
	if err != nil {
		h.logger.Warn("failed to count dead letter events", "error", err)
	}
	health["outbox"] = map[string]any{
		"pending":     pending,
		"dead_letter": deadLetter,
	}

	status := http.StatusOK
	if pending > pendingWarnThreshold {
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if deadLetter > deadLetterFailThreshold {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, health)
}

// statusFor maps a failed result's kind onto an HTTP status. The body always
// carries the full result.
func statusFor(result models.ToolResult) int {
	if !result.Failed() {
		return http.StatusOK
	}
	switch result.Kind {
	case models.KindInput:
		return http.StatusBadRequest
	case models.KindElementNotFound:
		return http.StatusNotFound
	case models.KindStructureUnavailable:
		return http.StatusConflict
	case models.KindUnsupportedNavigation:
		return http.StatusUnprocessableEntity
	case models.KindModelMalformed, models.KindBrowser:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body. An empty body decodes to the zero value.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
