package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"gearboxd/internal/codec"
	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/gearbox"
	"gearboxd/internal/service"
)

// GearboxService is the service the handlers call into
type GearboxService interface {
	Commit(ctx context.Context, changes []datastore.Change) (*service.CommitResult, error)
	Query(ctx context.Context, path string) (*gearbox.Document, error)
	Running(ctx context.Context, prefix string) (datastore.Tree, error)
	Resync(ctx context.Context) error
}

// GearboxHandler handles gearbox API requests
type GearboxHandler struct {
	svc    GearboxService
	logger *slog.Logger
}

// NewGearboxHandler creates a new gearbox handler
func NewGearboxHandler(svc GearboxService, logger *slog.Logger) *GearboxHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GearboxHandler{svc: svc, logger: logger.With("component", "http")}
}

// Register adds the gearbox routes to mux
func (h *GearboxHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/commit", h.Commit)
	mux.HandleFunc("GET /api/gearboxes", h.Query)
	mux.HandleFunc("GET /api/running", h.Running)
	mux.HandleFunc("POST /api/resync", h.Resync)
	mux.HandleFunc("GET /healthz", h.Health)
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Commit applies a batch of changes, sent as JSON or as YAML with a YAML
// Content-Type
// POST /api/commit
func (h *GearboxHandler) Commit(w http.ResponseWriter, r *http.Request) {
	changes, err := codec.ForContentType(r.Header.Get("Content-Type")).DecodeChanges(r.Body)
	if err != nil {
		h.writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.svc.Commit(r.Context(), changes)
	if err != nil {
		h.writeServiceError(w, "Commit failed", err)
		return
	}
	h.writeJSON(w, res, http.StatusOK)
}

// Query returns operational state
// GET /api/gearboxes?path=/gearbox:gearboxes/gearbox[name='piu1']
func (h *GearboxHandler) Query(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Query(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.writeServiceError(w, "Query failed", err)
		return
	}
	h.writeJSON(w, doc, http.StatusOK)
}

// Running returns the running configuration
// GET /api/running?path=/gearbox:gearboxes&format=yaml
func (h *GearboxHandler) Running(w http.ResponseWriter, r *http.Request) {
	c, err := codec.ForFormat(r.URL.Query().Get("format"))
	if err != nil {
		h.writeError(w, "Invalid format", err.Error(), http.StatusBadRequest)
		return
	}
	tree, err := h.svc.Running(r.Context(), r.URL.Query().Get("path"))
	if err != nil {
		h.writeServiceError(w, "Failed to read running configuration", err)
		return
	}
	w.Header().Set("Content-Type", c.ContentType())
	if err := c.EncodeTree(w, tree); err != nil {
		h.logger.Error("Failed to encode running configuration", "format", c.Format(), "error", err)
	}
}

// Resync re-runs reconciliation
// POST /api/resync
func (h *GearboxHandler) Resync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Resync(r.Context()); err != nil {
		h.writeServiceError(w, "Resync failed", err)
		return
	}
	h.writeJSON(w, map[string]string{"status": "reconciled"}, http.StatusOK)
}

// Health reports liveness
// GET /healthz
func (h *GearboxHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// StatusCode maps an error to the HTTP status it is reported with
func StatusCode(err error) int {
	switch {
	case errors.Is(err, errors.ErrReadyTimeout):
		return http.StatusGatewayTimeout
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsResolution(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Helper methods

func (h *GearboxHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	}
	h.writeError(w, msg, err.Error(), code)
}

func (h *GearboxHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON", "error", err)
	}
}

func (h *GearboxHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}
