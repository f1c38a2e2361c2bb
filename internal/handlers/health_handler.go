package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Pinger reports whether a backing dependency answers
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	BaseHandler
	db      Pinger
	timeout time.Duration
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		BaseHandler: BaseHandler{Logger: logger},
		db:          db,
		timeout:     2 * time.Second,
	}
}

// RegisterRoutes registers the probe routes
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/livez", h.Livez)
	r.Get("/readyz", h.Readyz)
}

// Livez handles GET /livez
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /livez [get]
func (h *HealthHandler) Livez(w http.ResponseWriter, r *http.Request) {
	h.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz
// @Summary Readiness probe
// @Description Reports ready once the database answers
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string "Database unavailable"
// @Router /readyz [get]
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.Logger.Warn("readiness check failed", zap.Error(err))
		h.RespondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	h.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
