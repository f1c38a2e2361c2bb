package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jorektheglitch/simplefiles/internal/common"
	"go.uber.org/zap"
)

// BaseHandler carries the response helpers shared by every handler
type BaseHandler struct {
	Logger *zap.Logger
}

// RespondJSON sends a JSON response
func (h *BaseHandler) RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", zap.Error(err))
	}
}

// RespondError sends an error JSON response
func (h *BaseHandler) RespondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// RespondServiceError maps err onto a status code.
// Validation failures and unknown ids are reported with their own message,
// anything else is logged and answered with fallback.
func (h *BaseHandler) RespondServiceError(w http.ResponseWriter, err error, fallback string) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		h.RespondError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, common.ErrValidation):
		h.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrNotFound):
		h.RespondError(w, http.StatusNotFound, err.Error())
	default:
		h.Logger.Error(fallback, zap.Error(err))
		h.RespondError(w, http.StatusInternalServerError, fallback)
	}
}
