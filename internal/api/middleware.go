package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"biddesk/internal/model"

	"go.uber.org/zap"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, code int, errCode, message string, log *zap.Logger) {
	log.Error("API error", zap.String("code", errCode), zap.String("message", message))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	resp := ErrorResponse{
		Error:   errCode,
		Code:    errCode,
		Message: message,
	}

	json.NewEncoder(w).Encode(resp)
}

// WriteServiceError maps workflow errors onto HTTP status codes and
// machine-readable codes. Unrecognized errors become a 500.
func WriteServiceError(w http.ResponseWriter, err error, log *zap.Logger) {
	var (
		validation *model.ValidationError
		actor      *model.ForbiddenActorError
		transition *model.ForbiddenTransitionError
		notFound   *model.NotFoundError
		state      *model.InvalidStateError
		concurrent *model.ConcurrentModificationError
		duplicate  *model.DuplicateOfferError
		selfDeal   *model.SelfDealingError
		locked     *model.ConversationLockedError
	)

	switch {
	case errors.As(err, &validation):
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), log)
	case errors.As(err, &actor):
		WriteError(w, http.StatusForbidden, "forbidden", err.Error(), log)
	case errors.As(err, &transition):
		WriteError(w, http.StatusForbidden, "forbidden_transition", err.Error(), log)
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), log)
	case errors.As(err, &state):
		WriteError(w, http.StatusConflict, "invalid_state", err.Error(), log)
	case errors.As(err, &concurrent):
		WriteError(w, http.StatusConflict, "concurrent_modification", err.Error(), log)
	case errors.As(err, &duplicate):
		WriteError(w, http.StatusConflict, "duplicate_offer", err.Error(), log)
	case errors.As(err, &selfDeal):
		WriteError(w, http.StatusConflict, "self_dealing", err.Error(), log)
	case errors.As(err, &locked):
		WriteError(w, http.StatusLocked, "conversation_locked", err.Error(), log)
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), log)
	}
}

// WriteJSON writes a JSON response body with the given status code.
func WriteJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// RequestLogger logs HTTP requests and responses
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// WebSocket upgrades need direct access to the ResponseWriter.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", duration),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
