package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/target/mmk-jobqueue/internal/errors"
)

// Error codes returned in the "error" field of JSON error bodies.
const (
	ErrCodeNotFound          = "not_found"
	ErrCodeRateLimitExceeded = "rate_limit_exceeded"
	ErrCodeInvalidInput      = "invalid_input"
	ErrCodeConflict          = "conflict"
	ErrCodeInternal          = "internal"
)

var errInternal = errors.New("an internal error occurred")

// WriteAppError maps err to a status code and writes it. Internal errors are logged and replaced
// with a generic message so causes never reach clients.
func WriteAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case apperrors.IsNotFound(err):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: ErrCodeNotFound, Err: err})
	case apperrors.IsRateLimitExceeded(err):
		w.Header().Set("Retry-After", "1")
		WriteError(w, ErrorParams{Code: http.StatusTooManyRequests, ErrCode: ErrCodeRateLimitExceeded, Err: err})
	case apperrors.IsValidation(err):
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: ErrCodeInvalidInput, Err: err})
	case apperrors.IsConflict(err):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: ErrCodeConflict, Err: err})
	default:
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: ErrCodeInternal, Err: errInternal})
	}
}
