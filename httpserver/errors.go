package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tiero/claw-cash-sub001/enclave"
	"github.com/tiero/claw-cash-sub001/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

// statusForError maps the error taxonomy to HTTP status codes. Unknown
// errors map to 500 and their details stay out of the response body.
func statusForError(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrSessionInvalid),
		errors.Is(err, interfaces.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrExportDisabled):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrChallengeNotFound),
		errors.Is(err, interfaces.ErrTicketNotFound),
		errors.Is(err, interfaces.ErrIdentityNotFound),
		errors.Is(err, interfaces.ErrUserNotFound),
		errors.Is(err, interfaces.ErrBackupNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrTicketAlreadyUsed),
		errors.Is(err, interfaces.ErrPublicKeyMismatch),
		errors.Is(err, interfaces.ErrDigestMismatch):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrChallengeExpired),
		errors.Is(err, interfaces.ErrTicketExpired),
		errors.Is(err, interfaces.ErrIdentityDestroyed):
		return http.StatusGone
	case errors.Is(err, interfaces.ErrTicketInvalid),
		errors.Is(err, interfaces.ErrInvalidLocationURI):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, interfaces.ErrSignerUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, interfaces.ErrAttestationUntrusted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the taxonomy-mapped status with a non-leaking JSON body.
// Internal errors are logged in full but reported generically.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	status := statusForError(err)
	body := enclave.ErrorResponse{Code: enclave.ErrorCode(err)}

	if status == http.StatusInternalServerError {
		log.Error("Request failed", "err", err)
		body.Error = "internal error"
	} else {
		body.Error = err.Error()
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
