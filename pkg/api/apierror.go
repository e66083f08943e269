package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/quill/pkg/model"
	"github.com/Mindburn-Labs/quill/pkg/policy"
)

// otpRetryAfterSeconds is the backoff hint on throttled code requests.
const otpRetryAfterSeconds = 60

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeError maps a domain error to its HTTP status. Client errors echo the
// error text; anything unexpected is logged server-side and surfaces as an
// opaque 500.
func writeError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	var viol *policy.Violation
	if errors.As(err, &viol) {
		status := http.StatusPaymentRequired
		if viol.Kind == policy.RuleCapability {
			status = http.StatusForbidden
		}
		writeMessage(w, status, viol.Message)
		return
	}

	switch {
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrOtpExpired),
		errors.Is(err, model.ErrOtpWrong):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrInvalidToken):
		writeMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrAlreadyTerminal):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, model.ErrLimitExceeded):
		// Without a plan violation attached this is the send throttle.
		w.Header().Set("Retry-After", strconv.Itoa(otpRetryAfterSeconds))
		writeMessage(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, model.ErrIntegrity):
		logger.ErrorContext(ctx, "integrity violation", slog.String("error", err.Error()))
		writeMessage(w, http.StatusInternalServerError, "stored document failed integrity check")
	default:
		logger.ErrorContext(ctx, "request failed", slog.String("error", err.Error()))
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// writeSignerError is writeError for share-token routes, where a dangling
// reference must not reveal whether the entity exists.
func writeSignerError(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeMessage(w, http.StatusBadRequest, "invalid signing link")
		return
	}
	writeError(ctx, w, logger, err)
}
