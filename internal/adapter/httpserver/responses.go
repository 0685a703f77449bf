// Package httpserver contains HTTP handlers and middleware for the chat
// gateway and the business directory API.
package httpserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/intelletix/sudbury-directory/internal/domain"
	"github.com/intelletix/sudbury-directory/internal/observability"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single place where domain errors become HTTP responses.
// Client errors echo the message; server errors use a fixed text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := http.StatusInternalServerError, "INTERNAL", "Internal server error"
	var tooLarge *http.MaxBytesError
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &tooLarge):
		status, code, msg = http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large"
	case errors.Is(err, domain.ErrInvalidArgument):
		status, code, msg = http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, code, msg = http.StatusNotFound, "NOT_FOUND", "Entreprise non trouvée"
	case errors.As(err, &rl):
		status, code, msg = http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later"
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	case errors.Is(err, domain.ErrRateLimited):
		status, code, msg = http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, please try again later"
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		status, code, msg = http.StatusTooManyRequests, "UPSTREAM_RATE_LIMIT", "The assistant is over quota, please try again later"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		status, code, msg = http.StatusRequestTimeout, "UPSTREAM_TIMEOUT", "The assistant took too long to answer"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "The assistant is unavailable"
	case errors.Is(err, domain.ErrUpstreamEmpty):
		status, code, msg = http.StatusInternalServerError, "UPSTREAM_EMPTY", "No response generated"
	case errors.Is(err, domain.ErrUpstreamFailure):
		status, code, msg = http.StatusInternalServerError, "UPSTREAM_FAILURE", "The assistant failed to answer"
	}
	lg := observability.LoggerFromContext(r.Context())
	if status >= 500 {
		lg.Error("request failed", "code", code, "error", err)
	} else {
		lg.Info("request rejected", "code", code, "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code, RequestID: observability.RequestIDFromContext(r.Context())})
}
