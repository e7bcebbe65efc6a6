package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/verity/internal/cryptoutil"
	"github.com/dativo-io/verity/internal/pipeline"
	"github.com/dativo-io/verity/internal/requestctx"
)

// AuthMiddleware validates X-API-Key or Authorization: Bearer <key> against
// apiKeys and stores a caller id derived from the key in the context. With
// no keys configured every request passes and the caller is its remote
// IP, without the port.
func AuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestctx.SetRequestID(r.Context(), middleware.GetReqID(r.Context()))
			if len(apiKeys) == 0 {
				next.ServeHTTP(w, r.WithContext(requestctx.SetCallerID(ctx, "addr:"+remoteHost(r.RemoteAddr))))
				return
			}

			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" || !knownKey(apiKeys, key) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.SetCallerID(ctx, callerID(key))))
		})
	}
}

func knownKey(apiKeys []string, key string) bool {
	found := false
	for _, k := range apiKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			found = true
		}
	}
	return found
}

// callerID names a caller by a digest prefix so keys never reach logs.
func callerID(key string) string {
	return "key:" + cryptoutil.SHA256Hex([]byte(key))[:12]
}

// RateLimitMiddleware rejects requests over the global or per-caller limit
// with 429 and Retry-After.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(requestctx.CallerID(r.Context())) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error      string   `json:"error"`
	Message    string   `json:"message"`
	Violations []string `json:"violations,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writePipelineError maps a blocked request or response to its category and
// the violated constraints. Other errors become a generic internal error.
func writePipelineError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		writeError(w, http.StatusInternalServerError, string(pipeline.CategoryInternal), "internal error")
		return
	}
	status := http.StatusUnprocessableEntity
	switch pe.Category {
	case pipeline.CategoryPolicyViolation:
		status = http.StatusForbidden
	case pipeline.CategoryLedgerConsistency:
		status = http.StatusConflict
	case pipeline.CategoryInternal:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{
		Error:      string(pe.Category),
		Message:    pipeline.ErrVerificationFailed.Error(),
		Violations: pe.Violations,
	})
}
