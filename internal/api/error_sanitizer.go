package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/ignite/habit-coach/internal/pkg/httputil"
)

// =============================================================================
// ERROR SANITIZER
// Internal errors (SQL text, redis addresses, bucket keys) stay in the
// server log. 5xx responses carry a generic message only.
// =============================================================================

// respondSafeError logs the internal error and sends a sanitized JSON
// error response.
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if internalErr != nil {
		log.Printf("ERROR [%d]: %s: %v", code, publicMsg, internalErr)
	}
	httputil.Error(w, code, publicMsg)
}

// safeErrorMessage maps common internal error patterns to public-safe
// messages. 4xx messages describe the caller's input and pass through.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}
	if internalErr == nil {
		return "An internal error occurred"
	}

	errStr := strings.ToLower(internalErr.Error())
	switch {
	case strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp"):
		return "Service temporarily unavailable"

	case strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context canceled"):
		return "Request timed out"

	case strings.Contains(errStr, "sql") ||
		strings.Contains(errStr, "pq:") ||
		strings.Contains(errStr, "scan") ||
		strings.Contains(errStr, "transaction"):
		return "A database error occurred"

	case strings.Contains(errStr, "nosuchkey") ||
		strings.Contains(errStr, "artifact"):
		return "Model storage error"

	default:
		return "An internal error occurred"
	}
}
