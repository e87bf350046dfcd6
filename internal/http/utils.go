package http

import (
	"net/http"

	"github.com/quantdash/termd/internal/session"
)

// statusFor maps a boundary error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case session.CodeCapacityExceeded:
		return http.StatusTooManyRequests
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeAlreadyAttached:
		return http.StatusConflict
	case session.CodeSpawnTimeout:
		return http.StatusGatewayTimeout
	case session.CodeCircuitOpen:
		return http.StatusServiceUnavailable
	case session.CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
