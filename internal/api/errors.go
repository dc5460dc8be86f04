package api

import (
	"net/http"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
)

// statusFor maps a gatewayerr.Kind to the wire status code of spec.md §6.
func statusFor(kind gatewayerr.Kind) int {
	switch kind {
	case gatewayerr.Validation:
		return http.StatusBadRequest
	case gatewayerr.Unauthenticated:
		return http.StatusUnauthorized
	case gatewayerr.RateLimited:
		return http.StatusTooManyRequests
	case gatewayerr.DependencyUnavailable, gatewayerr.LLMUnavailable, gatewayerr.ShuttingDown:
		return http.StatusServiceUnavailable
	case gatewayerr.AuthConfigError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the structured failure body of spec.md §7: a short machine
// code and a human-readable message. It never carries stack traces,
// credentials, or remote API tokens.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func bodyFor(err error) errorBody {
	kind := gatewayerr.KindOf(err)
	msg := "internal error"
	if ge, ok := err.(*gatewayerr.Error); ok {
		msg = ge.Message
	}
	return errorBody{Code: string(kind), Message: msg}
}
