package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/owenisas/please-touch-grass/pkg/auth"
	"github.com/owenisas/please-touch-grass/pkg/provider"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

// ErrorCode is the machine-readable "error" field of an error response.
type ErrorCode string

// Error codes returned by the API.
const (
	CodeInvalidState              ErrorCode = "invalid_state"
	CodeTokenExchangeFailed       ErrorCode = "token_exchange_failed"
	CodeIdentityFetchFailed       ErrorCode = "identity_fetch_failed"
	CodeActivityFetchFailed       ErrorCode = "activity_fetch_failed"
	CodeSessionExpired            ErrorCode = "session_expired"
	CodeUnauthorized              ErrorCode = "unauthorized"
	CodeProviderUnavailable       ErrorCode = "provider_unavailable"
	CodeMalformedProviderResponse ErrorCode = "malformed_provider_response"
	CodeInvalidRequest            ErrorCode = "invalid_request"
	CodeInternal                  ErrorCode = "internal_error"
)

var defaultMessages = map[ErrorCode]string{
	CodeInvalidState:              "authorization state is invalid, expired or already used",
	CodeTokenExchangeFailed:       "authorization code could not be exchanged for tokens",
	CodeIdentityFetchFailed:       "user identity could not be retrieved",
	CodeActivityFetchFailed:       "activity could not be retrieved from the provider",
	CodeSessionExpired:            "session expired, sign in again",
	CodeUnauthorized:              "a valid session is required",
	CodeProviderUnavailable:       "provider is unavailable",
	CodeMalformedProviderResponse: "provider returned an unexpected response",
	CodeInvalidRequest:            "request is invalid",
	CodeInternal:                  "internal error",
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error   ErrorCode `json:"error"`
	Message string    `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response. An empty message uses the code's
// default message.
func writeError(w http.ResponseWriter, status int, code ErrorCode, msg string) {
	if msg == "" {
		msg = defaultMessages[code]
	}
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

// authFailure maps an orchestrator error to a status and code.
func authFailure(err error) (int, ErrorCode) {
	switch auth.CodeOf(err) {
	case auth.CodeInvalidState:
		return http.StatusBadRequest, CodeInvalidState
	case auth.CodeInvalidRequest:
		return http.StatusBadRequest, CodeInvalidRequest
	case auth.CodeTokenExchangeFailed:
		if errors.Is(err, provider.ErrUnauthorized) {
			return http.StatusBadRequest, CodeTokenExchangeFailed
		}
		return http.StatusBadGateway, CodeTokenExchangeFailed
	case auth.CodeIdentityFetchFailed:
		return http.StatusBadGateway, CodeIdentityFetchFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// providerFailure maps a provider error to a status and code.
func providerFailure(err error) (int, ErrorCode) {
	switch provider.KindOf(err) {
	case provider.ErrUnauthorized:
		return http.StatusUnauthorized, CodeUnauthorized
	case provider.ErrRateLimited:
		return http.StatusServiceUnavailable, CodeProviderUnavailable
	case provider.ErrUnavailable:
		return http.StatusBadGateway, CodeProviderUnavailable
	case provider.ErrMalformedResponse:
		return http.StatusBadGateway, CodeMalformedProviderResponse
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeSessionError renders a failed session lookup.
func writeSessionError(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, CodeSessionExpired, "")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "")
	default:
		slog.Error("api: session lookup failed", slogKeyError, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "")
	}
}
