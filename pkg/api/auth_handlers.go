package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/owenisas/please-touch-grass/pkg/activity"
	"github.com/owenisas/please-touch-grass/pkg/auth"
	"github.com/owenisas/please-touch-grass/pkg/provider"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

// callbackRequest is the query of the provider redirect.
type callbackRequest struct {
	Code  string `validate:"required,max=1024"`
	State string `validate:"required,max=2048"`
}

// callbackResponse is returned by a successful callback.
type callbackResponse struct {
	SessionID string                 `json:"session_id"`
	Username  string                 `json:"username"`
	Identity  *provider.UserIdentity `json:"identity"`
	Activity  activity.Report        `json:"activity"`
}

// authURL handles GET /api/v1/auth/url.
//
// @Summary      Get authorization URL
// @Description  Issues a single-use state and returns the provider consent URL embedding it.
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  auth.AuthorizationRequest
// @Failure      500  {object}  errorResponse
// @Router       /api/v1/auth/url [get]
func (h *Handler) authURL(w http.ResponseWriter, _ *http.Request) {
	req, err := h.deps.Orchestrator.BeginAuth()
	if err != nil {
		slog.Error("api: begin auth failed", slogKeyError, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// login handles GET /auth/login.
//
// @Summary      Start sign in
// @Description  Redirects the browser to the provider consent page.
// @Tags         Auth
// @Success      302
// @Failure      500  {object}  errorResponse
// @Router       /auth/login [get]
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	req, err := h.deps.Orchestrator.BeginAuth()
	if err != nil {
		slog.Error("api: begin auth failed", slogKeyError, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "")
		return
	}
	http.Redirect(w, r, req.URL, http.StatusFound)
}

// callback handles GET /auth/callback.
//
// @Summary      Complete sign in
// @Description  Validates the state, exchanges the code, creates a session and computes the touch grass index.
// @Description  Sets the session cookie. Redirects to the frontend instead of returning JSON when one is configured.
// @Tags         Auth
// @Produce      json
// @Param        code   query  string  true  "Authorization code"
// @Param        state  query  string  true  "State issued by the authorization request"
// @Success      200  {object}  callbackResponse
// @Success      302
// @Failure      400  {object}  errorResponse
// @Failure      502  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Router       /auth/callback [get]
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := callbackRequest{Code: q.Get("code"), State: q.Get("state")}

	if reason := h.callbackRejection(q.Get("error"), req); reason != nil {
		err := h.deps.Orchestrator.RejectCallback(r.Context(), req.State, reason)
		status, code := authFailure(err)
		msg := ""
		if code == CodeInvalidRequest {
			msg = reason.Error()
		}
		h.failCallback(w, r, status, code, msg)
		return
	}

	result, err := h.deps.Orchestrator.CompleteAuth(r.Context(), req.Code, req.State)
	if err != nil {
		status, code := authFailure(err)
		h.failCallback(w, r, status, code, "")
		return
	}

	if h.deps.Metrics != nil {
		h.deps.Metrics.TouchGrassIndex(result.Report.TouchGrassIndex)
	}
	if h.deps.Cookies != nil {
		if err := h.deps.Cookies.Write(w, r, result.SessionID); err != nil {
			slog.Warn("api: session cookie not set", "session", session.LogID(result.SessionID), slogKeyError, err)
		}
	}

	if h.deps.FrontendURL != "" {
		http.Redirect(w, r, h.deps.FrontendURL, http.StatusFound)
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		SessionID: result.SessionID,
		Username:  result.Identity.Username,
		Identity:  result.Identity,
		Activity:  result.Report,
	})
}

// callbackRejection returns why a callback cannot be completed, or nil.
func (h *Handler) callbackRejection(denied string, req callbackRequest) error {
	if denied != "" {
		slog.Info("api: authorization denied by user or provider", "reason", denied)
		return fmt.Errorf("authorization was not granted: %s", denied)
	}
	if err := h.validate.Struct(req); err != nil {
		return errors.New("code and state are required")
	}
	return nil
}

// failCallback reports a failed callback as JSON, or as a frontend redirect
// carrying the error code.
func (h *Handler) failCallback(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, msg string) {
	if h.deps.FrontendURL == "" {
		writeError(w, status, code, msg)
		return
	}
	target, err := url.Parse(h.deps.FrontendURL)
	if err != nil {
		writeError(w, status, code, msg)
		return
	}
	query := target.Query()
	query.Set("error", string(code))
	target.RawQuery = query.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// Verify interface compliance.
var _ Orchestrator = (*auth.Orchestrator)(nil)
