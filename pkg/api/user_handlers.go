package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/owenisas/please-touch-grass/pkg/audit"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

const (
	defaultEventLimit = 20
	maxEventLimit     = 100
)

// eventsResponse wraps a list of audit events.
type eventsResponse struct {
	Data []audit.Event `json:"data"`
}

// me handles GET /api/v1/me.
//
// @Summary      Get current user
// @Description  Returns the identity of the session user, fetched fresh from the provider.
// @Tags         User
// @Produce      json
// @Success      200  {object}  provider.UserIdentity
// @Failure      401  {object}  errorResponse
// @Failure      502  {object}  errorResponse
// @Security     SessionCookie
// @Security     BearerAuth
// @Router       /api/v1/me [get]
func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())

	identity, err := h.deps.Identity.FetchIdentity(r.Context(), sess.Tokens.AccessToken)
	if err != nil {
		slog.Warn("api: identity lookup failed", "session", session.LogID(sess.ID), slogKeyError, err)
		status, code := providerFailure(err)
		writeError(w, status, code, "")
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// activity handles GET /api/v1/activity.
//
// @Summary      Get touch grass index
// @Description  Recomputes the touch grass index and activity metrics for the session user.
// @Description  Sources that could not be fetched are listed in "degraded" and count as empty.
// @Tags         User
// @Produce      json
// @Success      200  {object}  activity.Report
// @Failure      401  {object}  errorResponse
// @Failure      502  {object}  errorResponse
// @Security     SessionCookie
// @Security     BearerAuth
// @Router       /api/v1/activity [get]
func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())

	report := h.deps.Collector.Collect(r.Context(), sess.Tokens.AccessToken, sess.Username)
	if report.AllFailed() {
		writeError(w, http.StatusBadGateway, CodeActivityFetchFailed, "")
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.TouchGrassIndex(report.TouchGrassIndex)
	}
	writeJSON(w, http.StatusOK, report)
}

// events handles GET /api/v1/me/events.
//
// @Summary      List my sign-in events
// @Description  Returns recent authentication events for the session user, newest first.
// @Tags         User
// @Produce      json
// @Param        limit  query  integer  false  "Maximum events to return (default: 20, max: 100)"
// @Success      200  {object}  eventsResponse
// @Failure      401  {object}  errorResponse
// @Failure      500  {object}  errorResponse
// @Security     SessionCookie
// @Security     BearerAuth
// @Router       /api/v1/me/events [get]
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	sess, _ := session.FromContext(r.Context())

	if h.deps.Audit == nil {
		writeJSON(w, http.StatusOK, eventsResponse{Data: []audit.Event{}})
		return
	}

	events, err := h.deps.Audit.Query(r.Context(), audit.QueryFilter{
		Username: sess.Username,
		Limit:    parseLimit(r.URL.Query().Get("limit")),
	})
	if err != nil {
		slog.Error("api: audit query failed", slogKeyError, err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "failed to query events")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Data: events})
}

// logout handles POST /api/v1/logout.
//
// @Summary      Sign out
// @Description  Invalidates the session and clears the session cookie.
// @Tags         Auth
// @Success      204
// @Failure      401  {object}  errorResponse
// @Security     SessionCookie
// @Security     BearerAuth
// @Router       /api/v1/logout [post]
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	id := session.IDFromRequest(r, h.deps.Cookies)
	err := h.endSession(r, id)

	if h.deps.Cookies != nil {
		if clearErr := h.deps.Cookies.Clear(w, r); clearErr != nil {
			slog.Warn("api: session cookie not cleared", slogKeyError, clearErr)
		}
	}
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// endSession invalidates id and records the logout. A missing id or an
// unknown session yields session.ErrNotFound.
func (h *Handler) endSession(r *http.Request, id string) error {
	if id == "" {
		return session.ErrNotFound
	}
	ctx := r.Context()
	sess, err := h.deps.Sessions.Peek(ctx, id)
	if err != nil {
		return err
	}
	if err := h.deps.Sessions.Invalidate(ctx, id); err != nil {
		return fmt.Errorf("invalidating session: %w", err)
	}

	event := audit.NewEvent(audit.EventLogout).WithUser(sess.Username).WithSession(session.LogID(id))
	if err := audit.Record(ctx, h.deps.Audit, event); err != nil {
		slog.Warn("api: audit write failed", slogKeyError, err)
	}
	slog.Info("api: logout", "user", sess.Username, "session", session.LogID(id))
	return nil
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultEventLimit
	}
	return min(n, maxEventLimit)
}
