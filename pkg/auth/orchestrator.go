// Package auth runs the OAuth authorization-code flow: it issues the consent
// URL and turns the provider callback into a session and an activity report.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/owenisas/please-touch-grass/pkg/activity"
	"github.com/owenisas/please-touch-grass/pkg/audit"
	"github.com/owenisas/please-touch-grass/pkg/provider"
	"github.com/owenisas/please-touch-grass/pkg/session"
)

const slogKeyError = "error"

// Provider is the subset of provider.Client used by the flow.
type Provider interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*provider.TokenPair, error)
	FetchIdentity(ctx context.Context, accessToken string) (*provider.UserIdentity, error)
}

// StateIssuer issues and consumes CSRF state tokens.
type StateIssuer interface {
	Issue() (string, error)
	ValidateAndConsume(token string) bool
}

// SessionCreator creates sessions.
type SessionCreator interface {
	Create(ctx context.Context, username string, tokens provider.TokenPair) (string, error)
}

// Collector builds the activity report for a freshly authenticated user.
type Collector interface {
	Collect(ctx context.Context, accessToken, username string) activity.Report
}

// Config wires an Orchestrator.
type Config struct {
	Provider  Provider
	States    StateIssuer
	Sessions  SessionCreator
	Collector Collector

	// Audit, if set, receives a login_succeeded or login_failed event per
	// completed flow.
	Audit audit.Logger

	// OnComplete, if set, is called once per CompleteAuth with the failure
	// code, or "" on success.
	OnComplete func(code Code)
}

// AuthorizationRequest is the consent redirect handed to the browser.
type AuthorizationRequest struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// Result is a completed login.
type Result struct {
	SessionID string                 `json:"session_id"`
	Identity  *provider.UserIdentity `json:"identity"`
	Report    activity.Report        `json:"activity"`
}

// Orchestrator composes state validation, code exchange, identity lookup,
// session creation and activity collection. It holds no per-flow state.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	return &Orchestrator{cfg: cfg}
}

// BeginAuth issues a state and returns the provider consent URL.
func (o *Orchestrator) BeginAuth() (*AuthorizationRequest, error) {
	state, err := o.cfg.States.Issue()
	if err != nil {
		return nil, newError(CodeInternal, err)
	}
	return &AuthorizationRequest{
		URL:   o.cfg.Provider.AuthorizationURL(state),
		State: state,
	}, nil
}

// CompleteAuth handles the provider callback. No session is created unless
// the state is valid, the code exchange succeeds and the identity is known.
// Activity failures degrade the report and never fail the login.
func (o *Orchestrator) CompleteAuth(ctx context.Context, code, state string) (*Result, error) {
	result, username, err := o.completeAuth(ctx, code, state)
	o.finish(ctx, result, username, err)
	return result, err
}

// RejectCallback ends a flow whose callback cannot be completed, such as a
// denied consent or a missing code. The state is consumed so it cannot be
// replayed. The result is ErrInvalidState when the state is missing or not
// pending, and ErrInvalidRequest wrapping cause otherwise.
func (o *Orchestrator) RejectCallback(ctx context.Context, state string, cause error) error {
	var err error
	if state == "" || !o.cfg.States.ValidateAndConsume(state) {
		err = newError(CodeInvalidState, cause)
	} else {
		err = newError(CodeInvalidRequest, cause)
	}
	o.finish(ctx, nil, "", err)
	return err
}

// finish records the outcome of a flow to the audit trail and OnComplete.
func (o *Orchestrator) finish(ctx context.Context, result *Result, username string, err error) {
	event := audit.NewEvent(audit.EventLoginSucceeded).WithUser(username)
	if err != nil {
		event.Type = audit.EventLoginFailed
		event.WithError(string(CodeOf(err)), err)
		slog.Info("auth: login failed", "code", CodeOf(err), "user", username, slogKeyError, err)
	} else {
		event.WithSession(session.LogID(result.SessionID))
		slog.Info("auth: login succeeded", "user", username, "session", session.LogID(result.SessionID))
	}
	if auditErr := audit.Record(ctx, o.cfg.Audit, event); auditErr != nil {
		slog.Warn("auth: audit write failed", slogKeyError, auditErr)
	}
	if o.cfg.OnComplete != nil {
		o.cfg.OnComplete(CodeOf(err))
	}
}

func (o *Orchestrator) completeAuth(ctx context.Context, code, state string) (*Result, string, error) {
	if !o.cfg.States.ValidateAndConsume(state) {
		return nil, "", ErrInvalidState
	}

	tokens, err := o.cfg.Provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, "", newError(CodeTokenExchangeFailed, err)
	}
	if tokens == nil || tokens.AccessToken == "" {
		return nil, "", newError(CodeTokenExchangeFailed, errors.New("no access token issued"))
	}

	identity, err := o.cfg.Provider.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return nil, "", newError(CodeIdentityFetchFailed, err)
	}
	if identity == nil || identity.Username == "" {
		return nil, "", newError(CodeIdentityFetchFailed, errors.New("identity has no username"))
	}

	sessionID, err := o.cfg.Sessions.Create(ctx, identity.Username, *tokens)
	if err != nil {
		return nil, identity.Username, newError(CodeInternal, err)
	}

	report := o.cfg.Collector.Collect(ctx, tokens.AccessToken, identity.Username)

	return &Result{
		SessionID: sessionID,
		Identity:  identity,
		Report:    report,
	}, identity.Username, nil
}
