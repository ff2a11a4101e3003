// Package session answers "who am I" against the backend.
package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashureev/chatify/internal/backend"
	"github.com/ashureev/chatify/internal/domain"
)

// Identifier fetches the signed-in user. Implemented by *backend.Client.
type Identifier interface {
	Me(ctx context.Context) (domain.UserIdentity, error)
}

// Reason explains why a probe resolved the way it did. Diagnostic only.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonRejected    Reason = "rejected"
	ReasonUnreachable Reason = "unreachable"
	ReasonMalformed   Reason = "malformed"
)

// Result is the outcome of a probe.
type Result struct {
	Authenticated bool
	User          domain.UserIdentity
	Reason        Reason
}

// Anonymous returns an unauthenticated result with the given reason.
func Anonymous(reason Reason) Result {
	return Result{Reason: reason}
}

// Probe asks the backend for the current identity, using whatever
// credential the Identifier attaches.
type Probe struct {
	identifier Identifier
	logger     *slog.Logger
}

// NewProbe creates a Probe.
func NewProbe(identifier Identifier, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{identifier: identifier, logger: logger}
}

// Probe resolves to Authenticated(user) or Anonymous. It never returns an
// error and never retries; every failure is an Anonymous outcome.
func (p *Probe) Probe(ctx context.Context) Result {
	user, err := p.identifier.Me(ctx)
	if err != nil {
		reason := classify(err)
		p.logger.Debug("session probe resolved anonymous", "reason", reason, "error", err)
		return Anonymous(reason)
	}

	p.logger.Debug("session probe resolved authenticated", "user", user.DisplayName())
	return Result{Authenticated: true, User: user, Reason: ReasonOK}
}

func classify(err error) Reason {
	switch {
	case backend.IsUnauthorized(err):
		return ReasonRejected
	case domain.KindOf(err) == domain.KindNetwork, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonUnreachable
	case domain.KindOf(err) == domain.KindAuth:
		return ReasonRejected
	default:
		return ReasonMalformed
	}
}
