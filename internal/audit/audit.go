// Package audit publishes authentication lifecycle events to the
// supply-chain compliance trail.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Event types recorded on the trail.
const (
	EventSignup         = "account.signup"
	EventLogin          = "account.login"
	EventLogout         = "account.logout"
	EventPasswordChange = "account.password_change"
	EventWalletLink     = "account.wallet_link"
	EventRoleChange     = "account.role_change"
)

// Event is one auth lifecycle occurrence.
type Event struct {
	Type   string            `json:"type"`
	UserID string            `json:"user_id"`
	Email  string            `json:"email,omitempty"`
	At     time.Time         `json:"at"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Publisher delivers audit events. Publishing is best-effort from the
// caller's perspective; auth operations never fail because the trail is down.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NoopPublisher logs events locally instead of publishing them.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher creates a NoopPublisher.
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

// Publish logs the event and returns nil.
func (p *NoopPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Debug("audit event",
		zap.String("type", ev.Type),
		zap.String("user_id", ev.UserID),
	)
	return nil
}

// Close is a no-op.
func (p *NoopPublisher) Close() error { return nil }
