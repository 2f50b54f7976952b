// Package wallet bootstraps the blockchain wallet connection for a session.
// The node may be absent, unreachable, or the user may refuse the account
// request; the session degrades to a not-connected state in every case.
package wallet

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ErrRejected is returned when the user declines the account request.
var ErrRejected = errors.New("wallet connection request rejected")

// ErrUnavailable is returned when no wallet provider is reachable.
var ErrUnavailable = errors.New("no wallet provider available")

// Provider exposes the two account calls the bootstrap needs. Accounts
// returns already-authorized accounts without prompting; RequestAccounts may
// prompt the user and can be rejected.
type Provider interface {
	Accounts(ctx context.Context) ([]string, error)
	RequestAccounts(ctx context.Context) ([]string, error)
}

// Status is the wallet state attached to a session.
type Status struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// Updater persists a connected address to the principal's profile. It
// reports success but never returns an error; persistence failures must not
// break the wallet flow.
type Updater func(ctx context.Context, address string) bool

// Bootstrap checks for an already-authorized account without prompting. A nil
// provider, an RPC failure, and an empty account list all yield a
// not-connected status; the session continues either way.
func Bootstrap(ctx context.Context, p Provider, update Updater, logger *zap.Logger) Status {
	if p == nil {
		return Status{}
	}
	accounts, err := p.Accounts(ctx)
	if err != nil {
		logger.Warn("wallet bootstrap failed", zap.Error(err))
		return Status{}
	}
	if len(accounts) == 0 {
		return Status{}
	}
	addr := accounts[0]
	if update != nil && !update(ctx, addr) {
		logger.Warn("wallet address not persisted", zap.String("address", addr))
	}
	return Status{Connected: true, Address: addr}
}

// Connect prompts the user to authorize an account. Unlike Bootstrap it
// returns errors: the caller distinguishes a rejection from an outage.
func Connect(ctx context.Context, p Provider, update Updater, logger *zap.Logger) (Status, error) {
	if p == nil {
		return Status{}, ErrUnavailable
	}
	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		return Status{}, err
	}
	if len(accounts) == 0 {
		return Status{}, ErrUnavailable
	}
	addr := accounts[0]
	if update != nil && !update(ctx, addr) {
		logger.Warn("wallet address not persisted", zap.String("address", addr))
	}
	return Status{Connected: true, Address: addr}, nil
}
