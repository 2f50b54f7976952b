// Package provider defines the identity-provider contract the session layer
// is built on, and a PostgreSQL-backed implementation of it.
//
// A Provider models one principal's authentication session: sign-in and
// sign-out mutate the session's current identity, and every transition is
// delivered — in order, without overlapping callbacks — to the auth-state
// subscribers. Account records themselves live in the shared Directory.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Identity is the provider's record of a principal. Immutable from the
// session layer's perspective except through the provider's own update calls.
type Identity struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// AuthCallback receives auth-state transitions. The identity is nil after
// sign-out. Deliveries are sequential per subscription.
type AuthCallback func(*Identity)

// Provider is the identity-provider session contract.
type Provider interface {
	// CreateAccount registers a new email/password account and signs the
	// session in as it. Coded failures: email-already-in-use, invalid-email,
	// weak-password.
	CreateAccount(ctx context.Context, email, password string) (*Identity, error)

	// SignIn authenticates with email/password. Coded failures:
	// user-not-found, wrong-password.
	SignIn(ctx context.Context, email, password string) (*Identity, error)

	// SignOut clears the session's identity and notifies subscribers.
	SignOut(ctx context.Context) error

	// Resume restores a session for an already-authenticated principal,
	// e.g. when a valid session token outlives the server process.
	Resume(ctx context.Context, id uuid.UUID) (*Identity, error)

	// Subscribe registers an auth-state callback. The callback is invoked
	// immediately with the current state, then on every transition, in
	// order. The returned function removes the subscription.
	Subscribe(cb AuthCallback) (unsubscribe func())

	// SendPasswordReset emails a reset link. Silent on unknown addresses so
	// callers cannot probe for registered accounts.
	SendPasswordReset(ctx context.Context, email string) error

	// OAuthSignIn completes a Google OAuth code exchange and signs the
	// session in as the linked account, creating one if needed. Coded
	// failure: account-exists-with-different-credential.
	OAuthSignIn(ctx context.Context, code string) (*Identity, error)

	// UpdateDisplayName changes the display name stored on the account.
	UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) error

	// Reauthenticate verifies the current password as a credential
	// challenge. Coded failure: wrong-password.
	Reauthenticate(ctx context.Context, id uuid.UUID, currentPassword string) error

	// ChangePassword sets a new password. Requires a recent authentication
	// event; coded failure: requires-recent-login.
	ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error

	// Close tears the session down and stops callback delivery.
	Close()
}

// dispatcher serializes auth-state callback delivery. All callbacks run on a
// single goroutine in enqueue order, matching the no-overlapping-deliveries
// guarantee the session layer depends on.
type dispatcher struct {
	mu      sync.Mutex
	subs    map[int]AuthCallback
	nextID  int
	queue   chan func()
	done    chan struct{}
	closing sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		subs:  make(map[int]AuthCallback),
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-d.done:
			return
		}
	}
}

// subscribe registers cb and schedules an immediate delivery of the current
// state to it.
func (d *dispatcher) subscribe(cb AuthCallback, current *Identity) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = cb
	d.mu.Unlock()

	d.enqueue(func() { cb(current) })

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// emit schedules delivery of identity to every current subscriber.
func (d *dispatcher) emit(identity *Identity) {
	d.enqueue(func() {
		d.mu.Lock()
		cbs := make([]AuthCallback, 0, len(d.subs))
		for _, cb := range d.subs {
			cbs = append(cbs, cb)
		}
		d.mu.Unlock()
		for _, cb := range cbs {
			cb(identity)
		}
	})
}

func (d *dispatcher) enqueue(fn func()) {
	select {
	case d.queue <- fn:
	case <-d.done:
	}
}

func (d *dispatcher) close() {
	d.closing.Do(func() { close(d.done) })
}
