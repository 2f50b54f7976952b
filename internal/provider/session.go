package provider

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session implements Provider for one principal against a shared Directory.
type Session struct {
	dir      *Directory
	dispatch *dispatcher
	logger   *zap.Logger

	mu      sync.Mutex
	current *Identity
}

var _ Provider = (*Session)(nil)

// CreateAccount registers a new account and signs the session in as it.
func (s *Session) CreateAccount(ctx context.Context, email, password string) (*Identity, error) {
	ident, err := s.dir.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.setCurrent(ident)
	return ident, nil
}

// SignIn authenticates with email/password and updates the session state.
func (s *Session) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	ident, err := s.dir.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.setCurrent(ident)
	return ident, nil
}

// SignOut clears the session's identity and notifies subscribers.
func (s *Session) SignOut(_ context.Context) error {
	s.setCurrent(nil)
	return nil
}

// Resume restores the session for an already-authenticated principal.
func (s *Session) Resume(ctx context.Context, id uuid.UUID) (*Identity, error) {
	ident, err := s.dir.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.setCurrent(ident)
	return ident, nil
}

// Subscribe registers an auth-state callback.
func (s *Session) Subscribe(cb AuthCallback) func() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	return s.dispatch.subscribe(cb, current)
}

// SendPasswordReset delegates to the directory; silent on unknown addresses.
func (s *Session) SendPasswordReset(ctx context.Context, email string) error {
	return s.dir.SendPasswordReset(ctx, email)
}

// OAuthSignIn completes a Google code exchange and signs the session in.
func (s *Session) OAuthSignIn(ctx context.Context, code string) (*Identity, error) {
	info, err := s.dir.exchangeGoogle(ctx, code)
	if err != nil {
		return nil, err
	}
	ident, err := s.dir.FindOrCreateGoogle(ctx, info.ID, info.Email, info.Name, info.Picture)
	if err != nil {
		return nil, err
	}
	s.setCurrent(ident)
	return ident, nil
}

// UpdateDisplayName changes the display name on the account and on the
// session's cached identity.
func (s *Session) UpdateDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	if err := s.dir.SetDisplayName(ctx, id, name); err != nil {
		return err
	}
	s.mu.Lock()
	if s.current != nil && s.current.ID == id {
		s.current.DisplayName = name
	}
	s.mu.Unlock()
	return nil
}

// Reauthenticate verifies the current password as a credential challenge.
func (s *Session) Reauthenticate(ctx context.Context, id uuid.UUID, currentPassword string) error {
	return s.dir.VerifyPassword(ctx, id, currentPassword)
}

// ChangePassword sets a new password for the account.
func (s *Session) ChangePassword(ctx context.Context, id uuid.UUID, newPassword string) error {
	return s.dir.SetPassword(ctx, id, newPassword)
}

// Close stops callback delivery for this session.
func (s *Session) Close() {
	s.dispatch.close()
}

// setCurrent swaps the session identity and emits the transition. Emission
// happens under the lock so transitions reach the dispatcher in order.
func (s *Session) setCurrent(ident *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ident
	s.dispatch.emit(ident)
	if ident != nil {
		s.logger.Debug("auth state: signed in", zap.String("account_id", ident.ID.String()))
	} else {
		s.logger.Debug("auth state: signed out")
	}
}
