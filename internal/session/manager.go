// Package session owns the authenticated principal's state: it subscribes to
// the identity provider's auth-state stream, hydrates the matching profile
// document, and publishes the merged current-user view to the rest of the
// application. It is the only component that writes to the identity provider
// or the profile store on the user's behalf.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mihir-28/blockchain-scm/internal/audit"
	"github.com/mihir-28/blockchain-scm/internal/profile"
	"github.com/mihir-28/blockchain-scm/internal/provider"
	"go.uber.org/zap"
)

// ErrNotAuthenticated is returned by operations that require a signed-in
// identity and fail fast without one.
var ErrNotAuthenticated = errors.New("no user is currently logged in")

// ErrCurrentPasswordIncorrect is the user-facing translation of the
// provider's wrong-password code during a password change.
var ErrCurrentPasswordIncorrect = errors.New("current password is incorrect")

// ErrRecentLoginRequired tells the caller to prompt for a full re-login
// instead of retrying the password change.
var ErrRecentLoginRequired = errors.New("session is too old; log in again before changing your password")

// profileFetchTimeout bounds each profile hydration read.
const profileFetchTimeout = 10 * time.Second

// CurrentUser is the merged view of the provider identity and the profile
// document. Profile is nil until hydration for the current auth-state event
// completes, and stays nil if the read fails or no document exists.
type CurrentUser struct {
	provider.Identity
	Profile *profile.Document `json:"profile"`
}

// ProfileFields are the caller-supplied profile values at signup.
type ProfileFields struct {
	DisplayName string
	Company     string
	Phone       string
}

// ProfileUpdate carries a partial profile edit. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName *string
	Company     *string
	Phone       *string
}

// Manager is the session manager. Construct with NewManager, tear down with
// Close; there is no package-level state.
type Manager struct {
	provider provider.Provider
	profiles profile.Store
	audit    audit.Publisher
	logger   *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	gen       uint64
	identity  *provider.Identity
	prof      *profile.Document
	loading   bool
	hydrating bool
	changed   chan struct{}
	subs      map[int]func(*CurrentUser)
	nextSub   int

	notifyMu   sync.Mutex
	pending    []notification
	notifyKick chan struct{}

	unsubscribe func()
}

type notification struct {
	cu  *CurrentUser
	cbs []func(*CurrentUser)
}

// NewManager creates a Manager and subscribes it — exactly once, for its
// lifetime — to the provider's auth-state stream.
func NewManager(p provider.Provider, profiles profile.Store, aud audit.Publisher, logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider: p,
		profiles: profiles,
		audit:    aud,
		logger:   logger,
		baseCtx:  ctx,
		cancel:   cancel,
		loading:  true,
		changed:  make(chan struct{}),
		subs:     make(map[int]func(*CurrentUser)),

		notifyKick: make(chan struct{}, 1),
	}
	go m.notifyLoop()
	m.unsubscribe = p.Subscribe(m.onAuthState)
	return m
}

// Close unsubscribes from the auth-state stream and releases the manager.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.cancel()
	m.provider.Close()
}

// Loading reports whether the first auth-state event is still being applied.
// Once false it never becomes true again for the life of the manager.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// CurrentUser returns the merged view, or nil when signed out.
func (m *Manager) CurrentUser() *CurrentUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked()
}

// Subscribe registers a callback invoked with the merged view after every
// state change, starting with the current state. The returned function
// removes the subscription.
func (m *Manager) Subscribe(cb func(*CurrentUser)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = cb
	cu := m.currentLocked()
	m.mu.Unlock()

	m.enqueueNotify(notification{cu: cu, cbs: []func(*CurrentUser){cb}})

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// WaitReady blocks until the most recent auth-state event has been fully
// applied (profile hydrated, hydration failed, or signed out).
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		ready := !m.loading && !m.hydrating
		ch := m.changed
		m.mu.Unlock()
		if ready {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ── Operations ───────────────────────────────────────────────────────────────

// SignUp creates an account and exactly one new profile document carrying the
// supplied fields and the default role. Local state is refreshed through the
// auth-state subscription, not directly.
func (m *Manager) SignUp(ctx context.Context, email, password string, fields ProfileFields) error {
	ident, err := m.provider.CreateAccount(ctx, email, password)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := &profile.Document{
		DisplayName: fields.DisplayName,
		Email:       email,
		Company:     fields.Company,
		Phone:       fields.Phone,
		Role:        profile.RoleUser.Stored(),
		CreatedAt:   now,
		LastLoginAt: now,
	}
	if err := m.profiles.Set(ctx, ident.ID.String(), doc, false); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}

	m.publishAudit(ctx, audit.EventSignup, ident)
	return nil
}

// LogIn authenticates with email/password. State refresh happens via the
// subscription; provider errors pass through for the caller to translate.
func (m *Manager) LogIn(ctx context.Context, email, password string) error {
	ident, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	m.publishAudit(ctx, audit.EventLogin, ident)
	return nil
}

// LogOut signs the provider session out; the subscription clears all state.
func (m *Manager) LogOut(ctx context.Context) error {
	ident := m.snapshotIdentity()
	if err := m.provider.SignOut(ctx); err != nil {
		return err
	}
	if ident != nil {
		m.publishAudit(ctx, audit.EventLogout, ident)
	}
	return nil
}

// Resume restores the session for a principal authenticated in an earlier
// process (e.g. a still-valid session token after a restart).
func (m *Manager) Resume(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parse account id: %w", err)
	}
	_, err = m.provider.Resume(ctx, uid)
	return err
}

// ResetPassword asks the provider to send a reset email. Fire-and-forget:
// success or failure UI is the caller's concern.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	return m.provider.SendPasswordReset(ctx, email)
}

// SignInWithGoogle completes an OAuth sign-in. A profile document is created
// only if none exists for the identity; an existing document gets a
// last-login timestamp merge and nothing else. OAuth errors are rethrown
// unchanged for the caller to translate.
func (m *Manager) SignInWithGoogle(ctx context.Context, code string) error {
	ident, err := m.provider.OAuthSignIn(ctx, code)
	if err != nil {
		return err
	}

	id := ident.ID.String()
	now := time.Now().UTC()

	_, err = m.profiles.Get(ctx, id)
	switch {
	case errors.Is(err, profile.ErrNotFound):
		doc := &profile.Document{
			DisplayName: ident.DisplayName,
			Email:       ident.Email,
			PhotoURL:    ident.PhotoURL,
			Role:        profile.RoleUser.Stored(),
			CreatedAt:   now,
			LastLoginAt: now,
		}
		if err := m.profiles.Set(ctx, id, doc, false); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
	case err != nil:
		return fmt.Errorf("check profile: %w", err)
	default:
		if err := m.profiles.Update(ctx, id, map[string]any{profile.FieldLastLoginAt: now}); err != nil {
			// Non-fatal: the user is signed in; the stale timestamp heals on
			// the next login.
			m.logger.Warn("update last login", zap.String("account_id", id), zap.Error(err))
		}
	}

	m.publishAudit(ctx, audit.EventLogin, ident)
	return nil
}

// UpdateWallet persists the wallet address into the profile document and
// optimistically merges it locally. It never returns an error: a missing
// identity is a silent no-op and a store failure is logged and reported as
// false. Callers (the wallet-connect flow) depend on this not throwing.
func (m *Manager) UpdateWallet(ctx context.Context, address string) bool {
	ident := m.snapshotIdentity()
	if ident == nil {
		return false
	}

	now := time.Now().UTC()
	err := m.profiles.Update(ctx, ident.ID.String(), map[string]any{
		profile.FieldWalletAddress: address,
		profile.FieldUpdatedAt:     now,
	})
	if err != nil {
		m.logger.Error("update wallet address",
			zap.String("account_id", ident.ID.String()),
			zap.Error(err),
		)
		return false
	}

	m.mu.Lock()
	if m.identity != nil && m.identity.ID == ident.ID && m.prof != nil {
		m.prof.WalletAddress = address
		m.prof.UpdatedAt = now
	}
	m.notifyLocked()
	m.mu.Unlock()

	m.publishAudit(ctx, audit.EventWalletLink, ident)
	return true
}

// UpdateProfile writes the supplied fields to the profile document and
// optimistically merges them locally. Unlike UpdateWallet it propagates
// failures so the profile-edit flow can surface them. A missing identity is
// a silent no-op.
func (m *Manager) UpdateProfile(ctx context.Context, upd ProfileUpdate) error {
	ident := m.snapshotIdentity()
	if ident == nil {
		return nil
	}

	if upd.DisplayName != nil {
		// Keep the provider's copy of the display name in sync.
		if err := m.provider.UpdateDisplayName(ctx, ident.ID, *upd.DisplayName); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	fields := map[string]any{profile.FieldUpdatedAt: now}
	if upd.DisplayName != nil {
		fields[profile.FieldDisplayName] = *upd.DisplayName
	}
	if upd.Company != nil {
		fields[profile.FieldCompany] = *upd.Company
	}
	if upd.Phone != nil {
		fields[profile.FieldPhone] = *upd.Phone
	}
	if err := m.profiles.Update(ctx, ident.ID.String(), fields); err != nil {
		return err
	}

	m.mu.Lock()
	if m.identity != nil && m.identity.ID == ident.ID {
		if upd.DisplayName != nil {
			m.identity.DisplayName = *upd.DisplayName
		}
		if m.prof != nil {
			if upd.DisplayName != nil {
				m.prof.DisplayName = *upd.DisplayName
			}
			if upd.Company != nil {
				m.prof.Company = *upd.Company
			}
			if upd.Phone != nil {
				m.prof.Phone = *upd.Phone
			}
			m.prof.UpdatedAt = now
		}
	}
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// UpdatePassword re-authenticates with the current password, then changes it.
// Fails fast with ErrNotAuthenticated before any provider call when signed
// out. Wrong-password and requires-recent-login provider codes are translated
// into distinct user-facing errors; everything else passes through unchanged.
func (m *Manager) UpdatePassword(ctx context.Context, currentPassword, newPassword string) error {
	ident := m.snapshotIdentity()
	if ident == nil {
		return ErrNotAuthenticated
	}

	if err := m.provider.Reauthenticate(ctx, ident.ID, currentPassword); err != nil {
		return translatePasswordErr(err)
	}
	if err := m.provider.ChangePassword(ctx, ident.ID, newPassword); err != nil {
		return translatePasswordErr(err)
	}

	now := time.Now().UTC()
	if err := m.profiles.Update(ctx, ident.ID.String(), map[string]any{
		profile.FieldPasswordChangedAt: now,
		profile.FieldUpdatedAt:         now,
	}); err != nil {
		// The password is already changed; a stale timestamp is not worth
		// failing the operation over.
		m.logger.Warn("record password change time",
			zap.String("account_id", ident.ID.String()),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	if m.identity != nil && m.identity.ID == ident.ID && m.prof != nil {
		m.prof.PasswordChangedAt = now
		m.prof.UpdatedAt = now
	}
	m.notifyLocked()
	m.mu.Unlock()

	m.publishAudit(ctx, audit.EventPasswordChange, ident)
	return nil
}

// Refresh re-hydrates the profile for the current identity without waiting
// for another auth-state event. Used after writes that create the document.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return nil
	}
	gen := m.gen
	id := m.identity.ID.String()
	m.hydrating = true
	m.notifyLocked()
	m.mu.Unlock()

	m.hydrate(gen, id)
	return ctx.Err()
}

func translatePasswordErr(err error) error {
	switch provider.CodeOf(err) {
	case provider.CodeWrongPassword:
		return ErrCurrentPasswordIncorrect
	case provider.CodeRequiresRecentLogin:
		return ErrRecentLoginRequired
	}
	return err
}

// ── Auth-state handling ──────────────────────────────────────────────────────

// onAuthState applies one auth-state transition. The generation counter
// tags the profile fetch it spawns; a fetch whose generation is no longer
// current discards its result instead of overwriting newer state.
func (m *Manager) onAuthState(ident *provider.Identity) {
	m.mu.Lock()
	m.gen++
	gen := m.gen

	if ident == nil {
		m.identity = nil
		m.prof = nil
		m.hydrating = false
		m.loading = false
		m.notifyLocked()
		m.mu.Unlock()
		return
	}

	cp := *ident
	m.identity = &cp
	m.prof = nil
	m.hydrating = true
	m.notifyLocked()
	id := cp.ID.String()
	m.mu.Unlock()

	go m.hydrate(gen, id)
}

// hydrate fetches the profile document for the auth-state event tagged gen.
func (m *Manager) hydrate(gen uint64, id string) {
	ctx, cancel := context.WithTimeout(m.baseCtx, profileFetchTimeout)
	defer cancel()

	doc, err := m.profiles.Get(ctx, id)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		// A newer auth-state event arrived while this fetch was in flight.
		return
	}
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			m.logger.Warn("profile hydration failed", zap.String("account_id", id), zap.Error(err))
		}
		m.prof = nil
	} else {
		m.prof = doc
	}
	m.hydrating = false
	m.loading = false
	m.notifyLocked()
}

// ── State plumbing ───────────────────────────────────────────────────────────

func (m *Manager) currentLocked() *CurrentUser {
	if m.identity == nil {
		return nil
	}
	cu := &CurrentUser{Identity: *m.identity}
	if m.prof != nil {
		cp := *m.prof
		cu.Profile = &cp
	}
	return cu
}

func (m *Manager) snapshotIdentity() *provider.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	cp := *m.identity
	return &cp
}

// notifyLocked signals WaitReady waiters and queues subscriber delivery.
// Callers must hold m.mu.
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})

	if len(m.subs) == 0 {
		return
	}
	cbs := make([]func(*CurrentUser), 0, len(m.subs))
	for _, cb := range m.subs {
		cbs = append(cbs, cb)
	}
	m.enqueueNotify(notification{cu: m.currentLocked(), cbs: cbs})
}

// enqueueNotify appends to the delivery queue. The queue is unbounded and
// guarded by its own mutex, so enqueueing never blocks while m.mu is held
// and subscriber callbacks are free to call back into the Manager.
func (m *Manager) enqueueNotify(n notification) {
	m.notifyMu.Lock()
	m.pending = append(m.pending, n)
	m.notifyMu.Unlock()

	select {
	case m.notifyKick <- struct{}{}:
	default:
	}
}

// notifyLoop delivers subscriber callbacks sequentially, preserving the order
// of state changes.
func (m *Manager) notifyLoop() {
	for {
		select {
		case <-m.notifyKick:
			for {
				m.notifyMu.Lock()
				batch := m.pending
				m.pending = nil
				m.notifyMu.Unlock()
				if len(batch) == 0 {
					break
				}
				for _, n := range batch {
					for _, cb := range n.cbs {
						cb(n.cu)
					}
				}
			}
		case <-m.baseCtx.Done():
			return
		}
	}
}

func (m *Manager) publishAudit(ctx context.Context, eventType string, ident *provider.Identity) {
	ev := audit.Event{
		Type:   eventType,
		UserID: ident.ID.String(),
		Email:  ident.Email,
		At:     time.Now().UTC(),
	}
	if err := m.audit.Publish(ctx, ev); err != nil {
		m.logger.Warn("publish audit event", zap.String("type", eventType), zap.Error(err))
	}
}
