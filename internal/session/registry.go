package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// idleTTL is how long a principal's manager survives without being touched
// before the sweeper reclaims it. Long enough to outlive any realistic gap
// between requests on a live session token.
const idleTTL = 30 * time.Minute

const sweepInterval = 5 * time.Minute

// Registry holds one Manager per authenticated principal. Handlers resolve
// the manager for the principal named by a verified session token; after a
// process restart the manager is rebuilt lazily by resuming the provider
// session for that principal.
type Registry struct {
	factory func() *Manager
	logger  *zap.Logger

	mu       sync.Mutex
	byUser   map[uuid.UUID]*Manager
	lastSeen map[uuid.UUID]time.Time
	done     chan struct{}
	closed   bool
}

// NewRegistry creates a registry whose managers are built by factory. The
// factory is called once per principal; each call must return a fresh,
// already-subscribed Manager.
func NewRegistry(factory func() *Manager, logger *zap.Logger) *Registry {
	r := &Registry{
		factory:  factory,
		logger:   logger,
		byUser:   make(map[uuid.UUID]*Manager),
		lastSeen: make(map[uuid.UUID]time.Time),
		done:     make(chan struct{}),
	}
	go r.sweep()
	return r
}

// NewManager builds an unbound manager for a not-yet-authenticated flow
// (signup, login). Bind it once the provider reports an identity.
func (r *Registry) NewManager() *Manager {
	return r.factory()
}

// Bind registers m under the principal it is currently signed in as. A
// manager already bound for that principal is closed and replaced.
func (r *Registry) Bind(m *Manager) {
	cu := m.CurrentUser()
	if cu == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		m.Close()
		return
	}
	old := r.byUser[cu.ID]
	r.byUser[cu.ID] = m
	r.lastSeen[cu.ID] = time.Now()
	r.mu.Unlock()
	if old != nil && old != m {
		old.Close()
	}
}

// ForUser returns the manager for id, resuming the provider session when no
// live manager exists (first request after a restart).
func (r *Registry) ForUser(ctx context.Context, id uuid.UUID) (*Manager, error) {
	r.mu.Lock()
	if m, ok := r.byUser[id]; ok {
		r.lastSeen[id] = time.Now()
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	m := r.factory()
	if err := m.Resume(ctx, id.String()); err != nil {
		m.Close()
		return nil, err
	}
	if err := m.WaitReady(ctx); err != nil {
		m.Close()
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		m.Close()
		return nil, context.Canceled
	}
	if existing, ok := r.byUser[id]; ok {
		// Lost the race to a concurrent request; keep the winner.
		r.lastSeen[id] = time.Now()
		r.mu.Unlock()
		m.Close()
		return existing, nil
	}
	r.byUser[id] = m
	r.lastSeen[id] = time.Now()
	r.mu.Unlock()
	return m, nil
}

// Len reports the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser)
}

// Remove closes and drops the manager for id, if any. Called on logout.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	m := r.byUser[id]
	delete(r.byUser, id)
	delete(r.lastSeen, id)
	r.mu.Unlock()
	if m != nil {
		m.Close()
	}
}

// Close stops the sweeper and closes every live manager.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	managers := make([]*Manager, 0, len(r.byUser))
	for _, m := range r.byUser {
		managers = append(managers, m)
	}
	r.byUser = map[uuid.UUID]*Manager{}
	r.lastSeen = map[uuid.UUID]time.Time{}
	r.mu.Unlock()
	for _, m := range managers {
		m.Close()
	}
}

func (r *Registry) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-idleTTL)
			var stale []*Manager
			r.mu.Lock()
			for id, seen := range r.lastSeen {
				if seen.Before(cutoff) {
					if m, ok := r.byUser[id]; ok {
						stale = append(stale, m)
					}
					delete(r.byUser, id)
					delete(r.lastSeen, id)
				}
			}
			n := len(stale)
			r.mu.Unlock()
			for _, m := range stale {
				m.Close()
			}
			if n > 0 {
				r.logger.Debug("reclaimed idle sessions", zap.Int("count", n))
			}
		case <-r.done:
			return
		}
	}
}
