package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/course-checkout/pkg/logging"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 15 * time.Minute

// Registry owns the live sessions. Sessions idle for longer than the TTL are
// unloaded and forgotten.
type Registry struct {
	deps   Deps
	logger *logging.Logger
	ttl    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	deps = deps.withDefaults()
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		logger:   deps.Logger,
		ttl:      ttl,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Create opens and starts a new session.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	s := NewSession(uuid.NewString(), r.deps)
	r.sessions[s.id] = s
	n := len(r.sessions)
	r.mu.Unlock()

	s.Start(r.ctx)
	r.deps.Metrics.SetActiveSessions(n)
	r.logger.InfoContext(ctx, "checkout session opened", "session_id", s.id)
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove unloads and forgets a session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.Unload()
	r.deps.Metrics.SetActiveSessions(n)
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes sessions idle since before now minus the TTL.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.ttl)

	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.idleSince().Before(cutoff) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, s := range stale {
		s.Unload()
	}
	if len(stale) > 0 {
		r.deps.Metrics.SetActiveSessions(n)
		r.logger.Info("expired checkout sessions", "count", len(stale))
	}
	return len(stale)
}

// Start sweeps idle sessions until ctx is done or the registry is closed.
func (r *Registry) Start(ctx context.Context) {
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.deps.Clock())
		}
	}
}

// Close unloads every session. Later calls to Create fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Unload()
	}
	r.cancel()
	r.deps.Metrics.SetActiveSessions(0)
	r.logger.Info("checkout registry closed", "unloaded", len(sessions))
}
