package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/go-vikunja/vikunja-mcp/auth"
)

// Timeout defaults. Idle sessions linger for half an hour; orphaned ones
// are collected aggressively since their client already said goodbye.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultOrphanTimeout = 60 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the slog logger used by the manager.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithIdleTimeout overrides the idle eviction threshold.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithOrphanTimeout overrides the orphaned eviction threshold.
func WithOrphanTimeout(d time.Duration) Option {
	return func(m *Manager) { m.orphanTimeout = d }
}

// WithSweepInterval overrides the periodic cleanup interval.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the live session set. All methods are safe for concurrent
// use; operations on unknown ids are silent no-ops by contract, so
// callers never need existence checks.
type Manager struct {
	mu      sync.RWMutex
	byID    map[string]*Session
	byToken map[string]map[string]*Session

	totalCreated    int64
	totalTerminated int64

	idleTimeout   time.Duration
	orphanTimeout time.Duration
	sweepInterval time.Duration

	now func() time.Time
	log *slog.Logger

	sweepStop chan struct{}
	sweepOnce sync.Once
	stopOnce  sync.Once
}

// NewManager constructs a Manager. Call Start to run the periodic sweep
// and Shutdown to tear everything down.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		byID:          make(map[string]*Session),
		byToken:       make(map[string]map[string]*Session),
		idleTimeout:   DefaultIdleTimeout,
		orphanTimeout: DefaultOrphanTimeout,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		log:           slog.Default(),
		sweepStop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession registers a new session for the given credential and
// transport. Every call mints a fresh id; creation is intentionally not
// idempotent, so two concurrent first contacts produce two sessions.
func (m *Manager) CreateSession(token string, user *auth.UserContext, transport string, client ClientInfo) *Session {
	now := m.now()
	s := &Session{
		ID:           uuid.NewString(),
		Token:        token,
		User:         user,
		Transport:    transport,
		State:        StateCreated,
		CreatedAt:    now,
		LastActivity: now,
		Client:       client,
	}

	m.mu.Lock()
	m.byID[s.ID] = s
	byToken := m.byToken[token]
	if byToken == nil {
		byToken = make(map[string]*Session)
		m.byToken[token] = byToken
	}
	byToken[s.ID] = s
	m.totalCreated++
	m.mu.Unlock()

	return snapshot(s)
}

// GetSession returns a snapshot of the session, or nil for unknown or
// already-removed ids.
func (m *Manager) GetSession(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil
	}
	return snapshot(s)
}

// GetSessionsByToken returns all live sessions associated with the
// credential, across transports.
func (m *Manager) GetSessionsByToken(token string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byToken := m.byToken[token]
	out := make([]*Session, 0, len(byToken))
	for _, s := range byToken {
		out = append(out, snapshot(s))
	}
	return out
}

// GetAllSessions returns snapshots of every live session, orphaned ones
// included.
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, snapshot(s))
	}
	return out
}

// UpdateActivity bumps the session's lastActivity and promotes created
// sessions to active. Unknown ids are a no-op.
func (m *Manager) UpdateActivity(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return
	}
	s.LastActivity = m.now()
	if s.State == StateCreated {
		s.State = StateActive
	}
}

// MarkOrphaned flags the session as disconnected. Unknown ids are a
// no-op. Orphaned sessions stay visible until the sweep collects them.
func (m *Manager) MarkOrphaned(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		return
	}
	if s.State != StateOrphaned {
		s.State = StateOrphaned
		s.OrphanedAt = m.now()
	}
}

// TerminateSession removes the session from both indexes. Unknown ids
// are a no-op.
func (m *Manager) TerminateSession(id string) {
	m.mu.Lock()
	m.terminateLocked(id)
	m.mu.Unlock()
}

func (m *Manager) terminateLocked(id string) {
	s, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	if byToken := m.byToken[s.Token]; byToken != nil {
		delete(byToken, id)
		if len(byToken) == 0 {
			delete(m.byToken, s.Token)
		}
	}
	m.totalTerminated++
}

// CleanupStaleSessions terminates idle and expired-orphan sessions and
// returns how many were removed. It is idempotent and safe on an empty
// set; the periodic sweeper and tests both call it directly.
func (m *Manager) CleanupStaleSessions() int {
	now := m.now()

	m.mu.Lock()
	var stale []string
	for id, s := range m.byID {
		switch {
		case s.State == StateOrphaned:
			if now.Sub(s.OrphanedAt) > m.orphanTimeout {
				stale = append(stale, id)
			}
		default:
			if now.Sub(s.LastActivity) > m.idleTimeout {
				stale = append(stale, id)
			}
		}
	}
	for _, id := range stale {
		m.terminateLocked(id)
	}
	m.mu.Unlock()

	if len(stale) > 0 {
		m.log.Info("session.sweep.ok", slog.Int("removed", len(stale)))
	}
	return len(stale)
}

// Metrics returns cumulative counters reflecting the state after the
// most recent mutation.
func (m *Manager) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		TotalCreated:    m.totalCreated,
		TotalTerminated: m.totalTerminated,
		ActiveSessions:  int64(len(m.byID)),
	}
}

// Stats returns a structural snapshot of the live set.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{
		Total:       len(m.byID),
		ByTransport: make(map[string]int),
	}
	for _, s := range m.byID {
		switch s.State {
		case StateCreated:
			st.Created++
		case StateActive:
			st.Active++
		case StateOrphaned:
			st.Orphaned++
		}
		st.ByTransport[s.Transport]++
	}
	return st
}

// Start launches the periodic sweeper. Calling it more than once is a
// no-op.
func (m *Manager) Start() {
	m.sweepOnce.Do(func() {
		go m.sweep()
	})
}

func (m *Manager) sweep() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.sweepStop:
			return
		case <-ticker.C:
			m.CleanupStaleSessions()
		}
	}
}

// Shutdown terminates every live session, clears both indexes, and stops
// the periodic sweeper. Safe with zero sessions and safe to call twice.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() { close(m.sweepStop) })

	m.mu.Lock()
	for id := range m.byID {
		m.terminateLocked(id)
	}
	m.mu.Unlock()
}

func snapshot(s *Session) *Session {
	cp := *s
	return &cp
}
