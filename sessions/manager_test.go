package sessions

import (
	"sync"
	"testing"
	"time"

	"github.com/go-vikunja/vikunja-mcp/auth"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T) (*Manager, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	m := NewManager(WithClock(clock.Now))
	t.Cleanup(m.Shutdown)
	return m, clock
}

func testUser() *auth.UserContext {
	return &auth.UserContext{ID: 1, Username: "demo"}
}

func TestCreateSessionDistinctIDs(t *testing.T) {
	m, _ := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		s := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
		if s.ID == "" {
			t.Fatalf("expected non-empty session id")
		}
		if seen[s.ID] {
			t.Fatalf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestCreateSessionInitialState(t *testing.T) {
	m, _ := newTestManager(t)

	s := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{UserAgent: "test-agent"})
	if s.State != StateCreated {
		t.Fatalf("expected created state, got %s", s.State)
	}
	if !s.LastActivity.Equal(s.CreatedAt) {
		t.Fatalf("expected lastActivity == createdAt at creation")
	}
	if s.Client.UserAgent != "test-agent" {
		t.Fatalf("expected client info retained")
	}
}

func TestUpdateActivityPromotesOnce(t *testing.T) {
	m, clock := newTestManager(t)
	s := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})

	clock.Advance(time.Second)
	m.UpdateActivity(s.ID)
	got := m.GetSession(s.ID)
	if got.State != StateActive {
		t.Fatalf("expected active after first update, got %s", got.State)
	}
	if !got.LastActivity.After(got.CreatedAt) {
		t.Fatalf("expected lastActivity bumped")
	}

	// Further updates keep the session active and bump the timestamp.
	clock.Advance(time.Second)
	m.UpdateActivity(s.ID)
	got2 := m.GetSession(s.ID)
	if got2.State != StateActive {
		t.Fatalf("expected active to remain, got %s", got2.State)
	}
	if !got2.LastActivity.After(got.LastActivity) {
		t.Fatalf("expected lastActivity bumped again")
	}
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	m, _ := newTestManager(t)

	// None of these may panic or create state.
	m.UpdateActivity("nope")
	m.MarkOrphaned("nope")
	m.TerminateSession("nope")

	if got := m.GetSession("nope"); got != nil {
		t.Fatalf("expected nil for unknown id, got %+v", got)
	}
	if got := m.Metrics(); got.ActiveSessions != 0 || got.TotalTerminated != 0 {
		t.Fatalf("expected untouched metrics, got %+v", got)
	}
}

func TestTerminateRemovesBothIndexes(t *testing.T) {
	m, _ := newTestManager(t)
	s1 := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
	s2 := m.CreateSession("tok", testUser(), TransportSSE, ClientInfo{})

	if got := len(m.GetSessionsByToken("tok")); got != 2 {
		t.Fatalf("expected 2 sessions for token, got %d", got)
	}

	m.TerminateSession(s1.ID)
	if got := m.GetSession(s1.ID); got != nil {
		t.Fatalf("expected nil after termination")
	}
	if got := len(m.GetSessionsByToken("tok")); got != 1 {
		t.Fatalf("expected 1 session left for token, got %d", got)
	}

	// Terminating the last session removes the token index entry entirely.
	m.TerminateSession(s2.ID)
	if got := m.GetSessionsByToken("tok"); len(got) != 0 {
		t.Fatalf("expected no sessions for token, got %d", len(got))
	}

	metrics := m.Metrics()
	if metrics.TotalCreated != 2 || metrics.TotalTerminated != 2 || metrics.ActiveSessions != 0 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestIdleSweep(t *testing.T) {
	m, clock := newTestManager(t)

	old := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.UpdateActivity(old.ID)

	clock.Advance(20 * time.Minute)
	fresh := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.UpdateActivity(fresh.ID)

	// old is now 20 minutes idle, fresh is 10 minutes idle.
	clock.Advance(10*time.Minute + time.Second)

	removed := m.CleanupStaleSessions()
	if removed != 1 {
		t.Fatalf("expected exactly 1 session swept, got %d", removed)
	}
	if m.GetSession(old.ID) != nil {
		t.Fatalf("expected 30-minute-idle session removed")
	}
	if m.GetSession(fresh.ID) == nil {
		t.Fatalf("expected 10-minute-idle session kept")
	}
}

func TestOrphanSweep(t *testing.T) {
	m, clock := newTestManager(t)
	s := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.MarkOrphaned(s.ID)

	got := m.GetSession(s.ID)
	if got == nil || got.State != StateOrphaned {
		t.Fatalf("expected orphaned session to stay visible, got %+v", got)
	}

	clock.Advance(30 * time.Second)
	if m.CleanupStaleSessions() != 0 {
		t.Fatalf("expected 30s-old orphan to survive the sweep")
	}

	clock.Advance(31 * time.Second)
	if m.CleanupStaleSessions() != 1 {
		t.Fatalf("expected 61s-old orphan to be swept")
	}
	if m.GetSession(s.ID) != nil {
		t.Fatalf("expected orphan removed")
	}
}

func TestOrphanIsTerminalUntilSwept(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.MarkOrphaned(s.ID)

	// Activity updates bump the timestamp but never resurrect an orphan.
	m.UpdateActivity(s.ID)
	if got := m.GetSession(s.ID); got.State != StateOrphaned {
		t.Fatalf("expected orphaned to be terminal, got %s", got.State)
	}
}

func TestCleanupOnEmptySet(t *testing.T) {
	m, _ := newTestManager(t)
	if removed := m.CleanupStaleSessions(); removed != 0 {
		t.Fatalf("expected no-op sweep on empty set, got %d", removed)
	}
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t)

	a := m.CreateSession("tok-a", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.CreateSession("tok-a", testUser(), TransportSSE, ClientInfo{})
	b := m.CreateSession("tok-b", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.UpdateActivity(a.ID)
	m.MarkOrphaned(b.ID)

	st := m.Stats()
	if st.Total != 3 || st.Active != 1 || st.Created != 1 || st.Orphaned != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.ByTransport[TransportHTTPStreamable] != 2 || st.ByTransport[TransportSSE] != 1 {
		t.Fatalf("unexpected transport breakdown: %+v", st.ByTransport)
	}
}

func TestShutdown(t *testing.T) {
	m, _ := newTestManager(t)
	m.Start()
	m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})
	m.CreateSession("tok", testUser(), TransportHTTPStreamable, ClientInfo{})

	m.Shutdown()

	if got := m.GetAllSessions(); len(got) != 0 {
		t.Fatalf("expected empty session set after shutdown, got %d", len(got))
	}
	if got := m.Metrics().ActiveSessions; got != 0 {
		t.Fatalf("expected 0 active sessions after shutdown, got %d", got)
	}

	// Safe to call again, and with zero sessions.
	m.Shutdown()
}
