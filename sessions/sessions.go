// Package sessions owns the set of live protocol sessions: their state
// machine, activity tracking, and timeout-driven eviction.
//
// A session moves created -> active on its first activity update and can
// be marked orphaned when its client disconnects. Terminated sessions are
// removed outright; they are never retained in a terminal state and never
// resurrected — an unknown or expired session id on a later request leads
// to a brand-new session.
package sessions

import (
	"time"

	"github.com/go-vikunja/vikunja-mcp/auth"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateCreated is the initial state before any activity update.
	StateCreated State = "created"
	// StateActive is entered on the first activity update.
	StateActive State = "active"
	// StateOrphaned marks a session whose client disconnected. There is no
	// way back to active; clients open a new session to resume.
	StateOrphaned State = "orphaned"
)

// Transport names for the wire transports a session can belong to. A
// single credential may hold concurrent sessions across transports.
const (
	TransportHTTPStreamable = "http-streamable"
	TransportSSE            = "sse"
)

// ClientInfo is optional metadata captured at session creation.
type ClientInfo struct {
	UserAgent       string
	ProtocolVersion string
	RemoteAddr      string
}

// Session represents one logical client connection instance. Values
// handed out by the Manager are snapshots; mutations go through Manager
// methods only.
type Session struct {
	ID           string
	Token        string
	User         *auth.UserContext
	Transport    string
	State        State
	CreatedAt    time.Time
	LastActivity time.Time
	// OrphanedAt is set when the session enters StateOrphaned and anchors
	// the (much shorter) orphan cleanup window.
	OrphanedAt time.Time
	Client     ClientInfo
}

// Metrics exposes cumulative counters.
type Metrics struct {
	TotalCreated    int64
	TotalTerminated int64
	ActiveSessions  int64
}

// Stats is a structural snapshot of the live session set.
type Stats struct {
	Total       int
	Created     int
	Active      int
	Orphaned    int
	ByTransport map[string]int
}
