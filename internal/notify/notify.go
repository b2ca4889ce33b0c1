// Package notify fans session change notifications out to connected
// websocket peers.
package notify

import (
	"log"
	"sort"
	"strings"
	"sync"
)

// UpdateKind labels an outbound session notification.
type UpdateKind string

const (
	// UpdateMemberList carries the roster of participants in the session.
	UpdateMemberList UpdateKind = "MEMBER_LIST"
	// UpdateHistory signals that the session's event history changed.
	UpdateHistory UpdateKind = "HISTORY"
	// UpdateFlagWaiting signals that narrative generation started and
	// further ready flags are ignored until it finishes.
	UpdateFlagWaiting UpdateKind = "FLAG_WAITING"
	// UpdateFlagDown signals that generation finished and ready flags are
	// accepted again.
	UpdateFlagDown UpdateKind = "FLAG_DOWN"
)

// Sender delivers one encoded notification to a single peer. Implementations
// must be safe for concurrent use.
type Sender interface {
	Send(payload map[string]any) error
}

// Connection is one registered peer and the session it is watching.
type Connection struct {
	ParticipantID   string
	ParticipantCode string
	sender          Sender

	mu          sync.Mutex
	sessionCode string
}

// SetSession moves the connection into a session. An empty code detaches it.
func (c *Connection) SetSession(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCode = strings.TrimSpace(code)
}

// SessionCode returns the session this connection currently watches.
func (c *Connection) SessionCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionCode
}

// Registry tracks live connections and routes notifications by session code.
type Registry struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
}

// NewRegistry builds an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Connection]struct{})}
}

// Register adds a peer and returns its connection handle.
func (r *Registry) Register(participantID, participantCode string, sender Sender) *Connection {
	conn := &Connection{
		ParticipantID:   strings.TrimSpace(participantID),
		ParticipantCode: strings.TrimSpace(participantCode),
		sender:          sender,
	}
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
	return conn
}

// Unregister removes a peer. Unknown connections are ignored.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

// Members returns the sorted participant codes watching a session.
func (r *Registry) Members(sessionCode string) []string {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return nil
	}

	r.mu.RLock()
	var members []string
	for conn := range r.conns {
		if conn.SessionCode() == sessionCode {
			members = append(members, conn.ParticipantCode)
		}
	}
	r.mu.RUnlock()

	sort.Strings(members)
	return members
}

// Notify sends one notification to every connection watching the session.
// Delivery is fire and forget; a slow or broken peer never blocks the caller
// or the other peers.
func (r *Registry) Notify(sessionCode string, kind UpdateKind, payload map[string]any) {
	sessionCode = strings.TrimSpace(sessionCode)
	if sessionCode == "" {
		return
	}

	outbound := make(map[string]any, len(payload)+2)
	for key, value := range payload {
		outbound[key] = value
	}
	outbound["type"] = string(kind)
	outbound["sessionCode"] = sessionCode

	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for conn := range r.conns {
		if conn.SessionCode() == sessionCode {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		go func(conn *Connection) {
			if err := conn.sender.Send(outbound); err != nil {
				log.Printf("notify send failed participant=%s session=%s kind=%s err=%v",
					conn.ParticipantCode, sessionCode, kind, err)
			}
		}(conn)
	}
}
