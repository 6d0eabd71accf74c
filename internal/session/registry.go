// Package session tracks which family member currently has a live client
// connection. The connection lifecycle (transport/ws) writes to it; the
// delivery dispatcher only reads.
package session

import (
	"sync"

	"familyconnect/internal/eventbus"
	kit "familyconnect/internal/transport"
	logx "familyconnect/pkg/logx"

	"github.com/samber/lo"
)

// Registry maps member id -> live connection.
//
// It is safe for concurrent use: lookups race freely with attach/detach.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]kit.Conn

	bus eventbus.Bus
	log logx.Logger
}

func NewRegistry(bus eventbus.Bus, log logx.Logger) *Registry {
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{conns: map[string]kit.Conn{}, bus: bus, log: log}
}

// ConnectionFor returns the member's live connection. Absence is normal.
func (r *Registry) ConnectionFor(memberID string) (kit.Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[memberID]
	r.mu.RUnlock()
	return c, ok
}

// Attach binds conn to memberID and returns the connection it replaced, if
// any. The caller owns closing the replaced connection.
func (r *Registry) Attach(memberID string, conn kit.Conn) kit.Conn {
	r.mu.Lock()
	prev := r.conns[memberID]
	r.conns[memberID] = conn
	r.mu.Unlock()

	ev := eventbus.SessionEvent{MemberID: memberID, ConnID: conn.ID()}
	if prev != nil {
		ev.Replaced = prev.ID()
	}
	r.log.Debug("session attached", logx.String("member", memberID), logx.String("conn", conn.ID()), logx.String("replaced", ev.Replaced))
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionAttached, Data: ev})
	return prev
}

// Detach removes memberID only while it still points at conn, so a late
// close of a superseded connection leaves the newer session in place.
func (r *Registry) Detach(memberID string, conn kit.Conn) bool {
	r.mu.Lock()
	cur, ok := r.conns[memberID]
	removed := ok && cur == conn
	if removed {
		delete(r.conns, memberID)
	}
	r.mu.Unlock()

	if removed {
		r.log.Debug("session detached", logx.String("member", memberID), logx.String("conn", conn.ID()))
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionDetached, Data: eventbus.SessionEvent{MemberID: memberID, ConnID: conn.ID()}})
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot copies the current bindings.
func (r *Registry) Snapshot() map[string]kit.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Assign(r.conns)
}

// Members lists the member ids with a live connection.
func (r *Registry) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.conns)
}
