package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"callsignal/pkg/utils"
)

// Conn is a live signaling connection bound to one user.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// Mirror publishes bindings outside the process. Calls are best-effort.
type Mirror interface {
	Set(ctx context.Context, userID, connID string) error
	Clear(ctx context.Context, userID, connID string) error
	Refresh(ctx context.Context, userID, connID string) error
}

// Binding is one row of the registry snapshot.
type Binding struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Connected    bool   `json:"connected"`
}

// Registry maps a user to its single live connection. A later Bind
// replaces the earlier one; there is no multi-device fan-out.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Conn

	mirror Mirror
	// mirrorLocks keeps mirror writes for one user in binding order.
	mirrorLocks utils.KeyedMutex
	log         *slog.Logger
}

// NewRegistry builds a Registry. mirror may be nil.
func NewRegistry(mirror Mirror, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		bindings: make(map[string]Conn),
		mirror:   mirror,
		log:      log,
	}
}

// Bind routes future lookups for userID to c.
func (r *Registry) Bind(ctx context.Context, userID string, c Conn) {
	if userID == "" || c == nil {
		return
	}
	r.mu.Lock()
	prev := r.bindings[userID]
	r.bindings[userID] = c
	r.mu.Unlock()

	if prev != nil && prev.ID() != c.ID() {
		r.log.Info("presence replaced", "user_id", userID, "conn_id", c.ID(), "prev_conn_id", prev.ID())
	} else {
		r.log.Debug("presence bound", "user_id", userID, "conn_id", c.ID())
	}
	if r.mirror == nil {
		return
	}
	unlock := r.mirrorLocks.Lock(userID)
	defer unlock()
	// A newer Bind already owns the mirror entry.
	if cur, ok := r.Lookup(userID); !ok || cur.ID() != c.ID() {
		return
	}
	if err := r.mirror.Set(ctx, userID, c.ID()); err != nil {
		r.log.Warn("presence mirror set failed", "user_id", userID, "err", err)
	}
}

// Unbind removes the binding for userID, whichever connection holds it.
func (r *Registry) Unbind(ctx context.Context, userID string) {
	r.mu.Lock()
	prev, ok := r.bindings[userID]
	delete(r.bindings, userID)
	r.mu.Unlock()

	if ok {
		r.clearMirror(ctx, userID, prev.ID())
	}
}

// UnbindConn removes the binding only while it still points at c.
// It reports false if c was never bound or has been superseded.
func (r *Registry) UnbindConn(ctx context.Context, userID string, c Conn) bool {
	if c == nil {
		return false
	}
	r.mu.Lock()
	cur, ok := r.bindings[userID]
	if !ok || cur.ID() != c.ID() {
		r.mu.Unlock()
		return false
	}
	delete(r.bindings, userID)
	r.mu.Unlock()

	r.clearMirror(ctx, userID, c.ID())
	return true
}

func (r *Registry) clearMirror(ctx context.Context, userID, connID string) {
	r.log.Debug("presence unbound", "user_id", userID, "conn_id", connID)
	if r.mirror == nil {
		return
	}
	unlock := r.mirrorLocks.Lock(userID)
	defer unlock()
	if err := r.mirror.Clear(ctx, userID, connID); err != nil {
		r.log.Warn("presence mirror clear failed", "user_id", userID, "err", err)
	}
}

// Lookup returns the connection bound to userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bindings[userID]
	return c, ok
}

// Online reports whether userID has a live binding.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Touch refreshes the mirror TTL for a connection that is still bound.
func (r *Registry) Touch(ctx context.Context, userID string, c Conn) {
	if r.mirror == nil || c == nil {
		return
	}
	unlock := r.mirrorLocks.Lock(userID)
	defer unlock()
	cur, ok := r.Lookup(userID)
	if !ok || cur.ID() != c.ID() {
		return
	}
	if err := r.mirror.Refresh(ctx, userID, c.ID()); err != nil {
		r.log.Warn("presence mirror refresh failed", "user_id", userID, "err", err)
	}
}

// Snapshot lists every binding ordered by user id.
func (r *Registry) Snapshot() []Binding {
	r.mu.RLock()
	out := make([]Binding, 0, len(r.bindings))
	for uid, c := range r.bindings {
		out = append(out, Binding{UserID: uid, ConnectionID: c.ID(), Connected: true})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
