package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callsignal/internal/calls"
	"callsignal/internal/presence"
)

var (
	ErrUnknownEvent     = errors.New("signaling: unknown event")
	ErrBadPayload       = errors.New("signaling: malformed payload")
	ErrIdentityMismatch = errors.New("signaling: announced user does not match connection identity")
)

// Router routes inbound connection events and pushes outbound call events.
// Relay is keyed by user identity, never by call session.
type Router struct {
	presence *presence.Registry
	calls    *calls.Store
	grace    time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[*Peer]struct{}
}

func NewRouter(reg *presence.Registry, store *calls.Store, grace time.Duration, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		presence: reg,
		calls:    store,
		grace:    grace,
		log:      log,
		rooms:    make(map[string]map[*Peer]struct{}),
	}
}

// Peer is the router's view of one connection. Events for a peer must be
// dispatched from a single goroutine, in arrival order.
type Peer struct {
	conn presence.Conn
	// authUserID is the identity proven at connect time, if any.
	authUserID string

	mu     sync.Mutex
	userID string
	rooms  map[string]struct{}
	closed bool
}

// UserID is the announced identity, or "" before join.
func (p *Peer) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

func (p *Peer) Conn() presence.Conn { return p.conn }

// Connect registers a new connection. authUserID restricts which identity
// the connection may announce; empty means unrestricted.
func (r *Router) Connect(c presence.Conn, authUserID string) *Peer {
	r.log.Debug("connection opened", "conn_id", c.ID(), "user_id", authUserID)
	return &Peer{conn: c, authUserID: authUserID, rooms: make(map[string]struct{})}
}

// Dispatch handles one inbound frame.
func (r *Router) Dispatch(ctx context.Context, p *Peer, env Envelope) error {
	switch env.Event {
	case EventJoin:
		var in JoinPayload
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		return r.Announce(ctx, p, in.UserID)
	case EventOffer, EventAnswer, EventICECandidate:
		var in relayIn
		if err := decode(env.Data, &in); err != nil {
			return err
		}
		r.Relay(p, env.Event, in)
		return nil
	case EventJoinExplore:
		r.JoinRoom(p, ExploreRoom)
		return nil
	case EventLeaveExplore:
		r.LeaveRoom(p, ExploreRoom)
		return nil
	case EventDisconnect:
		r.Disconnect(ctx, p)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing data", ErrBadPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// Announce binds the connection to userID in the presence registry.
func (r *Router) Announce(ctx context.Context, p *Peer, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrBadPayload)
	}
	if p.authUserID != "" && userID != p.authUserID {
		return ErrIdentityMismatch
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	prev := p.userID
	p.userID = userID
	p.mu.Unlock()

	if prev != "" && prev != userID {
		r.presence.UnbindConn(ctx, prev, p.conn)
	}
	r.presence.Bind(ctx, userID, p.conn)
	r.log.Info("user joined", "user_id", userID, "conn_id", p.conn.ID())
	return nil
}

// Relay forwards an offer, answer or candidate to the addressed user,
// tagged with the sender. Unknown targets and unannounced senders are
// dropped silently. It reports whether the frame was handed to a connection.
func (r *Router) Relay(p *Peer, event string, in relayIn) bool {
	from := p.UserID()
	if from == "" || in.To == "" {
		r.log.Debug("relay dropped", "event", event, "reason", "unaddressed", "conn_id", p.conn.ID())
		return false
	}

	var out any
	switch event {
	case EventOffer:
		out = OfferOut{Offer: in.Offer, From: from}
	case EventAnswer:
		out = AnswerOut{Answer: in.Answer, From: from}
	case EventICECandidate:
		out = CandidateOut{Candidate: in.Candidate, From: from}
	default:
		return false
	}

	target, ok := r.presence.Lookup(in.To)
	if !ok {
		r.log.Debug("relay dropped", "event", event, "reason", "target_offline", "from", from, "to", in.To)
		return false
	}
	if err := target.Send(event, out); err != nil {
		r.log.Warn("relay send failed", "event", event, "from", from, "to", in.To, "err", err)
		return false
	}
	return true
}

// JoinRoom is idempotent.
func (r *Router) JoinRoom(p *Peer, room string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.rooms[room] = struct{}{}
	p.mu.Unlock()

	r.mu.Lock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Peer]struct{})
		r.rooms[room] = members
	}
	members[p] = struct{}{}
	r.mu.Unlock()
}

// LeaveRoom is idempotent.
func (r *Router) LeaveRoom(p *Peer, room string) {
	p.mu.Lock()
	delete(p.rooms, room)
	p.mu.Unlock()

	r.mu.Lock()
	r.removeMember(room, p)
	r.mu.Unlock()
}

// removeMember must be called with r.mu held.
func (r *Router) removeMember(room string, p *Peer) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, p)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Broadcast sends event to every member of room and returns the number of
// connections that accepted it.
func (r *Router) Broadcast(room, event string, payload any) int {
	r.mu.Lock()
	targets := make([]presence.Conn, 0, len(r.rooms[room]))
	for p := range r.rooms[room] {
		targets = append(targets, p.conn)
	}
	r.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if err := c.Send(event, payload); err != nil {
			r.log.Warn("broadcast send failed", "room", room, "event", event, "conn_id", c.ID(), "err", err)
			continue
		}
		sent++
	}
	return sent
}

// RoomSize returns the number of connections in room.
func (r *Router) RoomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// Emit sends an event to the user's bound connection, if any.
func (r *Router) Emit(userID, event string, payload any) bool {
	c, ok := r.presence.Lookup(userID)
	if !ok {
		r.log.Debug("emit skipped, user offline", "user_id", userID, "event", event)
		return false
	}
	if err := c.Send(event, payload); err != nil {
		r.log.Warn("emit failed", "user_id", userID, "event", event, "conn_id", c.ID(), "err", err)
		return false
	}
	return true
}

// Disconnect tears the peer down. It unbinds presence, leaves all rooms
// and ends the user's ringing or active call with reason peer_disconnected.
// A connection already superseded by a newer one for the same user leaves
// the user's binding and call alone. Safe to call more than once.
func (r *Router) Disconnect(ctx context.Context, p *Peer) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	userID := p.userID
	rooms := make([]string, 0, len(p.rooms))
	for room := range p.rooms {
		rooms = append(rooms, room)
	}
	p.rooms = map[string]struct{}{}
	p.mu.Unlock()

	r.mu.Lock()
	for _, room := range rooms {
		r.removeMember(room, p)
	}
	r.mu.Unlock()

	r.log.Info("connection closed", "conn_id", p.conn.ID(), "user_id", userID)
	if userID == "" {
		return
	}
	if !r.presence.UnbindConn(ctx, userID, p.conn) {
		r.log.Debug("superseded connection closed", "user_id", userID, "conn_id", p.conn.ID())
		return
	}

	sess, ok := r.calls.FindActiveFor(userID)
	if !ok {
		return
	}
	unlock := r.calls.LockCall(sess.CallID)
	defer unlock()
	ended, err := r.calls.Transition(ctx, sess.CallID, calls.ActionDisconnect, userID)
	if err != nil {
		// A concurrent end or reject already finalized the call.
		r.log.Debug("disconnect cleanup skipped", "call_id", sess.CallID, "user_id", userID, "err", err)
		return
	}

	r.Emit(ended.Peer(userID), EventCallEnded, CallEnded{
		CallID:   ended.CallID,
		EndedBy:  userID,
		Duration: ended.DurationSeconds,
		Reason:   string(ended.EndReason),
	})
	r.calls.ScheduleEviction(ended.CallID, r.grace)
}
