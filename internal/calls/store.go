package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"callsignal/pkg/utils"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Recorder is the persistence sink for finalized sessions.
// Save is called once per session, after it reaches a terminal status.
type Recorder interface {
	Save(ctx context.Context, s Session) error
}

const persistTimeout = 5 * time.Second

// Store is the process-local, authoritative call session state machine.
//
// All check-and-set sequences run under one mutex. The recorder is called
// after the mutex is released so a slow sink cannot stall other calls.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	// active maps a user to the id of their ringing/active session.
	active map[string]string

	// callLocks orders a transition together with the events it produces.
	callLocks utils.KeyedMutex

	clock    clock.Clock
	recorder Recorder
	log      *slog.Logger
	newID    func() string
}

type entry struct {
	session Session

	// evictGen invalidates timers that were stopped too late to be prevented.
	evictGen uint64
	timer    *clock.Timer
}

// NewStore builds a Store. A nil clock uses wall time, a nil recorder skips
// persistence and a nil logger uses slog.Default().
func NewStore(recorder Recorder, clk clock.Clock, log *slog.Logger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*entry),
		active:   make(map[string]string),
		clock:    clk,
		recorder: recorder,
		log:      log,
		newID:    func() string { return "call_" + uuid.NewString() },
	}
}

// Create starts a ringing session between caller and callee.
func (s *Store) Create(ctx context.Context, callerID, calleeID string, kind Kind) (Session, error) {
	if callerID == "" || calleeID == "" {
		return Session{}, fmt.Errorf("%w: caller and callee are required", ErrInvalidArgument)
	}
	if callerID == calleeID {
		return Session{}, fmt.Errorf("%w: cannot call yourself", ErrInvalidArgument)
	}
	if kind == "" {
		kind = KindVideo
	}
	if kind != KindAudio && kind != KindVideo {
		return Session{}, fmt.Errorf("%w: unknown call type %q", ErrInvalidArgument, kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.active[callerID]; busy {
		return Session{}, ErrAlreadyInCall
	}
	if _, busy := s.active[calleeID]; busy {
		return Session{}, ErrAlreadyInCall
	}

	sess := Session{
		CallID:    s.newID(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		Kind:      kind,
		Status:    StatusRinging,
		StartTime: s.clock.Now().UTC(),
	}
	s.sessions[sess.CallID] = &entry{session: sess}
	s.active[callerID] = sess.CallID
	s.active[calleeID] = sess.CallID

	s.log.Debug("call created", "call_id", sess.CallID, "caller_id", callerID, "callee_id", calleeID, "call_type", kind)
	return sess, nil
}

// Get returns a copy of the session, if it is still retained.
func (s *Store) Get(callID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[callID]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// FindActiveFor returns the user's ringing or active session.
func (s *Store) FindActiveFor(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[userID]
	if !ok {
		return Session{}, false
	}
	e, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// List returns every retained session, oldest first.
func (s *Store) List() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		out = append(out, e.session)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// LockCall serializes callers acting on one call. Hold it across Transition
// and the events that announce the result so every party observes one order.
// It must not be held while calling out to slow collaborators.
func (s *Store) LockCall(callID string) (unlock func()) {
	return s.callLocks.Lock(callID)
}

// Transition applies action on behalf of actor and returns the updated session.
//
// Errors: ErrNotFound, ErrForbidden (actor is not a legitimate party for the
// action), ErrInvalidState (status does not permit the action). A failed
// transition leaves the session untouched.
func (s *Store) Transition(ctx context.Context, callID string, action Action, actor string) (Session, error) {
	s.mu.Lock()
	e, ok := s.sessions[callID]
	if !ok {
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}

	next, err := apply(e.session, action, actor, s.clock.Now().UTC())
	if err != nil {
		s.mu.Unlock()
		return Session{}, err
	}
	e.session = next
	if next.Status.Terminal() {
		s.release(next)
	}
	s.mu.Unlock()

	s.log.Info("call transition",
		"call_id", next.CallID,
		"action", action,
		"actor", actor,
		"status", next.Status,
	)

	if next.Status.Terminal() {
		s.persist(ctx, next)
	}
	return next, nil
}

// release drops the per-user active index for a finished session.
// Must be called with s.mu held.
func (s *Store) release(sess Session) {
	for _, uid := range []string{sess.CallerID, sess.CalleeID} {
		if s.active[uid] == sess.CallID {
			delete(s.active, uid)
		}
	}
}

func (s *Store) persist(ctx context.Context, sess Session) {
	if s.recorder == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.recorder.Save(pctx, sess); err != nil {
		s.log.Error("call record not persisted",
			"call_id", sess.CallID,
			"status", sess.Status,
			"err", fmt.Errorf("%w: %w", ErrPersistence, err),
		)
	}
}

func apply(cur Session, action Action, actor string, now time.Time) (Session, error) {
	switch action {
	case ActionAccept, ActionReject:
		if actor == "" || actor != cur.CalleeID {
			return Session{}, ErrForbidden
		}
		if cur.Status != StatusRinging {
			return Session{}, ErrInvalidState
		}
	case ActionEnd, ActionDisconnect:
		if !cur.IsParty(actor) {
			return Session{}, ErrForbidden
		}
		if cur.Status != StatusRinging && cur.Status != StatusActive {
			return Session{}, ErrInvalidState
		}
	default:
		return Session{}, fmt.Errorf("%w: unknown action %q", ErrInvalidArgument, action)
	}

	next := cur
	switch action {
	case ActionAccept:
		t := now
		next.Status = StatusActive
		next.AcceptedTime = &t
	case ActionReject:
		t := now
		next.Status = StatusRejected
		next.EndTime = &t
		next.RejectedBy = actor
		next.EndReason = ReasonUserRejected
	case ActionEnd, ActionDisconnect:
		t := now
		next.Status = StatusEnded
		next.EndTime = &t
		next.EndedBy = actor
		next.DurationSeconds = durationSeconds(next.AcceptedTime, t)
		next.EndReason = ReasonUserEnded
		if action == ActionDisconnect {
			next.EndReason = ReasonPeerDisconnected
		}
	}
	return next, nil
}

// ScheduleEviction removes a terminal session after delay. Scheduling again
// replaces the pending timer. It returns false if the session is unknown or
// not yet terminal.
func (s *Store) ScheduleEviction(callID string, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[callID]
	if !ok || !e.session.Status.Terminal() {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.evictGen++
	gen := e.evictGen
	e.timer = s.clock.AfterFunc(delay, func() { s.evict(callID, gen) })
	return true
}

// CancelEviction keeps a terminal session retained until scheduled again.
func (s *Store) CancelEviction(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[callID]
	if !ok || e.timer == nil {
		return false
	}
	e.timer.Stop()
	e.timer = nil
	e.evictGen++
	return true
}

func (s *Store) evict(callID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[callID]
	if !ok || e.evictGen != gen || !e.session.Status.Terminal() {
		return
	}
	delete(s.sessions, callID)
	s.log.Debug("call evicted", "call_id", callID)
}

// Close stops all pending eviction timers.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.sessions {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
			e.evictGen++
		}
	}
}
