package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type recorderStub struct {
	mu    sync.Mutex
	saved []Session
	err   error
}

func (r *recorderStub) Save(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
	return r.err
}

func (r *recorderStub) Saved() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, len(r.saved))
	copy(out, r.saved)
	return out
}

func newTestStore() (*Store, *clock.Mock, *recorderStub) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	rec := &recorderStub{}
	return NewStore(rec, mock, nil), mock, rec
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func mustCreate(t *testing.T, s *Store, caller, callee string) Session {
	t.Helper()
	sess, err := s.Create(context.Background(), caller, callee, KindVideo)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess
}

// sessionIn drives a fresh alice->bob session into the given status.
func sessionIn(t *testing.T, s *Store, status Status) Session {
	t.Helper()
	ctx := context.Background()
	sess := mustCreate(t, s, "alice", "bob")
	var err error
	switch status {
	case StatusRinging:
	case StatusActive:
		sess, err = s.Transition(ctx, sess.CallID, ActionAccept, "bob")
	case StatusEnded:
		sess, err = s.Transition(ctx, sess.CallID, ActionEnd, "alice")
	case StatusRejected:
		sess, err = s.Transition(ctx, sess.CallID, ActionReject, "bob")
	}
	if err != nil {
		t.Fatalf("setup %s: %v", status, err)
	}
	return sess
}

func TestCreate_Defaults(t *testing.T) {
	s, mock, _ := newTestStore()
	sess, err := s.Create(context.Background(), "alice", "bob", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Status != StatusRinging || sess.Kind != KindVideo {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if !sess.StartTime.Equal(mock.Now()) {
		t.Fatalf("start time not taken from clock: %v", sess.StartTime)
	}
	if sess.AcceptedTime != nil || sess.EndTime != nil || sess.DurationSeconds != 0 {
		t.Fatalf("new session must not carry timestamps: %+v", sess)
	}
	got, ok := s.Get(sess.CallID)
	if !ok || got.CallID != sess.CallID {
		t.Fatalf("get after create failed")
	}
}

func TestCreate_InvalidArguments(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	cases := []struct {
		caller, callee string
		kind           Kind
	}{
		{"", "bob", KindAudio},
		{"alice", "", KindAudio},
		{"alice", "alice", KindAudio},
		{"alice", "bob", Kind("hologram")},
	}
	for _, tc := range cases {
		if _, err := s.Create(ctx, tc.caller, tc.callee, tc.kind); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("create(%q,%q,%q): expected ErrInvalidArgument, got %v", tc.caller, tc.callee, tc.kind, err)
		}
	}
}

func TestCreate_AlreadyInCall(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	first := mustCreate(t, s, "alice", "bob")

	if _, err := s.Create(ctx, "alice", "carol", KindAudio); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("caller busy: expected ErrAlreadyInCall, got %v", err)
	}
	if _, err := s.Create(ctx, "carol", "bob", KindAudio); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("callee busy: expected ErrAlreadyInCall, got %v", err)
	}

	if _, err := s.Transition(ctx, first.CallID, ActionEnd, "bob"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, ok := s.FindActiveFor("alice"); ok {
		t.Fatalf("ended session must not be active")
	}
	if _, err := s.Create(ctx, "alice", "carol", KindAudio); err != nil {
		t.Fatalf("expected new call after end, got %v", err)
	}
}

func TestTransition_StateMachineEdges(t *testing.T) {
	actorFor := map[Action]string{
		ActionAccept:     "bob",
		ActionReject:     "bob",
		ActionEnd:        "alice",
		ActionDisconnect: "alice",
	}
	allowed := map[Status]map[Action]Status{
		StatusRinging: {
			ActionAccept:     StatusActive,
			ActionReject:     StatusRejected,
			ActionEnd:        StatusEnded,
			ActionDisconnect: StatusEnded,
		},
		StatusActive: {
			ActionEnd:        StatusEnded,
			ActionDisconnect: StatusEnded,
		},
		StatusEnded:    {},
		StatusRejected: {},
	}

	for from, edges := range allowed {
		for _, action := range []Action{ActionAccept, ActionReject, ActionEnd, ActionDisconnect} {
			s, _, _ := newTestStore()
			sess := sessionIn(t, s, from)

			got, err := s.Transition(context.Background(), sess.CallID, action, actorFor[action])
			want, ok := edges[action]
			if !ok {
				if !errors.Is(err, ErrInvalidState) {
					t.Fatalf("%s --%s--> expected ErrInvalidState, got %v", from, action, err)
				}
				after, _ := s.Get(sess.CallID)
				if after.Status != from {
					t.Fatalf("%s --%s--> failed transition changed status to %s", from, action, after.Status)
				}
				continue
			}
			if err != nil {
				t.Fatalf("%s --%s--> unexpected error %v", from, action, err)
			}
			if got.Status != want {
				t.Fatalf("%s --%s--> expected %s, got %s", from, action, want, got.Status)
			}
			if (got.AcceptedTime != nil) != (from == StatusActive || want == StatusActive) {
				t.Fatalf("acceptedTime must be set iff the session passed through active: %+v", got)
			}
		}
	}
}

func TestTransition_Authorization(t *testing.T) {
	s, _, _ := newTestStore()
	ctx := context.Background()
	sess := mustCreate(t, s, "alice", "bob")

	for _, actor := range []string{"alice", "mallory", ""} {
		if _, err := s.Transition(ctx, sess.CallID, ActionAccept, actor); !errors.Is(err, ErrForbidden) {
			t.Fatalf("accept by %q: expected ErrForbidden, got %v", actor, err)
		}
		if _, err := s.Transition(ctx, sess.CallID, ActionReject, actor); !errors.Is(err, ErrForbidden) {
			t.Fatalf("reject by %q: expected ErrForbidden, got %v", actor, err)
		}
	}
	if _, err := s.Transition(ctx, sess.CallID, ActionEnd, "mallory"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("end by third party: expected ErrForbidden, got %v", err)
	}

	ended, err := s.Transition(ctx, sess.CallID, ActionEnd, "bob")
	if err != nil {
		t.Fatalf("end by callee: %v", err)
	}
	if ended.EndedBy != "bob" || ended.EndReason != ReasonUserEnded {
		t.Fatalf("unexpected ended session: %+v", ended)
	}
}

func TestTransition_NotFound(t *testing.T) {
	s, _, _ := newTestStore()
	if _, err := s.Transition(context.Background(), "call_missing", ActionEnd, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransition_DurationFloors(t *testing.T) {
	s, mock, _ := newTestStore()
	ctx := context.Background()
	sess := mustCreate(t, s, "alice", "bob")

	mock.Add(3 * time.Second) // ringing time does not count
	active, err := s.Transition(ctx, sess.CallID, ActionAccept, "bob")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	mock.Add(7500 * time.Millisecond)
	ended, err := s.Transition(ctx, sess.CallID, ActionEnd, "alice")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.DurationSeconds != 7 {
		t.Fatalf("expected duration 7, got %d", ended.DurationSeconds)
	}
	if !ended.AcceptedTime.Equal(*active.AcceptedTime) {
		t.Fatalf("acceptedTime changed on end")
	}
	if ended.EndTime.Sub(*ended.AcceptedTime) != 7500*time.Millisecond {
		t.Fatalf("unexpected end time %v", ended.EndTime)
	}
}

func TestTransition_EndWhileRingingHasZeroDuration(t *testing.T) {
	s, mock, _ := newTestStore()
	sess := mustCreate(t, s, "alice", "bob")
	mock.Add(30 * time.Second)
	ended, err := s.Transition(context.Background(), sess.CallID, ActionEnd, "alice")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.DurationSeconds != 0 || ended.AcceptedTime != nil {
		t.Fatalf("unanswered call must have zero duration: %+v", ended)
	}
}

func TestTransition_DoubleRejectIsInvalidState(t *testing.T) {
	s, mock, rec := newTestStore()
	ctx := context.Background()
	sess := mustCreate(t, s, "alice", "bob")

	first, err := s.Transition(ctx, sess.CallID, ActionReject, "bob")
	if err != nil {
		t.Fatalf("first reject: %v", err)
	}
	mock.Add(time.Second)
	if _, err := s.Transition(ctx, sess.CallID, ActionReject, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second reject: expected ErrInvalidState, got %v", err)
	}

	after, _ := s.Get(sess.CallID)
	if after.Status != StatusRejected || after.RejectedBy != "bob" || !after.EndTime.Equal(*first.EndTime) {
		t.Fatalf("second reject modified record: %+v", after)
	}
	if n := len(rec.Saved()); n != 1 {
		t.Fatalf("expected one persisted record, got %d", n)
	}
}

func TestTransition_PersistsTerminalRecord(t *testing.T) {
	s, _, rec := newTestStore()
	ctx := context.Background()
	sess := mustCreate(t, s, "alice", "bob")

	if _, err := s.Transition(ctx, sess.CallID, ActionAccept, "bob"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if n := len(rec.Saved()); n != 0 {
		t.Fatalf("non-terminal transition must not persist, got %d", n)
	}
	if _, err := s.Transition(ctx, sess.CallID, ActionDisconnect, "bob"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	saved := rec.Saved()
	if len(saved) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(saved))
	}
	if saved[0].Status != StatusEnded || saved[0].EndedBy != "bob" || saved[0].EndReason != ReasonPeerDisconnected {
		t.Fatalf("unexpected persisted record: %+v", saved[0])
	}
}

func TestTransition_PersistenceFailureDoesNotRollBack(t *testing.T) {
	s, _, rec := newTestStore()
	rec.err = errors.New("db down")
	sess := mustCreate(t, s, "alice", "bob")

	ended, err := s.Transition(context.Background(), sess.CallID, ActionEnd, "alice")
	if err != nil {
		t.Fatalf("persistence failure must not fail the transition: %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("expected ended, got %s", ended.Status)
	}
	got, _ := s.Get(sess.CallID)
	if got.Status != StatusEnded {
		t.Fatalf("in-memory state rolled back: %s", got.Status)
	}
}

func TestTransition_ConcurrentAcceptAndEnd(t *testing.T) {
	for i := 0; i < 50; i++ {
		s, _, rec := newTestStore()
		ctx := context.Background()
		sess := mustCreate(t, s, "alice", "bob")

		var wg sync.WaitGroup
		var acceptErr, endErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = s.Transition(ctx, sess.CallID, ActionAccept, "bob")
		}()
		go func() {
			defer wg.Done()
			_, endErr = s.Transition(ctx, sess.CallID, ActionEnd, "alice")
		}()
		wg.Wait()

		if endErr != nil {
			t.Fatalf("end must always win or follow accept: %v", endErr)
		}
		final, _ := s.Get(sess.CallID)
		if final.Status != StatusEnded {
			t.Fatalf("expected ended, got %s", final.Status)
		}
		switch {
		case acceptErr == nil && final.AcceptedTime == nil:
			t.Fatalf("accept succeeded but acceptedTime missing")
		case acceptErr != nil && !errors.Is(acceptErr, ErrInvalidState):
			t.Fatalf("accept after end: expected ErrInvalidState, got %v", acceptErr)
		case acceptErr != nil && final.AcceptedTime != nil:
			t.Fatalf("failed accept left acceptedTime set")
		}
		if n := len(rec.Saved()); n != 1 {
			t.Fatalf("expected exactly one persisted record, got %d", n)
		}
	}
}

func TestEviction_AfterGraceWindow(t *testing.T) {
	s, mock, _ := newTestStore()
	sess := sessionIn(t, s, StatusRejected)

	if !s.ScheduleEviction(sess.CallID, 5*time.Second) {
		t.Fatalf("expected eviction to be scheduled")
	}
	mock.Add(4 * time.Second)
	if _, ok := s.Get(sess.CallID); !ok {
		t.Fatalf("session evicted before grace window")
	}
	mock.Add(2 * time.Second)
	eventually(t, func() bool {
		_, ok := s.Get(sess.CallID)
		return !ok
	})
	if s.ScheduleEviction(sess.CallID, time.Second) {
		t.Fatalf("evicted session must not be rescheduled")
	}
}

func TestEviction_OnlyTerminalSessions(t *testing.T) {
	s, _, _ := newTestStore()
	sess := sessionIn(t, s, StatusActive)
	if s.ScheduleEviction(sess.CallID, time.Second) {
		t.Fatalf("active session must not be scheduled for eviction")
	}
}

func TestEviction_RescheduleReplacesTimer(t *testing.T) {
	s, mock, _ := newTestStore()
	sess := sessionIn(t, s, StatusEnded)

	s.ScheduleEviction(sess.CallID, 2*time.Second)
	s.ScheduleEviction(sess.CallID, 10*time.Second)

	mock.Add(3 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Get(sess.CallID); !ok {
		t.Fatalf("replaced timer still fired")
	}
	mock.Add(8 * time.Second)
	eventually(t, func() bool {
		_, ok := s.Get(sess.CallID)
		return !ok
	})
}

func TestEviction_Cancel(t *testing.T) {
	s, mock, _ := newTestStore()
	sess := sessionIn(t, s, StatusEnded)

	s.ScheduleEviction(sess.CallID, time.Second)
	if !s.CancelEviction(sess.CallID) {
		t.Fatalf("expected cancel to report a pending timer")
	}
	mock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Get(sess.CallID); !ok {
		t.Fatalf("cancelled eviction still removed the session")
	}
}

func TestList_OrderedByStart(t *testing.T) {
	s, mock, _ := newTestStore()
	a := mustCreate(t, s, "alice", "bob")
	mock.Add(time.Second)
	b := mustCreate(t, s, "carol", "dave")

	got := s.List()
	if len(got) != 2 || got[0].CallID != a.CallID || got[1].CallID != b.CallID {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind(""); err != nil || k != KindVideo {
		t.Fatalf("empty kind should default to video, got %q %v", k, err)
	}
	if k, err := ParseKind("Audio"); err != nil || k != KindAudio {
		t.Fatalf("expected audio, got %q %v", k, err)
	}
	if _, err := ParseKind("fax"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
