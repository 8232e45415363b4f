package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type pushStub struct {
	to     []string
	events []liveEvent
}

func (p *pushStub) Emit(userID, event string, payload any) bool {
	if event != liveEventName {
		return false
	}
	p.to = append(p.to, userID)
	p.events = append(p.events, payload.(liveEvent))
	return true
}

func newTestService() (*Service, *MemoryPublisher, *pushStub) {
	pub := NewMemoryPublisher()
	push := &pushStub{}
	s := NewService(pub, push, nil)
	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s, pub, push
}

func TestSendCallNotification_Incoming(t *testing.T) {
	s, pub, push := newTestService()
	err := s.SendCallNotification(context.Background(), "alice", "bob", CallNotice{
		Kind:       CallNoticeIncoming,
		CallID:     "call_1",
		CallerName: "Alice A",
		CallType:   "video",
		Status:     "ringing",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	got := pub.Notifications()
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	n := got[0]
	if n.RecipientID != "bob" || n.Type != TypeCall || n.Title != "Incoming Call" || n.Message != "Incoming video call from Alice A" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Data["callId"] != "call_1" || n.Data["callerId"] != "alice" {
		t.Fatalf("unexpected data: %+v", n.Data)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("expected id and createdAt")
	}
	if len(push.to) != 1 || push.to[0] != "bob" || push.events[0].ID != n.ID {
		t.Fatalf("expected live push to bob, got %+v", push.to)
	}
}

func TestSendCallNotification_Update(t *testing.T) {
	s, pub, _ := newTestService()
	err := s.SendCallNotification(context.Background(), "bob", "alice", CallNotice{
		Kind:       CallNoticeUpdate,
		CallID:     "call_1",
		CallerName: "Bob B",
		CallType:   "audio",
		Status:     "rejected",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	n := pub.Notifications()[0]
	if n.Title != "Call Update" || n.Message != "Call rejected" {
		t.Fatalf("unexpected template: %q / %q", n.Title, n.Message)
	}
}

func TestSendCallNotification_RefusesIncomplete(t *testing.T) {
	s, pub, push := newTestService()
	cases := []CallNotice{
		{CallType: "video", Status: "ringing"},
		{CallerName: "A", Status: "ringing"},
		{CallerName: "A", CallType: "video"},
	}
	for _, c := range cases {
		if err := s.SendCallNotification(context.Background(), "a", "b", c); !errors.Is(err, ErrInvalidNotification) {
			t.Fatalf("expected ErrInvalidNotification for %+v, got %v", c, err)
		}
	}
	if len(pub.Notifications()) != 0 || len(push.to) != 0 {
		t.Fatalf("invalid notices must not be dispatched")
	}
}

func TestSendCallNotification_PublishFailureSkipsPush(t *testing.T) {
	s, pub, push := newTestService()
	pub.FailWith(errors.New("redis down"))
	err := s.SendCallNotification(context.Background(), "a", "b", CallNotice{CallerName: "A", CallType: "video", Status: "accepted"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if len(push.to) != 0 {
		t.Fatalf("live push must not run after a failed hand-off")
	}
}

func TestSendCallNotification_WithoutPublisherStillPushes(t *testing.T) {
	push := &pushStub{}
	s := NewService(nil, push, nil)

	err := s.SendCallNotification(context.Background(), "alice", "bob", CallNotice{
		Kind:       CallNoticeIncoming,
		CallID:     "call_1",
		CallerName: "Alice",
		CallType:   "audio",
		Status:     "ringing",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(push.events) != 1 || push.to[0] != "bob" {
		t.Fatalf("expected one live push to bob, got %v", push.to)
	}
	if push.events[0].Title != "Incoming Call" {
		t.Fatalf("unexpected title %q", push.events[0].Title)
	}
}
