package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubConn struct{ id string }

func (c *stubConn) ID() string             { return c.id }
func (c *stubConn) Send(string, any) error { return nil }

type mirrorStub struct {
	mu      sync.Mutex
	ops     []string
	failSet bool
}

func (m *mirrorStub) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

func (m *mirrorStub) Set(_ context.Context, userID, connID string) error {
	m.record("set " + userID + " " + connID)
	if m.failSet {
		return errors.New("redis down")
	}
	return nil
}

func (m *mirrorStub) Clear(_ context.Context, userID, connID string) error {
	m.record("clear " + userID + " " + connID)
	return nil
}

func (m *mirrorStub) Refresh(_ context.Context, userID, connID string) error {
	m.record("refresh " + userID + " " + connID)
	return nil
}

func (m *mirrorStub) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ops...)
}

func TestBindReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	c1, c2 := &stubConn{id: "c1"}, &stubConn{id: "c2"}

	r.Bind(ctx, "alice", c1)
	r.Bind(ctx, "alice", c2)

	got, ok := r.Lookup("alice")
	if !ok || got.ID() != "c2" {
		t.Fatalf("expected c2, got %v %v", got, ok)
	}
	if len(r.Snapshot()) != 1 {
		t.Fatalf("expected a single binding per user")
	}
}

func TestUnbind(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	r.Unbind(ctx, "nobody") // no-op

	r.Bind(ctx, "alice", &stubConn{id: "c1"})
	r.Unbind(ctx, "alice")
	if r.Online("alice") {
		t.Fatalf("expected alice offline")
	}
}

func TestUnbindConn_IgnoresSuperseded(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	old, cur := &stubConn{id: "old"}, &stubConn{id: "new"}

	r.Bind(ctx, "alice", old)
	r.Bind(ctx, "alice", cur)

	if r.UnbindConn(ctx, "alice", old) {
		t.Fatalf("superseded connection must not unbind the newer one")
	}
	if got, _ := r.Lookup("alice"); got.ID() != "new" {
		t.Fatalf("binding lost")
	}
	if !r.UnbindConn(ctx, "alice", cur) {
		t.Fatalf("expected current connection to unbind")
	}
	if r.Online("alice") {
		t.Fatalf("expected alice offline")
	}
}

func TestMirrorFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	m := &mirrorStub{failSet: true}
	r := NewRegistry(m, nil)
	c := &stubConn{id: "c1"}

	r.Bind(ctx, "alice", c)
	if !r.Online("alice") {
		t.Fatalf("local binding must stand when the mirror fails")
	}
	r.Touch(ctx, "alice", c)
	r.Touch(ctx, "alice", &stubConn{id: "stale"})
	r.UnbindConn(ctx, "alice", c)

	want := []string{"set alice c1", "refresh alice c1", "clear alice c1"}
	got := m.Ops()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected mirror ops %v, got %v", want, got)
	}
}

func TestConcurrentBindLookup(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("user-%d", i)
			for j := 0; j < 100; j++ {
				c := &stubConn{id: fmt.Sprintf("%s-%d", uid, j)}
				r.Bind(ctx, uid, c)
				if got, ok := r.Lookup(uid); !ok || got == nil {
					t.Errorf("lookup lost binding for %s", uid)
					return
				}
				r.UnbindConn(ctx, uid, c)
			}
			r.Bind(ctx, uid, &stubConn{id: uid + "-final"})
		}(i)
	}
	wg.Wait()

	snap := r.Snapshot()
	if len(snap) != 32 {
		t.Fatalf("expected 32 bindings, got %d", len(snap))
	}
	for _, b := range snap {
		if b.ConnectionID != b.UserID+"-final" {
			t.Fatalf("torn binding: %+v", b)
		}
	}
}

// gatedMirror holds the first Set until release is closed.
type gatedMirror struct {
	mirrorStub
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedMirror() *gatedMirror {
	return &gatedMirror{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedMirror) Set(ctx context.Context, userID, connID string) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.mirrorStub.Set(ctx, userID, connID)
}

func TestMirror_ConcurrentBindsKeepNewestConnection(t *testing.T) {
	ctx := context.Background()
	m := newGatedMirror()
	r := NewRegistry(m, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Bind(ctx, "alice", &stubConn{id: "c1"})
	}()
	<-m.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Bind(ctx, "alice", &stubConn{id: "c2"})
	}()
	time.Sleep(30 * time.Millisecond)
	close(m.release)
	wg.Wait()

	var sets []string
	for _, op := range m.Ops() {
		if strings.HasPrefix(op, "set ") {
			sets = append(sets, op)
		}
	}
	if len(sets) == 0 || sets[len(sets)-1] != "set alice c2" {
		t.Fatalf("mirror must end on the live connection, got %v", sets)
	}
	if got, _ := r.Lookup("alice"); got.ID() != "c2" {
		t.Fatalf("expected c2 bound, got %s", got.ID())
	}
}

func TestMirror_ClearWaitsForPendingSet(t *testing.T) {
	ctx := context.Background()
	m := newGatedMirror()
	r := NewRegistry(m, nil)
	c := &stubConn{id: "c1"}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.Bind(ctx, "alice", c)
	}()
	<-m.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.UnbindConn(ctx, "alice", c)
	}()
	time.Sleep(30 * time.Millisecond)
	close(m.release)
	wg.Wait()

	want := []string{"set alice c1", "clear alice c1"}
	if got := m.Ops(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected mirror ops %v, got %v", want, got)
	}
}
