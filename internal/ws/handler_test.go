package ws

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// recordSink records lifecycle events for assertions.
type recordSink struct {
	mu        sync.Mutex
	connected []*Client
	frames    []string
	closed    []*Client
}

func (s *recordSink) Connected(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, c)
}

func (s *recordSink) Frame(c *Client, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, string(data))
}

func (s *recordSink) Closed(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, c)
}

func (s *recordSink) counts() (connected, frames, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connected), len(s.frames), len(s.closed)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition never met")
	}
}

func TestHandlerLifecycle(t *testing.T) {
	cm := NewConnManager()
	sink := &recordSink{}
	ts := httptest.NewServer(NewHandler(cm, sink))
	defer ts.Close()

	conn := dialWS(t, ts.URL)

	waitFor(t, func() bool { c, _, _ := sink.counts(); return c == 1 })
	if cm.Count() != 1 {
		t.Fatalf("expected 1 managed connection, got %d", cm.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write error: %v", err)
	}

	waitFor(t, func() bool { _, f, _ := sink.counts(); return f == 1 })
	sink.mu.Lock()
	frame := sink.frames[0]
	sameClient := sink.connected[0]
	sink.mu.Unlock()
	if frame != `{"type":"ping"}` {
		t.Errorf("frame should arrive verbatim, got %q", frame)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { _, _, c := sink.counts(); return c == 1 })
	sink.mu.Lock()
	closedClient := sink.closed[0]
	sink.mu.Unlock()
	if closedClient != sameClient {
		t.Error("Closed should report the same client as Connected")
	}
	if cm.Count() != 0 {
		t.Errorf("expected 0 managed connections after close, got %d", cm.Count())
	}
}

func TestHandlerMultipleClients(t *testing.T) {
	cm := NewConnManager()
	sink := &recordSink{}
	ts := httptest.NewServer(NewHandler(cm, sink))
	defer ts.Close()

	const n = 3
	for i := 0; i < n; i++ {
		conn := dialWS(t, ts.URL)
		defer conn.Close(websocket.StatusNormalClosure, "")
	}

	waitFor(t, func() bool { c, _, _ := sink.counts(); return c == n })

	sink.mu.Lock()
	ids := map[string]bool{}
	for _, c := range sink.connected {
		ids[c.ID()] = true
	}
	sink.mu.Unlock()
	if len(ids) != n {
		t.Errorf("expected %d distinct connection IDs, got %d", n, len(ids))
	}
}

func TestHandlerEnforcesFrameLimit(t *testing.T) {
	cm := NewConnManager()
	sink := &recordSink{}
	ts := httptest.NewServer(NewHandler(cm, sink))
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")

	waitFor(t, func() bool { c, _, _ := sink.counts(); return c == 1 })

	big := make([]byte, maxFrameBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, big); err != nil {
		t.Fatalf("write error: %v", err)
	}

	// The oversized frame never reaches the sink; the server closes
	// the connection instead.
	waitFor(t, func() bool { _, _, c := sink.counts(); return c == 1 })
	if _, f, _ := sink.counts(); f != 0 {
		t.Errorf("oversized frame should not be delivered, got %d frames", f)
	}
}
