package live

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/dialer"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHubPublishRoutesBySession(t *testing.T) {
	h := testHub()
	a := &Client{SessionID: "sess-a", Send: make(chan []byte, 4)}
	b := &Client{SessionID: "sess-b", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(b)

	h.Publish(dialer.CallEvent{
		SessionID: "sess-a",
		CallID:    "call-1",
		SID:       "SIM1",
		Status:    calls.StatusRinging,
		At:        time.Now().UTC(),
	})

	select {
	case msg := <-a.Send:
		var ev dialer.CallEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.CallID != "call-1" || ev.Status != calls.StatusRinging {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("subscriber received nothing")
	}

	select {
	case <-b.Send:
		t.Fatal("event leaked to another session's subscriber")
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := testHub()
	slow := &Client{SessionID: "sess-a", Send: make(chan []byte, 1)}
	h.Register(slow)

	ev := dialer.CallEvent{SessionID: "sess-a", CallID: "call-1", Status: calls.StatusRinging}
	h.Publish(ev)
	// The buffer is full now; the next publish must not block and the client
	// is evicted.
	done := make(chan struct{})
	go func() {
		h.Publish(ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// Eviction closes the send channel after draining the buffered message.
	<-slow.Send
	if _, ok := <-slow.Send; ok {
		t.Fatal("slow subscriber's channel was not closed")
	}
}

func TestHubUnregister(t *testing.T) {
	h := testHub()
	c := &Client{SessionID: "sess-a", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Fatal("unregister did not close the send channel")
	}

	// Publishing to a session with no subscribers is a no-op.
	h.Publish(dialer.CallEvent{SessionID: "sess-a", CallID: "call-1"})
}
