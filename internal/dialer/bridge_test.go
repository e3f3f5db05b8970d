package dialer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/telephony"
)

type recordSink struct {
	mu     sync.Mutex
	events []CallEvent
}

func (s *recordSink) Publish(ev CallEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordSink) snapshot() []CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallEvent, len(s.events))
	copy(out, s.events)
	return out
}

type bridgeRig struct {
	*testRig
	bridge *Bridge
	sink   *recordSink
}

func newBridgeRig(t *testing.T) *bridgeRig {
	t.Helper()
	rig := newTestRig(t)
	sink := &recordSink{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := NewBridge(rig.mgr, rig.store, rig.sids, rig.prov, rig.caps, sink, log)
	return &bridgeRig{testRig: rig, bridge: b, sink: sink}
}

// dial seeds the queue, starts a session and places one call.
func (r *bridgeRig) dial(t *testing.T) (DialerSession, calls.Call, telephony.CallSession) {
	t.Helper()
	seedQueue(r.store)
	s := startSession(t, r.testRig)
	call, cs, err := r.mgr.InitiateCall(context.Background(), s.SessionID, "contact-1")
	if err != nil {
		t.Fatalf("InitiateCall() error = %v", err)
	}
	return s, call, cs
}

func TestDurableStatusMapping(t *testing.T) {
	cases := []struct {
		in   telephony.CallStatus
		want calls.Status
	}{
		{telephony.CallStatusInitiated, calls.StatusInitiated},
		{telephony.CallStatusRinging, calls.StatusRinging},
		{telephony.CallStatusInProgress, calls.StatusInProgress},
		{telephony.CallStatusNoAnswer, calls.StatusNoAnswer},
		{telephony.CallStatusBusy, calls.StatusBusy},
		{telephony.CallStatusVoicemail, calls.StatusVoicemail},
		{telephony.CallStatusCompleted, calls.StatusCompleted},
		{telephony.CallStatusFailed, calls.StatusFailed},
		{telephony.CallStatus("weird-carrier-code"), calls.StatusFailed},
	}
	for _, tc := range cases {
		if got := DurableStatus(tc.in); got != tc.want {
			t.Errorf("DurableStatus(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestBridgeAnsweredLifecycle(t *testing.T) {
	rig := newBridgeRig(t)
	s, call, cs := rig.dial(t)
	ctx := context.Background()

	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)
	got, _ := rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusRinging {
		t.Fatalf("durable status = %s, want RINGING", got.Status)
	}

	rig.prov.Emit(cs.SID, telephony.CallStatusInProgress)
	got, _ = rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusInProgress || got.AnsweredAt == nil {
		t.Fatalf("durable record after answer = %+v", got)
	}

	rig.prov.SetDuration(cs.SID, 42)
	rig.prov.Emit(cs.SID, telephony.CallStatusCompleted)
	got, _ = rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusCompleted || got.EndedAt == nil {
		t.Fatalf("durable record after completion = %+v", got)
	}
	if got.DurationSeconds != 42 {
		t.Fatalf("DurationSeconds = %d, want 42", got.DurationSeconds)
	}
	if got.RecordingURL == "" {
		t.Fatal("completed record missing recording url")
	}

	snap, _ := rig.mgr.Session(s.SessionID)
	if snap.Stats.Connected != 1 || snap.Stats.TotalTalkTimeSeconds != 42 {
		t.Fatalf("stats = %+v", snap.Stats)
	}
	if rig.caps.releases != 1 {
		t.Fatalf("cap releases = %d, want 1", rig.caps.releases)
	}

	evs := rig.sink.snapshot()
	if len(evs) != 3 || evs[len(evs)-1].Status != calls.StatusCompleted {
		t.Fatalf("published events = %+v", evs)
	}
	if evs[0].SessionID != s.SessionID || evs[0].CallID != call.CallID {
		t.Fatalf("event ids = %+v", evs[0])
	}
}

func TestBridgeUnansweredLifecycle(t *testing.T) {
	rig := newBridgeRig(t)
	s, call, cs := rig.dial(t)
	ctx := context.Background()

	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)
	rig.prov.Emit(cs.SID, telephony.CallStatusNoAnswer)
	rig.prov.Emit(cs.SID, telephony.CallStatusCompleted)

	got, _ := rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusCompleted || got.AnsweredAt != nil || got.DurationSeconds != 0 {
		t.Fatalf("durable record = %+v", got)
	}
	snap, _ := rig.mgr.Session(s.SessionID)
	if snap.Stats.NoAnswer != 1 || snap.Stats.Connected != 0 || snap.Stats.TotalTalkTimeSeconds != 0 {
		t.Fatalf("stats = %+v", snap.Stats)
	}
}

func TestBridgeDuplicateDeliveryCountsOnce(t *testing.T) {
	rig := newBridgeRig(t)
	s, call, cs := rig.dial(t)

	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)
	rig.prov.Emit(cs.SID, telephony.CallStatusInProgress)
	// A provider redelivering the same logical transition must not double
	// count.
	rig.bridge.OnProviderStatus(cs.SID, telephony.CallStatusInProgress)

	rig.prov.SetDuration(cs.SID, 10)
	rig.prov.Emit(cs.SID, telephony.CallStatusCompleted)
	rig.bridge.OnProviderStatus(cs.SID, telephony.CallStatusCompleted)

	snap, _ := rig.mgr.Session(s.SessionID)
	if snap.Stats.Connected != 1 {
		t.Fatalf("Connected = %d, want 1", snap.Stats.Connected)
	}
	if snap.Stats.TotalTalkTimeSeconds != 10 {
		t.Fatalf("TotalTalkTimeSeconds = %d, want 10", snap.Stats.TotalTalkTimeSeconds)
	}
	if rig.caps.releases != 1 {
		t.Fatalf("cap releases = %d, want 1", rig.caps.releases)
	}
	got, _ := rig.store.GetCall(context.Background(), call.CallID)
	if got.Status != calls.StatusCompleted {
		t.Fatalf("durable status = %s, want COMPLETED", got.Status)
	}
}

func TestBridgeDefersUnknownSid(t *testing.T) {
	rig := newBridgeRig(t)
	_, call, _ := rig.dial(t)
	ctx := context.Background()

	// An event for a sid that was never bound (e.g. the binding write raced
	// the first ring) parks in the pending queue instead of being lost.
	rig.bridge.OnProviderStatus("SIMghost", telephony.CallStatusRinging)
	if n := rig.bridge.PendingEvents(); n != 1 {
		t.Fatalf("PendingEvents = %d, want 1", n)
	}

	// Once the binding lands, the next delivery drains the backlog first.
	if err := rig.sids.Bind(ctx, "SIMghost", call.CallID); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	rig.bridge.OnProviderStatus("SIMghost", telephony.CallStatusInProgress)

	if n := rig.bridge.PendingEvents(); n != 0 {
		t.Fatalf("PendingEvents = %d, want 0", n)
	}
	got, _ := rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusInProgress {
		t.Fatalf("durable status = %s, want IN_PROGRESS", got.Status)
	}
}

func TestBridgeRetriesFailedDurableWrites(t *testing.T) {
	rig := newBridgeRig(t)
	s, call, cs := rig.dial(t)
	ctx := context.Background()

	rig.store.FailNextWrite = errors.New("db hiccup")
	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)
	if n := rig.bridge.PendingEvents(); n != 1 {
		t.Fatalf("PendingEvents = %d, want 1", n)
	}
	got, _ := rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusInitiated {
		t.Fatalf("durable status = %s, want INITIATED while write is pending", got.Status)
	}

	// The next event retries the backlog before its own processing, so the
	// durable record still moves through RINGING first.
	rig.prov.Emit(cs.SID, telephony.CallStatusInProgress)
	if n := rig.bridge.PendingEvents(); n != 0 {
		t.Fatalf("PendingEvents = %d, want 0", n)
	}
	got, _ = rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusInProgress {
		t.Fatalf("durable status = %s, want IN_PROGRESS", got.Status)
	}
	snap, _ := rig.mgr.Session(s.SessionID)
	if snap.Stats.Connected != 1 {
		t.Fatalf("Connected = %d, want 1", snap.Stats.Connected)
	}

	evs := rig.sink.snapshot()
	if len(evs) != 2 || evs[0].Status != calls.StatusRinging || evs[1].Status != calls.StatusInProgress {
		t.Fatalf("published events = %+v", evs)
	}
}

func TestBridgeReconcilerDrainsBacklog(t *testing.T) {
	rig := newBridgeRig(t)
	_, call, cs := rig.dial(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rig.store.FailNextWrite = errors.New("db hiccup")
	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)
	if n := rig.bridge.PendingEvents(); n != 1 {
		t.Fatalf("PendingEvents = %d, want 1", n)
	}

	go rig.bridge.RunReconciler(ctx, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rig.bridge.PendingEvents() == 0 {
			got, _ := rig.store.GetCall(context.Background(), call.CallID)
			if got.Status != calls.StatusRinging {
				t.Fatalf("durable status = %s, want RINGING", got.Status)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("reconciler never drained the backlog")
}

func TestBridgeStaleRetryCannotRegressTerminalStatus(t *testing.T) {
	rig := newBridgeRig(t)
	s, call, cs := rig.dial(t)
	ctx := context.Background()

	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)

	// The answer event fails durably twice: once on delivery, once when the
	// completion event retries the backlog. By then the call is COMPLETED.
	rig.store.FailNextWrite = errors.New("db hiccup")
	rig.prov.Emit(cs.SID, telephony.CallStatusInProgress)
	rig.store.FailNextWrite = errors.New("db hiccup")
	rig.prov.Emit(cs.SID, telephony.CallStatusCompleted)

	got, _ := rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusCompleted {
		t.Fatalf("durable status = %s, want COMPLETED before retry", got.Status)
	}

	// The parked answer event finally lands.
	rig.bridge.retryPending(ctx)

	got, _ = rig.store.GetCall(ctx, call.CallID)
	if got.Status != calls.StatusCompleted {
		t.Fatalf("durable status = %s after stale retry, want COMPLETED", got.Status)
	}
	if got.AnsweredAt == nil {
		t.Fatal("late answer event should still record AnsweredAt")
	}

	// The connect still counts, but the live feed never sees IN_PROGRESS
	// after COMPLETED.
	snap, _ := rig.mgr.Session(s.SessionID)
	if snap.Stats.Connected != 1 {
		t.Fatalf("Connected = %d, want 1", snap.Stats.Connected)
	}
	evs := rig.sink.snapshot()
	if len(evs) == 0 || evs[len(evs)-1].Status != calls.StatusCompleted {
		t.Fatalf("last published event = %+v, want COMPLETED", evs)
	}
}

func TestBridgePrunesAppliedStateAfterRetention(t *testing.T) {
	rig := newBridgeRig(t)
	_, _, cs := rig.dial(t)

	rig.prov.Emit(cs.SID, telephony.CallStatusRinging)
	rig.prov.Emit(cs.SID, telephony.CallStatusInProgress)
	rig.prov.Emit(cs.SID, telephony.CallStatusCompleted)

	rig.bridge.pruneApplied()
	rig.bridge.mu.Lock()
	kept := len(rig.bridge.applied)
	rig.bridge.mu.Unlock()
	if kept != 1 {
		t.Fatalf("applied entries = %d, want 1 inside the retention window", kept)
	}

	rig.bridge.clock = func() time.Time { return time.Now().Add(appliedRetention + time.Minute) }
	rig.bridge.pruneApplied()

	rig.bridge.mu.Lock()
	defer rig.bridge.mu.Unlock()
	if len(rig.bridge.applied) != 0 || len(rig.bridge.terminal) != 0 {
		t.Fatalf("dedup state not pruned: applied=%d terminal=%d",
			len(rig.bridge.applied), len(rig.bridge.terminal))
	}
}
