package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/telephony"
)

// EventSink receives call events for live consumers (the agent console
// websocket feed). Publish must never block.
type EventSink interface {
	Publish(ev CallEvent)
}

type CallEvent struct {
	SessionID string       `json:"session_id"`
	CallID    string       `json:"call_id"`
	SID       string       `json:"sid"`
	Status    calls.Status `json:"status"`
	At        time.Time    `json:"at"`
}

// Bridge is the only writer that reconciles ephemeral telephony events into
// durable call records and live session statistics.
//
// Guarantees:
// - The ephemeral->durable status mapping is total: every provider status has
//   exactly one durable counterpart.
// - Each (call, status) pair is applied to session counters at most once,
//   even if the provider delivers the same logical transition twice.
// - A durable-write failure never propagates into the provider's timer loop.
//   Failed events go to a bounded pending queue and are retried on later
//   events and by the reconciler loop; events that exhaust their retry budget
//   are dropped with an error log.
type Bridge struct {
	mgr      *Manager
	store    Store
	sids     SidIndex
	provider telephony.CallProvider
	caps     CallCapper
	sink     EventSink
	log      *slog.Logger

	mu       sync.Mutex
	applied  map[string]map[calls.Status]bool
	terminal map[string]time.Time
	pending  []bridgeEvent

	clock func() time.Time
}

type bridgeEvent struct {
	sid      string
	status   telephony.CallStatus
	attempts int
}

const (
	maxPendingEvents   = 1024
	maxPendingAttempts = 10

	// appliedRetention is how long a finished call's dedup state is kept
	// before the reconciler prunes it. It must outlast the provider's
	// terminal retention so straggler deliveries still dedup correctly.
	appliedRetention = 5 * time.Minute
)

func NewBridge(mgr *Manager, store Store, sids SidIndex, provider telephony.CallProvider, caps CallCapper, sink EventSink, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	b := &Bridge{
		mgr:      mgr,
		store:    store,
		sids:     sids,
		provider: provider,
		caps:     caps,
		sink:     sink,
		log:      log,
		applied:  make(map[string]map[calls.Status]bool),
		terminal: make(map[string]time.Time),
		clock:    time.Now,
	}
	mgr.SetBridge(b)
	return b
}

// OnProviderStatus is the provider status callback. It must never return an
// error or panic into the provider, so every failure ends in the pending
// queue or the log.
func (b *Bridge) OnProviderStatus(sid string, status telephony.CallStatus) {
	ctx := context.Background()
	b.retryPending(ctx)
	if err := b.process(ctx, sid, status); err != nil {
		b.log.Error("status event deferred", "sid", sid, "status", string(status), "err", err)
		b.enqueue(bridgeEvent{sid: sid, status: status})
	}
}

// RunReconciler retries the pending queue until ctx is done. Run it as a
// goroutine alongside the HTTP server.
func (b *Bridge) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.retryPending(ctx)
			b.pruneApplied()
		}
	}
}

// PendingEvents reports the reconciliation backlog size.
func (b *Bridge) PendingEvents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) process(ctx context.Context, sid string, status telephony.CallStatus) error {
	durable := DurableStatus(status)

	callID, err := b.sids.Lookup(ctx, sid)
	if err != nil {
		return fmt.Errorf("resolving sid: %w", err)
	}

	if !b.tryMark(callID, durable) {
		// Duplicate delivery of the same logical transition.
		return nil
	}
	ok := false
	defer func() {
		if !ok {
			b.unmark(callID, durable)
		}
	}()

	now := b.clock().UTC()
	upd := CallStatusUpdate{CallID: callID, Status: durable, At: now}

	var talkSeconds int
	switch durable {
	case calls.StatusInProgress:
		upd.AnsweredAt = &now
	case calls.StatusCompleted, calls.StatusFailed:
		upd.EndedAt = &now
		// Final duration and recording reference come from the provider; the
		// snapshot is frozen once the call is terminal.
		if cs, err := b.provider.GetCallStatus(ctx, sid); err == nil {
			talkSeconds = cs.DurationSeconds
			upd.DurationSeconds = &cs.DurationSeconds
			upd.RecordingURL = cs.RecordingURL
		} else {
			b.log.Warn("final call snapshot unavailable", "sid", sid, "err", err)
			zero := 0
			upd.DurationSeconds = &zero
		}
	}

	if err := b.store.ApplyCallStatus(ctx, upd); err != nil {
		return fmt.Errorf("durable status write: %w", err)
	}

	call, err := b.store.GetCall(ctx, callID)
	if err != nil {
		return fmt.Errorf("loading call for stats: %w", err)
	}
	// A retried event can land after a later one already did; the store keeps
	// durable status monotone, and a stale transition stays off the live feed
	// so per-call ordering holds there too. Its counters below still apply.
	stale := call.Status.Rank() > durable.Rank()

	switch durable {
	case calls.StatusInProgress:
		b.mgr.applyStats(call.SessionID, func(s *SessionStats) { s.Connected++ })
	case calls.StatusNoAnswer:
		b.mgr.applyStats(call.SessionID, func(s *SessionStats) { s.NoAnswer++ })
	case calls.StatusBusy:
		b.mgr.applyStats(call.SessionID, func(s *SessionStats) { s.Busy++ })
	case calls.StatusVoicemail:
		b.mgr.applyStats(call.SessionID, func(s *SessionStats) { s.Voicemail++ })
	case calls.StatusCompleted:
		b.mgr.applyStats(call.SessionID, func(s *SessionStats) { s.TotalTalkTimeSeconds += talkSeconds })
	}

	if durable.Terminal() {
		if b.caps != nil {
			if err := b.caps.Release(ctx, call.AgentID); err != nil {
				b.log.Warn("call cap release failed", "agent_id", call.AgentID, "err", err)
			}
		}
		b.mu.Lock()
		b.terminal[callID] = now
		b.mu.Unlock()
	}

	if b.sink != nil && !stale {
		b.sink.Publish(CallEvent{
			SessionID: call.SessionID,
			CallID:    callID,
			SID:       sid,
			Status:    durable,
			At:        now,
		})
	}

	ok = true
	return nil
}

func (b *Bridge) tryMark(callID string, status calls.Status) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	m, okm := b.applied[callID]
	if !okm {
		m = make(map[calls.Status]bool)
		b.applied[callID] = m
	}
	if m[status] {
		return false
	}
	m[status] = true
	return true
}

func (b *Bridge) unmark(callID string, status calls.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := b.applied[callID]; ok {
		delete(m, status)
	}
}

func (b *Bridge) enqueue(ev bridgeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= maxPendingEvents {
		b.log.Error("pending event queue full, dropping oldest", "sid", b.pending[0].sid, "status", string(b.pending[0].status))
		b.pending = b.pending[1:]
	}
	b.pending = append(b.pending, ev)
}

func (b *Bridge) retryPending(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, ev := range batch {
		if err := b.process(ctx, ev.sid, ev.status); err != nil {
			ev.attempts++
			if ev.attempts >= maxPendingAttempts {
				b.log.Error("status event dead-lettered", "sid", ev.sid, "status", string(ev.status), "attempts", ev.attempts, "err", err)
				continue
			}
			b.enqueue(ev)
		}
	}
}

// pruneApplied drops dedup state for calls that have been terminal longer
// than appliedRetention, so the applied map does not grow for the lifetime
// of the process.
func (b *Bridge) pruneApplied() {
	cutoff := b.clock().Add(-appliedRetention)
	b.mu.Lock()
	defer b.mu.Unlock()
	for callID, at := range b.terminal {
		if at.Before(cutoff) {
			delete(b.terminal, callID)
			delete(b.applied, callID)
		}
	}
}

// DurableStatus maps the ephemeral provider vocabulary onto the durable call
// record vocabulary. The mapping is total; anything a provider could invent
// beyond the known set is treated as a failure status.
func DurableStatus(s telephony.CallStatus) calls.Status {
	switch s {
	case telephony.CallStatusInitiated:
		return calls.StatusInitiated
	case telephony.CallStatusRinging:
		return calls.StatusRinging
	case telephony.CallStatusInProgress:
		return calls.StatusInProgress
	case telephony.CallStatusNoAnswer:
		return calls.StatusNoAnswer
	case telephony.CallStatusBusy:
		return calls.StatusBusy
	case telephony.CallStatusVoicemail:
		return calls.StatusVoicemail
	case telephony.CallStatusCompleted:
		return calls.StatusCompleted
	case telephony.CallStatusFailed:
		return calls.StatusFailed
	default:
		return calls.StatusFailed
	}
}
