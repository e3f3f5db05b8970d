package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// OutcomeMix is the discrete distribution drawn from when a ringing call
// resolves. It is policy, not a hidden constant: deployments tune it via
// config, tests pin it (e.g. Answered: 1) for deterministic outcomes.
type OutcomeMix struct {
	Answered  float64 `json:"answered"`
	NoAnswer  float64 `json:"no_answer"`
	Busy      float64 `json:"busy"`
	Voicemail float64 `json:"voicemail"`
}

func (m OutcomeMix) Validate() error {
	for _, p := range []float64{m.Answered, m.NoAnswer, m.Busy, m.Voicemail} {
		if p < 0 {
			return fmt.Errorf("%w: outcome probabilities must be >= 0", ErrInvalidRequest)
		}
	}
	sum := m.Answered + m.NoAnswer + m.Busy + m.Voicemail
	if math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("%w: outcome probabilities must sum to 1, got %v", ErrInvalidRequest, sum)
	}
	return nil
}

// DefaultOutcomeMix skews toward answered calls, the common case in a warm
// campaign queue.
func DefaultOutcomeMix() OutcomeMix {
	return OutcomeMix{Answered: 0.5, NoAnswer: 0.25, Busy: 0.10, Voicemail: 0.15}
}

type SimulatorConfig struct {
	// DialDelayMin/Max bound the initiated -> ringing delay.
	DialDelayMin time.Duration
	DialDelayMax time.Duration

	// RingDelayMin/Max bound the ringing -> outcome delay.
	RingDelayMin time.Duration
	RingDelayMax time.Duration

	// ResolveDelay is how long an unanswered outcome (no-answer, busy,
	// voicemail) lingers before the call self-resolves to completed.
	ResolveDelay time.Duration

	// TerminalRetention is how long a terminal call stays queryable before
	// it is purged from provider memory.
	TerminalRetention time.Duration

	Outcomes OutcomeMix
}

func (c SimulatorConfig) withDefaults() SimulatorConfig {
	out := c
	if out.DialDelayMin <= 0 {
		out.DialDelayMin = 1 * time.Second
	}
	if out.DialDelayMax < out.DialDelayMin {
		out.DialDelayMax = out.DialDelayMin + 1*time.Second
	}
	if out.RingDelayMin <= 0 {
		out.RingDelayMin = 2 * time.Second
	}
	if out.RingDelayMax < out.RingDelayMin {
		out.RingDelayMax = out.RingDelayMin + 2*time.Second
	}
	if out.ResolveDelay <= 0 {
		out.ResolveDelay = 1 * time.Second
	}
	if out.TerminalRetention <= 0 {
		out.TerminalRetention = 30 * time.Second
	}
	zero := OutcomeMix{}
	if out.Outcomes == zero {
		out.Outcomes = DefaultOutcomeMix()
	}
	return out
}

// Simulator drives the call state machine on timers with randomized delays
// and probabilistic outcomes. It is the reference CallProvider implementation
// and the only one shipped with the engine.
//
// Concurrency: session state lives behind mu. Status callbacks are delivered
// from an ordered event queue outside mu, so a callback may safely call back
// into the provider (the status bridge fetches the final duration on
// completed). A timer that fires after a call has reached a terminal state is
// a state-checked no-op, not a deletion race.
type Simulator struct {
	cfg SimulatorConfig
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*simCall
	cb       StatusCallback
	events   []statusEvent
	rng      *rand.Rand

	// wake nudges the single delivery goroutine; it drains the event queue
	// in transition order, so callbacks never run under mu and may call back
	// into the provider without deadlocking.
	wake chan struct{}
	done chan struct{}

	// clock is injectable for deterministic duration tests.
	clock func() time.Time
}

type simCall struct {
	CallSession
	timers []*time.Timer
}

type statusEvent struct {
	sid    string
	status CallStatus
}

func NewSimulator(cfg SimulatorConfig, log *slog.Logger) (*Simulator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Outcomes.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Simulator{
		cfg:      cfg,
		log:      log,
		sessions: make(map[string]*simCall),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		clock:    time.Now,
	}
	go p.deliverLoop()
	return p, nil
}

// Close stops callback delivery. Pending timers become no-ops; in-flight
// calls are not force-ended.
func (p *Simulator) Close() {
	close(p.done)
}

func (p *Simulator) Name() string { return "simulator" }

func (p *Simulator) HealthCheck(ctx context.Context) error { return nil }

func (p *Simulator) SetStatusCallback(cb StatusCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

func (p *Simulator) MakeCall(ctx context.Context, req MakeCallRequest) (CallSession, error) {
	if err := ctx.Err(); err != nil {
		return CallSession{}, err
	}
	if req.To == "" {
		return CallSession{}, fmt.Errorf("%w: to number is required", ErrInvalidRequest)
	}

	p.mu.Lock()
	sid := "SIM" + uuid.NewString()
	s := &simCall{CallSession: CallSession{
		SID:       sid,
		Status:    CallStatusInitiated,
		To:        req.To,
		From:      req.From,
		StartedAt: p.clock().UTC(),
	}}
	p.sessions[sid] = s
	dial := p.randDelayLocked(p.cfg.DialDelayMin, p.cfg.DialDelayMax)
	out := s.CallSession
	p.mu.Unlock()

	p.scheduleTimer(sid, dial, func() { p.ring(sid) })
	return out, nil
}

func (p *Simulator) GetCallStatus(ctx context.Context, sid string) (CallSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sid]
	if !ok {
		return CallSession{}, ErrCallNotFound
	}
	out := s.CallSession
	if s.Status == CallStatusInProgress && s.AnsweredAt != nil {
		out.DurationSeconds = int(p.clock().UTC().Sub(*s.AnsweredAt) / time.Second)
	}
	return out, nil
}

func (p *Simulator) EndCall(ctx context.Context, sid string) (CallSession, error) {
	p.mu.Lock()
	s, ok := p.sessions[sid]
	if !ok {
		p.mu.Unlock()
		return CallSession{}, ErrCallNotFound
	}
	if s.Status.Terminal() {
		// Ending a finished call is a no-op, not an error.
		out := s.CallSession
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	p.transition(sid, CallStatusCompleted)

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[sid]; ok {
		return s.CallSession, nil
	}
	return CallSession{}, ErrCallNotFound
}

func (p *Simulator) Hold(ctx context.Context, sid string) error {
	return p.setFlag(sid, func(s *simCall) { s.OnHold = true })
}

func (p *Simulator) Resume(ctx context.Context, sid string) error {
	return p.setFlag(sid, func(s *simCall) { s.OnHold = false })
}

func (p *Simulator) Mute(ctx context.Context, sid string) error {
	return p.setFlag(sid, func(s *simCall) { s.Muted = true })
}

func (p *Simulator) Unmute(ctx context.Context, sid string) error {
	return p.setFlag(sid, func(s *simCall) { s.Muted = false })
}

func (p *Simulator) setFlag(sid string, apply func(*simCall)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sid]
	if !ok {
		return ErrCallNotFound
	}
	if s.Status != CallStatusInProgress {
		return ErrCallNotInProgress
	}
	apply(s)
	return nil
}

// SetClock overrides the provider clock. Test hook.
func (p *Simulator) SetClock(clock func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = clock
}

// SetRand overrides the outcome RNG. Test hook.
func (p *Simulator) SetRand(rng *rand.Rand) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng = rng
}

func (p *Simulator) ring(sid string) {
	if !p.transition(sid, CallStatusRinging) {
		return
	}
	p.mu.Lock()
	delay := p.randDelayLocked(p.cfg.RingDelayMin, p.cfg.RingDelayMax)
	p.mu.Unlock()
	p.scheduleTimer(sid, delay, func() { p.resolveRing(sid) })
}

func (p *Simulator) resolveRing(sid string) {
	p.mu.Lock()
	outcome := p.drawOutcomeLocked()
	p.mu.Unlock()

	if !p.transition(sid, outcome) {
		return
	}
	if outcome == CallStatusInProgress {
		return
	}
	// Unanswered outcomes self-resolve to completed.
	p.scheduleTimer(sid, p.cfg.ResolveDelay, func() {
		p.transition(sid, CallStatusCompleted)
	})
}

func (p *Simulator) drawOutcomeLocked() CallStatus {
	r := p.rng.Float64()
	m := p.cfg.Outcomes
	switch {
	case r < m.Answered:
		return CallStatusInProgress
	case r < m.Answered+m.NoAnswer:
		return CallStatusNoAnswer
	case r < m.Answered+m.NoAnswer+m.Busy:
		return CallStatusBusy
	default:
		return CallStatusVoicemail
	}
}

// transition applies one state-machine step and queues the status event for
// delivery. Returns false when the step is not allowed (typically a stale
// timer firing after the call ended).
func (p *Simulator) transition(sid string, to CallStatus) bool {
	p.mu.Lock()
	s, ok := p.sessions[sid]
	if !ok || !CanTransition(s.Status, to) {
		p.mu.Unlock()
		return false
	}

	now := p.clock().UTC()
	s.Status = to
	switch to {
	case CallStatusInProgress:
		t := now
		s.AnsweredAt = &t
		s.RecordingURL = "https://recordings.simulator.local/" + sid + ".wav"
	case CallStatusCompleted, CallStatusFailed:
		if s.AnsweredAt != nil {
			s.DurationSeconds = int(now.Sub(*s.AnsweredAt) / time.Second)
		}
		for _, t := range s.timers {
			t.Stop()
		}
		s.timers = nil
	}
	p.events = append(p.events, statusEvent{sid: sid, status: to})
	p.mu.Unlock()

	if to.Terminal() {
		time.AfterFunc(p.cfg.TerminalRetention, func() { p.purge(sid) })
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return true
}

// deliverLoop delivers queued status events in order. Callback failures are
// logged and discarded; a telephony event is never rolled back.
func (p *Simulator) deliverLoop() {
	for {
		select {
		case <-p.done:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			if len(p.events) == 0 {
				p.mu.Unlock()
				break
			}
			ev := p.events[0]
			p.events = p.events[1:]
			cb := p.cb
			p.mu.Unlock()

			if cb == nil {
				continue
			}
			p.invoke(cb, ev)
		}
	}
}

func (p *Simulator) invoke(cb StatusCallback, ev statusEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("status callback panicked", "sid", ev.sid, "status", string(ev.status), "panic", r)
		}
	}()
	cb(ev.sid, ev.status)
}

func (p *Simulator) scheduleTimer(sid string, d time.Duration, fn func()) {
	t := time.AfterFunc(d, fn)
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[sid]
	if !ok || s.Status.Terminal() {
		// The call ended between scheduling and registration; the timer's fn
		// is itself a state-checked no-op, stopping it here is just cleanup.
		t.Stop()
		return
	}
	s.timers = append(s.timers, t)
}

func (p *Simulator) purge(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sid)
}

func (p *Simulator) randDelayLocked(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}
