package telephony

import (
	"context"
	"errors"
	"time"
)

// CallProvider is the provider-agnostic telephony interface used by the
// dialer engine.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Implementations own the call state machine below and must deliver every
//   status transition to the registered callback exactly once, in order,
//   per call.
// - A real carrier adapter (Twilio, SignalWire, a SIP gateway) must satisfy
//   the same contract as the simulator; the engine never knows the difference.
type CallProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// MakeCall places an outbound call and returns immediately with the call
	// in CallStatusInitiated. The outcome arrives later via the status
	// callback and GetCallStatus polling.
	MakeCall(ctx context.Context, req MakeCallRequest) (CallSession, error)

	// GetCallStatus returns a snapshot of the call. Duration is recomputed on
	// every query while the call is in progress and frozen once it completes.
	GetCallStatus(ctx context.Context, sid string) (CallSession, error)

	// EndCall forces an immediate transition to completed from any
	// non-terminal state. Ending an already-terminal call is a no-op.
	EndCall(ctx context.Context, sid string) (CallSession, error)

	// Hold, Resume, Mute and Unmute toggle session-local flags. They are only
	// valid while the call is in progress and do not alter the state machine.
	Hold(ctx context.Context, sid string) error
	Resume(ctx context.Context, sid string) error
	Mute(ctx context.Context, sid string) error
	Unmute(ctx context.Context, sid string) error

	// SetStatusCallback registers the single status listener, replacing any
	// previous registration. Re-registering the same listener is therefore
	// idempotent and can never build a chain of duplicate callbacks.
	SetStatusCallback(cb StatusCallback)
}

// StatusCallback receives (sid, newStatus) for every transition. Errors or
// panics inside the callback must not take down the provider's timer loop;
// implementations catch and log them.
type StatusCallback func(sid string, status CallStatus)

type MakeCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// CallSession is the ephemeral, provider-local view of one call attempt.
type CallSession struct {
	SID    string     `json:"sid"`
	Status CallStatus `json:"status"`

	To   string `json:"to"`
	From string `json:"from"`

	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`

	// DurationSeconds is elapsed talk time since AnsweredAt, zero if the call
	// was never answered.
	DurationSeconds int `json:"duration_seconds"`

	OnHold bool `json:"on_hold"`
	Muted  bool `json:"muted"`

	// RecordingURL is set once the provider has a recording reference,
	// at the latest when the call completes.
	RecordingURL string `json:"recording_url,omitempty"`
}

// CallStatus is the ephemeral call-status vocabulary.
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in-progress"
	CallStatusNoAnswer   CallStatus = "no-answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusVoicemail  CallStatus = "voicemail"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal reports whether s admits no further transitions.
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// CanTransition reports whether the state machine allows from -> to.
//
// Graph: initiated -> ringing -> {in-progress | no-answer | busy | voicemail}
// -> completed, with completed reachable from any non-terminal state (endCall)
// and failed reachable from any non-terminal state on provider error.
func CanTransition(from, to CallStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == CallStatusCompleted || to == CallStatusFailed {
		return true
	}
	switch from {
	case CallStatusInitiated:
		return to == CallStatusRinging
	case CallStatusRinging:
		return to == CallStatusInProgress || to == CallStatusNoAnswer ||
			to == CallStatusBusy || to == CallStatusVoicemail
	default:
		return false
	}
}

var (
	ErrCallNotFound      = errors.New("telephony: call not found")
	ErrCallNotInProgress = errors.New("telephony: call not in progress")
	ErrInvalidRequest    = errors.New("telephony: invalid request")
)
