package calls

import (
	"time"

	"crm-dialer/internal/leads"
)

// Call is the durable record of one call attempt. It is created at dial time,
// updated by the status bridge on every telephony event, and finalized by
// disposition closeout. It outlives the provider's ephemeral call session.
//
// SessionID is stamped at dial time so a finished call can always be resolved
// back to the dialer session that placed it, even if an agent runs several
// sessions against the same campaign.
type Call struct {
	CallID     string `json:"call_id" db:"call_id"`
	SessionID  string `json:"session_id" db:"session_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	AgentID    string `json:"agent_id" db:"agent_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	ContactID  string `json:"contact_id" db:"contact_id"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is talk time, zero for unanswered calls.
	DurationSeconds int `json:"duration" db:"duration"`

	Disposition  Disposition `json:"disposition,omitempty" db:"disposition"`
	Notes        string      `json:"notes,omitempty" db:"notes"`
	RecordingURL string      `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// Status is the durable call-status vocabulary.
type Status string

const (
	StatusInitiated  Status = "INITIATED"
	StatusRinging    Status = "RINGING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusNoAnswer   Status = "NO_ANSWER"
	StatusBusy       Status = "BUSY"
	StatusVoicemail  Status = "VOICEMAIL"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Rank orders the status vocabulary along the call lifecycle. Writers use it
// to keep durable status monotone: a later state never yields to an earlier
// one when events land out of order.
func (s Status) Rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusRinging:
		return 1
	case StatusInProgress:
		return 2
	case StatusNoAnswer, StatusBusy, StatusVoicemail:
		return 3
	default:
		return 4
	}
}

// Disposition is the agent's classification of a finished call.
type Disposition string

const (
	DispositionInterested    Disposition = "INTERESTED"
	DispositionNotInterested Disposition = "NOT_INTERESTED"
	DispositionCallback      Disposition = "CALLBACK"
	DispositionNotQualified  Disposition = "NOT_QUALIFIED"
	DispositionWrongNumber   Disposition = "WRONG_NUMBER"
	DispositionVoicemail     Disposition = "VOICEMAIL"
	DispositionNoAnswer      Disposition = "NO_ANSWER"
	DispositionDNC           Disposition = "DNC"
	DispositionEnrolled      Disposition = "ENROLLED"
)

// ValidDisposition reports whether d is one of the fixed disposition labels.
func ValidDisposition(d Disposition) bool {
	switch d {
	case DispositionInterested, DispositionNotInterested, DispositionCallback,
		DispositionNotQualified, DispositionWrongNumber, DispositionVoicemail,
		DispositionNoAnswer, DispositionDNC, DispositionEnrolled:
		return true
	default:
		return false
	}
}

// LeadStatusFor maps a disposition to the lead status it implies. The second
// return is false for labels that leave the lead status unchanged
// (WRONG_NUMBER, VOICEMAIL, NO_ANSWER).
func LeadStatusFor(d Disposition) (leads.LeadStatus, bool) {
	switch d {
	case DispositionEnrolled:
		return leads.LeadStatusEnrolled, true
	case DispositionDNC:
		return leads.LeadStatusDNC, true
	case DispositionCallback:
		return leads.LeadStatusCallback, true
	case DispositionNotInterested:
		return leads.LeadStatusLost, true
	case DispositionNotQualified:
		return leads.LeadStatusUnqualified, true
	case DispositionInterested:
		return leads.LeadStatusQualified, true
	default:
		return "", false
	}
}
