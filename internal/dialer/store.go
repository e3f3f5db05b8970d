package dialer

import (
	"context"
	"errors"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/campaigns"
	"crm-dialer/internal/leads"
)

var (
	ErrSessionNotFound  = errors.New("dialer: session not found")
	ErrSessionNotActive = errors.New("dialer: session not active")
	ErrCallNotFound     = errors.New("dialer: call not found")
	ErrContactNotFound  = errors.New("dialer: contact not found")
	ErrLeadNotFound     = errors.New("dialer: lead not found")
	ErrNotOwner         = errors.New("dialer: call belongs to another agent")
	ErrAgentAtCapacity  = errors.New("dialer: agent concurrent call cap reached")
	ErrInvalidArgument  = errors.New("dialer: invalid argument")
)

// Store is the durable persistence boundary of the engine: call records,
// leads and campaign-contact queue rows. Two implementations exist, Postgres
// for deployments and an in-memory store for tests and local development.
type Store interface {
	// NextContact returns the next dialable contact for the campaign as a
	// read projection, or ok=false when the campaign queue is exhausted.
	// Ordering: highest priority first, ties broken by older created_at then
	// contact id. Selection never mutates the queue row.
	NextContact(ctx context.Context, campaignID string, maxAttempts int) (campaigns.ContactProjection, bool, error)

	GetContact(ctx context.Context, contactID string) (campaigns.CampaignContact, error)
	GetLead(ctx context.Context, leadID string) (leads.Lead, error)
	GetCall(ctx context.Context, callID string) (calls.Call, error)

	// RecordDialAttempt atomically creates the durable call record and marks
	// the contact as dialing (status IN_PROGRESS, attempts+1, last_attempt).
	RecordDialAttempt(ctx context.Context, call calls.Call) error

	// ApplyCallStatus is the status bridge's write path.
	ApplyCallStatus(ctx context.Context, upd CallStatusUpdate) error

	// CloseOut applies a disposition atomically across the call record, the
	// lead and the campaign contact. Partial application is a bug, never an
	// acceptable degraded mode.
	CloseOut(ctx context.Context, upd CloseOutUpdate) (calls.Call, error)
}

// CallStatusUpdate carries one ephemeral status event translated to the
// durable vocabulary.
type CallStatusUpdate struct {
	CallID string
	Status calls.Status

	AnsweredAt *time.Time
	EndedAt    *time.Time

	// DurationSeconds is only set on terminal updates, with the provider's
	// frozen final duration.
	DurationSeconds *int

	RecordingURL string

	At time.Time
}

// CloseOutUpdate is the multi-entity disposition write.
type CloseOutUpdate struct {
	CallID      string
	Disposition calls.Disposition
	Notes       string

	// EndedAt is applied only when the call record has no ended_at yet.
	EndedAt time.Time

	// LeadStatus is applied only when SetLeadStatus is true; some
	// dispositions leave the lead's pipeline stage untouched.
	LeadStatus    leads.LeadStatus
	SetLeadStatus bool

	LastContactedAt time.Time
	FollowUpAt      *time.Time

	ContactStatus campaigns.ContactStatus
}
