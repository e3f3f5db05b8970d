package campaigns

import "time"

// CampaignContact is one durable queue entry linking a campaign to a lead.
//
// Lifecycle:
// - PENDING until first dial attempt.
// - IN_PROGRESS while attempts remain; re-enters the dial pool until the
//   retry budget is exhausted or a disposition closes it out.
// - COMPLETED / SKIPPED / MAX_ATTEMPTS are terminal.
type CampaignContact struct {
	ContactID  string `json:"contact_id" db:"contact_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`

	Status ContactStatus `json:"status" db:"status"`

	// Attempts counts dial attempts. Incremented only when a call is actually
	// placed, never by disposition closeout.
	Attempts    int        `json:"attempts" db:"attempts"`
	LastAttempt *time.Time `json:"last_attempt,omitempty" db:"last_attempt"`

	// Priority orders the queue; higher values are dialed sooner.
	Priority int `json:"priority" db:"priority"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ContactStatus string

const (
	ContactStatusPending     ContactStatus = "PENDING"
	ContactStatusInProgress  ContactStatus = "IN_PROGRESS"
	ContactStatusCompleted   ContactStatus = "COMPLETED"
	ContactStatusSkipped     ContactStatus = "SKIPPED"
	ContactStatusMaxAttempts ContactStatus = "MAX_ATTEMPTS"
)

// ContactProjection is the read-optimized view returned to dialer callers.
// It deliberately omits internal queue bookkeeping fields.
type ContactProjection struct {
	ContactID string `json:"contact_id"`
	LeadID    string `json:"lead_id"`

	BusinessName      string `json:"business_name"`
	ContactName       string `json:"contact_name"`
	Phone             string `json:"phone"`
	Industry          string `json:"industry,omitempty"`
	DebtEstimateMinor int64  `json:"debt_estimate_minor"`
	LeadScore         int    `json:"lead_score"`

	Attempts int `json:"attempts"`
	Priority int `json:"priority"`
}
