package leads

import "time"

// Lead represents one business contact in the sales pipeline.
//
// The dialer engine only ever mutates Status, LastContactedAt and
// NextFollowUpAt (via disposition closeout). Everything else is owned by the
// CRM's CRUD surface.
type Lead struct {
	LeadID       string `json:"lead_id" db:"lead_id"`
	BusinessName string `json:"business_name" db:"business_name"`
	ContactName  string `json:"contact_name" db:"contact_name"`
	Phone        string `json:"phone" db:"phone"`
	Industry     string `json:"industry,omitempty" db:"industry"`

	// DebtEstimateMinor is the estimated debt amount in minor units.
	DebtEstimateMinor int64 `json:"debt_estimate_minor" db:"debt_estimate_minor"`

	// Score is the lead score assigned upstream (higher = warmer).
	Score int `json:"score" db:"score"`

	Status LeadStatus `json:"status" db:"status"`

	LastContactedAt *time.Time `json:"last_contacted_at,omitempty" db:"last_contacted_at"`
	NextFollowUpAt  *time.Time `json:"next_follow_up_at,omitempty" db:"next_follow_up_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type LeadStatus string

const (
	LeadStatusNew         LeadStatus = "NEW"
	LeadStatusContacted   LeadStatus = "CONTACTED"
	LeadStatusQualified   LeadStatus = "QUALIFIED"
	LeadStatusUnqualified LeadStatus = "UNQUALIFIED"
	LeadStatusCallback    LeadStatus = "CALLBACK"
	LeadStatusEnrolled    LeadStatus = "ENROLLED"
	LeadStatusLost        LeadStatus = "LOST"
	LeadStatusDNC         LeadStatus = "DNC"
)
