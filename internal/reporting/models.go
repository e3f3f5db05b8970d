package reporting

import "time"

// TimeRange bounds a report query. From is inclusive, To exclusive.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CampaignSummaryRequest requests aggregated call metrics for one campaign.
type CampaignSummaryRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

// CampaignSummary aggregates the durable call records of a campaign.
//
// Connected counts calls that were actually answered; the terminal durable
// status is COMPLETED for answered and unanswered calls alike, so connection
// is derived from answered_at, not from status.
type CampaignSummary struct {
	CampaignID string `json:"campaign_id"`

	TotalCalls    int `json:"total_calls"`
	Connected     int `json:"connected"`
	NoAnswer      int `json:"no_answer"`
	Busy          int `json:"busy"`
	Voicemail     int `json:"voicemail"`
	Failed        int `json:"failed"`
	InFlight      int `json:"in_flight"`
	Enrolled      int `json:"enrolled"`
	RecordedCalls int `json:"recorded_calls"`

	TotalTalkTimeSeconds   int `json:"total_talk_time_seconds"`
	AverageTalkTimeSeconds int `json:"average_talk_time_seconds"`

	ConnectRate    float64 `json:"connect_rate"`
	EnrollmentRate float64 `json:"enrollment_rate"`
}

// AgentSummaryRequest requests aggregated call metrics for one agent across
// all campaigns.
type AgentSummaryRequest struct {
	AgentID string    `json:"agent_id"`
	Range   TimeRange `json:"range"`
}

type AgentSummary struct {
	AgentID string `json:"agent_id"`

	TotalCalls int `json:"total_calls"`
	Connected  int `json:"connected"`
	Enrolled   int `json:"enrolled"`

	TotalTalkTimeSeconds   int `json:"total_talk_time_seconds"`
	AverageTalkTimeSeconds int `json:"average_talk_time_seconds"`

	ConnectRate    float64 `json:"connect_rate"`
	EnrollmentRate float64 `json:"enrollment_rate"`
}
