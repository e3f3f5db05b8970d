package reporting

import (
	"context"
	"errors"
	"time"

	"crm-dialer/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts read access to durable call records for reporting.
// Implementations query call records only; reports never touch live session
// state.
type Repository interface {
	ListCallsByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]calls.Call, error)
	ListCallsByAgent(ctx context.Context, agentID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CampaignSummary(ctx context.Context, req CampaignSummaryRequest) (CampaignSummary, error) {
	if req.CampaignID == "" {
		return CampaignSummary{}, ErrInvalidRequest
	}
	if err := validateRange(req.Range); err != nil {
		return CampaignSummary{}, err
	}
	if s.repo == nil {
		return CampaignSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCallsByCampaign(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignSummary{}, err
	}

	out := CampaignSummary{CampaignID: req.CampaignID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalTalkTimeSeconds += c.DurationSeconds
		if c.AnsweredAt != nil {
			out.Connected++
		}
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.Disposition == calls.DispositionEnrolled {
			out.Enrolled++
		}
		switch c.Status {
		case calls.StatusNoAnswer:
			out.NoAnswer++
		case calls.StatusBusy:
			out.Busy++
		case calls.StatusVoicemail:
			out.Voicemail++
		case calls.StatusFailed:
			out.Failed++
		case calls.StatusInitiated, calls.StatusRinging, calls.StatusInProgress:
			out.InFlight++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageTalkTimeSeconds = out.TotalTalkTimeSeconds / out.TotalCalls
		out.ConnectRate = float64(out.Connected) / float64(out.TotalCalls)
		out.EnrollmentRate = float64(out.Enrolled) / float64(out.TotalCalls)
	}
	return out, nil
}

func (s *Service) AgentSummary(ctx context.Context, req AgentSummaryRequest) (AgentSummary, error) {
	if req.AgentID == "" {
		return AgentSummary{}, ErrInvalidRequest
	}
	if err := validateRange(req.Range); err != nil {
		return AgentSummary{}, err
	}
	if s.repo == nil {
		return AgentSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCallsByAgent(ctx, req.AgentID, req.Range.From, req.Range.To)
	if err != nil {
		return AgentSummary{}, err
	}

	out := AgentSummary{AgentID: req.AgentID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalTalkTimeSeconds += c.DurationSeconds
		if c.AnsweredAt != nil {
			out.Connected++
		}
		if c.Disposition == calls.DispositionEnrolled {
			out.Enrolled++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageTalkTimeSeconds = out.TotalTalkTimeSeconds / out.TotalCalls
		out.ConnectRate = float64(out.Connected) / float64(out.TotalCalls)
		out.EnrollmentRate = float64(out.Enrolled) / float64(out.TotalCalls)
	}
	return out, nil
}

func validateRange(r TimeRange) error {
	if r.From.IsZero() || r.To.IsZero() || !r.To.After(r.From) {
		return ErrInvalidRequest
	}
	return nil
}
