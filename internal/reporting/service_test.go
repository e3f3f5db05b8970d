package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-dialer/internal/calls"
)

func seededRepo(base time.Time) *MemoryRepo {
	repo := NewMemoryRepo()
	answered := base.Add(10 * time.Second)

	// Two answered calls, one of them enrolled, one no-answer, one failed.
	repo.Add(calls.Call{
		CallID: "c1", CampaignID: "camp-1", AgentID: "agent-1",
		Status: calls.StatusCompleted, AnsweredAt: &answered,
		DurationSeconds: 120, Disposition: calls.DispositionEnrolled,
		RecordingURL: "https://recordings.local/c1.wav",
		CreatedAt:    base,
	})
	repo.Add(calls.Call{
		CallID: "c2", CampaignID: "camp-1", AgentID: "agent-1",
		Status: calls.StatusCompleted, AnsweredAt: &answered,
		DurationSeconds: 60, Disposition: calls.DispositionNotInterested,
		RecordingURL: "https://recordings.local/c2.wav",
		CreatedAt:    base.Add(time.Minute),
	})
	repo.Add(calls.Call{
		CallID: "c3", CampaignID: "camp-1", AgentID: "agent-2",
		Status:    calls.StatusNoAnswer,
		CreatedAt: base.Add(2 * time.Minute),
	})
	repo.Add(calls.Call{
		CallID: "c4", CampaignID: "camp-1", AgentID: "agent-2",
		Status:    calls.StatusFailed,
		CreatedAt: base.Add(3 * time.Minute),
	})
	// Another campaign, outside this report's scope.
	repo.Add(calls.Call{
		CallID: "c5", CampaignID: "camp-2", AgentID: "agent-1",
		Status:    calls.StatusCompleted,
		CreatedAt: base,
	})
	// Same campaign but outside the requested range.
	repo.Add(calls.Call{
		CallID: "c6", CampaignID: "camp-1", AgentID: "agent-1",
		Status:    calls.StatusCompleted,
		CreatedAt: base.Add(-time.Hour),
	})
	return repo
}

func TestCampaignSummary(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(seededRepo(base))

	got, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{
		CampaignID: "camp-1",
		Range:      TimeRange{From: base, To: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("CampaignSummary() error = %v", err)
	}

	if got.TotalCalls != 4 {
		t.Fatalf("TotalCalls = %d, want 4", got.TotalCalls)
	}
	if got.Connected != 2 || got.Enrolled != 1 || got.NoAnswer != 1 || got.Failed != 1 {
		t.Fatalf("summary = %+v", got)
	}
	if got.RecordedCalls != 2 {
		t.Fatalf("RecordedCalls = %d, want 2", got.RecordedCalls)
	}
	if got.TotalTalkTimeSeconds != 180 || got.AverageTalkTimeSeconds != 45 {
		t.Fatalf("talk time = %d avg %d", got.TotalTalkTimeSeconds, got.AverageTalkTimeSeconds)
	}
	if got.ConnectRate != 0.5 || got.EnrollmentRate != 0.25 {
		t.Fatalf("rates = %v / %v", got.ConnectRate, got.EnrollmentRate)
	}
}

func TestAgentSummary(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(seededRepo(base))

	got, err := svc.AgentSummary(context.Background(), AgentSummaryRequest{
		AgentID: "agent-1",
		Range:   TimeRange{From: base, To: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("AgentSummary() error = %v", err)
	}

	// agent-1 in range: c1, c2 on camp-1 plus c5 on camp-2.
	if got.TotalCalls != 3 || got.Connected != 2 || got.Enrolled != 1 {
		t.Fatalf("summary = %+v", got)
	}
	if got.TotalTalkTimeSeconds != 180 || got.AverageTalkTimeSeconds != 60 {
		t.Fatalf("talk time = %d avg %d", got.TotalTalkTimeSeconds, got.AverageTalkTimeSeconds)
	}
}

func TestSummaryValidation(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(NewMemoryRepo())

	if _, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{
		Range: TimeRange{From: base, To: base.Add(time.Hour)},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("missing campaign error = %v, want ErrInvalidRequest", err)
	}

	if _, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{
		CampaignID: "camp-1",
		Range:      TimeRange{From: base.Add(time.Hour), To: base},
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("inverted range error = %v, want ErrInvalidRequest", err)
	}

	if _, err := svc.AgentSummary(context.Background(), AgentSummaryRequest{
		AgentID: "agent-1",
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("zero range error = %v, want ErrInvalidRequest", err)
	}

	// Empty result set is a zeroed summary, not an error.
	got, err := svc.CampaignSummary(context.Background(), CampaignSummaryRequest{
		CampaignID: "camp-1",
		Range:      TimeRange{From: base, To: base.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("CampaignSummary() error = %v", err)
	}
	if got.TotalCalls != 0 || got.ConnectRate != 0 {
		t.Fatalf("empty summary = %+v", got)
	}
}
