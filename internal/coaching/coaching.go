package coaching

import (
	"context"
	"errors"
	"time"
)

// This package is the boundary to the transcription/coaching collaborator.
// The engine only depends on the two contracts below: duration in,
// utterances out; utterances in, scored feedback out. The heuristics behind
// them live outside this service.

// Utterance is one speaker-tagged line of a call transcript.
type Utterance struct {
	Speaker  string        `json:"speaker"` // "agent" or "contact"
	Text     string        `json:"text"`
	OffsetMS time.Duration `json:"offset_ms"`
}

// Feedback is a scored summary of a finished call.
type Feedback struct {
	CallID string   `json:"call_id"`
	Score  int      `json:"score"` // 0-100
	Notes  []string `json:"notes,omitempty"`
	Tips   []string `json:"tips,omitempty"`
}

type Transcriber interface {
	// Transcribe produces speaker-tagged utterances for a finished call of
	// the given talk duration.
	Transcribe(ctx context.Context, callID string, durationSeconds int) ([]Utterance, error)
}

type Scorer interface {
	// Score turns a transcript into coaching feedback.
	Score(ctx context.Context, callID string, transcript []Utterance) (Feedback, error)
}

var ErrUnavailable = errors.New("coaching: collaborator not configured")

// Service orchestrates the two collaborator calls for the feedback endpoint.
type Service struct {
	transcriber Transcriber
	scorer      Scorer
}

func NewService(t Transcriber, s Scorer) *Service {
	return &Service{transcriber: t, scorer: s}
}

func (s *Service) FeedbackForCall(ctx context.Context, callID string, durationSeconds int) (Feedback, []Utterance, error) {
	if s.transcriber == nil || s.scorer == nil {
		return Feedback{}, nil, ErrUnavailable
	}
	transcript, err := s.transcriber.Transcribe(ctx, callID, durationSeconds)
	if err != nil {
		return Feedback{}, nil, err
	}
	fb, err := s.scorer.Score(ctx, callID, transcript)
	if err != nil {
		return Feedback{}, nil, err
	}
	return fb, transcript, nil
}

// Noop satisfies both contracts with empty results. Used when no collaborator
// is wired (local runs) and by tests.
type Noop struct{}

func (Noop) Transcribe(ctx context.Context, callID string, durationSeconds int) ([]Utterance, error) {
	return []Utterance{}, nil
}

func (Noop) Score(ctx context.Context, callID string, transcript []Utterance) (Feedback, error) {
	return Feedback{CallID: callID}, nil
}
