package dialer

import (
	"context"
	"fmt"
	"sync"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/campaigns"
	"crm-dialer/internal/leads"
)

// MemoryStore is the in-memory Store for tests and local development. One
// mutex covers every entity, which also makes CloseOut trivially atomic:
// all lookups are validated first, then every mutation is applied under the
// same critical section.
type MemoryStore struct {
	mu       sync.Mutex
	leads    map[string]leads.Lead
	contacts map[string]campaigns.CampaignContact
	calls    map[string]calls.Call

	// FailNextWrite makes the next write operation fail. Lets tests exercise
	// the bridge's retry queue and closeout atomicity.
	FailNextWrite error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:    make(map[string]leads.Lead),
		contacts: make(map[string]campaigns.CampaignContact),
		calls:    make(map[string]calls.Call),
	}
}

func (s *MemoryStore) SeedLead(l leads.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.LeadID] = l
}

func (s *MemoryStore) SeedContact(c campaigns.CampaignContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ContactID] = c
}

func (s *MemoryStore) takeFailure() error {
	err := s.FailNextWrite
	s.FailNextWrite = nil
	return err
}

func (s *MemoryStore) NextContact(ctx context.Context, campaignID string, maxAttempts int) (campaigns.ContactProjection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]campaigns.CampaignContact, 0, len(s.contacts))
	for _, c := range s.contacts {
		if c.CampaignID == campaignID {
			candidates = append(candidates, c)
		}
	}
	next, ok := campaigns.SelectNext(candidates, maxAttempts)
	if !ok {
		return campaigns.ContactProjection{}, false, nil
	}

	p := campaigns.ContactProjection{
		ContactID: next.ContactID,
		LeadID:    next.LeadID,
		Attempts:  next.Attempts,
		Priority:  next.Priority,
	}
	if l, ok := s.leads[next.LeadID]; ok {
		p.BusinessName = l.BusinessName
		p.ContactName = l.ContactName
		p.Phone = l.Phone
		p.Industry = l.Industry
		p.DebtEstimateMinor = l.DebtEstimateMinor
		p.LeadScore = l.Score
	}
	return p, true, nil
}

func (s *MemoryStore) GetContact(ctx context.Context, contactID string) (campaigns.CampaignContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok {
		return campaigns.CampaignContact{}, ErrContactNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetLead(ctx context.Context, leadID string) (leads.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[leadID]
	if !ok {
		return leads.Lead{}, ErrLeadNotFound
	}
	return l, nil
}

func (s *MemoryStore) GetCall(ctx context.Context, callID string) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return calls.Call{}, ErrCallNotFound
	}
	return c, nil
}

func (s *MemoryStore) RecordDialAttempt(ctx context.Context, call calls.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	contact, ok := s.contacts[call.ContactID]
	if !ok {
		return ErrContactNotFound
	}
	if _, exists := s.calls[call.CallID]; exists {
		return fmt.Errorf("%w: duplicate call id %s", ErrInvalidArgument, call.CallID)
	}

	s.calls[call.CallID] = call

	at := call.CreatedAt
	contact.Attempts++
	contact.Status = campaigns.ContactStatusInProgress
	contact.LastAttempt = &at
	contact.UpdatedAt = at
	s.contacts[call.ContactID] = contact
	return nil
}

func (s *MemoryStore) ApplyCallStatus(ctx context.Context, upd CallStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return err
	}
	c, ok := s.calls[upd.CallID]
	if !ok {
		return ErrCallNotFound
	}

	// Status is monotone: a retried stale event can still land its
	// timestamps below, but never pulls the record back to an earlier state.
	if upd.Status.Rank() >= c.Status.Rank() {
		c.Status = upd.Status
	}
	if upd.AnsweredAt != nil && c.AnsweredAt == nil {
		c.AnsweredAt = upd.AnsweredAt
	}
	if upd.EndedAt != nil && c.EndedAt == nil {
		c.EndedAt = upd.EndedAt
	}
	if upd.DurationSeconds != nil {
		c.DurationSeconds = *upd.DurationSeconds
	}
	if upd.RecordingURL != "" {
		c.RecordingURL = upd.RecordingURL
	}
	c.UpdatedAt = upd.At
	s.calls[upd.CallID] = c
	return nil
}

func (s *MemoryStore) CloseOut(ctx context.Context, upd CloseOutUpdate) (calls.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return calls.Call{}, err
	}

	// Validate every entity before touching any of them.
	c, ok := s.calls[upd.CallID]
	if !ok {
		return calls.Call{}, ErrCallNotFound
	}
	l, ok := s.leads[c.LeadID]
	if !ok {
		return calls.Call{}, ErrLeadNotFound
	}
	contact, ok := s.contacts[c.ContactID]
	if !ok {
		return calls.Call{}, ErrContactNotFound
	}

	c.Status = calls.StatusCompleted
	c.Disposition = upd.Disposition
	if upd.Notes != "" {
		c.Notes = upd.Notes
	}
	if c.EndedAt == nil {
		at := upd.EndedAt
		c.EndedAt = &at
	}
	c.UpdatedAt = upd.LastContactedAt
	s.calls[c.CallID] = c

	if upd.SetLeadStatus {
		l.Status = upd.LeadStatus
	}
	at := upd.LastContactedAt
	l.LastContactedAt = &at
	if upd.FollowUpAt != nil {
		l.NextFollowUpAt = upd.FollowUpAt
	}
	l.UpdatedAt = at
	s.leads[c.LeadID] = l

	contact.Status = upd.ContactStatus
	contact.UpdatedAt = at
	s.contacts[c.ContactID] = contact

	return c, nil
}
