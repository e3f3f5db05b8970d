package dialer

import (
	"context"
	"fmt"
	"time"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/campaigns"
)

// DispositionRequest is the agent's closeout submission for a finished call.
type DispositionRequest struct {
	CallID      string            `json:"call_id"`
	Disposition calls.Disposition `json:"disposition"`
	Notes       string            `json:"notes,omitempty"`
	FollowUpAt  *time.Time        `json:"follow_up_at,omitempty"`
}

// SubmitDisposition resolves a finished call into lead and queue state.
//
// The store applies the multi-entity update atomically: the call record is
// marked COMPLETED with the disposition, the lead status follows the fixed
// disposition mapping (lastContactedAt always stamped, nextFollowUpAt only
// when supplied), and the campaign contact closes out. CALLBACK is the
// exception: it leaves the contact IN_PROGRESS so it re-enters the retry
// pool.
// Attempts are never touched here; they only move on dial.
//
// ENROLLED additionally bumps the owning session's enrolled counter. The
// owning session is resolved by the session id stamped on the call record at
// dial time, so agents running several sessions against one campaign stay
// unambiguous. If that session no longer exists in this process the counter
// update is skipped with a log line; the durable updates above still apply.
func (m *Manager) SubmitDisposition(ctx context.Context, agentID string, req DispositionRequest) (calls.Call, error) {
	if req.CallID == "" {
		return calls.Call{}, fmt.Errorf("%w: call_id is required", ErrInvalidArgument)
	}
	if !calls.ValidDisposition(req.Disposition) {
		return calls.Call{}, fmt.Errorf("%w: unknown disposition %q", ErrInvalidArgument, req.Disposition)
	}

	call, err := m.store.GetCall(ctx, req.CallID)
	if err != nil {
		return calls.Call{}, err
	}
	if agentID != "" && call.AgentID != agentID {
		return calls.Call{}, ErrNotOwner
	}

	now := m.clock().UTC()

	upd := CloseOutUpdate{
		CallID:          req.CallID,
		Disposition:     req.Disposition,
		Notes:           req.Notes,
		EndedAt:         now,
		LastContactedAt: now,
		FollowUpAt:      req.FollowUpAt,
		ContactStatus:   campaigns.ContactStatusCompleted,
	}
	if req.Disposition == calls.DispositionCallback {
		upd.ContactStatus = campaigns.ContactStatusInProgress
	}
	if st, ok := calls.LeadStatusFor(req.Disposition); ok {
		upd.LeadStatus = st
		upd.SetLeadStatus = true
	}

	out, err := m.store.CloseOut(ctx, upd)
	if err != nil {
		return calls.Call{}, err
	}

	if req.Disposition == calls.DispositionEnrolled {
		if !m.applyStats(call.SessionID, func(s *SessionStats) { s.Enrolled++ }) {
			m.log.Warn("enrolled counter skipped, owning session gone", "call_id", call.CallID, "session_id", call.SessionID)
		}
	}

	m.log.Info("call closed out",
		"call_id", call.CallID,
		"disposition", string(req.Disposition),
		"contact_status", string(upd.ContactStatus),
	)
	return out, nil
}
