package dialer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crm-dialer/internal/calls"
	"crm-dialer/internal/campaigns"
	"crm-dialer/internal/leads"
	"crm-dialer/pkg/utils"
)

// PostgresStore is the production Store.
//
// Assumed tables: leads, campaign_contacts, calls. The engine does not own
// schema migrations; see the system of record.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) NextContact(ctx context.Context, campaignID string, maxAttempts int) (campaigns.ContactProjection, bool, error) {
	// Eligibility and ordering mirror campaigns.SelectNext: PENDING rows plus
	// IN_PROGRESS rows with retry budget left, highest priority first, ties
	// broken by older created_at then contact id.
	const q = `
SELECT cc.contact_id, cc.lead_id, cc.attempts, cc.priority,
       l.business_name, l.contact_name, l.phone, l.industry, l.debt_estimate_minor, l.score
FROM campaign_contacts cc
JOIN leads l ON l.lead_id = cc.lead_id
WHERE cc.campaign_id = $1
  AND (cc.status = 'PENDING' OR (cc.status = 'IN_PROGRESS' AND cc.attempts < $2))
ORDER BY cc.priority DESC, cc.created_at ASC, cc.contact_id ASC
LIMIT 1
`
	var p campaigns.ContactProjection
	err := s.db.QueryRowContext(ctx, q, campaignID, maxAttempts).Scan(
		&p.ContactID,
		&p.LeadID,
		&p.Attempts,
		&p.Priority,
		&p.BusinessName,
		&p.ContactName,
		&p.Phone,
		&p.Industry,
		&p.DebtEstimateMinor,
		&p.LeadScore,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return campaigns.ContactProjection{}, false, nil
	}
	if err != nil {
		return campaigns.ContactProjection{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, contactID string) (campaigns.CampaignContact, error) {
	const q = `
SELECT contact_id, campaign_id, lead_id, status, attempts, last_attempt, priority, created_at, updated_at
FROM campaign_contacts
WHERE contact_id = $1
`
	var c campaigns.CampaignContact
	err := s.db.QueryRowContext(ctx, q, contactID).Scan(
		&c.ContactID,
		&c.CampaignID,
		&c.LeadID,
		&c.Status,
		&c.Attempts,
		&c.LastAttempt,
		&c.Priority,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return campaigns.CampaignContact{}, ErrContactNotFound
	}
	if err != nil {
		return campaigns.CampaignContact{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (leads.Lead, error) {
	const q = `
SELECT lead_id, business_name, contact_name, phone, industry, debt_estimate_minor, score,
       status, last_contacted_at, next_follow_up_at, created_at, updated_at
FROM leads
WHERE lead_id = $1
`
	var l leads.Lead
	err := s.db.QueryRowContext(ctx, q, leadID).Scan(
		&l.LeadID,
		&l.BusinessName,
		&l.ContactName,
		&l.Phone,
		&l.Industry,
		&l.DebtEstimateMinor,
		&l.Score,
		&l.Status,
		&l.LastContactedAt,
		&l.NextFollowUpAt,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return leads.Lead{}, ErrLeadNotFound
	}
	if err != nil {
		return leads.Lead{}, err
	}
	return l, nil
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (calls.Call, error) {
	return getCall(ctx, s.db, callID)
}

func getCall(ctx context.Context, q queryRower, callID string) (calls.Call, error) {
	const query = `
SELECT call_id, session_id, campaign_id, agent_id, lead_id, contact_id,
       direction, status, phone_number,
       started_at, answered_at, ended_at, duration,
       disposition, notes, recording_url, created_at, updated_at
FROM calls
WHERE call_id = $1
`
	var c calls.Call
	var disposition, notes, recording sql.NullString
	err := q.QueryRowContext(ctx, query, callID).Scan(
		&c.CallID,
		&c.SessionID,
		&c.CampaignID,
		&c.AgentID,
		&c.LeadID,
		&c.ContactID,
		&c.Direction,
		&c.Status,
		&c.PhoneNumber,
		&c.StartedAt,
		&c.AnsweredAt,
		&c.EndedAt,
		&c.DurationSeconds,
		&disposition,
		&notes,
		&recording,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return calls.Call{}, ErrCallNotFound
	}
	if err != nil {
		return calls.Call{}, err
	}
	c.Disposition = calls.Disposition(disposition.String)
	c.Notes = notes.String
	c.RecordingURL = recording.String
	return c, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) RecordDialAttempt(ctx context.Context, call calls.Call) error {
	return utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const lockContact = `
SELECT contact_id
FROM campaign_contacts
WHERE contact_id = $1
FOR UPDATE
`
		var contactID string
		if err := tx.QueryRowContext(ctx, lockContact, call.ContactID).Scan(&contactID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrContactNotFound
			}
			return err
		}

		const insertCall = `
INSERT INTO calls (call_id, session_id, campaign_id, agent_id, lead_id, contact_id,
                   direction, status, phone_number, started_at, duration, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $11)
`
		if _, err := tx.ExecContext(ctx, insertCall,
			call.CallID,
			call.SessionID,
			call.CampaignID,
			call.AgentID,
			call.LeadID,
			call.ContactID,
			call.Direction,
			call.Status,
			call.PhoneNumber,
			call.StartedAt,
			call.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert call: %w", err)
		}

		const markDialing = `
UPDATE campaign_contacts
SET status = 'IN_PROGRESS', attempts = attempts + 1, last_attempt = $2, updated_at = $2
WHERE contact_id = $1
`
		if _, err := tx.ExecContext(ctx, markDialing, call.ContactID, call.CreatedAt); err != nil {
			return fmt.Errorf("mark contact dialing: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) ApplyCallStatus(ctx context.Context, upd CallStatusUpdate) error {
	// answered_at and ended_at are written first-wins so duplicate or late
	// events can never shift recorded timestamps, and status is monotone
	// along the lifecycle ($8 is the incoming status rank, mirroring
	// calls.Status.Rank) so a retried stale event can never pull a finished
	// call back to an earlier state.
	const q = `
UPDATE calls
SET status = CASE WHEN $8 >= CASE status
                    WHEN 'INITIATED' THEN 0
                    WHEN 'RINGING' THEN 1
                    WHEN 'IN_PROGRESS' THEN 2
                    WHEN 'NO_ANSWER' THEN 3
                    WHEN 'BUSY' THEN 3
                    WHEN 'VOICEMAIL' THEN 3
                    ELSE 4 END
             THEN $2 ELSE status END,
    answered_at = COALESCE(answered_at, $3),
    ended_at = COALESCE(ended_at, $4),
    duration = COALESCE($5, duration),
    recording_url = COALESCE(NULLIF($6, ''), recording_url),
    updated_at = $7
WHERE call_id = $1
`
	res, err := s.db.ExecContext(ctx, q,
		upd.CallID,
		upd.Status,
		upd.AnsweredAt,
		upd.EndedAt,
		upd.DurationSeconds,
		upd.RecordingURL,
		upd.At,
		upd.Status.Rank(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrCallNotFound
	}
	return nil
}

func (s *PostgresStore) CloseOut(ctx context.Context, upd CloseOutUpdate) (calls.Call, error) {
	var out calls.Call
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		c, err := getCallForUpdate(ctx, tx, upd.CallID)
		if err != nil {
			return err
		}

		const finalizeCall = `
UPDATE calls
SET status = $2,
    disposition = $3,
    notes = COALESCE(NULLIF($4, ''), notes),
    ended_at = COALESCE(ended_at, $5),
    updated_at = $6
WHERE call_id = $1
`
		if _, err := tx.ExecContext(ctx, finalizeCall,
			c.CallID,
			calls.StatusCompleted,
			upd.Disposition,
			upd.Notes,
			upd.EndedAt,
			upd.LastContactedAt,
		); err != nil {
			return fmt.Errorf("finalize call: %w", err)
		}

		const updateLead = `
UPDATE leads
SET status = CASE WHEN $2 THEN $3 ELSE status END,
    last_contacted_at = $4,
    next_follow_up_at = COALESCE($5, next_follow_up_at),
    updated_at = $4
WHERE lead_id = $1
`
		res, err := tx.ExecContext(ctx, updateLead,
			c.LeadID,
			upd.SetLeadStatus,
			string(upd.LeadStatus),
			upd.LastContactedAt,
			upd.FollowUpAt,
		)
		if err != nil {
			return fmt.Errorf("update lead: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrLeadNotFound
		}

		const updateContact = `
UPDATE campaign_contacts
SET status = $2, updated_at = $3
WHERE contact_id = $1
`
		res, err = tx.ExecContext(ctx, updateContact, c.ContactID, upd.ContactStatus, upd.LastContactedAt)
		if err != nil {
			return fmt.Errorf("update contact: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrContactNotFound
		}

		out, err = getCall(ctx, tx, c.CallID)
		return err
	})
	if err != nil {
		return calls.Call{}, err
	}
	return out, nil
}

func getCallForUpdate(ctx context.Context, tx *sql.Tx, callID string) (calls.Call, error) {
	// Lock the call row to serialize concurrent closeouts per call.
	const q = `
SELECT call_id, lead_id, contact_id
FROM calls
WHERE call_id = $1
FOR UPDATE
`
	var c calls.Call
	if err := tx.QueryRowContext(ctx, q, callID).Scan(&c.CallID, &c.LeadID, &c.ContactID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Call{}, ErrCallNotFound
		}
		return calls.Call{}, err
	}
	return c, nil
}
