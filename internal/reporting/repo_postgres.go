package reporting

import (
	"context"
	"database/sql"
	"time"

	"crm-dialer/internal/calls"
)

// PostgresRepo reads call records straight from the calls table. Reports run
// over plain reads; no locking, no writes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListCallsByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]calls.Call, error) {
	const q = `
SELECT call_id, session_id, campaign_id, agent_id, lead_id, contact_id,
       direction, status, phone_number,
       started_at, answered_at, ended_at, duration,
       disposition, notes, recording_url, created_at, updated_at
FROM calls
WHERE campaign_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	return r.listCalls(ctx, q, campaignID, from, to)
}

func (r *PostgresRepo) ListCallsByAgent(ctx context.Context, agentID string, from, to time.Time) ([]calls.Call, error) {
	const q = `
SELECT call_id, session_id, campaign_id, agent_id, lead_id, contact_id,
       direction, status, phone_number,
       started_at, answered_at, ended_at, duration,
       disposition, notes, recording_url, created_at, updated_at
FROM calls
WHERE agent_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	return r.listCalls(ctx, q, agentID, from, to)
}

func (r *PostgresRepo) listCalls(ctx context.Context, query, key string, from, to time.Time) ([]calls.Call, error) {
	rows, err := r.db.QueryContext(ctx, query, key, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.Call, 0)
	for rows.Next() {
		var c calls.Call
		var disposition, notes, recording sql.NullString
		if err := rows.Scan(
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
		); err != nil {
			return nil, err
		}
		c.Disposition = calls.Disposition(disposition.String)
		c.Notes = notes.String
		c.RecordingURL = recording.String
		out = append(out, c)
	}
	return out, rows.Err()
}
