package reporting

import (
	"context"
	"sync"
	"time"

	"crm-dialer/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests and local
// runs.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []calls.Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Add(c calls.Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, c)
}

func (r *MemoryRepo) ListCallsByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]calls.Call, error) {
	return r.list(func(c calls.Call) bool { return c.CampaignID == campaignID }, from, to), nil
}

func (r *MemoryRepo) ListCallsByAgent(ctx context.Context, agentID string, from, to time.Time) ([]calls.Call, error) {
	return r.list(func(c calls.Call) bool { return c.AgentID == agentID }, from, to), nil
}

func (r *MemoryRepo) list(match func(calls.Call) bool, from, to time.Time) []calls.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if !match(c) {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out
}
