package dialer

import (
	"context"
	"sync"
	"time"
)

// SidIndex maps a provider sid to the durable call id. Bindings carry a TTL:
// a sid is only interesting while its call can still emit events or be
// queried, so entries age out instead of accumulating.
type SidIndex interface {
	Bind(ctx context.Context, sid, callID string) error
	// Lookup returns ErrCallNotFound for unknown or expired sids.
	Lookup(ctx context.Context, sid string) (string, error)
}

// MemorySidIndex is the single-process implementation. Expired entries are
// swept lazily on writes.
type MemorySidIndex struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]sidEntry
	clock   func() time.Time
}

type sidEntry struct {
	callID    string
	expiresAt time.Time
}

func NewMemorySidIndex(ttl time.Duration) *MemorySidIndex {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemorySidIndex{
		ttl:     ttl,
		entries: make(map[string]sidEntry),
		clock:   time.Now,
	}
}

func (i *MemorySidIndex) Bind(ctx context.Context, sid, callID string) error {
	if sid == "" || callID == "" {
		return ErrInvalidArgument
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	now := i.clock()
	if len(i.entries) > 0 && len(i.entries)%256 == 0 {
		for k, e := range i.entries {
			if now.After(e.expiresAt) {
				delete(i.entries, k)
			}
		}
	}
	i.entries[sid] = sidEntry{callID: callID, expiresAt: now.Add(i.ttl)}
	return nil
}

func (i *MemorySidIndex) Lookup(ctx context.Context, sid string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	e, ok := i.entries[sid]
	if !ok || i.clock().After(e.expiresAt) {
		return "", ErrCallNotFound
	}
	return e.callID, nil
}
