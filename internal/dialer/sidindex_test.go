package dialer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySidIndex(t *testing.T) {
	idx := NewMemorySidIndex(time.Hour)
	ctx := context.Background()

	if err := idx.Bind(ctx, "SIM123", "call-1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	got, err := idx.Lookup(ctx, "SIM123")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "call-1" {
		t.Fatalf("Lookup() = %q, want call-1", got)
	}

	if _, err := idx.Lookup(ctx, "SIM999"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("Lookup(unknown) error = %v, want ErrCallNotFound", err)
	}

	if err := idx.Bind(ctx, "", "call-1"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Bind(empty sid) error = %v, want ErrInvalidArgument", err)
	}
	if err := idx.Bind(ctx, "SIM123", ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Bind(empty call id) error = %v, want ErrInvalidArgument", err)
	}
}

func TestMemorySidIndexExpiry(t *testing.T) {
	idx := NewMemorySidIndex(time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.clock = func() time.Time { return now }
	ctx := context.Background()

	if err := idx.Bind(ctx, "SIM123", "call-1"); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if _, err := idx.Lookup(ctx, "SIM123"); err != nil {
		t.Fatalf("Lookup() before expiry error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := idx.Lookup(ctx, "SIM123"); !errors.Is(err, ErrCallNotFound) {
		t.Fatalf("Lookup() after expiry error = %v, want ErrCallNotFound", err)
	}

	// Rebinding refreshes the TTL.
	if err := idx.Bind(ctx, "SIM123", "call-1"); err != nil {
		t.Fatalf("rebind error = %v", err)
	}
	if _, err := idx.Lookup(ctx, "SIM123"); err != nil {
		t.Fatalf("Lookup() after rebind error = %v", err)
	}
}
