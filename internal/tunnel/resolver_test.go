package tunnel

import (
	"context"
	"testing"
	"time"
)

func TestResolver_CachesWithinTTL(t *testing.T) {
	calls := 0
	r := NewResolver(time.Minute)
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		calls++
		return []string{"10.0.0.1"}, nil
	}

	for i := 0; i < 3; i++ {
		addr, err := r.Resolve(context.Background(), "example.com:443")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if addr != "10.0.0.1:443" {
			t.Fatalf("addr=%q want 10.0.0.1:443", addr)
		}
	}
	if calls != 1 {
		t.Fatalf("lookup called %d times, want 1 (cached)", calls)
	}
}

func TestResolver_ReResolvesAfterExpiry(t *testing.T) {
	calls := 0
	r := NewResolver(time.Minute)
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		calls++
		return []string{"10.0.0.1"}, nil
	}

	if _, err := r.Resolve(context.Background(), "example.com:80"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Force expiry deterministically instead of sleeping past the jitter
	// window: push the cached entry's expiry far enough into the past that
	// no jitter draw can keep it alive.
	r.mu.Lock()
	entry := r.cache["example.com:80"]
	entry.expiresAt = time.Now().Add(-time.Hour)
	r.cache["example.com:80"] = entry
	r.mu.Unlock()

	if _, err := r.Resolve(context.Background(), "example.com:80"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if calls != 2 {
		t.Fatalf("lookup called %d times, want 2 (expired past jitter window)", calls)
	}
}

func TestResolver_PropagatesLookupError(t *testing.T) {
	r := NewResolver(time.Minute)
	r.lookup = func(ctx context.Context, host string) ([]string, error) {
		return nil, errTest
	}

	if _, err := r.Resolve(context.Background(), "example.com:80"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolver_RejectsMissingPort(t *testing.T) {
	r := NewResolver(time.Minute)
	if _, err := r.Resolve(context.Background(), "example.com"); err == nil {
		t.Fatalf("expected error for host without port")
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("lookup failed")
