package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-vikunja/vikunja-mcp/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if got, err := s.Get(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("expected nil,nil for missing key, got %v, %v", got, err)
	}

	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("expected v, got %q", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Fatalf("expected nil after delete, got %q", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, _ := s.Exists(ctx, "k"); !ok {
		t.Fatalf("expected key to exist before expiry")
	}

	time.Sleep(25 * time.Millisecond)

	if got, _ := s.Get(ctx, "k"); got != nil {
		t.Fatalf("expected expired key to read as nil, got %q", got)
	}
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Fatalf("expected expired key to not exist")
	}
	if d, _ := s.TTL(ctx, "k"); d != storage.TTLMissing {
		t.Fatalf("expected TTLMissing, got %v", d)
	}
}

func TestTTLSentinels(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if d, _ := s.TTL(ctx, "missing"); d != storage.TTLMissing {
		t.Fatalf("expected TTLMissing for absent key, got %v", d)
	}

	_ = s.Set(ctx, "forever", []byte("v"), 0)
	if d, _ := s.TTL(ctx, "forever"); d != storage.TTLNone {
		t.Fatalf("expected TTLNone for key without expiry, got %v", d)
	}

	_ = s.Set(ctx, "timed", []byte("v"), time.Minute)
	d, _ := s.TTL(ctx, "timed")
	if d <= 0 || d > time.Minute {
		t.Fatalf("expected remaining TTL in (0, 1m], got %v", d)
	}
}

func TestIncr(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "counter")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if n != want {
			t.Fatalf("expected %d, got %d", want, n)
		}
	}

	// Expire applies to counters; the next increment after expiry starts over.
	if err := s.Expire(ctx, "counter", 5*time.Millisecond); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	time.Sleep(15 * time.Millisecond)
	n, err := s.Incr(ctx, "counter")
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected counter to restart at 1 after expiry, got %d", n)
	}
}

func TestBoundedSize(t *testing.T) {
	ctx := context.Background()
	s, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for _, k := range []string{"a", "b", "c", "d", "e", "f"} {
		_ = s.Set(ctx, k, []byte(k), 0)
	}

	// The oldest entries must have been evicted to hold the bound.
	if got, _ := s.Get(ctx, "a"); got != nil {
		t.Fatalf("expected oldest key evicted, got %q", got)
	}
	if got, _ := s.Get(ctx, "f"); string(got) != "f" {
		t.Fatalf("expected newest key retained, got %q", got)
	}
}

func TestCloseTwice(t *testing.T) {
	s, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
