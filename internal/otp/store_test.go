package otp

import (
	"testing"
	"time"
)

func newStore(t *testing.T) *MemStore {
	t.Helper()
	s := NewMemStore()
	t.Cleanup(s.Stop)
	return s
}

func TestMemStorePutGet(t *testing.T) {
	s := newStore(t)

	s.Put("room1", "User@Example.com", "123456", time.Minute)

	// Lookup is case-insensitive on the email.
	code, ok := s.Get("room1", "user@example.com")
	if !ok || code != "123456" {
		t.Fatalf("expected code 123456, got %q ok=%v", code, ok)
	}

	if _, ok := s.Get("room2", "user@example.com"); ok {
		t.Error("expected miss for different room")
	}
	if _, ok := s.Get("room1", "other@example.com"); ok {
		t.Error("expected miss for different email")
	}
}

func TestMemStoreReplace(t *testing.T) {
	s := newStore(t)
	s.Put("room1", "a@b.c", "111111", time.Minute)
	s.Put("room1", "a@b.c", "222222", time.Minute)

	code, ok := s.Get("room1", "a@b.c")
	if !ok || code != "222222" {
		t.Fatalf("expected replacement code, got %q ok=%v", code, ok)
	}
}

func TestMemStoreExpiry(t *testing.T) {
	s := newStore(t)
	s.Put("room1", "a@b.c", "123456", 30*time.Millisecond)

	if _, ok := s.Get("room1", "a@b.c"); !ok {
		t.Fatal("expected code before expiry")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := s.Get("room1", "a@b.c"); ok {
		t.Fatal("expected code to expire")
	}
	if s.Count() != 0 {
		t.Errorf("expected lazy expiry to delete the entry, got %d", s.Count())
	}
}

func TestMemStoreDelete(t *testing.T) {
	s := newStore(t)
	s.Put("room1", "a@b.c", "123456", time.Minute)
	s.Delete("room1", "a@b.c")

	if _, ok := s.Get("room1", "a@b.c"); ok {
		t.Fatal("expected code to be deleted")
	}
}

func TestMemStoreSweep(t *testing.T) {
	s := newStore(t)
	s.Put("room1", "a@b.c", "111111", 10*time.Millisecond)
	s.Put("room1", "d@e.f", "222222", time.Minute)

	time.Sleep(20 * time.Millisecond)
	s.sweep()

	if s.Count() != 1 {
		t.Fatalf("expected sweep to drop the expired entry, got %d", s.Count())
	}
}

func TestMemStoreStop(t *testing.T) {
	s := NewMemStore()
	s.Put("room1", "a@b.c", "111111", time.Minute)

	s.Stop()
	// Idempotent.
	s.Stop()

	// The store keeps working after the sweeper is gone; expiry is
	// still enforced lazily.
	if code, ok := s.Get("room1", "a@b.c"); !ok || code != "111111" {
		t.Fatalf("expected code to survive Stop, got %q ok=%v", code, ok)
	}
	s.Put("room1", "x@y.z", "222222", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Get("room1", "x@y.z"); ok {
		t.Fatal("expected lazy expiry to keep working after Stop")
	}
}
