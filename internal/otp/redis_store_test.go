package otp

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client), mr
}

func TestRedisStorePutGet(t *testing.T) {
	s, _ := newTestRedisStore(t)

	s.Put("room1", "User@Example.com", "123456", time.Minute)

	code, ok := s.Get("room1", "user@example.com")
	if !ok || code != "123456" {
		t.Fatalf("expected code 123456, got %q ok=%v", code, ok)
	}

	if _, ok := s.Get("room2", "user@example.com"); ok {
		t.Error("expected miss for different room")
	}
}

func TestRedisStoreExpiry(t *testing.T) {
	s, mr := newTestRedisStore(t)

	s.Put("room1", "a@b.c", "123456", time.Minute)
	mr.FastForward(2 * time.Minute)

	if _, ok := s.Get("room1", "a@b.c"); ok {
		t.Fatal("expected code to expire")
	}
}

func TestRedisStoreDelete(t *testing.T) {
	s, _ := newTestRedisStore(t)

	s.Put("room1", "a@b.c", "123456", time.Minute)
	s.Delete("room1", "a@b.c")

	if _, ok := s.Get("room1", "a@b.c"); ok {
		t.Fatal("expected code to be deleted")
	}
}

func TestRedisStoreReplace(t *testing.T) {
	s, _ := newTestRedisStore(t)

	s.Put("room1", "a@b.c", "111111", time.Minute)
	s.Put("room1", "a@b.c", "222222", time.Minute)

	code, ok := s.Get("room1", "a@b.c")
	if !ok || code != "222222" {
		t.Fatalf("expected replacement code, got %q ok=%v", code, ok)
	}
}
