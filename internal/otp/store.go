// Package otp stores one-time verification codes keyed by room and
// email, with a fixed TTL and single-use semantics.
package otp

import (
	"strings"
	"sync"
	"time"
)

// Store is the interface for OTP code backends. Codes are single-use:
// callers Delete on successful verification. Expiry is checked lazily
// by Get.
type Store interface {
	Put(roomID, email, code string, ttl time.Duration)
	Get(roomID, email string) (string, bool)
	Delete(roomID, email string)
}

// Key normalizes the (room, email) pair. Email comparison is
// case-insensitive.
func Key(roomID, email string) string {
	return roomID + ":" + strings.ToLower(strings.TrimSpace(email))
}

type entry struct {
	code      string
	expiresAt time.Time
}

// MemStore keeps codes in memory. A background sweep keeps the map
// from accumulating expired entries; correctness relies only on the
// lazy check in Get.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]entry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemStore creates an in-memory OTP store and starts its sweeper.
// Call Stop when the store is discarded before process exit.
func NewMemStore() *MemStore {
	s := &MemStore{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Stop shuts down the background sweeper. Idempotent. The store
// itself keeps working: expiry is still enforced lazily by Get.
func (s *MemStore) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Put stores a code, replacing any pending code for the same pair.
func (s *MemStore) Put(roomID, email, code string, ttl time.Duration) {
	s.mu.Lock()
	s.entries[Key(roomID, email)] = entry{
		code:      code,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
}

// Get returns the pending code, or false if none exists or it expired.
func (s *MemStore) Get(roomID, email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := Key(roomID, email)
	e, ok := s.entries[k]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(s.entries, k)
		return "", false
	}
	return e.code, true
}

// Delete removes a pending code.
func (s *MemStore) Delete(roomID, email string) {
	s.mu.Lock()
	delete(s.entries, Key(roomID, email))
	s.mu.Unlock()
}

// Count returns the number of stored (possibly expired) entries.
func (s *MemStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweepLoop periodically drops expired entries until Stop is called.
func (s *MemStore) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
