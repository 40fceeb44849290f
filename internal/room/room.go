package room

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/christopherjohns/relay/internal/poll"
)

// Room is one broadcast domain: its admin, privacy settings, email
// allowlist, and poll state. Poll and allowlist fields are mutated
// only by the relay's dispatch loop.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	AdminID   string    `json:"-"`
	Private   bool      `json:"private"`
	JoinToken string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`

	CurrentPoll *poll.Poll      `json:"-"`
	History     []poll.Snapshot `json:"-"`

	domains map[string]struct{}
}

// Link returns the shareable path for the room. Private rooms embed
// the join token.
func (r *Room) Link() string {
	if r.Private {
		return "/room/" + r.ID + "/" + r.JoinToken
	}
	return "/room/" + r.ID
}

// AllowDomain adds a domain to the email allowlist. Input is
// normalized to a lowercased "@domain" form.
func (r *Room) AllowDomain(d string) {
	d = normalizeDomain(d)
	if d == "@" {
		return
	}
	if r.domains == nil {
		r.domains = make(map[string]struct{})
	}
	r.domains[d] = struct{}{}
}

// RemoveDomain deletes a domain from the allowlist.
func (r *Room) RemoveDomain(d string) {
	delete(r.domains, normalizeDomain(d))
}

// ClearDomains empties the allowlist, letting any email request a code.
func (r *Room) ClearDomains() {
	r.domains = nil
}

// Domains returns the allowlist sorted for stable display.
func (r *Room) Domains() []string {
	out := make([]string, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// EmailAllowed reports whether the email's domain passes the
// allowlist. An empty allowlist admits every email.
func (r *Room) EmailAllowed(email string) bool {
	if len(r.domains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := r.domains[strings.ToLower(email[at:])]
	return ok
}

// ArchiveCurrent snapshots the live poll into history and clears it.
// It is a no-op when no poll is active. History is append-only and
// chronological, newest last.
func (r *Room) ArchiveCurrent(totalEligible int) {
	if r.CurrentPoll == nil {
		return
	}
	r.History = append(r.History, r.CurrentPoll.Snapshot(totalEligible))
	r.CurrentPoll = nil
}

// SnapshotAt returns the history entry at the given newest-first
// index, matching the order history is presented in.
func (r *Room) SnapshotAt(newestFirst int) (poll.Snapshot, bool) {
	if newestFirst < 0 || newestFirst >= len(r.History) {
		return poll.Snapshot{}, false
	}
	return r.History[len(r.History)-1-newestFirst], true
}

// HistoryNewestFirst returns the poll history in presentation order.
func (r *Room) HistoryNewestFirst() []poll.Snapshot {
	out := make([]poll.Snapshot, len(r.History))
	for i, s := range r.History {
		out[len(r.History)-1-i] = s
	}
	return out
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if !strings.HasPrefix(d, "@") {
		d = "@" + d
	}
	return d
}

// generateID returns a random hex ID.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// generateToken returns a 6-character alphanumeric join token.
func generateToken() string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 6)
	rand.Read(b)
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// Manager is the room directory. Created rooms only: joining an
// unrecorded room ID is allowed and treated as an implicit public
// room, so lookups returning nil are not errors.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager creates a new room Manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// uniqueToken generates a join token that doesn't collide with
// existing rooms. Must be called while holding mu.
func (m *Manager) uniqueToken() string {
	for {
		token := generateToken()
		taken := false
		for _, r := range m.rooms {
			if r.JoinToken == token {
				taken = true
				break
			}
		}
		if !taken {
			return token
		}
	}
}

// Create adds a new room with the given admin and returns it.
func (m *Manager) Create(name, adminID string, private bool) *Room {
	r := &Room{
		ID:        generateID(),
		Name:      strings.TrimSpace(name),
		AdminID:   adminID,
		Private:   private,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	if private {
		r.JoinToken = m.uniqueToken()
	}
	m.rooms[r.ID] = r
	m.mu.Unlock()

	return r
}

// Get returns a room by ID, or nil if not recorded.
func (m *Manager) Get(id string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[id]
}

// List returns all public rooms, newest first.
func (m *Manager) List() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		if !r.Private {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// Delete removes a room by ID.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.rooms, id)
	m.mu.Unlock()
}
