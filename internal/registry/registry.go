// Package registry tracks the identity and room membership of every
// live connection. It is owned exclusively by the relay's dispatch
// loop and therefore needs no locking of its own.
package registry

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/christopherjohns/relay/internal/ws"
)

// Participant is one joined connection: its identity, display name,
// room and color. A connection maps to at most one Participant.
type Participant struct {
	Client *ws.Client
	UserID string
	Name   string
	RoomID string
	Color  string

	num int
}

// Registry indexes participants by connection and by room.
type Registry struct {
	byClient map[*ws.Client]*Participant
	byRoom   map[string]map[*Participant]struct{}
	numbers  map[int]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byClient: make(map[*ws.Client]*Participant),
		byRoom:   make(map[string]map[*Participant]struct{}),
		numbers:  make(map[int]struct{}),
	}
}

// Add creates a Participant for a client that has none yet. The user
// ID is freshly generated and the display name takes the smallest
// number not used by any currently connected participant.
func (r *Registry) Add(c *ws.Client, roomID, color string) *Participant {
	n := r.nextNumber()
	p := &Participant{
		Client: c,
		UserID: uuid.NewString(),
		Name:   fmt.Sprintf("User-%d", n),
		RoomID: roomID,
		Color:  color,
		num:    n,
	}
	r.numbers[n] = struct{}{}
	r.byClient[c] = p
	r.indexRoom(p)
	return p
}

// Move re-homes a participant into a new room with a new color. The
// user ID and display name are stable for the connection's lifetime.
func (r *Registry) Move(p *Participant, roomID, color string) {
	r.unindexRoom(p)
	p.RoomID = roomID
	p.Color = color
	r.indexRoom(p)
}

// Remove deletes the participant for a client, recycling its display
// name number. It returns the removed participant, or nil if the
// client never joined.
func (r *Registry) Remove(c *ws.Client) *Participant {
	p, ok := r.byClient[c]
	if !ok {
		return nil
	}
	delete(r.byClient, c)
	delete(r.numbers, p.num)
	r.unindexRoom(p)
	return p
}

// ByClient returns the participant for a connection, or nil.
func (r *Registry) ByClient(c *ws.Client) *Participant {
	return r.byClient[c]
}

// RoomMembers returns the participants currently in a room. The slice
// is freshly built on every call; membership is never cached.
func (r *Registry) RoomMembers(roomID string) []*Participant {
	members := r.byRoom[roomID]
	result := make([]*Participant, 0, len(members))
	for p := range members {
		result = append(result, p)
	}
	return result
}

// Occupancy returns the number of participants in a room.
func (r *Registry) Occupancy(roomID string) int {
	return len(r.byRoom[roomID])
}

// ColorsInUse returns the set of colors held by a room's participants.
func (r *Registry) ColorsInUse(roomID string) map[string]bool {
	inUse := make(map[string]bool)
	for p := range r.byRoom[roomID] {
		inUse[p.Color] = true
	}
	return inUse
}

// AdminPresent reports whether the given user is currently a
// participant of the given room.
func (r *Registry) AdminPresent(roomID, userID string) bool {
	for p := range r.byRoom[roomID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// nextNumber returns the smallest positive integer not in use by a
// connected participant. Numbers freed by disconnects are reused.
func (r *Registry) nextNumber() int {
	for n := 1; ; n++ {
		if _, taken := r.numbers[n]; !taken {
			return n
		}
	}
}

func (r *Registry) indexRoom(p *Participant) {
	if r.byRoom[p.RoomID] == nil {
		r.byRoom[p.RoomID] = make(map[*Participant]struct{})
	}
	r.byRoom[p.RoomID][p] = struct{}{}
}

func (r *Registry) unindexRoom(p *Participant) {
	if members, ok := r.byRoom[p.RoomID]; ok {
		delete(members, p)
		if len(members) == 0 {
			delete(r.byRoom, p.RoomID)
		}
	}
}
