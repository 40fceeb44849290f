// Package poll implements room polls: creation, single-vote-per-user
// tallying, full-participation auto-close, and archival snapshots.
package poll

import (
	"errors"
	"strings"
	"time"
)

const (
	// MinOptions and MaxOptions bound the number of poll options.
	MinOptions = 2
	MaxOptions = 5
)

var (
	ErrEmptyQuestion  = errors.New("poll question must not be empty")
	ErrBadOptionCount = errors.New("polls need between 2 and 5 non-empty options")
	ErrNoActivePoll   = errors.New("no active poll")
	ErrOptionRange    = errors.New("option index out of range")
	ErrAdminVote      = errors.New("the room admin cannot vote")
	ErrAlreadyVoted   = errors.New("already voted in this poll")
	ErrNoSuchSnapshot = errors.New("no such poll in history")
)

// Option is one answer with its running tally.
type Option struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Poll is the live poll of a room. At most one exists per room.
type Poll struct {
	Question  string
	Options   []Option
	Ended     bool
	CreatedAt time.Time

	// votes maps userID to the chosen option index. An entry is
	// immutable once set.
	votes map[string]int
}

// Snapshot is an immutable archival record of a finished or
// superseded poll.
type Snapshot struct {
	Question      string   `json:"question"`
	Options       []Option `json:"options"`
	EndedAt       int64    `json:"endedAt"`
	VotersCount   int      `json:"votersCount"`
	TotalEligible int      `json:"totalEligible"`
}

// New validates and creates a poll. Blank option texts are rejected,
// surrounding whitespace is trimmed.
func New(question string, options []string) (*Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	opts := make([]Option, 0, len(options))
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			return nil, ErrBadOptionCount
		}
		opts = append(opts, Option{Text: o})
	}
	if len(opts) < MinOptions || len(opts) > MaxOptions {
		return nil, ErrBadOptionCount
	}

	return &Poll{
		Question:  question,
		Options:   opts,
		CreatedAt: time.Now(),
		votes:     make(map[string]int),
	}, nil
}

// Vote records a vote for the given option. The admin may not vote,
// and a voter's first recorded choice is final.
func (p *Poll) Vote(userID string, optionIndex int, isAdmin bool) error {
	if p == nil || p.Ended {
		return ErrNoActivePoll
	}
	if optionIndex < 0 || optionIndex >= len(p.Options) {
		return ErrOptionRange
	}
	if isAdmin {
		return ErrAdminVote
	}
	if _, voted := p.votes[userID]; voted {
		return ErrAlreadyVoted
	}

	p.votes[userID] = optionIndex
	p.Options[optionIndex].Votes++
	return nil
}

// VotersCount returns the number of recorded voters.
func (p *Poll) VotersCount() int {
	if p == nil {
		return 0
	}
	return len(p.votes)
}

// UserVote returns the option index the user voted for, or nil.
func (p *Poll) UserVote(userID string) *int {
	if p == nil {
		return nil
	}
	if idx, ok := p.votes[userID]; ok {
		return &idx
	}
	return nil
}

// Snapshot freezes the poll into an archival record. totalEligible is
// the room's eligible voter count at archival time.
func (p *Poll) Snapshot(totalEligible int) Snapshot {
	opts := make([]Option, len(p.Options))
	copy(opts, p.Options)
	return Snapshot{
		Question:      p.Question,
		Options:       opts,
		EndedAt:       time.Now().UnixMilli(),
		VotersCount:   len(p.votes),
		TotalEligible: totalEligible,
	}
}

// Restart creates a fresh poll from the snapshot's question and
// options with all tallies and the voter set reset.
func (s Snapshot) Restart() *Poll {
	opts := make([]Option, len(s.Options))
	for i, o := range s.Options {
		opts[i] = Option{Text: o.Text}
	}
	return &Poll{
		Question:  s.Question,
		Options:   opts,
		CreatedAt: time.Now(),
		votes:     make(map[string]int),
	}
}
