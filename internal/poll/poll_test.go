package poll

import (
	"errors"
	"testing"
)

func mustNew(t *testing.T, question string, options []string) *Poll {
	t.Helper()
	p, err := New(question, options)
	if err != nil {
		t.Fatalf("New(%q, %v) failed: %v", question, options, err)
	}
	return p
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name     string
		question string
		options  []string
		wantErr  error
	}{
		{"valid", "Pizza?", []string{"Yes", "No"}, nil},
		{"five options", "Pick", []string{"a", "b", "c", "d", "e"}, nil},
		{"empty question", "  ", []string{"Yes", "No"}, ErrEmptyQuestion},
		{"one option", "Pizza?", []string{"Yes"}, ErrBadOptionCount},
		{"six options", "Pick", []string{"a", "b", "c", "d", "e", "f"}, ErrBadOptionCount},
		{"blank option", "Pizza?", []string{"Yes", "   "}, ErrBadOptionCount},
		{"no options", "Pizza?", nil, ErrBadOptionCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.question, tt.options)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewTrimsWhitespace(t *testing.T) {
	p := mustNew(t, "  Pizza?  ", []string{" Yes ", " No "})
	if p.Question != "Pizza?" {
		t.Errorf("expected trimmed question, got %q", p.Question)
	}
	if p.Options[0].Text != "Yes" || p.Options[1].Text != "No" {
		t.Errorf("expected trimmed options, got %+v", p.Options)
	}
}

func TestVoteTallies(t *testing.T) {
	p := mustNew(t, "Pizza?", []string{"Yes", "No"})

	if err := p.Vote("u1", 0, false); err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if err := p.Vote("u2", 1, false); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	if p.Options[0].Votes != 1 || p.Options[1].Votes != 1 {
		t.Fatalf("unexpected tallies: %+v", p.Options)
	}
	if p.VotersCount() != 2 {
		t.Fatalf("expected 2 voters, got %d", p.VotersCount())
	}
}

func TestVoteRejections(t *testing.T) {
	p := mustNew(t, "Pizza?", []string{"Yes", "No"})
	if err := p.Vote("u1", 0, false); err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	if err := p.Vote("u1", 1, false); !errors.Is(err, ErrAlreadyVoted) {
		t.Errorf("second vote: expected ErrAlreadyVoted, got %v", err)
	}
	if err := p.Vote("u2", 2, false); !errors.Is(err, ErrOptionRange) {
		t.Errorf("out of range: expected ErrOptionRange, got %v", err)
	}
	if err := p.Vote("u2", -1, false); !errors.Is(err, ErrOptionRange) {
		t.Errorf("negative index: expected ErrOptionRange, got %v", err)
	}
	if err := p.Vote("admin", 0, true); !errors.Is(err, ErrAdminVote) {
		t.Errorf("admin vote: expected ErrAdminVote, got %v", err)
	}

	// A rejected vote must leave tallies unchanged.
	if p.Options[0].Votes != 1 || p.Options[1].Votes != 0 {
		t.Fatalf("tallies changed by rejected votes: %+v", p.Options)
	}
}

func TestVoteOnEndedPoll(t *testing.T) {
	p := mustNew(t, "Pizza?", []string{"Yes", "No"})
	p.Ended = true
	if err := p.Vote("u1", 0, false); !errors.Is(err, ErrNoActivePoll) {
		t.Fatalf("expected ErrNoActivePoll, got %v", err)
	}
}

func TestUserVote(t *testing.T) {
	p := mustNew(t, "Pizza?", []string{"Yes", "No"})
	p.Vote("u1", 1, false)

	if v := p.UserVote("u1"); v == nil || *v != 1 {
		t.Errorf("expected vote 1 for u1, got %v", v)
	}
	if v := p.UserVote("u2"); v != nil {
		t.Errorf("expected nil for non-voter, got %v", v)
	}
}

func TestSnapshotFreezesTallies(t *testing.T) {
	p := mustNew(t, "Pizza?", []string{"Yes", "No"})
	p.Vote("u1", 0, false)
	p.Vote("u2", 0, false)

	snap := p.Snapshot(2)
	if snap.VotersCount != 2 || snap.TotalEligible != 2 {
		t.Fatalf("unexpected snapshot counts: %+v", snap)
	}
	if snap.EndedAt == 0 {
		t.Error("expected a non-zero endedAt")
	}

	// Mutating the live poll must not touch the snapshot.
	p.Options[0].Votes = 99
	if snap.Options[0].Votes != 2 {
		t.Errorf("snapshot tallies not frozen: %+v", snap.Options)
	}
}

func TestRestartResetsVotes(t *testing.T) {
	p := mustNew(t, "Pizza?", []string{"Yes", "No"})
	p.Vote("u1", 0, false)

	restarted := p.Snapshot(1).Restart()
	if restarted.Question != "Pizza?" {
		t.Errorf("expected question carried over, got %q", restarted.Question)
	}
	if restarted.Options[0].Votes != 0 || restarted.VotersCount() != 0 {
		t.Fatalf("expected reset tallies, got %+v voters=%d", restarted.Options, restarted.VotersCount())
	}

	// The previous voter can vote again in the restarted poll.
	if err := restarted.Vote("u1", 1, false); err != nil {
		t.Fatalf("revote on restarted poll failed: %v", err)
	}
}
