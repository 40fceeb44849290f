package relay

import (
	"encoding/json"
	"fmt"

	"github.com/christopherjohns/relay/internal/poll"
)

// Envelope is the inbound JSON structure: a type discriminator plus a
// command-specific payload object.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is the closed set of inbound commands. Adding a command
// means adding a variant here and a case to the dispatch switch.
type Command interface {
	isCommand()
}

// Join enters a room, optionally presenting a private room's token.
type Join struct {
	RoomID string `json:"roomId"`
	Token  string `json:"token"`
}

// Chat broadcasts a message to the sender's room.
type Chat struct {
	Message string `json:"message"`
}

// CreateRoom creates a new room with the requester as admin. Rooms
// are private unless isPrivate is explicitly false.
type CreateRoom struct {
	Name      string `json:"name"`
	IsPrivate *bool  `json:"isPrivate"`
}

// EndRoom destroys a room. Admin only.
type EndRoom struct {
	RoomID string `json:"roomId"`
}

// RequestOTP asks for a verification code to be emailed.
type RequestOTP struct {
	RoomID string `json:"roomId"`
	Email  string `json:"email"`
}

// VerifyOTP submits an emailed code.
type VerifyOTP struct {
	RoomID string `json:"roomId"`
	Email  string `json:"email"`
	OTP    string `json:"otp"`
}

// CreatePoll installs a new poll. Admin only.
type CreatePoll struct {
	RoomID   string   `json:"roomId"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// VotePoll casts the sender's vote.
type VotePoll struct {
	RoomID      string `json:"roomId"`
	OptionIndex int    `json:"optionIndex"`
}

// EndPoll archives the active poll. Admin only.
type EndPoll struct {
	RoomID string `json:"roomId"`
}

// RestartPoll reinstates a poll from history by newest-first index.
// Admin only.
type RestartPoll struct {
	RoomID       string `json:"roomId"`
	HistoryIndex int    `json:"historyIndex"`
}

// RestartCurrentPoll archives and immediately restarts the active
// poll with cleared tallies. Admin only.
type RestartCurrentPoll struct {
	RoomID string `json:"roomId"`
}

// Ping is a keepalive; the sender gets a fresh occupancy count back.
type Ping struct {
	RoomID string `json:"roomId"`
}

func (Join) isCommand()               {}
func (Chat) isCommand()               {}
func (CreateRoom) isCommand()         {}
func (EndRoom) isCommand()            {}
func (RequestOTP) isCommand()         {}
func (VerifyOTP) isCommand()          {}
func (CreatePoll) isCommand()         {}
func (VotePoll) isCommand()           {}
func (EndPoll) isCommand()            {}
func (RestartPoll) isCommand()        {}
func (RestartCurrentPoll) isCommand() {}
func (Ping) isCommand()               {}

// parseCommand decodes an inbound frame into a Command variant.
func parseCommand(data []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	decode := func(v Command) (Command, error) {
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}

	switch env.Type {
	case "join":
		c := &Join{}
		return decode(c)
	case "chat":
		c := &Chat{}
		return decode(c)
	case "createRoom":
		c := &CreateRoom{}
		return decode(c)
	case "endRoom":
		c := &EndRoom{}
		return decode(c)
	case "requestOtp":
		c := &RequestOTP{}
		return decode(c)
	case "verifyOtp":
		c := &VerifyOTP{}
		return decode(c)
	case "createPoll":
		c := &CreatePoll{}
		return decode(c)
	case "votePoll":
		c := &VotePoll{}
		return decode(c)
	case "endPoll":
		c := &EndPoll{}
		return decode(c)
	case "restartPoll":
		c := &RestartPoll{}
		return decode(c)
	case "restartCurrentPoll":
		c := &RestartCurrentPoll{}
		return decode(c)
	case "ping":
		c := &Ping{}
		return decode(c)
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
}

// Outbound frames carry their discriminator inline; the payload is
// flattened rather than nested.

type systemFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Color   string `json:"color,omitempty"`
}

type chatFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Color     string `json:"color"`
	Timestamp int64  `json:"timestamp"`
}

type userCountFrame struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

type userColorFrame struct {
	Type     string `json:"type"`
	Color    string `json:"color"`
	Username string `json:"username"`
}

type roomCreatedFrame struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	IsPrivate bool   `json:"isPrivate"`
	Link      string `json:"link"`
}

type needVerificationFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type verifiedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// pollView is the per-recipient rendering of the active poll:
// aggregate tallies for everyone, plus the recipient's own vote.
type pollView struct {
	Question      string        `json:"question"`
	Options       []poll.Option `json:"options"`
	UserVote      *int          `json:"userVote,omitempty"`
	VotersCount   int           `json:"votersCount"`
	TotalEligible int           `json:"totalEligible"`
	Ended         bool          `json:"ended"`
}

type pollUpdatedFrame struct {
	Type        string          `json:"type"`
	RoomID      string          `json:"roomId"`
	Poll        *pollView       `json:"poll"`
	PollHistory []poll.Snapshot `json:"pollHistory"`
}
