// Package relay is the single message-handling entry point: it owns
// every piece of mutable chat state and processes connection, frame,
// and close events strictly one at a time on one goroutine, so no
// registry, room, or poll mutation ever races.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/christopherjohns/relay/internal/access"
	"github.com/christopherjohns/relay/internal/color"
	"github.com/christopherjohns/relay/internal/mail"
	"github.com/christopherjohns/relay/internal/poll"
	"github.com/christopherjohns/relay/internal/registry"
	"github.com/christopherjohns/relay/internal/room"
	"github.com/christopherjohns/relay/internal/ws"
)

// maxMessageLength caps chat message size in characters.
const maxMessageLength = 2000

// eventQueueSize bounds the dispatch queue. Readers block when it
// fills, which backpressures misbehaving clients.
const eventQueueSize = 256

type eventKind int

const (
	evConnect eventKind = iota
	evFrame
	evClose
	evEmailResult
)

type emailResult struct {
	roomID string
	email  string
	err    error
}

type event struct {
	kind   eventKind
	client *ws.Client
	data   []byte
	email  emailResult
}

// Relay routes inbound commands to the registry, room directory,
// verifier, and poll state, and fans outbound frames to room members.
// The member set for a broadcast is recomputed at send time; nothing
// is cached.
type Relay struct {
	conns    *ws.ConnManager
	reg      *registry.Registry
	rooms    *room.Manager
	verifier *access.Verifier
	colors   *color.Allocator
	mailer   mail.Sender

	events chan event
	done   chan struct{}
}

// New creates a Relay. Run must be started before the first client
// connects.
func New(conns *ws.ConnManager, rooms *room.Manager, verifier *access.Verifier, mailer mail.Sender) *Relay {
	return &Relay{
		conns:    conns,
		reg:      registry.New(),
		rooms:    rooms,
		verifier: verifier,
		colors:   color.NewAllocator(rand.New(rand.NewSource(time.Now().UnixNano()))),
		mailer:   mailer,
		events:   make(chan event, eventQueueSize),
		done:     make(chan struct{}),
	}
}

// Connected implements ws.Sink.
func (r *Relay) Connected(c *ws.Client) {
	r.post(event{kind: evConnect, client: c})
}

// Frame implements ws.Sink.
func (r *Relay) Frame(c *ws.Client, data []byte) {
	r.post(event{kind: evFrame, client: c, data: data})
}

// Closed implements ws.Sink.
func (r *Relay) Closed(c *ws.Client) {
	r.post(event{kind: evClose, client: c})
}

// post queues an event for the dispatch loop, dropping it if the loop
// has already stopped.
func (r *Relay) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// Run processes events until ctx is cancelled, then closes every
// connection. It must be called exactly once.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			r.conns.Shutdown()
			return
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

// handle dispatches one event. A panic while handling one client's
// message must not take down the loop or other connections.
func (r *Relay) handle(ev event) {
	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("relay_handler_panic",
				zap.String("conn", ev.client.ID()),
				zap.Any("panic", rec),
			)
		}
	}()

	switch ev.kind {
	case evConnect:
		zap.L().Debug("client_connected", zap.String("conn", ev.client.ID()))
	case evFrame:
		r.handleFrame(ev.client, ev.data)
	case evClose:
		r.handleClose(ev.client)
	case evEmailResult:
		r.handleEmailResult(ev.client, ev.email)
	}
}

// handleFrame parses and routes one inbound envelope. A frame that
// doesn't parse is surfaced back as a system notice carrying the raw
// text; the connection stays open.
func (r *Relay) handleFrame(c *ws.Client, data []byte) {
	cmd, err := parseCommand(data)
	if err != nil {
		r.sendSystem(c, string(data))
		return
	}

	switch cmd := cmd.(type) {
	case *Join:
		r.handleJoin(c, cmd)
	case *Chat:
		r.handleChat(c, cmd)
	case *CreateRoom:
		r.handleCreateRoom(c, cmd)
	case *EndRoom:
		r.handleEndRoom(c, cmd)
	case *RequestOTP:
		r.handleRequestOTP(c, cmd)
	case *VerifyOTP:
		r.handleVerifyOTP(c, cmd)
	case *CreatePoll:
		r.handleCreatePoll(c, cmd)
	case *VotePoll:
		r.handleVotePoll(c, cmd)
	case *EndPoll:
		r.handleEndPoll(c, cmd)
	case *RestartPoll:
		r.handleRestartPoll(c, cmd)
	case *RestartCurrentPoll:
		r.handleRestartCurrentPoll(c, cmd)
	case *Ping:
		r.handlePing(c)
	}
}

// handleJoin runs the two access-control gates for private rooms
// (token, then email verification) before touching membership.
func (r *Relay) handleJoin(c *ws.Client, cmd *Join) {
	if cmd.RoomID == "" {
		r.sendSystem(c, "A room id is required to join.")
		return
	}

	if rm := r.rooms.Get(cmd.RoomID); rm != nil && rm.Private {
		if cmd.Token != rm.JoinToken {
			r.sendSystem(c, "Access denied: invalid or missing room token.")
			return
		}
		if !r.verifier.IsVerified(c, rm.ID) {
			r.send(c, needVerificationFrame{Type: "needVerification", RoomID: rm.ID})
			return
		}
	}

	p := r.reg.ByClient(c)
	switch {
	case p == nil:
		p = r.reg.Add(c, cmd.RoomID, r.colors.Allocate(r.reg.ColorsInUse(cmd.RoomID)))
		r.announceJoin(p)
	case p.RoomID == cmd.RoomID:
		// Already here; re-acknowledge without disturbing the room.
		r.send(c, userColorFrame{Type: "userColor", Color: p.Color, Username: p.Name})
		r.send(c, userCountFrame{Type: "userCount", Count: r.reg.Occupancy(p.RoomID)})
	default:
		old := p.RoomID
		r.reg.Move(p, cmd.RoomID, r.colors.Allocate(r.reg.ColorsInUse(cmd.RoomID)))
		r.broadcastSystem(old, p.Name+" left the room", "")
		r.broadcastCount(old)
		r.announceJoin(p)
	}
}

// announceJoin sends the joiner their color, notifies the room, and
// pushes occupancy plus the room's poll state.
func (r *Relay) announceJoin(p *registry.Participant) {
	r.send(p.Client, userColorFrame{Type: "userColor", Color: p.Color, Username: p.Name})
	r.broadcastSystem(p.RoomID, p.Name+" joined the room", p.Color)
	r.broadcastCount(p.RoomID)

	if rm := r.rooms.Get(p.RoomID); rm != nil && (rm.CurrentPoll != nil || len(rm.History) > 0) {
		r.sendPollState(rm, p)
	}
}

func (r *Relay) handleClose(c *ws.Client) {
	r.verifier.Forget(c)
	p := r.reg.Remove(c)
	if p == nil {
		return
	}

	r.broadcastSystem(p.RoomID, p.Name+" left the room", p.Color)
	r.broadcastCount(p.RoomID)

	// Admin disconnect destroys the room, same as an explicit end.
	if rm := r.rooms.Get(p.RoomID); rm != nil && rm.AdminID == p.UserID {
		r.destroyRoom(rm, "the room admin disconnected")
	}
}

func (r *Relay) handleChat(c *ws.Client, cmd *Chat) {
	p := r.reg.ByClient(c)
	if p == nil {
		r.sendSystem(c, "Join a room before sending messages.")
		return
	}

	msg := strings.TrimSpace(cmd.Message)
	if msg == "" {
		r.sendSystem(c, "Message content is required.")
		return
	}
	if len(msg) > maxMessageLength {
		r.sendSystem(c, fmt.Sprintf("Message exceeds the maximum length of %d characters.", maxMessageLength))
		return
	}

	if strings.HasPrefix(msg, "/domains") {
		r.handleDomainCommand(c, p, msg)
		return
	}

	r.broadcast(p.RoomID, chatFrame{
		Type:      "chat",
		Message:   msg,
		UserID:    p.UserID,
		Username:  p.Name,
		Color:     p.Color,
		Timestamp: time.Now().UnixMilli(),
	})
}

// handleDomainCommand implements the admin sub-protocol embedded in
// chat: /domains add|remove|clear|list.
func (r *Relay) handleDomainCommand(c *ws.Client, p *registry.Participant, msg string) {
	rm := r.rooms.Get(p.RoomID)
	if rm == nil {
		r.sendSystem(c, "Domain commands only work in created rooms.")
		return
	}
	if rm.AdminID != p.UserID {
		r.sendSystem(c, "Only the room admin can manage the email allowlist.")
		return
	}

	fields := strings.Fields(msg)
	sub := ""
	if len(fields) > 1 {
		sub = fields[1]
	}

	switch sub {
	case "add":
		if len(fields) < 3 {
			r.sendSystem(c, "Usage: /domains add @example.com")
			return
		}
		rm.AllowDomain(fields[2])
		r.sendSystem(c, "Allowed domains: "+domainList(rm))
	case "remove":
		if len(fields) < 3 {
			r.sendSystem(c, "Usage: /domains remove @example.com")
			return
		}
		rm.RemoveDomain(fields[2])
		r.sendSystem(c, "Allowed domains: "+domainList(rm))
	case "clear":
		rm.ClearDomains()
		r.sendSystem(c, "Domain allowlist cleared; any email may request a code.")
	case "list", "":
		r.sendSystem(c, "Allowed domains: "+domainList(rm))
	default:
		r.sendSystem(c, "Usage: /domains add|remove|clear|list [@example.com]")
	}
}

func domainList(rm *room.Room) string {
	domains := rm.Domains()
	if len(domains) == 0 {
		return "(none; any email may request a code)"
	}
	return strings.Join(domains, ", ")
}

func (r *Relay) handleCreateRoom(c *ws.Client, cmd *CreateRoom) {
	p := r.reg.ByClient(c)
	if p == nil {
		r.sendSystem(c, "Join a room before creating one.")
		return
	}

	private := true
	if cmd.IsPrivate != nil {
		private = *cmd.IsPrivate
	}

	rm := r.rooms.Create(cmd.Name, p.UserID, private)

	// Migrate the creator into the new room.
	old := p.RoomID
	r.reg.Move(p, rm.ID, r.colors.Allocate(nil))
	r.broadcastSystem(old, p.Name+" left the room", "")
	r.broadcastCount(old)

	r.send(c, roomCreatedFrame{
		Type:      "roomCreated",
		RoomID:    rm.ID,
		IsPrivate: rm.Private,
		Link:      rm.Link(),
	})
	r.send(c, userColorFrame{Type: "userColor", Color: p.Color, Username: p.Name})
	r.sendSystem(c, "Room created. You are the admin; share the link to invite others.")
	r.broadcastCount(rm.ID)

	zap.L().Info("room_created",
		zap.String("room", rm.ID),
		zap.Bool("private", rm.Private),
		zap.String("admin", p.UserID),
	)
}

func (r *Relay) handleEndRoom(c *ws.Client, cmd *EndRoom) {
	rm := r.rooms.Get(cmd.RoomID)
	if rm == nil {
		r.sendSystem(c, "Room not found.")
		return
	}
	p := r.reg.ByClient(c)
	if p == nil || p.UserID != rm.AdminID {
		r.sendSystem(c, "Only the room admin can end the room.")
		return
	}

	r.destroyRoom(rm, "ended by the admin")
}

// destroyRoom force-notifies and disconnects every remaining
// participant, then removes the room. No participant record may
// outlive its room.
func (r *Relay) destroyRoom(rm *room.Room, reason string) {
	for _, m := range r.reg.RoomMembers(rm.ID) {
		r.sendSystem(m.Client, "This room has ended ("+reason+").")
		r.reg.Remove(m.Client)
		r.verifier.Forget(m.Client)
		r.conns.Kick(m.Client, "room ended")
	}
	r.rooms.Delete(rm.ID)

	zap.L().Info("room_destroyed", zap.String("room", rm.ID), zap.String("reason", reason))
}

func (r *Relay) handleRequestOTP(c *ws.Client, cmd *RequestOTP) {
	rm := r.rooms.Get(cmd.RoomID)
	if rm == nil {
		r.sendSystem(c, "Room not found.")
		return
	}
	if !rm.Private {
		r.sendSystem(c, "Verification is only required for private rooms.")
		return
	}

	email := strings.TrimSpace(cmd.Email)
	if !strings.Contains(email, "@") {
		r.sendSystem(c, "A valid email address is required.")
		return
	}
	if !rm.EmailAllowed(email) {
		r.sendSystem(c, "That email domain is not allowed for this room.")
		return
	}

	code := r.verifier.Begin(rm.ID, email)
	r.sendSystem(c, "Sending a verification code to "+email+"...")

	// Fire-and-forget: the send happens off-loop and its outcome is
	// posted back as an event, so state is still only touched here.
	go func() {
		err := r.mailer.Send(
			email,
			"Your chat room verification code",
			fmt.Sprintf("Your verification code is %s. It expires in %d minutes.",
				code, int(access.CodeTTL.Minutes())),
		)
		r.post(event{
			kind:   evEmailResult,
			client: c,
			email:  emailResult{roomID: rm.ID, email: email, err: err},
		})
	}()
}

func (r *Relay) handleEmailResult(c *ws.Client, res emailResult) {
	if res.err != nil {
		zap.L().Warn("otp_email_failed",
			zap.String("room", res.roomID),
			zap.Error(res.err),
		)
		// The issued code stays valid until its TTL, so the user may
		// simply retry the request.
		r.sendSystem(c, "Could not send the verification code to "+res.email+". Please try again.")
		return
	}
	r.sendSystem(c, "Verification code sent to "+res.email+". Enter it to continue.")
}

func (r *Relay) handleVerifyOTP(c *ws.Client, cmd *VerifyOTP) {
	rm := r.rooms.Get(cmd.RoomID)
	if rm == nil {
		r.sendSystem(c, "Room not found.")
		return
	}

	if err := r.verifier.Verify(c, rm.ID, cmd.Email, cmd.OTP); err != nil {
		r.sendSystem(c, "Verification failed: "+err.Error()+".")
		return
	}

	r.send(c, verifiedFrame{Type: "verified", RoomID: rm.ID})
	r.sendSystem(c, "Email verified. Join the room with your invite token to enter.")
}

// adminRoom resolves the room and checks that the sender is its
// admin, sending the appropriate notice otherwise.
func (r *Relay) adminRoom(c *ws.Client, roomID string) (*room.Room, bool) {
	rm := r.rooms.Get(roomID)
	if rm == nil {
		r.sendSystem(c, "Room not found.")
		return nil, false
	}
	p := r.reg.ByClient(c)
	if p == nil || p.UserID != rm.AdminID {
		r.sendSystem(c, "Only the room admin can manage polls.")
		return nil, false
	}
	return rm, true
}

// eligible computes the live eligible-voter count: room participants
// minus the admin when present, never negative.
func (r *Relay) eligible(rm *room.Room) int {
	n := r.reg.Occupancy(rm.ID)
	if r.reg.AdminPresent(rm.ID, rm.AdminID) {
		n--
	}
	if n < 0 {
		n = 0
	}
	return n
}

func (r *Relay) handleCreatePoll(c *ws.Client, cmd *CreatePoll) {
	rm, ok := r.adminRoom(c, cmd.RoomID)
	if !ok {
		return
	}

	pl, err := poll.New(cmd.Question, cmd.Options)
	if err != nil {
		r.sendSystem(c, "Poll rejected: "+err.Error()+".")
		return
	}

	// A live poll is archived, not clobbered.
	rm.ArchiveCurrent(r.eligible(rm))
	rm.CurrentPoll = pl
	r.broadcastPollState(rm)
}

func (r *Relay) handleVotePoll(c *ws.Client, cmd *VotePoll) {
	rm := r.rooms.Get(cmd.RoomID)
	if rm == nil {
		r.sendSystem(c, "Room not found.")
		return
	}
	p := r.reg.ByClient(c)
	if p == nil || p.RoomID != rm.ID {
		r.sendSystem(c, "Join the room before voting.")
		return
	}

	isAdmin := p.UserID == rm.AdminID
	if err := rm.CurrentPoll.Vote(p.UserID, cmd.OptionIndex, isAdmin); err != nil {
		r.sendSystem(c, "Vote rejected: "+err.Error()+".")
		return
	}

	// Full participation closes the poll immediately.
	if n := r.eligible(rm); n > 0 && rm.CurrentPoll.VotersCount() >= n {
		rm.ArchiveCurrent(n)
		r.broadcastSystem(rm.ID, "Poll complete: everyone has voted.", "")
	}
	r.broadcastPollState(rm)
}

func (r *Relay) handleEndPoll(c *ws.Client, cmd *EndPoll) {
	rm, ok := r.adminRoom(c, cmd.RoomID)
	if !ok {
		return
	}
	if rm.CurrentPoll == nil {
		r.sendSystem(c, "There is no active poll to end.")
		return
	}

	rm.ArchiveCurrent(r.eligible(rm))
	r.broadcastPollState(rm)
}

func (r *Relay) handleRestartPoll(c *ws.Client, cmd *RestartPoll) {
	rm, ok := r.adminRoom(c, cmd.RoomID)
	if !ok {
		return
	}

	snap, ok := rm.SnapshotAt(cmd.HistoryIndex)
	if !ok {
		r.sendSystem(c, "No such poll in history.")
		return
	}

	rm.ArchiveCurrent(r.eligible(rm))
	rm.CurrentPoll = snap.Restart()
	r.broadcastPollState(rm)
}

func (r *Relay) handleRestartCurrentPoll(c *ws.Client, cmd *RestartCurrentPoll) {
	rm, ok := r.adminRoom(c, cmd.RoomID)
	if !ok {
		return
	}
	if rm.CurrentPoll == nil {
		r.sendSystem(c, "There is no active poll to restart.")
		return
	}

	snap := rm.CurrentPoll.Snapshot(r.eligible(rm))
	rm.History = append(rm.History, snap)
	rm.CurrentPoll = snap.Restart()
	r.broadcastPollState(rm)
}

func (r *Relay) handlePing(c *ws.Client) {
	if p := r.reg.ByClient(c); p != nil {
		r.send(c, userCountFrame{Type: "userCount", Count: r.reg.Occupancy(p.RoomID)})
	}
}

// sendPollState sends the room's poll state to one participant,
// individualized only by that participant's own vote.
func (r *Relay) sendPollState(rm *room.Room, p *registry.Participant) {
	r.send(p.Client, r.pollFrame(rm, p))
}

// broadcastPollState pushes the poll state to every current room
// participant.
func (r *Relay) broadcastPollState(rm *room.Room) {
	for _, p := range r.reg.RoomMembers(rm.ID) {
		r.send(p.Client, r.pollFrame(rm, p))
	}
}

func (r *Relay) pollFrame(rm *room.Room, p *registry.Participant) pollUpdatedFrame {
	var view *pollView
	if pl := rm.CurrentPoll; pl != nil {
		view = &pollView{
			Question:      pl.Question,
			Options:       pl.Options,
			UserVote:      pl.UserVote(p.UserID),
			VotersCount:   pl.VotersCount(),
			TotalEligible: r.eligible(rm),
			Ended:         pl.Ended,
		}
	}
	return pollUpdatedFrame{
		Type:        "pollUpdated",
		RoomID:      rm.ID,
		Poll:        view,
		PollHistory: rm.HistoryNewestFirst(),
	}
}

// send marshals one frame for one client.
func (r *Relay) send(c *ws.Client, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		zap.L().Error("frame_marshal_failed", zap.Error(err))
		return
	}
	r.conns.Send(c, data)
}

func (r *Relay) sendSystem(c *ws.Client, msg string) {
	r.send(c, systemFrame{Type: "system", Message: msg})
}

// broadcast sends a frame to every connection whose participant is in
// the room, resolved freshly at send time.
func (r *Relay) broadcast(roomID string, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		zap.L().Error("frame_marshal_failed", zap.Error(err))
		return
	}
	for _, p := range r.reg.RoomMembers(roomID) {
		r.conns.Send(p.Client, data)
	}
}

func (r *Relay) broadcastSystem(roomID, msg, color string) {
	r.broadcast(roomID, systemFrame{Type: "system", Message: msg, Color: color})
}

func (r *Relay) broadcastCount(roomID string) {
	r.broadcast(roomID, userCountFrame{Type: "userCount", Count: r.reg.Occupancy(roomID)})
}
