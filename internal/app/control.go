package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadEnvelope    = errors.New("bad negotiation envelope")
	ErrChatTooLong    = errors.New("chat message too long")
)

const MaxChatLen = 4096

type Command string

const (
	CmdMuteAll            Command = "mute-all"
	CmdUnmuteAll          Command = "unmute-all"
	CmdDisableAllCameras  Command = "disable-all-cameras"
	CmdEnableAllCameras   Command = "enable-all-cameras"
	CmdLockMeeting        Command = "lock-meeting"
	CmdUnlockMeeting      Command = "unlock-meeting"
	CmdEndMeeting         Command = "end-meeting"
	CmdAdmitParticipant   Command = "admit-participant"
	CmdRejectParticipant  Command = "reject-participant"
	CmdRemoveParticipant  Command = "remove-participant"
	CmdMuteParticipant    Command = "mute-participant"
	CmdDisableParticipCam Command = "disable-participant-camera"
)

// Targeted reports whether the command needs a targetId.
func (c Command) Targeted() bool {
	switch c {
	case CmdAdmitParticipant, CmdRejectParticipant, CmdRemoveParticipant,
		CmdMuteParticipant, CmdDisableParticipCam:
		return true
	}
	return false
}

// Media commands are advisory and only relayed to the targets.
func (c Command) Media() bool {
	switch c {
	case CmdMuteAll, CmdUnmuteAll, CmdDisableAllCameras, CmdEnableAllCameras,
		CmdMuteParticipant, CmdDisableParticipCam:
		return true
	}
	return false
}

// CommandOf maps a dedicated control message or a host-action onto the
// command vocabulary.
func CommandOf(msg protocol.Message) (Command, domain.EndpointID, bool) {
	switch msg.Type {
	case protocol.TypeLock:
		return CmdLockMeeting, "", true
	case protocol.TypeUnlock:
		return CmdUnlockMeeting, "", true
	case protocol.TypeAdmit:
		return CmdAdmitParticipant, msg.TargetID, true
	case protocol.TypeReject:
		return CmdRejectParticipant, msg.TargetID, true
	case protocol.TypeRemoveParticipant:
		return CmdRemoveParticipant, msg.TargetID, true
	case protocol.TypeEndMeeting:
		return CmdEndMeeting, "", true
	case protocol.TypeHostAction:
		return Command(msg.Action), msg.TargetID, true
	}
	return "", "", false
}

// Control executes host commands and routes peer-to-peer traffic between
// members of the same room.
type Control struct {
	Registry *Registry
	Relay    *Relay
	now      func() time.Time
}

func NewControl(reg *Registry, relay *Relay) *Control {
	return &Control{Registry: reg, Relay: relay, now: time.Now}
}

func (c *Control) Execute(from domain.EndpointID, cmd Command, target domain.EndpointID) error {
	if cmd.Targeted() && target == "" {
		return domain.Deny(string(cmd), domain.ErrInvalidTarget, "A target participant is required")
	}
	log.Debug().Str("module", "app.control").Str("from", string(from)).Str("cmd", string(cmd)).Str("target", string(target)).Msg("host command")

	switch cmd {
	case CmdLockMeeting:
		return c.Registry.Lock("", from)
	case CmdUnlockMeeting:
		return c.Registry.Unlock("", from)
	case CmdEndMeeting:
		return c.Registry.EndMeeting("", from)
	case CmdAdmitParticipant:
		return c.Registry.Admit("", from, target)
	case CmdRejectParticipant:
		return c.Registry.Reject("", from, target)
	case CmdRemoveParticipant:
		return c.Registry.RemoveParticipant("", from, target)
	}
	if !cmd.Media() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	_, targets, err := c.Registry.AuthorizeHost(string(cmd), from, target)
	if err != nil {
		return err
	}
	msg := protocol.Message{Type: protocol.TypeMediaCommand, Action: string(cmd), From: from}
	for _, id := range targets {
		c.Relay.Send(id, msg)
	}
	return nil
}

// RouteEnvelope forwards a negotiation envelope to msg.To with the sender
// stamped. Envelopes addressed outside the sender's room are delivery misses.
func (c *Control) RouteEnvelope(from domain.EndpointID, msg protocol.Message) error {
	if !msg.Kind.Valid() || msg.To == "" {
		return ErrBadEnvelope
	}
	roomID, ok := c.Registry.RoomOf(from)
	if !ok {
		return domain.Deny("negotiation-envelope", domain.ErrNotInRoom, msgNotInRoom)
	}
	if dst, ok := c.Registry.RoomOf(msg.To); !ok || dst != roomID {
		c.Relay.metrics.DeliveryMisses.Inc()
		log.Debug().Str("module", "app.control").Str("from", string(from)).Str("to", string(msg.To)).Msg("envelope outside room dropped")
		return nil
	}
	out := protocol.EnvelopeMessage(msg.To, msg.Envelope())
	out.From = from
	c.Relay.Send(msg.To, out)
	return nil
}

// Chat fans a message out to the whole room, sender included. Nothing is
// stored.
func (c *Control) Chat(from domain.EndpointID, text string) error {
	if len(text) > MaxChatLen {
		return ErrChatTooLong
	}
	roomID, p, ok := c.Registry.Member(from)
	if !ok {
		return domain.Deny("chat-broadcast", domain.ErrNotInRoom, msgNotInRoom)
	}
	c.Relay.Broadcast(roomID, protocol.Message{
		Type:        protocol.TypeChat,
		ID:          uuid.NewString(),
		From:        from,
		DisplayName: p.DisplayName,
		ChatText:    text,
		Timestamp:   c.now().UnixMilli(),
	}, "")
	return nil
}

func (c *Control) ScreenShare(from domain.EndpointID, sharing bool) error {
	roomID, ok := c.Registry.RoomOf(from)
	if !ok {
		return domain.Deny("screen-share-status", domain.ErrNotInRoom, msgNotInRoom)
	}
	c.Relay.Broadcast(roomID, protocol.Message{Type: protocol.TypeScreenShare, From: from, IsSharing: sharing}, from)
	return nil
}
