// Package protocol defines the relay wire vocabulary shared by the server
// and endpoints.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Huddle/internal/domain"
)

type Type string

const (
	TypeWelcome      Type = "welcome"
	TypeJoin         Type = "join"
	TypeLeave        Type = "leave"
	TypeRoster       Type = "roster"
	TypeRoomInfo     Type = "room-info"
	TypeMemberJoined Type = "member-joined"
	TypeMemberLeft   Type = "member-left"
	TypeWaiting      Type = "waiting"
	TypeWaitingList  Type = "waiting-list-update"
	TypeRejected     Type = "rejected"
	TypeRemoved      Type = "removed"

	TypeAdmit             Type = "admit"
	TypeReject            Type = "reject"
	TypeLock              Type = "lock"
	TypeUnlock            Type = "unlock"
	TypeLockState         Type = "lock-state"
	TypeRemoveParticipant Type = "remove-participant"
	TypeEndMeeting        Type = "end-meeting"
	TypeMeetingEnded      Type = "meeting-ended"
	TypeHostAction        Type = "host-action"
	TypeMediaCommand      Type = "media-command"

	TypeEnvelope    Type = "negotiation-envelope"
	TypeChat        Type = "chat-broadcast"
	TypeScreenShare Type = "screen-share-status"
	TypeAck         Type = "ack"
	TypeDenied      Type = "denied"
	TypePing        Type = "ping"
	TypePong        Type = "pong"
)

// Message is the single flat frame exchanged over the relay. Only the
// fields relevant to Type are set.
type Message struct {
	Type Type `json:"type" msgpack:"type"`

	RoomID      domain.RoomID     `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	From        domain.EndpointID `json:"from,omitempty" msgpack:"from,omitempty"`
	To          domain.EndpointID `json:"to,omitempty" msgpack:"to,omitempty"`
	TargetID    domain.EndpointID `json:"targetId,omitempty" msgpack:"targetId,omitempty"`
	DisplayName string            `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
	Title       string            `json:"title,omitempty" msgpack:"title,omitempty"`
	CreatedAt   int64             `json:"createdAt,omitempty" msgpack:"createdAt,omitempty"`
	IsHost      bool              `json:"isHost,omitempty" msgpack:"isHost,omitempty"`
	Locked      bool              `json:"locked,omitempty" msgpack:"locked,omitempty"`

	Roster      []domain.Participant  `json:"roster,omitempty" msgpack:"roster,omitempty"`
	Participant *domain.Participant   `json:"participant,omitempty" msgpack:"participant,omitempty"`
	Waiting     []domain.WaitingEntry `json:"waiting,omitempty" msgpack:"waiting,omitempty"`

	Action string `json:"action,omitempty" msgpack:"action,omitempty"`
	Code   string `json:"code,omitempty" msgpack:"code,omitempty"`
	Text   string `json:"message,omitempty" msgpack:"message,omitempty"`

	Kind        domain.EnvelopeKind `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Body        json.RawMessage     `json:"body,omitempty" msgpack:"body,omitempty"`
	Renegotiate bool                `json:"renegotiate,omitempty" msgpack:"renegotiate,omitempty"`

	ID        string `json:"id,omitempty" msgpack:"id,omitempty"`
	ChatText  string `json:"text,omitempty" msgpack:"text,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty" msgpack:"timestamp,omitempty"`
	IsSharing bool   `json:"isSharing,omitempty" msgpack:"isSharing,omitempty"`
}

// Envelope extracts the negotiation payload carried by an envelope message.
func (m Message) Envelope() domain.Envelope {
	return domain.Envelope{Kind: m.Kind, Body: m.Body, Renegotiate: m.Renegotiate}
}

func EnvelopeMessage(to domain.EndpointID, env domain.Envelope) Message {
	return Message{
		Type:        TypeEnvelope,
		To:          to,
		Kind:        env.Kind,
		Body:        env.Body,
		Renegotiate: env.Renegotiate,
	}
}

func Denied(code, action, reason string) Message {
	return Message{Type: TypeDenied, Code: code, Action: action, Text: reason}
}
