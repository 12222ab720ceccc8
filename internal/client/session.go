package client

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotReady = errors.New("session has no endpoint id yet")

// MediaControl receives the advisory host media commands.
type MediaControl interface {
	SetAudio(on bool)
	SetCamera(on bool)
}

// Sender is the outbound half of Conn.
type Sender interface {
	Send(protocol.Message) error
}

// Session tracks what the relay told this participant and keeps one peer
// link per room member through the orchestrator.
type Session struct {
	conn    Sender
	inbound <-chan protocol.Message
	factory peer.TransportFactory
	opts    peer.Options
	media   MediaControl

	mu      sync.Mutex
	id      domain.EndpointID
	orch    *peer.Orchestrator
	room    domain.RoomID
	title   string
	isHost  bool
	locked  bool
	members map[domain.EndpointID]domain.Participant
	waiting []domain.WaitingEntry
	ready   chan struct{}

	updates chan protocol.Message
}

func NewSession(conn *Conn, factory peer.TransportFactory, opts peer.Options, media MediaControl) *Session {
	return newSession(conn, conn.Incoming(), factory, opts, media)
}

func newSession(out Sender, in <-chan protocol.Message, factory peer.TransportFactory, opts peer.Options, media MediaControl) *Session {
	return &Session{
		conn:    out,
		inbound: in,
		factory: factory,
		opts:    opts,
		media:   media,
		members: make(map[domain.EndpointID]domain.Participant),
		ready:   make(chan struct{}),
		updates: make(chan protocol.Message, 64),
	}
}

// Run handles relay messages until the connection ends or ctx is done.
// The orchestrator is closed on return.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		orch := s.orch
		s.mu.Unlock()
		if orch != nil {
			orch.Close()
		}
		close(s.updates)
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.inbound:
			if !ok {
				return ErrClosed
			}
			s.handle(msg)
		}
	}
}

// Ready returns the endpoint id once the welcome arrived.
func (s *Session) Ready(ctx context.Context) (domain.EndpointID, error) {
	select {
	case <-s.ready:
		return s.ID(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Updates carries every relay message after the session applied it.
// A slow reader misses updates.
func (s *Session) Updates() <-chan protocol.Message { return s.updates }

func (s *Session) handle(msg protocol.Message) {
	logger := log.With().Str("module", "client").Str("type", string(msg.Type)).Logger()
	switch msg.Type {
	case protocol.TypeWelcome:
		s.mu.Lock()
		if s.orch == nil {
			s.id = msg.From
			s.orch = peer.New(msg.From, s.factory, s, s.opts)
			close(s.ready)
		}
		s.mu.Unlock()
		logger.Info().Str("endpoint", string(msg.From)).Msg("connected to relay")

	case protocol.TypeRoomInfo:
		s.enterRoom(msg.RoomID)
		s.mu.Lock()
		s.room, s.title, s.isHost, s.locked = msg.RoomID, msg.Title, msg.IsHost, msg.Locked
		s.mu.Unlock()

	case protocol.TypeWaiting:
		s.enterRoom(msg.RoomID)

	case protocol.TypeRoster:
		s.enterRoom(msg.RoomID)
		s.mu.Lock()
		s.room = msg.RoomID
		clear(s.members)
		for _, p := range msg.Roster {
			s.members[p.ID] = p
		}
		orch := s.orch
		s.mu.Unlock()
		if orch != nil {
			orch.OnRoster(msg.Roster)
		}

	case protocol.TypeMemberJoined:
		if msg.Participant == nil {
			return
		}
		p := *msg.Participant
		s.mu.Lock()
		s.members[p.ID] = p
		orch := s.orch
		s.mu.Unlock()
		if orch != nil {
			orch.OnMemberJoined(p)
		}

	case protocol.TypeMemberLeft:
		id := msg.From
		if msg.Participant != nil {
			id = msg.Participant.ID
		}
		s.mu.Lock()
		delete(s.members, id)
		orch := s.orch
		s.mu.Unlock()
		if orch != nil {
			orch.OnMemberLeft(id)
		}

	case protocol.TypeEnvelope:
		s.mu.Lock()
		orch := s.orch
		s.mu.Unlock()
		if orch != nil && msg.From != "" {
			orch.HandleEnvelope(msg.From, msg.Envelope())
		}

	case protocol.TypeLockState:
		s.mu.Lock()
		s.locked = msg.Locked
		s.mu.Unlock()

	case protocol.TypeWaitingList:
		s.mu.Lock()
		s.waiting = msg.Waiting
		s.mu.Unlock()

	case protocol.TypeMeetingEnded, protocol.TypeRemoved, protocol.TypeRejected:
		logger.Info().Str("reason", msg.Text).Msg("left room")
		s.resetRoom()

	case protocol.TypeMediaCommand:
		s.applyMediaCommand(msg.Action)

	case protocol.TypeDenied:
		logger.Warn().Str("code", msg.Code).Str("action", msg.Action).Str("reason", msg.Text).Msg("request denied")
	}

	select {
	case s.updates <- msg:
	default:
		logger.Debug().Msg("update dropped")
	}
}

func (s *Session) applyMediaCommand(action string) {
	if s.media == nil {
		return
	}
	switch action {
	case "mute-all", "mute-participant":
		s.media.SetAudio(false)
	case "unmute-all":
		s.media.SetAudio(true)
	case "disable-all-cameras", "disable-participant-camera":
		s.media.SetCamera(false)
	case "enable-all-cameras":
		s.media.SetCamera(true)
	default:
		log.Debug().Str("module", "client").Str("action", action).Msg("unknown media command")
	}
}

// enterRoom drops the previous room's links when the relay moved this
// endpoint to another room; the relay sends no member-left for that move.
func (s *Session) enterRoom(id domain.RoomID) {
	s.mu.Lock()
	prev := s.room
	s.mu.Unlock()
	if prev == "" || id == "" || prev == id {
		return
	}
	log.Info().Str("module", "client").Str("from", string(prev)).Str("to", string(id)).Msg("switched rooms")
	s.resetRoom()
}

func (s *Session) resetRoom() {
	s.mu.Lock()
	s.room, s.title, s.isHost, s.locked = "", "", false, false
	clear(s.members)
	s.waiting = nil
	orch := s.orch
	s.mu.Unlock()
	if orch != nil {
		orch.Reset()
	}
}

// SendEnvelope makes the session the orchestrator's Signaler.
func (s *Session) SendEnvelope(to domain.EndpointID, env domain.Envelope) error {
	return s.conn.Send(protocol.EnvelopeMessage(to, env))
}

func (s *Session) Join(room domain.RoomID, name, title string) error {
	return s.conn.Send(protocol.Message{Type: protocol.TypeJoin, RoomID: room, DisplayName: name, Title: title})
}

func (s *Session) Leave() error {
	err := s.conn.Send(protocol.Message{Type: protocol.TypeLeave})
	s.resetRoom()
	return err
}

func (s *Session) Chat(text string) error {
	return s.conn.Send(protocol.Message{Type: protocol.TypeChat, ChatText: text})
}

// HostAction sends one of the host command names, e.g. "mute-all" or
// "remove-participant" with a target.
func (s *Session) HostAction(action string, target domain.EndpointID) error {
	return s.conn.Send(protocol.Message{Type: protocol.TypeHostAction, Action: action, TargetID: target})
}

// ShareVideo swaps the outgoing video on every link and tells the room.
func (s *Session) ShareVideo(ctx context.Context, track peer.LocalTrack, sharing bool) error {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch == nil {
		return ErrNotReady
	}
	err := orch.ReplaceVideoTrack(ctx, track)
	if sendErr := s.conn.Send(protocol.Message{Type: protocol.TypeScreenShare, IsSharing: sharing}); sendErr != nil {
		return errors.Join(err, sendErr)
	}
	return err
}

func (s *Session) ID() domain.EndpointID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Orchestrator() *peer.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orch
}

type RoomView struct {
	ID      domain.RoomID
	Title   string
	IsHost  bool
	Locked  bool
	Members []domain.Participant
	Waiting []domain.WaitingEntry
}

func (s *Session) Room() RoomView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := RoomView{ID: s.room, Title: s.title, IsHost: s.isHost, Locked: s.locked}
	for _, p := range s.members {
		v.Members = append(v.Members, p)
	}
	sort.Slice(v.Members, func(i, j int) bool { return v.Members[i].ID < v.Members[j].ID })
	v.Waiting = append(v.Waiting, s.waiting...)
	return v
}
