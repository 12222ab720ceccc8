// Package rtc implements peer.Transport on top of pion WebRTC.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotRTPTrack = errors.New("track is not a webrtc local track")

// RemoteMedia is a track received from the remote participant.
type RemoteMedia struct {
	Track    *webrtc.TrackRemote
	Receiver *webrtc.RTPReceiver
}

func (m RemoteMedia) ID() string { return m.Track.StreamID() }

// Connection is one PeerConnection to one remote. Outgoing envelopes and
// state changes are delivered through Events in the order they happened.
type Connection struct {
	remote domain.EndpointID
	role   peer.Role
	pc     *webrtc.PeerConnection
	logger zerolog.Logger

	audio webrtc.TrackLocal
	video webrtc.TrackLocal
	// sender for the outgoing video, owned by the link goroutine
	videoSender *webrtc.RTPSender

	mu sync.Mutex
	// remote candidates that arrived before the remote description
	pending []webrtc.ICECandidateInit
	// local candidates gathered before the first description went out
	outbox        []peer.TransportEvent
	described     bool
	connected     bool
	renegotiating bool
	backlog       []peer.TransportEvent
	closed        bool

	notify   chan struct{}
	done     chan struct{}
	pumpDone chan struct{}
	events   chan peer.TransportEvent
}

var _ peer.Transport = (*Connection)(nil)

func (e *Engine) NewConnection(remote domain.EndpointID, role peer.Role, audio webrtc.TrackLocal, video peer.LocalTrack) (*Connection, error) {
	var v webrtc.TrackLocal
	if video != nil {
		tl, ok := video.(webrtc.TrackLocal)
		if !ok {
			return nil, ErrNotRTPTrack
		}
		v = tl
	}
	pc, err := e.api.NewPeerConnection(e.config)
	if err != nil {
		return nil, err
	}
	c := &Connection{
		remote:   remote,
		role:     role,
		pc:       pc,
		logger:   log.With().Str("module", "rtc").Str("remote", string(remote)).Str("role", role.String()).Logger(),
		audio:    audio,
		video:    v,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		events:   make(chan peer.TransportEvent, 16),
	}
	go c.pump()
	return c, nil
}

func (c *Connection) Events() <-chan peer.TransportEvent { return c.events }

// emit never blocks, the link goroutine both produces and consumes events.
func (c *Connection) emit(evs ...peer.TransportEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.backlog = append(c.backlog, evs...)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Connection) pump() {
	defer close(c.pumpDone)
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}
		c.mu.Lock()
		batch := c.backlog
		c.backlog = nil
		c.mu.Unlock()
		for _, ev := range batch {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Connection) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			c.connected = true
			c.mu.Unlock()
			c.emit(peer.TransportEvent{Kind: peer.TransportConnected})
		case webrtc.PeerConnectionStateFailed:
			c.emit(peer.TransportEvent{Kind: peer.TransportFailed, Err: fmt.Errorf("peer connection %s", s)})
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		body, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("encode candidate")
			return
		}
		c.mu.Lock()
		ev := peer.TransportEvent{Kind: peer.TransportEnvelope, Envelope: domain.Envelope{
			Kind:        domain.EnvelopeCandidate,
			Body:        body,
			Renegotiate: c.connected || c.renegotiating,
		}}
		if !c.described {
			c.outbox = append(c.outbox, ev)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.emit(ev)
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.emit(peer.TransportEvent{Kind: peer.TransportRemoteStream, Stream: RemoteMedia{Track: track, Receiver: receiver}})
	})

	if c.audio != nil {
		sender, err := c.pc.AddTrack(c.audio)
		if err != nil {
			return fmt.Errorf("add audio: %w", err)
		}
		go c.readRTCP(sender)
	} else if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	if c.video != nil {
		sender, err := c.pc.AddTrack(c.video)
		if err != nil {
			return fmt.Errorf("add video: %w", err)
		}
		c.videoSender = sender
		go c.readRTCP(sender)
	} else {
		// keep a video sender around so a track can be attached later
		tr, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo)
		if err != nil {
			return fmt.Errorf("add video transceiver: %w", err)
		}
		c.videoSender = tr.Sender()
	}

	if c.role == peer.Initiator {
		return c.offer(false)
	}
	return nil
}

func (c *Connection) offer(renegotiate bool) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return c.describe(domain.EnvelopeOffer, *c.pc.LocalDescription(), renegotiate)
}

// describe emits a local description and releases the candidates that were
// gathered ahead of it.
func (c *Connection) describe(kind domain.EnvelopeKind, sd webrtc.SessionDescription, renegotiate bool) error {
	body, err := json.Marshal(sd)
	if err != nil {
		return err
	}
	c.emit(peer.TransportEvent{Kind: peer.TransportEnvelope, Envelope: domain.Envelope{Kind: kind, Body: body, Renegotiate: renegotiate}})

	c.mu.Lock()
	c.described = true
	held := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	c.emit(held...)
	return nil
}

func (c *Connection) Apply(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch env.Kind {
	case domain.EnvelopeOffer:
		return c.applyOffer(env)
	case domain.EnvelopeAnswer:
		return c.applyAnswer(env)
	case domain.EnvelopeCandidate:
		return c.applyCandidate(env)
	}
	return fmt.Errorf("unknown envelope kind %q", env.Kind)
}

func (c *Connection) applyOffer(env domain.Envelope) error {
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		return peer.ErrInvalidState
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Body, &sd); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if env.Renegotiate {
		c.mu.Lock()
		c.renegotiating = true
		c.mu.Unlock()
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	if err := c.flushCandidates(); err != nil {
		return err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return c.describe(domain.EnvelopeAnswer, *c.pc.LocalDescription(), env.Renegotiate)
}

func (c *Connection) applyAnswer(env domain.Envelope) error {
	if c.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return peer.ErrInvalidState
	}
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(env.Body, &sd); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	c.mu.Lock()
	c.renegotiating = false
	c.mu.Unlock()
	return c.flushCandidates()
}

func (c *Connection) applyCandidate(env domain.Envelope) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Body, &cand); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if c.pc.RemoteDescription() == nil {
		c.mu.Lock()
		c.pending = append(c.pending, cand)
		c.mu.Unlock()
		return nil
	}
	return c.pc.AddICECandidate(cand)
}

func (c *Connection) flushCandidates() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, cand := range pending {
		if err := c.pc.AddICECandidate(cand); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceVideoTrack swaps the outgoing video without renegotiation.
func (c *Connection) ReplaceVideoTrack(track peer.LocalTrack) error {
	tl, ok := track.(webrtc.TrackLocal)
	if !ok {
		return ErrNotRTPTrack
	}
	if c.videoSender == nil {
		c.video = tl
		return nil
	}
	err := c.videoSender.ReplaceTrack(tl)
	if errors.Is(err, webrtc.ErrUnsupportedCodec) {
		return peer.ErrReplaceUnsupported
	}
	if err != nil {
		return err
	}
	c.video = tl
	return nil
}

// Renegotiate swaps the video sender and offers again.
func (c *Connection) Renegotiate(track peer.LocalTrack) error {
	tl, ok := track.(webrtc.TrackLocal)
	if !ok {
		return ErrNotRTPTrack
	}
	if c.pc.SignalingState() != webrtc.SignalingStateStable {
		return peer.ErrInvalidState
	}
	if c.videoSender != nil {
		if err := c.pc.RemoveTrack(c.videoSender); err != nil {
			return fmt.Errorf("remove video: %w", err)
		}
	}
	sender, err := c.pc.AddTrack(tl)
	if err != nil {
		return fmt.Errorf("add video: %w", err)
	}
	c.videoSender = sender
	c.video = tl
	go c.readRTCP(sender)

	c.mu.Lock()
	c.renegotiating = true
	c.mu.Unlock()
	return c.offer(true)
}

// readRTCP drains the sender so the interceptors keep running.
func (c *Connection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	err := c.pc.Close()
	<-c.pumpDone
	close(c.events)
	if err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	return err
}
