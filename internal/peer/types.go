// Package peer keeps one negotiated transport link per remote participant
// and heals, renegotiates and tears those links down.
package peer

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

var (
	// ErrInvalidState is returned by a transport when an envelope cannot be
	// applied yet. The envelope is retried after StateRetryDelay.
	ErrInvalidState = errors.New("envelope not applicable in current state")
	// ErrReplaceUnsupported means the track cannot be swapped in place and
	// the link must renegotiate.
	ErrReplaceUnsupported = errors.New("in-place track replacement unsupported")
	ErrLinkClosed         = errors.New("link closed")
	errTransportGone      = errors.New("transport event stream ended")
)

type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Responder {
		return "responder"
	}
	return "initiator"
}

// roleFor derives the role of a link created by an inbound envelope.
func roleFor(kind domain.EnvelopeKind) Role {
	if kind == domain.EnvelopeOffer {
		return Responder
	}
	return Initiator
}

type State int

const (
	Uninitialized State = iota
	Negotiating
	Connected
	Recovering
	Closed
)

func (s State) String() string {
	switch s {
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Recovering:
		return "recovering"
	case Closed:
		return "closed"
	}
	return "uninitialized"
}

// LocalTrack is an outgoing media track that can be attached to links.
type LocalTrack interface {
	ID() string
	StreamID() string
}

// RemoteStream is media received from the remote participant.
type RemoteStream interface {
	ID() string
}

type TransportEventKind int

const (
	// TransportEnvelope carries a locally produced envelope for the remote.
	TransportEnvelope TransportEventKind = iota
	TransportConnected
	TransportRemoteStream
	TransportFailed
)

type TransportEvent struct {
	Kind     TransportEventKind
	Envelope domain.Envelope
	Stream   RemoteStream
	Err      error
}

// Transport is one media link to one remote. All methods are called from
// the link's own goroutine. Events must be closed by Close.
type Transport interface {
	// Start prepares the link. An Initiator produces its offer as an event.
	Start(ctx context.Context) error
	Apply(ctx context.Context, env domain.Envelope) error
	ReplaceVideoTrack(track LocalTrack) error
	// Renegotiate attaches track through a fresh offer flagged renegotiate.
	Renegotiate(track LocalTrack) error
	Events() <-chan TransportEvent
	Close() error
}

type TransportFactory func(remote domain.EndpointID, role Role, video LocalTrack) (Transport, error)

// Signaler carries locally produced envelopes to the relay.
type Signaler interface {
	SendEnvelope(to domain.EndpointID, env domain.Envelope) error
}

type Options struct {
	SignalYield     time.Duration
	StateRetryDelay time.Duration
	MaxStateRetries int
	RecoveryDelay   time.Duration
	MaxRecoveries   int
}

func DefaultOptions() Options {
	return Options{
		SignalYield:     200 * time.Millisecond,
		StateRetryDelay: time.Second,
		MaxStateRetries: 3,
		RecoveryDelay:   2 * time.Second,
		MaxRecoveries:   3,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SignalYield <= 0 {
		o.SignalYield = d.SignalYield
	}
	if o.StateRetryDelay <= 0 {
		o.StateRetryDelay = d.StateRetryDelay
	}
	if o.MaxStateRetries <= 0 {
		o.MaxStateRetries = d.MaxStateRetries
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = d.RecoveryDelay
	}
	if o.MaxRecoveries <= 0 {
		o.MaxRecoveries = d.MaxRecoveries
	}
	return o
}

type EventKind int

const (
	LinkCreated EventKind = iota
	LinkStateChanged
	LinkRemoteStream
	LinkClosed
	LinkFailed
)

func (k EventKind) String() string {
	switch k {
	case LinkCreated:
		return "created"
	case LinkStateChanged:
		return "state"
	case LinkRemoteStream:
		return "remote-stream"
	case LinkClosed:
		return "closed"
	case LinkFailed:
		return "failed"
	}
	return "unknown"
}

type Event struct {
	Kind   EventKind
	Remote domain.EndpointID
	Role   Role
	State  State
	Stream RemoteStream
	Err    error
}

// LinkInfo is a point-in-time view of a link.
type LinkInfo struct {
	Remote       domain.EndpointID
	Role         Role
	State        State
	Pending      int
	Recoveries   int
	VideoTrack   string
	RemoteStream RemoteStream
}
