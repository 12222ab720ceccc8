package core

import (
	"errors"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking. A full queue yields ErrBackpressure.
	TrySend(protocol.Message) error
	// DropPending discards queued, not yet written messages of the given type
	// and reports how many were removed.
	DropPending(protocol.Type) int
	Close()
}

// Notifier delivers one message to one endpoint without blocking the caller.
type Notifier interface {
	Send(to domain.EndpointID, msg protocol.Message)
}

// MemberLister resolves the current members of a room.
type MemberLister interface {
	Members(roomID domain.RoomID) []domain.EndpointID
}
