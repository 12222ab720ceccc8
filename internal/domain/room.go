package domain

import (
	"strings"
	"time"
)

type RoomID string

// ParseRoomID validates a client supplied room identifier.
func ParseRoomID(raw string) (RoomID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomIDEmpty
	}
	if len(raw) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(raw), nil
}

// Room is the metadata of a meeting. The host never changes while the
// room exists.
type Room struct {
	ID        RoomID
	Title     string
	CreatedAt time.Time
	HostID    EndpointID
	Locked    bool
}

// WaitingEntry is a would-be joiner held back by a locked room.
type WaitingEntry struct {
	ID          EndpointID `json:"id" msgpack:"id"`
	DisplayName string     `json:"displayName" msgpack:"displayName"`
	JoinedAt    int64      `json:"joinedAt" msgpack:"joinedAt"` // unix millis
}

// RoomSnapshot is a read-only copy of a room handed out by the registry.
type RoomSnapshot struct {
	Room
	Members []Participant
	Waiting []WaitingEntry
}

// RoomInfo is the list view used by the REST API.
type RoomInfo struct {
	ID          RoomID    `json:"id"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	Locked      bool      `json:"locked"`
	MemberCount int       `json:"memberCount"`
	Waiting     int       `json:"waiting"`
}
