// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxEndpointIDLen  = 36
	MaxDisplayNameLen = 36
	MaxRoomIDLen      = 64
	MaxTitleLen       = 120
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrRoomIDEmpty        = errors.New("room id empty")
	ErrRoomIDTooLong      = errors.New("room id too long")
	ErrTitleTooLong       = errors.New("title too long")
)

// EndpointID identifies one connected participant for the lifetime of a
// single connection. It is never reused across reconnects.
type EndpointID string

func NewEndpointID() EndpointID { return EndpointID(uuid.NewString()) }

// Short is the six character prefix used for default names and logs.
func (id EndpointID) Short() string {
	s := string(id)
	if len(s) > 6 {
		return s[:6]
	}
	return s
}

// DefaultDisplayName is used when a joiner does not provide a name.
func DefaultDisplayName(id EndpointID) string {
	return fmt.Sprintf("User-%s", id.Short())
}

// NormalizeDisplayName trims the name and falls back to the default one.
func NormalizeDisplayName(id EndpointID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultDisplayName(id), nil
	}
	if len(name) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return name, nil
}

// Participant is the public view of a room member.
type Participant struct {
	ID          EndpointID `json:"id" msgpack:"id"`
	DisplayName string     `json:"displayName" msgpack:"displayName"`
	IsHost      bool       `json:"isHost" msgpack:"isHost"`
}
