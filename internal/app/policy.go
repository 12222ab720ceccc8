package app

import (
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

type BackpressureAction int

const (
	DropMessage BackpressureAction = iota
	KickMember
)

func (a BackpressureAction) String() string {
	if a == KickMember {
		return "disconnect"
	}
	return "drop"
}

// Policy decides what happens when an endpoint's outbound queue is full.
type Policy interface {
	OnBackPressure(to domain.EndpointID, msg protocol.Message) BackpressureAction
}

// SimplePolicy applies one action to every full queue.
type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.EndpointID, protocol.Message) BackpressureAction {
	return p.Action
}

// PolicyByName maps the relay.backpressure config value.
func PolicyByName(name string) Policy {
	if name == "disconnect" {
		return SimplePolicy{Action: KickMember}
	}
	return SimplePolicy{Action: DropMessage}
}
