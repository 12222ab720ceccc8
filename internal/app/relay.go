package app

import (
	"errors"
	"sync"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Relay is the connection directory. It delivers messages to connected
// endpoints and never buffers for absent ones.
type Relay struct {
	mu    sync.RWMutex
	conns map[domain.EndpointID]core.SignalConnection

	members core.MemberLister
	policy  Policy
	metrics *metrics.Metrics
}

func NewRelay(policy Policy, m *metrics.Metrics) *Relay {
	return &Relay{
		conns:   make(map[domain.EndpointID]core.SignalConnection),
		policy:  policy,
		metrics: m,
	}
}

// SetMembers wires the room directory used by Broadcast. The registry and
// relay reference each other so this happens after both are built.
func (r *Relay) SetMembers(ml core.MemberLister) { r.members = ml }

func (r *Relay) Bind(id domain.EndpointID, conn core.SignalConnection) {
	r.mu.Lock()
	r.conns[id] = conn
	r.mu.Unlock()
	r.metrics.Connections.Inc()
	log.Info().Str("module", "app.relay").Str("endpoint", string(id)).Msg("bound connection")
}

// Unbind forgets the endpoint if conn is still the one bound to it.
func (r *Relay) Unbind(id domain.EndpointID, conn core.SignalConnection) {
	r.mu.Lock()
	cur, ok := r.conns[id]
	if ok && cur == conn {
		delete(r.conns, id)
	}
	r.mu.Unlock()
	if ok && cur == conn {
		r.metrics.Connections.Dec()
		log.Info().Str("module", "app.relay").Str("endpoint", string(id)).Msg("unbound connection")
	}
}

func (r *Relay) Connected(id domain.EndpointID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// Send never blocks. A missing endpoint is a silent delivery miss.
func (r *Relay) Send(to domain.EndpointID, msg protocol.Message) {
	r.mu.RLock()
	conn, ok := r.conns[to]
	r.mu.RUnlock()
	if !ok {
		r.metrics.DeliveryMisses.Inc()
		log.Debug().Str("module", "app.relay").Str("to", string(to)).Str("type", string(msg.Type)).Msg("delivery miss")
		return
	}

	err := conn.TrySend(msg)
	switch {
	case err == nil:
		r.metrics.MessagesOut.Inc()
	case errors.Is(err, core.ErrBackpressure):
		action := r.policy.OnBackPressure(to, msg)
		r.metrics.Backpressure.WithLabelValues(action.String()).Inc()
		log.Warn().Str("module", "app.relay").Str("to", string(to)).Str("type", string(msg.Type)).Str("action", action.String()).Msg("outbound queue full")
		if action == KickMember {
			conn.Close()
		}
	default:
		r.metrics.DeliveryMisses.Inc()
		log.Debug().Err(err).Str("module", "app.relay").Str("to", string(to)).Msg("send failed")
	}
}

// Broadcast delivers msg to every current member of the room except exclude.
func (r *Relay) Broadcast(roomID domain.RoomID, msg protocol.Message, exclude domain.EndpointID) {
	for _, id := range r.members.Members(roomID) {
		if id != exclude {
			r.Send(id, msg)
		}
	}
}

// CancelPending drops negotiation envelopes still queued for the endpoint.
func (r *Relay) CancelPending(id domain.EndpointID) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if n := conn.DropPending(protocol.TypeEnvelope); n > 0 {
		r.metrics.EnvelopesPurged.Add(float64(n))
		log.Debug().Str("module", "app.relay").Str("endpoint", string(id)).Int("dropped", n).Msg("purged pending envelopes")
	}
}
