package app

import (
	"sync"
	"testing"

	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	queue  []protocol.Message
	cap    int
	closed bool
}

func newFakeConn(capacity int) *fakeConn { return &fakeConn{cap: capacity} }

func (c *fakeConn) TrySend(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if len(c.queue) >= c.cap {
		return core.ErrBackpressure
	}
	c.queue = append(c.queue, m)
	return nil
}

func (c *fakeConn) DropPending(t protocol.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.queue[:0]
	n := 0
	for _, m := range c.queue {
		if m.Type == t {
			n++
			continue
		}
		kept = append(kept, m)
	}
	c.queue = kept
	return n
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.queue...)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type staticMembers map[domain.RoomID][]domain.EndpointID

func (s staticMembers) Members(id domain.RoomID) []domain.EndpointID { return s[id] }

func TestRelayDeliversInOrderPerDestination(t *testing.T) {
	relay := NewRelay(SimplePolicy{}, metrics.New())
	conn := newFakeConn(64)
	relay.Bind("bob", conn)

	for i := 0; i < 20; i++ {
		relay.Send("bob", protocol.Message{Type: protocol.TypeChat, Timestamp: int64(i)})
	}
	msgs := conn.messages()
	require.Len(t, msgs, 20)
	for i, m := range msgs {
		assert.Equal(t, int64(i), m.Timestamp)
	}
}

func TestRelayMissIsSilent(t *testing.T) {
	m := metrics.New()
	relay := NewRelay(SimplePolicy{}, m)

	relay.Send("ghost", protocol.Message{Type: protocol.TypePing})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryMisses))
	assert.False(t, relay.Connected("ghost"))
}

func TestRelayBroadcastExcludesSender(t *testing.T) {
	relay := NewRelay(SimplePolicy{}, metrics.New())
	relay.SetMembers(staticMembers{"r1": {"alice", "bob", "carol"}})
	conns := map[domain.EndpointID]*fakeConn{}
	for _, id := range []domain.EndpointID{"alice", "bob", "carol"} {
		conns[id] = newFakeConn(8)
		relay.Bind(id, conns[id])
	}

	relay.Broadcast("r1", protocol.Message{Type: protocol.TypeScreenShare, From: "alice"}, "alice")
	assert.Empty(t, conns["alice"].messages())
	assert.Len(t, conns["bob"].messages(), 1)
	assert.Len(t, conns["carol"].messages(), 1)
}

func TestRelayBackpressurePolicy(t *testing.T) {
	t.Run("drop", func(t *testing.T) {
		m := metrics.New()
		relay := NewRelay(PolicyByName("drop"), m)
		conn := newFakeConn(1)
		relay.Bind("bob", conn)

		relay.Send("bob", protocol.Message{Type: protocol.TypePong})
		relay.Send("bob", protocol.Message{Type: protocol.TypePong})
		assert.Len(t, conn.messages(), 1)
		assert.False(t, conn.isClosed())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Backpressure.WithLabelValues("drop")))
	})
	t.Run("disconnect", func(t *testing.T) {
		relay := NewRelay(PolicyByName("disconnect"), metrics.New())
		conn := newFakeConn(1)
		relay.Bind("bob", conn)

		relay.Send("bob", protocol.Message{Type: protocol.TypePong})
		relay.Send("bob", protocol.Message{Type: protocol.TypePong})
		assert.True(t, conn.isClosed())
	})
}

func TestRelayUnbindIgnoresStaleConnection(t *testing.T) {
	relay := NewRelay(SimplePolicy{}, metrics.New())
	old, cur := newFakeConn(1), newFakeConn(1)
	relay.Bind("bob", old)
	relay.Bind("bob", cur)

	relay.Unbind("bob", old)
	assert.True(t, relay.Connected("bob"))
	relay.Unbind("bob", cur)
	assert.False(t, relay.Connected("bob"))
}

func TestLeavingPurgesQueuedEnvelopes(t *testing.T) {
	m := metrics.New()
	relay := NewRelay(SimplePolicy{}, m)
	reg := NewRegistry(relay, m)
	relay.SetMembers(reg)

	alice, bob := newFakeConn(64), newFakeConn(64)
	relay.Bind("alice", alice)
	relay.Bind("bob", bob)
	_, _ = reg.Join("r1", "alice", "Alice", "")
	_, _ = reg.Join("r1", "bob", "Bob", "")

	ctl := NewControl(reg, relay)
	env := protocol.EnvelopeMessage("bob", domain.Envelope{Kind: domain.EnvelopeOffer, Body: []byte(`{}`)})
	require.NoError(t, ctl.RouteEnvelope("alice", env))
	require.NoError(t, ctl.RouteEnvelope("alice", env))

	require.NoError(t, reg.Leave("r1", "bob"))
	for _, msg := range bob.messages() {
		assert.NotEqual(t, protocol.TypeEnvelope, msg.Type)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EnvelopesPurged))

	// bob is gone from the room so further envelopes are misses
	require.NoError(t, ctl.RouteEnvelope("alice", env))
	for _, msg := range bob.messages() {
		assert.NotEqual(t, protocol.TypeEnvelope, msg.Type)
	}
}
