package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{Loopback: true})
	require.NoError(t, err)
	return e
}

func vp8Track(t *testing.T, id string) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	tr, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, "local")
	require.NoError(t, err)
	return tr
}

type fakeTrack struct{}

func (fakeTrack) ID() string       { return "fake" }
func (fakeTrack) StreamID() string { return "fake" }

func TestAnswerWithoutLocalOfferIsInvalidState(t *testing.T) {
	c, err := newEngine(t).NewConnection("b", peer.Responder, nil, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	body, _ := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	err = c.Apply(context.Background(), domain.Envelope{Kind: domain.EnvelopeAnswer, Body: body})
	assert.ErrorIs(t, err, peer.ErrInvalidState)
}

func TestCandidateBeforeRemoteDescriptionIsHeld(t *testing.T) {
	c, err := newEngine(t).NewConnection("b", peer.Responder, nil, nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	body, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host"})
	require.NoError(t, c.Apply(context.Background(), domain.Envelope{Kind: domain.EnvelopeCandidate, Body: body}))
	c.mu.Lock()
	assert.Len(t, c.pending, 1)
	c.mu.Unlock()

	assert.Error(t, c.Apply(context.Background(), domain.Envelope{Kind: domain.EnvelopeCandidate, Body: []byte(`"nope"`)}))
}

func TestForeignTrackIsRejected(t *testing.T) {
	e := newEngine(t)
	_, err := e.NewConnection("b", peer.Initiator, nil, fakeTrack{})
	assert.ErrorIs(t, err, ErrNotRTPTrack)

	c, err := e.NewConnection("b", peer.Initiator, nil, nil)
	require.NoError(t, err)
	defer c.Close()
	assert.ErrorIs(t, c.ReplaceVideoTrack(fakeTrack{}), ErrNotRTPTrack)
}

func TestCloseEndsEventsAndIsIdempotent(t *testing.T) {
	c, err := newEngine(t).NewConnection("b", peer.Initiator, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	for range c.Events() {
	}
}

// wire relays envelopes between two connections, serialising calls on each
// side the way a link goroutine does.
type wired struct {
	mu        sync.Mutex
	c         *Connection
	connected chan struct{}
	offers    chan domain.Envelope
	once      sync.Once
}

func wire(t *testing.T, a, b *wired) {
	go func() {
		for ev := range a.c.Events() {
			switch ev.Kind {
			case peer.TransportEnvelope:
				if ev.Envelope.Kind == domain.EnvelopeOffer {
					select {
					case a.offers <- ev.Envelope:
					default:
					}
				}
				b.mu.Lock()
				err := b.c.Apply(context.Background(), ev.Envelope)
				b.mu.Unlock()
				if err != nil {
					t.Logf("apply %s: %v", ev.Envelope.Kind, err)
				}
			case peer.TransportConnected:
				a.once.Do(func() { close(a.connected) })
			}
		}
	}()
}

func TestLoopbackNegotiationAndTrackSwap(t *testing.T) {
	if testing.Short() {
		t.Skip("opens loopback sockets")
	}
	e := newEngine(t)
	camera := vp8Track(t, "camera")

	ca, err := e.NewConnection("b", peer.Initiator, nil, camera)
	require.NoError(t, err)
	cb, err := e.NewConnection("a", peer.Responder, nil, nil)
	require.NoError(t, err)
	defer ca.Close()
	defer cb.Close()

	a := &wired{c: ca, connected: make(chan struct{}), offers: make(chan domain.Envelope, 4)}
	b := &wired{c: cb, connected: make(chan struct{}), offers: make(chan domain.Envelope, 4)}
	wire(t, a, b)
	wire(t, b, a)

	b.mu.Lock()
	require.NoError(t, cb.Start(context.Background()))
	b.mu.Unlock()
	a.mu.Lock()
	require.NoError(t, ca.Start(context.Background()))
	a.mu.Unlock()

	for _, w := range []*wired{a, b} {
		select {
		case <-w.connected:
		case <-time.After(10 * time.Second):
			t.Fatal("not connected")
		}
	}
	first := <-a.offers
	assert.False(t, first.Renegotiate)

	a.mu.Lock()
	err = ca.ReplaceVideoTrack(vp8Track(t, "screen"))
	a.mu.Unlock()
	require.NoError(t, err)

	a.mu.Lock()
	err = ca.Renegotiate(vp8Track(t, "screen-2"))
	a.mu.Unlock()
	require.NoError(t, err)
	select {
	case env := <-a.offers:
		assert.True(t, env.Renegotiate)
	case <-time.After(5 * time.Second):
		t.Fatal("no renegotiation offer")
	}
}
