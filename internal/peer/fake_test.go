package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

type testTrack struct{ id string }

func (t testTrack) ID() string       { return t.id }
func (t testTrack) StreamID() string { return "local" }

type testStream string

func (s testStream) ID() string { return string(s) }

type appliedEnv struct {
	env domain.Envelope
	at  time.Time
	err error
}

// fakeTransport models offer/answer state closely enough to exercise the
// orchestrator without a network.
type fakeTransport struct {
	local, remote domain.EndpointID
	role          Role
	events        chan TransportEvent

	failStart   error
	replaceErr  error
	autoConnect bool
	applyErr    func(domain.Envelope) error

	mu             sync.Mutex
	localOffer     bool
	remoteSet      bool
	applied        []appliedEnv
	video          LocalTrack
	renegotiations int
	closed         bool
}

func (f *fakeTransport) sendLocked(ev TransportEvent) {
	if !f.closed {
		f.events <- ev
	}
}

func (f *fakeTransport) Start(context.Context) error {
	if f.failStart != nil {
		return f.failStart
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.role == Initiator {
		f.localOffer = true
		f.sendLocked(TransportEvent{Kind: TransportEnvelope, Envelope: domain.Envelope{
			Kind: domain.EnvelopeOffer,
			Body: json.RawMessage(`{"sdp":"offer from ` + string(f.local) + `"}`),
		}})
	}
	return nil
}

func (f *fakeTransport) Apply(_ context.Context, env domain.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := f.apply(env)
	f.applied = append(f.applied, appliedEnv{env: env, at: time.Now(), err: err})
	return err
}

func (f *fakeTransport) apply(env domain.Envelope) error {
	if f.applyErr != nil {
		if err := f.applyErr(env); err != nil {
			return err
		}
	}
	switch env.Kind {
	case domain.EnvelopeOffer:
		if f.localOffer && !env.Renegotiate {
			return ErrInvalidState
		}
		f.remoteSet = true
		f.sendLocked(TransportEvent{Kind: TransportEnvelope, Envelope: domain.Envelope{
			Kind:        domain.EnvelopeAnswer,
			Body:        json.RawMessage(`{"sdp":"answer"}`),
			Renegotiate: env.Renegotiate,
		}})
		if !env.Renegotiate && f.autoConnect {
			f.sendLocked(TransportEvent{Kind: TransportConnected})
			f.sendLocked(TransportEvent{Kind: TransportRemoteStream, Stream: testStream("stream-" + string(f.remote))})
		}
	case domain.EnvelopeAnswer:
		if !f.localOffer {
			return ErrInvalidState
		}
		f.localOffer = false
		f.remoteSet = true
		if !env.Renegotiate && f.autoConnect {
			f.sendLocked(TransportEvent{Kind: TransportConnected})
		}
	case domain.EnvelopeCandidate:
		if !f.remoteSet {
			return ErrInvalidState
		}
	}
	return nil
}

func (f *fakeTransport) ReplaceVideoTrack(track LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.video = track
	return nil
}

func (f *fakeTransport) Renegotiate(track LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = track
	f.renegotiations++
	f.localOffer = true
	f.sendLocked(TransportEvent{Kind: TransportEnvelope, Envelope: domain.Envelope{
		Kind:        domain.EnvelopeOffer,
		Body:        json.RawMessage(`{"sdp":"renegotiate"}`),
		Renegotiate: true,
	}})
	return nil
}

func (f *fakeTransport) Events() <-chan TransportEvent { return f.events }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendLocked(TransportEvent{Kind: TransportFailed, Err: err})
}

func (f *fakeTransport) connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendLocked(TransportEvent{Kind: TransportConnected})
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) appliedList() []appliedEnv {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appliedEnv(nil), f.applied...)
}

func (f *fakeTransport) videoID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.video == nil {
		return ""
	}
	return f.video.ID()
}

type pair struct{ local, remote domain.EndpointID }

// fakeNet builds fake transports and remembers every one it made.
type fakeNet struct {
	mu      sync.Mutex
	created map[pair][]*fakeTransport
	setup   func(*fakeTransport)
}

func newFakeNet() *fakeNet {
	return &fakeNet{created: make(map[pair][]*fakeTransport)}
}

func (n *fakeNet) factory(local domain.EndpointID) TransportFactory {
	return func(remote domain.EndpointID, role Role, video LocalTrack) (Transport, error) {
		ft := &fakeTransport{
			local:       local,
			remote:      remote,
			role:        role,
			video:       video,
			autoConnect: true,
			events:      make(chan TransportEvent, 64),
		}
		n.mu.Lock()
		if n.setup != nil {
			n.setup(ft)
		}
		n.created[pair{local, remote}] = append(n.created[pair{local, remote}], ft)
		n.mu.Unlock()
		return ft, nil
	}
}

func (n *fakeNet) count(local, remote domain.EndpointID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.created[pair{local, remote}])
}

func (n *fakeNet) latest(local, remote domain.EndpointID) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts := n.created[pair{local, remote}]
	if len(ts) == 0 {
		return nil
	}
	return ts[len(ts)-1]
}

func (n *fakeNet) all(local, remote domain.EndpointID) []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeTransport(nil), n.created[pair{local, remote}]...)
}

type sent struct {
	to  domain.EndpointID
	env domain.Envelope
}

// hub stands in for the relay between in-process orchestrators. While
// paused it holds envelopes and delivers them in order on release.
type hub struct {
	mu     sync.Mutex
	nodes  map[domain.EndpointID]*Orchestrator
	paused bool
	held   []func()
}

func newHub() *hub { return &hub{nodes: make(map[domain.EndpointID]*Orchestrator)} }

func (h *hub) add(o *Orchestrator) {
	h.mu.Lock()
	h.nodes[o.LocalID()] = o
	h.mu.Unlock()
}

func (h *hub) pause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

func (h *hub) release() {
	h.mu.Lock()
	held := h.held
	h.held = nil
	h.paused = false
	h.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

type hubSignaler struct {
	h    *hub
	from domain.EndpointID
}

func (s hubSignaler) SendEnvelope(to domain.EndpointID, env domain.Envelope) error {
	s.h.mu.Lock()
	o := s.h.nodes[to]
	deliver := func() {
		if o != nil {
			o.HandleEnvelope(s.from, env)
		}
	}
	if s.h.paused {
		s.h.held = append(s.h.held, deliver)
		s.h.mu.Unlock()
		return nil
	}
	s.h.mu.Unlock()
	deliver()
	return nil
}

type sinkSignaler struct {
	mu   sync.Mutex
	sent []sent
}

func (s *sinkSignaler) SendEnvelope(to domain.EndpointID, env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{to: to, env: env})
	return nil
}

func (s *sinkSignaler) list() []sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sent(nil), s.sent...)
}

func fastOptions() Options {
	return Options{
		SignalYield:     5 * time.Millisecond,
		StateRetryDelay: 10 * time.Millisecond,
		MaxStateRetries: 3,
		RecoveryDelay:   20 * time.Millisecond,
		MaxRecoveries:   3,
	}
}

func newMeshNode(h *hub, n *fakeNet, id domain.EndpointID, opts Options) *Orchestrator {
	o := New(id, n.factory(id), hubSignaler{h: h, from: id}, opts)
	h.add(o)
	return o
}
