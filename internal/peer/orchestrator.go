package peer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Orchestrator owns the local endpoint's links, at most one per remote.
type Orchestrator struct {
	local    domain.EndpointID
	factory  TransportFactory
	signaler Signaler
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	links  map[domain.EndpointID]*link
	video  LocalTrack
	closed bool

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(local domain.EndpointID, factory TransportFactory, signaler Signaler, opts Options) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		local:    local,
		factory:  factory,
		signaler: signaler,
		opts:     opts.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		links:    make(map[domain.EndpointID]*link),
		subs:     make(map[int]chan Event),
	}
}

func (o *Orchestrator) LocalID() domain.EndpointID { return o.local }

// Subscribe returns a buffered event stream and the func that releases it.
// A subscriber that falls behind loses events rather than stalling links.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 256)
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subMu.Lock()
			if c, ok := o.subs[id]; ok {
				delete(o.subs, id)
				close(c)
			}
			o.subMu.Unlock()
		})
	}
}

func (o *Orchestrator) emit(ev Event) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "peer").Str("event", ev.Kind.String()).Msg("subscriber behind, event dropped")
		}
	}
}

// OnRoster creates an Initiator link to every listed member.
func (o *Orchestrator) OnRoster(roster []domain.Participant) {
	for _, p := range roster {
		if p.ID != o.local {
			o.EnsureLink(p.ID, Initiator)
		}
	}
}

// OnMemberJoined creates a Responder link; the newcomer sends the offer.
func (o *Orchestrator) OnMemberJoined(p domain.Participant) {
	if p.ID != o.local {
		o.EnsureLink(p.ID, Responder)
	}
}

func (o *Orchestrator) OnMemberLeft(remote domain.EndpointID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if l, ok := o.links[remote]; ok {
		o.closeLocked(l)
	}
}

// EnsureLink creates a link unless a live one exists and reports whether it
// did. A Recovering placeholder is replaced.
func (o *Orchestrator) EnsureLink(remote domain.EndpointID, role Role) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || remote == o.local {
		return false
	}
	recoveries := 0
	var carry []domain.Envelope
	if l, ok := o.links[remote]; ok {
		if !l.placeholder {
			return false
		}
		recoveries = l.recoveries
		carry = l.release()
	}
	o.createLocked(remote, role, recoveries, carry...)
	return true
}

// createLocked starts a link whose queue begins with carry.
func (o *Orchestrator) createLocked(remote domain.EndpointID, role Role, recoveries int, carry ...domain.Envelope) *link {
	l := newLink(o, remote, role, recoveries)
	ctx, cancel := context.WithCancel(o.ctx)
	l.cancel = cancel
	for _, env := range carry {
		l.queue.push(env)
	}
	if len(carry) > 0 {
		l.wake <- struct{}{}
	}
	o.links[remote] = l

	log.Info().Str("module", "peer").Str("remote", string(remote)).Str("role", role.String()).Int("recoveries", recoveries).Msg("link created")
	o.emit(Event{Kind: LinkCreated, Remote: remote, Role: role, State: Uninitialized})
	go l.run(ctx, o.video)
	return l
}

// closeLocked tears the link down. The link goroutine releases the
// transport as it exits.
func (o *Orchestrator) closeLocked(l *link) {
	if o.links[l.remote] == l {
		delete(o.links, l.remote)
	}
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.state = Closed
	l.queue.clear()
	role := l.role
	l.mu.Unlock()

	if l.placeholder {
		l.recoveryTimer.Stop()
	} else {
		l.cancel()
	}
	log.Info().Str("module", "peer").Str("remote", string(l.remote)).Msg("link closed")
	o.emit(Event{Kind: LinkClosed, Remote: l.remote, Role: role, State: Closed})
}

// HandleEnvelope queues an inbound envelope on the link for from, creating
// or replacing the link when needed.
func (o *Orchestrator) HandleEnvelope(from domain.EndpointID, env domain.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || from == o.local {
		return
	}

	l, ok := o.links[from]
	if !ok {
		o.createLocked(from, roleFor(env.Kind), 0, env)
		return
	}
	if l.placeholder {
		// a fresh offer supersedes whatever the placeholder carries; other
		// envelopes wait for the recreation the carried ones belong to
		if env.Kind != domain.EnvelopeOffer && l.carrying() {
			l.mu.Lock()
			l.queue.push(env)
			l.mu.Unlock()
			return
		}
		l.release()
		o.createLocked(from, roleFor(env.Kind), l.recoveries, env)
		return
	}

	l.mu.Lock()
	state, role := l.state, l.role
	l.mu.Unlock()

	if state == Connected && !env.Renegotiate {
		log.Debug().Str("module", "peer").Str("remote", string(from)).Str("kind", string(env.Kind)).Msg("connected, envelope discarded")
		return
	}
	if env.Kind == domain.EnvelopeOffer && !env.Renegotiate && role == Initiator && state != Connected {
		// both sides offered; the smaller id keeps the initiator role
		if o.local < from {
			log.Info().Str("module", "peer").Str("remote", string(from)).Msg("offer collision, keeping initiator role")
			return
		}
		log.Info().Str("module", "peer").Str("remote", string(from)).Dur("delay", o.opts.RecoveryDelay).Msg("offer collision, yielding as responder")
		l.mu.Lock()
		recoveries := l.recoveries
		l.mu.Unlock()
		o.closeLocked(l)
		o.placeholderLocked(from, Responder, recoveries, []domain.Envelope{env})
		o.emit(Event{Kind: LinkStateChanged, Remote: from, Role: Responder, State: Recovering})
		return
	}
	l.enqueue(env)
}

// linkFailed is called from a link goroutine that is about to exit.
func (o *Orchestrator) linkFailed(l *link, err error, env *domain.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.links[l.remote] != l {
		return
	}
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.state = Recovering
	role, recoveries := l.role, l.recoveries
	var carry []domain.Envelope
	if env != nil {
		carry = append(carry, *env)
	}
	for _, pending := range l.queue.take() {
		// an answer belongs to an offer the recreated transport never made
		if env == nil && pending.Kind == domain.EnvelopeAnswer {
			continue
		}
		carry = append(carry, pending)
	}
	l.mu.Unlock()

	logger := log.With().Str("module", "peer").Str("remote", string(l.remote)).Logger()
	if recoveries >= o.opts.MaxRecoveries {
		delete(o.links, l.remote)
		logger.Error().Err(err).Int("recoveries", recoveries).Msg("link failed, giving up")
		o.emit(Event{Kind: LinkFailed, Remote: l.remote, Role: role, State: Closed, Err: err})
		return
	}

	if env != nil {
		role = roleFor(env.Kind)
	}
	o.placeholderLocked(l.remote, role, recoveries+1, carry)

	logger.Warn().Err(err).Int("attempt", recoveries+1).Int("carried", len(carry)).Dur("delay", o.opts.RecoveryDelay).Msg("link failed, recovering")
	o.emit(Event{Kind: LinkStateChanged, Remote: l.remote, Role: role, State: Recovering, Err: err})
}

func (o *Orchestrator) recover(ph *link) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.links[ph.remote] != ph {
		log.Debug().Str("module", "peer").Str("remote", string(ph.remote)).Msg("recovery skipped, link replaced")
		return
	}
	o.createLocked(ph.remote, ph.role, ph.recoveries, ph.release()...)
}

// placeholderLocked parks remote as Recovering for RecoveryDelay. The
// carried envelopes are applied first by the link that replaces it.
func (o *Orchestrator) placeholderLocked(remote domain.EndpointID, role Role, recoveries int, carry []domain.Envelope) {
	ph := newPlaceholder(remote, role, recoveries)
	for _, env := range carry {
		ph.queue.push(env)
	}
	o.links[remote] = ph
	ph.recoveryTimer = time.AfterFunc(o.opts.RecoveryDelay, func() { o.recover(ph) })
}

// ReplaceVideoTrack makes track the outgoing video for every current and
// future link. Links are switched concurrently; per-link failures are
// joined and do not stop the others.
func (o *Orchestrator) ReplaceVideoTrack(ctx context.Context, track LocalTrack) error {
	o.mu.Lock()
	o.video = track
	live := make([]*link, 0, len(o.links))
	for _, l := range o.links {
		if !l.placeholder {
			live = append(live, l)
		}
	}
	o.mu.Unlock()

	p := pool.New().WithErrors()
	for _, l := range live {
		l := l // per-iteration copy; go directive is pre-1.22
		p.Go(func() error {
			err := l.exec(ctx, func(l *link) error { return l.replaceVideo(track) })
			if err == nil || errors.Is(err, ErrLinkClosed) {
				return nil
			}
			return fmt.Errorf("link %s: %w", l.remote, err)
		})
	}
	err := p.Wait()
	log.Info().Str("module", "peer").Str("track", track.ID()).Int("links", len(live)).AnErr("err", err).Msg("video track replaced")
	return err
}

func (o *Orchestrator) Link(remote domain.EndpointID) (LinkInfo, bool) {
	o.mu.Lock()
	l, ok := o.links[remote]
	o.mu.Unlock()
	if !ok {
		return LinkInfo{}, false
	}
	return l.info(), true
}

func (o *Orchestrator) Links() []LinkInfo {
	o.mu.Lock()
	ls := make([]*link, 0, len(o.links))
	for _, l := range o.links {
		ls = append(ls, l)
	}
	o.mu.Unlock()

	out := make([]LinkInfo, 0, len(ls))
	for _, l := range ls {
		out = append(out, l.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Remote < out[j].Remote })
	return out
}

// Reset closes every link, used when leaving a room.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.links {
		o.closeLocked(l)
	}
}

// Close is idempotent. It closes every link and every subscription.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	for _, l := range o.links {
		o.closeLocked(l)
	}
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	o.subMu.Lock()
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
	o.subMu.Unlock()
}
