package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type phase int

const (
	phaseIdle phase = iota
	// an envelope is being applied or the queue drain is pausing between two
	phaseApplying
)

type linkCmd struct {
	fn   func(l *link) error
	done chan error
}

// link is one remote's connection. Everything touching its transport runs
// on the link's own goroutine; the mutex only guards the fields read from
// outside.
type link struct {
	remote domain.EndpointID
	orch   *Orchestrator
	logger zerolog.Logger

	mu           sync.Mutex
	role         Role
	state        State
	phase        phase
	queue        envelopeQueue
	recoveries   int
	videoTrack   string
	remoteStream RemoteStream
	transport    Transport

	// placeholder links stand in for a Recovering remote. They have no
	// transport and no goroutine.
	placeholder   bool
	recoveryTimer *time.Timer

	wake   chan struct{}
	cmds   chan linkCmd
	cancel context.CancelFunc
	done   chan struct{}
}

func newLink(o *Orchestrator, remote domain.EndpointID, role Role, recoveries int) *link {
	return &link{
		remote:     remote,
		orch:       o,
		logger:     log.With().Str("module", "peer.link").Str("remote", string(remote)).Logger(),
		role:       role,
		state:      Uninitialized,
		recoveries: recoveries,
		wake:       make(chan struct{}, 1),
		cmds:       make(chan linkCmd),
		done:       make(chan struct{}),
	}
}

func newPlaceholder(remote domain.EndpointID, role Role, recoveries int) *link {
	return &link{
		remote:      remote,
		role:        role,
		state:       Recovering,
		recoveries:  recoveries,
		placeholder: true,
	}
}

// release stops a placeholder's timer and hands over what it carried.
func (l *link) release() []domain.Envelope {
	l.recoveryTimer.Stop()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.take()
}

func (l *link) carrying() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.len() > 0
}

func (l *link) info() LinkInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkInfo{
		Remote:       l.remote,
		Role:         l.role,
		State:        l.state,
		Pending:      l.queue.len(),
		Recoveries:   l.recoveries,
		VideoTrack:   l.videoTrack,
		RemoteStream: l.remoteStream,
	}
}

func (l *link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// setState never leaves Closed.
func (l *link) setState(s State) bool {
	l.mu.Lock()
	if l.state == Closed || l.state == s {
		l.mu.Unlock()
		return false
	}
	l.state = s
	if s == Connected {
		l.recoveries = 0
	}
	role := l.role
	l.mu.Unlock()

	l.logger.Info().Str("state", s.String()).Msg("link state")
	l.orch.emit(Event{Kind: LinkStateChanged, Remote: l.remote, Role: role, State: s})
	return true
}

func (l *link) enqueue(env domain.Envelope) {
	l.mu.Lock()
	l.queue.push(env)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// exec runs fn on the link goroutine and waits for its result.
func (l *link) exec(ctx context.Context, fn func(l *link) error) error {
	if l.placeholder {
		return ErrLinkClosed
	}
	cmd := linkCmd{fn: fn, done: make(chan error, 1)}
	select {
	case l.cmds <- cmd:
	case <-l.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-l.done:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *link) run(ctx context.Context, video LocalTrack) {
	defer close(l.done)

	t, err := l.orch.factory(l.remote, l.role, video)
	if err != nil {
		l.orch.linkFailed(l, err, nil)
		return
	}
	l.mu.Lock()
	l.transport = t
	if video != nil {
		l.videoTrack = video.ID()
	}
	l.mu.Unlock()
	defer func() {
		if err := t.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("transport close")
		}
	}()

	if err := t.Start(ctx); err != nil {
		if ctx.Err() == nil {
			l.orch.linkFailed(l, err, nil)
		}
		return
	}
	l.setState(Negotiating)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	schedule := func(d time.Duration) {
		if d <= 0 {
			timerC = nil
			return
		}
		timer = time.NewTimer(d)
		timerC = timer.C
	}

	events := t.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
			if timerC != nil {
				// drain already scheduled
				continue
			}
			d, env, err := l.step(ctx)
			if err != nil {
				if ctx.Err() == nil {
					l.orch.linkFailed(l, err, env)
				}
				return
			}
			schedule(d)
		case <-timerC:
			timerC = nil
			d, env, err := l.step(ctx)
			if err != nil {
				if ctx.Err() == nil {
					l.orch.linkFailed(l, err, env)
				}
				return
			}
			schedule(d)
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					l.orch.linkFailed(l, errTransportGone, nil)
				}
				return
			}
			if !l.handleEvent(ev) {
				return
			}
		case cmd := <-l.cmds:
			cmd.done <- cmd.fn(l)
		}
	}
}

// step applies the head of the queue and returns how long to wait before
// the next one. A non-nil error is a transport failure.
func (l *link) step(ctx context.Context) (time.Duration, *domain.Envelope, error) {
	l.mu.Lock()
	var it queued
	for {
		var ok bool
		it, ok = l.queue.pop()
		if !ok {
			l.phase = phaseIdle
			l.mu.Unlock()
			return 0, nil, nil
		}
		if l.state == Connected && !it.env.Renegotiate {
			l.logger.Debug().Str("kind", string(it.env.Kind)).Msg("discarding envelope on connected link")
			continue
		}
		break
	}
	l.phase = phaseApplying
	t := l.transport
	l.mu.Unlock()

	err := t.Apply(ctx, it.env)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidState):
		it.attempts++
		if it.attempts > l.orch.opts.MaxStateRetries {
			l.logger.Warn().Err(err).Str("kind", string(it.env.Kind)).Int("attempts", it.attempts).Msg("dropping envelope")
			break
		}
		l.logger.Debug().Err(err).Str("kind", string(it.env.Kind)).Int("attempts", it.attempts).Msg("envelope deferred")
		l.mu.Lock()
		l.queue.requeue(it)
		l.mu.Unlock()
		return l.orch.opts.StateRetryDelay, nil, nil
	default:
		env := it.env
		return 0, &env, err
	}

	l.mu.Lock()
	more := l.queue.len() > 0
	if !more {
		l.phase = phaseIdle
	}
	l.mu.Unlock()
	if more {
		return l.orch.opts.SignalYield, nil, nil
	}
	return 0, nil, nil
}

// handleEvent reports false when the link goroutine must stop.
func (l *link) handleEvent(ev TransportEvent) bool {
	switch ev.Kind {
	case TransportEnvelope:
		if err := l.orch.signaler.SendEnvelope(l.remote, ev.Envelope); err != nil {
			l.logger.Warn().Err(err).Str("kind", string(ev.Envelope.Kind)).Msg("send envelope")
		}
	case TransportConnected:
		l.setState(Connected)
	case TransportRemoteStream:
		l.mu.Lock()
		l.remoteStream = ev.Stream
		role := l.role
		l.mu.Unlock()
		l.orch.emit(Event{Kind: LinkRemoteStream, Remote: l.remote, Role: role, State: l.State(), Stream: ev.Stream})
	case TransportFailed:
		l.orch.linkFailed(l, ev.Err, nil)
		return false
	}
	return true
}

// replaceVideo swaps the outgoing video in place, renegotiating connected
// links whose transport cannot.
func (l *link) replaceVideo(track LocalTrack) error {
	l.mu.Lock()
	t := l.transport
	l.mu.Unlock()
	if t == nil {
		return ErrLinkClosed
	}

	err := t.ReplaceVideoTrack(track)
	if errors.Is(err, ErrReplaceUnsupported) && l.State() == Connected {
		l.logger.Info().Str("track", track.ID()).Msg("renegotiating for track change")
		err = t.Renegotiate(track)
	}
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.videoTrack = track.ID()
	l.mu.Unlock()
	return nil
}
