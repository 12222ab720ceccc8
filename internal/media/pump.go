// Package media moves RTP from local sources onto outgoing tracks.
package media

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateOk State = iota
	StateMuted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateMuted:
		return "muted"
	case StateStopped:
		return "stopped"
	}
	return "ok"
}

var ErrStopped = errors.New("pump stopped")

type PacketSource interface {
	ReadRTP() (*rtp.Packet, error)
}

// PacketSink is satisfied by *webrtc.TrackLocalStaticRTP.
type PacketSink interface {
	WriteRTP(*rtp.Packet) error
}

// Pump forwards packets from one source to one sink. A muted pump keeps
// reading and discards what it reads.
type Pump struct {
	Name string
	src  PacketSource
	sink PacketSink

	state     atomic.Int32 // Zero by default (StateOk)
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

func NewPump(name string, src PacketSource, sink PacketSink) *Pump {
	return &Pump{Name: name, src: src, sink: sink}
}

func (p *Pump) State() State { return State(p.state.Load()) }

func (p *Pump) Mute() { p.state.CompareAndSwap(int32(StateOk), int32(StateMuted)) }

func (p *Pump) Unmute() { p.state.CompareAndSwap(int32(StateMuted), int32(StateOk)) }

func (p *Pump) Stop() { p.state.Store(int32(StateStopped)) }

func (p *Pump) Forwarded() uint64 { return p.forwarded.Load() }

func (p *Pump) Dropped() uint64 { return p.dropped.Load() }

// Run blocks until ctx is done, the pump is stopped or either end fails.
func (p *Pump) Run(ctx context.Context) error {
	logger := log.With().Str("module", "media").Str("pump", p.Name).Logger()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			logger.Info().Msg("pump ctx done")
			return ctx.Err()
		default:
		}
		pkt, err := p.src.ReadRTP()
		if err != nil {
			if p.State() == StateStopped {
				return ErrStopped
			}
			p.Stop()
			logger.Error().Err(err).Msg("read RTP error, stopping")
			return err
		}

		switch p.State() {
		case StateStopped:
			return ErrStopped
		case StateMuted:
			p.dropped.Add(1)
		case StateOk:
			if err := p.sink.WriteRTP(pkt); err != nil {
				p.Stop()
				logger.Error().Err(err).Msg("write RTP error, stopping")
				return err
			}
			p.forwarded.Add(1)
		}
	}
}
