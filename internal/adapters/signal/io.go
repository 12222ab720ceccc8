package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer ticker.Stop()

	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("endpoint", string(c.id)).Msg("writePump ctx done")
			c.Close()
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("endpoint", string(c.id)).Msg("writePump ping")
				c.Close()
				return
			}
		case <-c.wake:
			for {
				msg, ok := c.next()
				if !ok {
					break
				}
				data, err := c.codec.Encode(msg)
				if err != nil {
					log.Error().Err(err).Str("module", "signal").Str("type", string(msg.Type)).Msg("writePump encode")
					continue
				}
				if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Cfg.WriteWait)); err != nil {
					log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
					c.Close()
					return
				}
				if err := c.conn.WriteMessage(frameType, data); err != nil {
					log.Error().Err(err).Str("module", "signal").Str("endpoint", string(c.id)).Msg("writePump write error")
					c.Close()
					return
				}
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("endpoint", string(c.id)).Str("browser", c.browser).Msg("readPump closing")
		ctl.Relay.Unbind(c.id, c)
		ctl.Registry.Disconnect(c.id)
		c.Close()
		cancel()
	}()

	pongWait := ctl.Cfg.PingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := newInboundLimiter(ctl.Cfg.RateLimit, ctl.Cfg.RateBurst)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("endpoint", string(c.id)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("endpoint", string(c.id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
			if !limiter.Allow() {
				ctl.Metrics.RateLimited.Inc()
				log.Warn().Str("module", "signal").Str("endpoint", string(c.id)).Msg("rate limited")
				continue
			}
			ctl.handleSignal(c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("endpoint", string(c.id)).Msg("bad frame")
		ctl.send(c, protocol.Denied("bad_payload", "", err.Error()))
		return
	}
	ctl.Metrics.MessagesIn.WithLabelValues(string(msg.Type)).Inc()

	switch msg.Type {
	case protocol.TypeJoin:
		ctl.handleJoin(c, msg)
	case protocol.TypeLeave:
		ctl.handleLeave(c)
	case protocol.TypePing:
		ctl.handlePing(c)
	case protocol.TypeEnvelope:
		ctl.handleEnvelope(c, msg)
	case protocol.TypeChat:
		ctl.handleChat(c, msg)
	case protocol.TypeScreenShare:
		ctl.handleScreenShare(c, msg)
	default:
		if cmd, target, ok := app.CommandOf(msg); ok {
			ctl.handleHostCommand(c, cmd, target)
			return
		}
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unknown signal")
		ctl.send(c, protocol.Denied("unknown_type", string(msg.Type), "Unsupported message type"))
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, msg protocol.Message) {
	if err := c.TrySend(msg); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("endpoint", string(c.id)).Msg("reply dropped")
	}
}

// reportError turns a failed operation into a denied reply.
func (ctl *SignalWSController) reportError(c *WsSignalConn, action string, err error) {
	var msg protocol.Message
	if d, ok := app.IsDenial(err); ok {
		msg = protocol.Denied(domain.DenialCode(err), action, d.Reason)
	} else if errors.Is(err, app.ErrUnknownCommand) {
		msg = protocol.Denied("unknown_command", action, err.Error())
	} else {
		msg = protocol.Denied("bad_payload", action, err.Error())
	}
	ctl.Metrics.Denials.WithLabelValues(msg.Code).Inc()
	log.Info().Str("module", "signal").Str("endpoint", string(c.id)).Str("action", action).Str("code", msg.Code).Msg("denied")
	ctl.send(c, msg)
}
