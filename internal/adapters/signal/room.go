package signal

import (
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(c *WsSignalConn, msg protocol.Message) {
	roomID, err := domain.ParseRoomID(string(msg.RoomID))
	if err != nil {
		ctl.reportError(c, string(protocol.TypeJoin), err)
		return
	}
	name := msg.DisplayName
	if name == "" {
		name = c.defaultName
	}

	res, err := ctl.Registry.Join(roomID, c.id, name, msg.Title)
	if err != nil {
		ctl.reportError(c, string(protocol.TypeJoin), err)
		return
	}
	log.Info().Str("module", "signal").Str("endpoint", string(c.id)).Str("room", string(roomID)).Str("outcome", res.Outcome.String()).Msg("join")
}

// handleLeave: leaves the current room or waiting list, the connection stays open.
func (ctl *SignalWSController) handleLeave(c *WsSignalConn) {
	log.Info().Str("module", "signal").Str("endpoint", string(c.id)).Msg("leave")
	if err := ctl.Registry.Leave("", c.id); err != nil {
		ctl.reportError(c, string(protocol.TypeLeave), err)
	}
}
