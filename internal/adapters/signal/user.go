package signal

import (
	"github.com/dkeye/Huddle/internal/protocol"
)

func (ctl *SignalWSController) handleEnvelope(c *WsSignalConn, msg protocol.Message) {
	if err := ctl.Control.RouteEnvelope(c.id, msg); err != nil {
		ctl.reportError(c, string(protocol.TypeEnvelope), err)
	}
}

func (ctl *SignalWSController) handleChat(c *WsSignalConn, msg protocol.Message) {
	if err := ctl.Control.Chat(c.id, msg.ChatText); err != nil {
		ctl.reportError(c, string(protocol.TypeChat), err)
	}
}

func (ctl *SignalWSController) handleScreenShare(c *WsSignalConn, msg protocol.Message) {
	if err := ctl.Control.ScreenShare(c.id, msg.IsSharing); err != nil {
		ctl.reportError(c, string(protocol.TypeScreenShare), err)
	}
}
