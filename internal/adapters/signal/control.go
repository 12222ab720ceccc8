package signal

import (
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
)

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.send(c, protocol.Message{Type: protocol.TypePong})
}

func (ctl *SignalWSController) handleHostCommand(c *WsSignalConn, cmd app.Command, target domain.EndpointID) {
	if err := ctl.Control.Execute(c.id, cmd, target); err != nil {
		ctl.reportError(c, string(cmd), err)
	}
}
