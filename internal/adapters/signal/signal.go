package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/metrics"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionNameKey holds the default display name stored by POST /api/profile.
const SessionNameKey = "displayName"

// BrowserKey names both the browser token cookie and the gin context key.
const BrowserKey = "huddle_browser"

type SignalWSController struct {
	Registry *app.Registry
	Relay    *app.Relay
	Control  *app.Control
	Metrics  *metrics.Metrics
	Cfg      *config.Config
}

func NewSignalWSController(reg *app.Registry, relay *app.Relay, ctl *app.Control, m *metrics.Metrics, cfg *config.Config) *SignalWSController {
	return &SignalWSController{Registry: reg, Relay: relay, Control: ctl, Metrics: m, Cfg: cfg}
}

// WsSignalConn is one endpoint's websocket plus its bounded outbound queue.
// A single writePump drains the queue, so delivery is FIFO.
type WsSignalConn struct {
	id    domain.EndpointID
	conn  *websocket.Conn
	codec protocol.Codec
	limit int

	// name used when a join carries no displayName
	defaultName string
	// browser token from the HTTP layer, empty for non-browser clients
	browser string

	mu     sync.Mutex
	queue  []protocol.Message
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func newWsSignalConn(id domain.EndpointID, ws *websocket.Conn, codec protocol.Codec, limit int) *WsSignalConn {
	return &WsSignalConn{
		id:    id,
		conn:  ws,
		codec: codec,
		limit: limit,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if len(c.queue) >= c.limit {
		return core.ErrBackpressure
	}
	c.queue = append(c.queue, m)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *WsSignalConn) DropPending(t protocol.Type) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.queue[:0]
	for _, m := range c.queue {
		if m.Type != t {
			kept = append(kept, m)
		}
	}
	n := len(c.queue) - len(kept)
	clear(c.queue[len(kept):])
	c.queue = kept
	return n
}

func (c *WsSignalConn) next() (protocol.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return protocol.Message{}, false
	}
	m := c.queue[0]
	c.queue[0] = protocol.Message{}
	c.queue = c.queue[1:]
	return m, true
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
	c.mu.Unlock()
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	codec, err := protocol.CodecByName(c.Query("codec"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defaultName, _ := sessions.Default(c).Get(SessionNameKey).(string)
	browser := c.GetString(BrowserKey)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.NewEndpointID()
	conn := newWsSignalConn(id, ws, codec, ctl.Cfg.SendQueue)
	conn.defaultName = defaultName
	conn.browser = browser
	log.Info().Str("module", "signal").Str("endpoint", string(id)).Str("browser", browser).Str("codec", codec.Name()).Msg("new WS connection")

	ctl.Relay.Bind(id, conn)
	name, _ := domain.NormalizeDisplayName(id, defaultName)
	_ = conn.TrySend(protocol.Message{Type: protocol.TypeWelcome, From: id, DisplayName: name})

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
