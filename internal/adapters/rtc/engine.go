package rtc

import (
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/logging"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type EngineConfig struct {
	STUN []string

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAlive           time.Duration

	// Loopback gathers host candidates on the loopback interface only.
	Loopback bool
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		STUN:                []string{"stun:stun.l.google.com:19302"},
		DisconnectedTimeout: 10 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAlive:           2 * time.Second,
	}
}

// Engine builds peer connections that share one pion API.
type Engine struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.NewPionFactory()}
	if cfg.DisconnectedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAlive)
	}
	if cfg.Loopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
		se.SetInterfaceFilter(func(name string) bool { return name == "lo" || name == "lo0" })
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	if len(cfg.STUN) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: cfg.STUN})
	}
	return &Engine{api: api, config: webrtc.Configuration{ICEServers: servers}}, nil
}

// Factory returns a peer.TransportFactory whose links all carry audio.
// audio may be nil for a receive-only participant.
func (e *Engine) Factory(audio webrtc.TrackLocal) peer.TransportFactory {
	return func(remote domain.EndpointID, role peer.Role, video peer.LocalTrack) (peer.Transport, error) {
		return e.NewConnection(remote, role, audio, video)
	}
}
