package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ClientConfig drives huddlectl. Flags override HUDDLE_* env vars, which
// override the optional config file.
type ClientConfig struct {
	Server   string   `mapstructure:"server"`
	Room     string   `mapstructure:"room"`
	Name     string   `mapstructure:"name"`
	Title    string   `mapstructure:"title"`
	Codec    string   `mapstructure:"codec"`
	STUN     []string `mapstructure:"stun"`
	LogLevel string   `mapstructure:"log_level"`

	// UDP addresses that receive RTP for the local tracks
	AudioAddr  string `mapstructure:"audio_addr"`
	CameraAddr string `mapstructure:"camera_addr"`
	ScreenAddr string `mapstructure:"screen_addr"`

	SignalYield     time.Duration `mapstructure:"signal_yield"`
	StateRetryDelay time.Duration `mapstructure:"state_retry_delay"`
	MaxStateRetries int           `mapstructure:"max_state_retries"`
	RecoveryDelay   time.Duration `mapstructure:"recovery_delay"`
	MaxRecoveries   int           `mapstructure:"max_recoveries"`
}

// ClientFlags registers the flags understood by LoadClient.
func ClientFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a yaml config file")
	fs.String("server", "http://localhost:8080", "huddle server base url")
	fs.String("room", "", "room to join")
	fs.String("name", "", "display name")
	fs.String("title", "", "meeting title when creating the room")
	fs.String("codec", "json", "wire codec: json or msgpack")
	fs.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN server urls")
	fs.String("log-level", "info", "log level")
	fs.String("audio-addr", "", "udp address receiving opus RTP")
	fs.String("camera-addr", "", "udp address receiving camera VP8 RTP")
	fs.String("screen-addr", "", "udp address receiving screen VP8 RTP")
	fs.Duration("signal-yield", 200*time.Millisecond, "pause between queued negotiation envelopes")
	fs.Duration("state-retry-delay", time.Second, "retry delay for envelopes that arrive in the wrong state")
	fs.Int("max-state-retries", 3, "retries before such an envelope is dropped")
	fs.Duration("recovery-delay", 2*time.Second, "delay before a failed link is recreated")
	fs.Int("max-recoveries", 3, "recreations before a remote is given up")
}

func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v := newViper()
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
