package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	// outbound queue length per endpoint
	SendQueue    int     `mapstructure:"send_queue"`
	Backpressure string  `mapstructure:"backpressure"` // drop | disconnect
	RateLimit    float64 `mapstructure:"rate_limit"`   // inbound frames per second, 0 disables
	RateBurst    int     `mapstructure:"rate_burst"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("secret", "huddle-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("send_queue", 256)
	v.SetDefault("backpressure", "disconnect")
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_burst", 100)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func Load() (*Config, error) {
	v := newViper()

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Backpressure: %s\n", cfg.Mode, cfg.Port, cfg.Backpressure)
	return cfg, nil
}

// Default returns the built-in configuration without reading files.
func Default() *Config {
	v := newViper()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SendQueue <= 0 {
		return nil, fmt.Errorf("send_queue must be positive, got %d", cfg.SendQueue)
	}
	if cfg.PingPeriod <= 0 || cfg.WriteWait <= 0 {
		return nil, fmt.Errorf("ping_period and write_wait must be positive")
	}
	return &cfg, nil
}
