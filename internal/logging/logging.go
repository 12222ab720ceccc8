// Package logging configures the global zerolog logger and adapts it for
// pion's internal logging.
package logging

import (
	"io"
	"os"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global logger. Release mode writes JSON, anything else
// a human-friendly console.
func Setup(mode, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	var out io.Writer = os.Stderr
	if mode != "release" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}
	log.Logger = log.Output(out)

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// PionFactory routes pion logs into zerolog with the scope as module.
type PionFactory struct {
	Logger zerolog.Logger
}

var _ logging.LoggerFactory = PionFactory{}

func NewPionFactory() PionFactory {
	return PionFactory{Logger: log.Logger}
}

func (f PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{l: f.Logger.With().Str("module", "pion."+scope).Logger()}
}

type pionLogger struct {
	l zerolog.Logger
}

// pion is chatty at trace and debug, both go to zerolog trace.
func (p pionLogger) Trace(msg string) { p.l.Trace().Msg(msg) }
func (p pionLogger) Tracef(format string, a ...any) { p.l.Trace().Msgf(format, a...) }
func (p pionLogger) Debug(msg string) { p.l.Trace().Msg(msg) }
func (p pionLogger) Debugf(format string, a ...any) { p.l.Trace().Msgf(format, a...) }
func (p pionLogger) Info(msg string) { p.l.Debug().Msg(msg) }
func (p pionLogger) Infof(format string, a ...any) { p.l.Debug().Msgf(format, a...) }
func (p pionLogger) Warn(msg string) { p.l.Warn().Msg(msg) }
func (p pionLogger) Warnf(format string, a ...any) { p.l.Warn().Msgf(format, a...) }
func (p pionLogger) Error(msg string) { p.l.Error().Msg(msg) }
func (p pionLogger) Errorf(format string, a ...any) { p.l.Error().Msgf(format, a...) }
