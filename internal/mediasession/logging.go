package mediasession

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// slogFactory routes pion's internal logging into our slog logger so ICE and
// DTLS diagnostics land in the same stream as everything else.
type slogFactory struct {
	log *slog.Logger
}

func newLoggerFactory(log *slog.Logger) logging.LoggerFactory {
	return &slogFactory{log: log}
}

func (f *slogFactory) NewLogger(scope string) logging.LeveledLogger {
	return &slogLeveled{log: f.log.With("pion_scope", scope)}
}

type slogLeveled struct {
	log *slog.Logger
}

// Trace is noisier than anything we want in production output; it maps to
// debug alongside Debug.
func (l *slogLeveled) Trace(msg string)                  { l.log.Debug(msg) }
func (l *slogLeveled) Tracef(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l *slogLeveled) Debug(msg string)                  { l.log.Debug(msg) }
func (l *slogLeveled) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l *slogLeveled) Info(msg string)                   { l.log.Info(msg) }
func (l *slogLeveled) Infof(format string, args ...any)  { l.log.Info(fmt.Sprintf(format, args...)) }
func (l *slogLeveled) Warn(msg string)                   { l.log.Warn(msg) }
func (l *slogLeveled) Warnf(format string, args ...any)  { l.log.Warn(fmt.Sprintf(format, args...)) }
func (l *slogLeveled) Error(msg string)                  { l.log.Error(msg) }
func (l *slogLeveled) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
