package loggingx

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap adapts a zap logger to the logging.Logger interface.
//
// Messages are written at the info level, debug messages at the debug level.
type Zap struct {
	Target *zap.Logger
}

func (l Zap) Log(f string, v ...any) {
	l.Target.Info(fmt.Sprintf(f, v...))
}

func (l Zap) LogString(s string) {
	l.Target.Info(s)
}

func (l Zap) Debug(f string, v ...any) {
	if l.IsDebug() {
		l.Target.Debug(fmt.Sprintf(f, v...))
	}
}

func (l Zap) DebugString(s string) {
	l.Target.Debug(s)
}

func (l Zap) IsDebug() bool {
	return l.Target.Core().Enabled(zapcore.DebugLevel)
}
