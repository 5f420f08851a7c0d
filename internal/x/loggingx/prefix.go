// Package loggingx contains extensions to the dodeca logging package.
package loggingx

import (
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
)

// WithPrefix returns a logger that writes messages to target with a formatted
// prefix, such as "[partition 2] ".
//
// Prefixes nest, so a prefixed logger may itself be given a prefix.
func WithPrefix(target logging.Logger, f string, v ...any) logging.Logger {
	return prefixed{
		target: target,
		prefix: fmt.Sprintf(f, v...),
	}
}

type prefixed struct {
	target logging.Logger
	prefix string
}

func (l prefixed) Log(f string, v ...any) {
	l.target.LogString(l.prefix + fmt.Sprintf(f, v...))
}

func (l prefixed) LogString(s string) {
	l.target.LogString(l.prefix + s)
}

func (l prefixed) Debug(f string, v ...any) {
	if l.target.IsDebug() {
		l.target.DebugString(l.prefix + fmt.Sprintf(f, v...))
	}
}

func (l prefixed) DebugString(s string) {
	if l.target.IsDebug() {
		l.target.DebugString(l.prefix + s)
	}
}

func (l prefixed) IsDebug() bool {
	return l.target.IsDebug()
}
