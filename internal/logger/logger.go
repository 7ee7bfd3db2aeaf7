package logger

import (
	"io"
	"os"

	cmtlog "github.com/cometbft/cometbft/libs/log"
)

// Logger is the key/value logger passed to every component.
type Logger = cmtlog.Logger

// New creates a logger writing to stderr
func New(debug bool) Logger {
	return NewWithWriter(debug, os.Stderr)
}

// NewWithWriter creates a logger writing to w. Debug lines are only emitted when
// debug is set; info and errors are always written.
func NewWithWriter(debug bool, w io.Writer) Logger {
	l := cmtlog.NewTMLogger(cmtlog.NewSyncWriter(w))
	if debug {
		return cmtlog.NewFilter(l, cmtlog.AllowDebug())
	}
	return cmtlog.NewFilter(l, cmtlog.AllowInfo())
}

// Nop discards everything
func Nop() Logger {
	return cmtlog.NewNopLogger()
}
