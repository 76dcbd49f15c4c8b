package popen

import (
	golog "github.com/jhunt/go-log"
)

// Logger is the diagnostic sink accepted by Options.Logger. Debug,
// Info, Warn, and Error are required; the rest are detected with a
// capability probe (see InitLogger and ChunkLogger) and called only when
// present, so a caller who only wants the four basics never has to
// implement the per-chunk hooks.
type Logger interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// InitLogger is the optional capability a Logger may implement to be
// told, once per channel open, what is about to run.
type InitLogger interface {
	Init(host, cmdline string, env map[string]string, pty bool)
}

// ChunkLogger is the optional capability a Logger may implement to see
// each chunk of stdin/stdout/stderr as it crosses the pipe.
type ChunkLogger interface {
	Stdin(b []byte)
	Stdout(b []byte)
	Stderr(b []byte)
}

func logInit(l Logger, host, cmdline string, env map[string]string, pty bool) {
	if l == nil {
		return
	}
	if il, ok := l.(InitLogger); ok {
		il.Init(host, cmdline, env, pty)
	}
}

func logStdin(l Logger, b []byte) {
	if l == nil {
		return
	}
	if cl, ok := l.(ChunkLogger); ok {
		cl.Stdin(b)
	}
}

func logStdout(l Logger, b []byte) {
	if l == nil {
		return
	}
	if cl, ok := l.(ChunkLogger); ok {
		cl.Stdout(b)
	}
}

func logStderr(l Logger, b []byte) {
	if l == nil {
		return
	}
	if cl, ok := l.(ChunkLogger); ok {
		cl.Stderr(b)
	}
}

// nopLogger discards everything. Used whenever Options.Logger is nil,
// so the rest of the package never has to nil-check before logging.
type nopLogger struct{}

func (nopLogger) Debug(string) {}
func (nopLogger) Info(string)  {}
func (nopLogger) Warn(string)  {}
func (nopLogger) Error(string) {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// GoLogAdapter wraps github.com/jhunt/go-log's package-level logger so
// it can be handed in as an Options.Logger. This is the adapter
// cmd/popen uses, wired the same way cmd/sfab/main.go sets up
// go-log for the rest of the sFAB tooling.
type GoLogAdapter struct {
	// Component tags every message the way connection.go's
	// "[hub] ..." prefixes do, e.g. "popen".
	Component string
}

func (a GoLogAdapter) prefix() string {
	if a.Component == "" {
		return ""
	}
	return "[" + a.Component + "] "
}

func (a GoLogAdapter) Debug(msg string) { golog.Debugf("%s%s", a.prefix(), msg) }
func (a GoLogAdapter) Info(msg string)  { golog.Infof("%s%s", a.prefix(), msg) }
func (a GoLogAdapter) Warn(msg string)  { golog.Warnf("%s%s", a.prefix(), msg) }
func (a GoLogAdapter) Error(msg string) { golog.Errorf("%s%s", a.prefix(), msg) }
