package popen

import (
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultChannelRetries is the retry policy applied when
// Options.ChannelRetries is left at its zero value: 5 retries, spaced
// one second apart.
var DefaultChannelRetries = ChannelRetries{Count: 5, Delay: time.Second}

// ChannelRetries is the "channel_retries" option from spec.md §6. It
// accepts either a bare count (Retries(n), using the default delay) or
// an explicit [count, delay] pair (RetriesWithDelay).
type ChannelRetries struct {
	Count int
	Delay time.Duration
}

// Retries builds a ChannelRetries with the default one-second delay.
func Retries(count int) ChannelRetries {
	return ChannelRetries{Count: count, Delay: DefaultChannelRetries.Delay}
}

// RetriesWithDelay builds a ChannelRetries with an explicit delay,
// covering the two-element "[retries, delay_seconds]" form from
// spec.md §6.
func RetriesWithDelay(count int, delay time.Duration) ChannelRetries {
	return ChannelRetries{Count: count, Delay: delay}
}

func (r ChannelRetries) orDefault() ChannelRetries {
	if r == (ChannelRetries{}) {
		return DefaultChannelRetries
	}
	return r
}

// Options carries the per-call knobs every façade entry point accepts:
// redirects, channel-open retry policy, a logger, and a PTY request.
// StdinData is only meaningful to the capture* façades.
type Options struct {
	// Redirects is appended to the assembled command line as shell
	// redirection syntax, in declaration order.
	Redirects []Redirect

	// ChannelRetries controls how many times, and how far apart, the
	// open-with-retry driver retries a refused channel open. The zero
	// value means DefaultChannelRetries.
	ChannelRetries ChannelRetries

	// StdinData is written to the remote process's stdin, then the
	// stdin stream is closed. Only consumed by the capture* façades.
	StdinData string

	// Logger receives diagnostics. Nil disables logging.
	Logger Logger

	// PTY requests a pseudo-terminal for the remote process. Use
	// PTYEnabled() for a bare "yes please" request, or build a PTYSpec
	// with explicit termios modes.
	PTY *PTYSpec

	// OnOpen, if set, is handed the raw transport channel once it is
	// open but before exec runs. It exists for callers who need
	// capabilities the pipe façade doesn't expose, such as sending
	// "window-change" requests for an interactive PTY session (see
	// cmd/popen's shell subcommand); most callers never need it.
	OnOpen func(ssh.Channel)
}
