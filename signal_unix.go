// +build !windows

package popen

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// rfc4254Signals maps the SSH protocol's signal names (the thirteen
// listed in RFC 4254 §6.10) to this platform's signal number. spec.md §9's Open Question notes
// that the same remote signal can therefore map to different numbers
// on different clients -- documented behavior, not a bug.
var rfc4254Signals = map[string]int{
	"ABRT": int(unix.SIGABRT),
	"ALRM": int(unix.SIGALRM),
	"FPE":  int(unix.SIGFPE),
	"HUP":  int(unix.SIGHUP),
	"ILL":  int(unix.SIGILL),
	"INT":  int(unix.SIGINT),
	"KILL": int(unix.SIGKILL),
	"PIPE": int(unix.SIGPIPE),
	"QUIT": int(unix.SIGQUIT),
	"SEGV": int(unix.SIGSEGV),
	"TERM": int(unix.SIGTERM),
	"USR1": int(unix.SIGUSR1),
	"USR2": int(unix.SIGUSR2),
}

// signalName resolves an SSH exit-signal name to this platform's
// signal number, rendered as a string; unmapped names pass through
// verbatim, per spec.md §3/§9.
func signalName(name string) string {
	if n, ok := rfc4254Signals[name]; ok {
		return strconv.Itoa(n)
	}
	return name
}
