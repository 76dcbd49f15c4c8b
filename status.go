package popen

import (
	"fmt"
	"sync"
)

// ExitStatus records how a remote process ended. It is created empty
// by a Waiter, mutated at most once by the exit-status or exit-signal
// request callback, and read by callers only after the Waiter has
// completed -- the happens-before edge that join gives us makes the
// guard mutex here a belt-and-suspenders measure, not a requirement.
type ExitStatus struct {
	mu sync.Mutex

	hasCode bool
	code    int

	hasSignal bool
	signal    string
	coredump  bool
}

// SetExitCode records a normal "exit-status" request. It must be
// called at most once.
func (s *ExitStatus) SetExitCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasCode = true
	s.code = code
}

// SetExitSignal records an "exit-signal" request. It must be called
// at most once, and never alongside SetExitCode.
func (s *ExitStatus) SetExitSignal(signal string, coredump bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasSignal = true
	s.signal = signal
	s.coredump = coredump
}

// Exited reports whether the remote process terminated normally, with
// an exit code.
func (s *ExitStatus) Exited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasCode
}

// ExitCode returns the exit code of a normally terminated process. It
// is only meaningful when Exited() is true.
func (s *ExitStatus) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Signaled reports whether the remote process was terminated by a
// signal, as opposed to exiting normally.
func (s *ExitStatus) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSignal
}

// TermSignal returns the signal name as delivered by the server
// (translated to a local signal number where this platform knows one;
// see signalName). It is only meaningful when Signaled() is true.
func (s *ExitStatus) TermSignal() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal
}

// Coredump reports whether the server indicated the remote process
// dumped core. It is only meaningful when Signaled() is true.
func (s *ExitStatus) Coredump() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coredump
}

// Success reports whether the process exited with code 0. It returns
// the three-state (ok, known) so that callers can tell "exited 0" and
// "exited nonzero" apart from a status with no exit code -- collapsing
// those into a bool would silently turn a killed process into either
// a success or a failure depending on which way you picked. A killed
// process and one we never heard back from both report known=false;
// Signaled tells those two apart.
func (s *ExitStatus) Success() (ok bool, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasCode {
		return s.code == 0, true
	}
	return false, false
}

// String renders the status the way a shell would describe it.
func (s *ExitStatus) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.hasCode:
		return fmt.Sprintf("exited with code %d", s.code)
	case s.hasSignal:
		if s.coredump {
			return fmt.Sprintf("killed by signal %s (core dumped)", s.signal)
		}
		return fmt.Sprintf("killed by signal %s", s.signal)
	default:
		return "uninitialized"
	}
}
