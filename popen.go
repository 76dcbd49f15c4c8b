package popen

import (
	"io"
	"io/ioutil"
	"strings"
	"sync"
)

// discardSink is the stderr sink Popen2 hands to openWithRetry when
// the caller only asked for stdin/stdout: extended data still has to
// go somewhere, and per spec.md §4.4 an absent sink simply discards.
type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Close() error                { return nil }

// sharedSink lets two independent data pumps (stdout and stderr, in
// the popen2e/capture2e merged-stream case) write into the same inner
// pipe without either one closing it out from under the other: the
// underlying WriteCloser is only closed once every referencing pump
// has finished, which is what "stdout and stderr sinks aim at the same
// writer" (spec.md §4.7) requires in practice -- closing on the first
// EOF would truncate whichever stream finishes second.
type sharedSink struct {
	inner io.WriteCloser
	mu    sync.Mutex
	refs  int
}

func newSharedSink(inner io.WriteCloser, refs int) *sharedSink {
	return &sharedSink{inner: inner, refs: refs}
}

func (s *sharedSink) Write(p []byte) (int, error) { return s.inner.Write(p) }

func (s *sharedSink) Close() error {
	s.mu.Lock()
	s.refs--
	remaining := s.refs
	s.mu.Unlock()
	if remaining <= 0 {
		return s.inner.Close()
	}
	return nil
}

// closeAll closes every caller-side endpoint still open, ignoring
// errors -- the "ensure"-equivalent epilogue of spec.md §4.6 step 5
// and §8 property 2 ("every pipe endpoint handed back to the caller is
// closed by the time the façade returns").
func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		if c != nil {
			c.Close()
		}
	}
}

// Popen2Block is the user block signature for Popen2: the outer stdin
// writer, the outer stdout reader, and the Waiter join point.
type Popen2Block func(stdin io.WriteCloser, stdout io.ReadCloser, w *Waiter) error

// Popen3Block is the user block signature for Popen3.
type Popen3Block func(stdin io.WriteCloser, stdout, stderr io.ReadCloser, w *Waiter) error

// Popen2 opens stdin and stdout pipes to a remote command, per
// spec.md §4.7. The block runs with both pipes live; once it returns,
// Popen2 joins the Waiter (so the remote process has exited before
// Popen2 itself returns) and closes every caller-side endpoint.
func Popen2(sess *Session, env map[string]string, command []string, opts Options, block Popen2Block) (err error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	_, waiter, openErr := openWithRetry(sess, env, command, opts, stdinR, stdoutW, discardSink{})
	if openErr != nil {
		closeAll(stdinW, stdoutR)
		return openErr
	}

	// Deferred so the remote channel and caller-side pipes still get
	// joined and closed even if block panics -- spec.md §4.6 step 5
	// calls for cleanup on every exit, exceptions included.
	var blockErr error
	defer func() {
		_, waitErr := waiter.Wait()
		closeAll(stdinW, stdoutR)
		if blockErr != nil {
			err = blockErr
			return
		}
		err = waitErr
	}()

	blockErr = block(stdinW, stdoutR, waiter)
	return
}

// Popen2e is Popen2 with stdout and stderr merged onto one reader.
// Each stream's bytes keep their own order; stdout and stderr are
// copied by separate pumps, so how their chunks interleave follows
// which pump writes first, not necessarily the order the packets
// arrived on the wire.
func Popen2e(sess *Session, env map[string]string, command []string, opts Options, block Popen2Block) (err error) {
	stdinR, stdinW := io.Pipe()
	combinedR, combinedW := io.Pipe()
	sink := newSharedSink(combinedW, 2)

	_, waiter, openErr := openWithRetry(sess, env, command, opts, stdinR, sink, sink)
	if openErr != nil {
		closeAll(stdinW, combinedR)
		return openErr
	}

	var blockErr error
	defer func() {
		_, waitErr := waiter.Wait()
		closeAll(stdinW, combinedR)
		if blockErr != nil {
			err = blockErr
			return
		}
		err = waitErr
	}()

	blockErr = block(stdinW, combinedR, waiter)
	return
}

// Popen3 opens independent stdin, stdout, and stderr pipes.
func Popen3(sess *Session, env map[string]string, command []string, opts Options, block Popen3Block) (err error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	_, waiter, openErr := openWithRetry(sess, env, command, opts, stdinR, stdoutW, stderrW)
	if openErr != nil {
		closeAll(stdinW, stdoutR, stderrR)
		return openErr
	}

	var blockErr error
	defer func() {
		_, waitErr := waiter.Wait()
		closeAll(stdinW, stdoutR, stderrR)
		if blockErr != nil {
			err = blockErr
			return
		}
		err = waitErr
	}()

	blockErr = block(stdinW, stdoutR, stderrR, waiter)
	return
}

// writeStdinData is the capture* façades' shared setup: write
// opts.StdinData (if any), then close stdin so the remote process sees
// EOF -- spec.md §4.7's "the block writes stdin_data, closes stdin,
// reads remaining streams to completion".
func writeStdinData(stdin io.WriteCloser, data string) {
	if data != "" {
		io.Copy(stdin, strings.NewReader(data))
	}
	stdin.Close()
}

// Capture2 runs command to completion and returns everything written
// to stdout.
func Capture2(sess *Session, env map[string]string, command []string, opts Options) (string, *ExitStatus, error) {
	var output []byte
	var status *ExitStatus
	err := Popen2(sess, env, command, opts, func(stdin io.WriteCloser, stdout io.ReadCloser, w *Waiter) error {
		writeStdinData(stdin, opts.StdinData)
		data, readErr := ioutil.ReadAll(stdout)
		output = data
		status, _ = w.Wait()
		return readErr
	})
	return string(output), status, err
}

// Capture2e runs command to completion and returns stdout and stderr
// merged onto one string, interleaved as described on Popen2e.
func Capture2e(sess *Session, env map[string]string, command []string, opts Options) (string, *ExitStatus, error) {
	var output []byte
	var status *ExitStatus
	err := Popen2e(sess, env, command, opts, func(stdin io.WriteCloser, combined io.ReadCloser, w *Waiter) error {
		writeStdinData(stdin, opts.StdinData)
		data, readErr := ioutil.ReadAll(combined)
		output = data
		status, _ = w.Wait()
		return readErr
	})
	return string(output), status, err
}

// Capture3 runs command to completion and returns stdout and stderr
// separately.
func Capture3(sess *Session, env map[string]string, command []string, opts Options) (string, string, *ExitStatus, error) {
	var stdout, stderr []byte
	var status *ExitStatus
	err := Popen3(sess, env, command, opts, func(stdin io.WriteCloser, stdoutR, stderrR io.ReadCloser, w *Waiter) error {
		writeStdinData(stdin, opts.StdinData)

		var wg sync.WaitGroup
		wg.Add(2)
		var outErr, errErr error
		go func() {
			defer wg.Done()
			stdout, outErr = ioutil.ReadAll(stdoutR)
		}()
		go func() {
			defer wg.Done()
			stderr, errErr = ioutil.ReadAll(stderrR)
		}()
		wg.Wait()

		status, _ = w.Wait()
		if outErr != nil {
			return outErr
		}
		return errErr
	})
	return string(stdout), string(stderr), status, err
}
