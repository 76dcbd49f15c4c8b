package popen

import (
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// stdinPumpUnit is the chunk size the stdin pump reads and forwards at
// a time: spec.md §4.4 calls for
// max(1024, remote_max_packet - HEADER_SLACK). golang.org/x/crypto/ssh
// does not expose the negotiated remote max packet size through the
// Channel interface (that bookkeeping lives inside the transport,
// which spec.md §1 places out of scope), so we use the RFC 4254
// recommended maximum packet size as the stand-in for remote_max_packet.
const (
	headerSlack            = 512
	assumedRemoteMaxPacket = 32768
	stdinPumpUnit          = assumedRemoteMaxPacket - headerSlack
)

func init() {
	if stdinPumpUnit < 1024 {
		panic("popen: stdinPumpUnit below the 1024-byte floor from spec.md §4.4")
	}
}

// dataPump copies one direction of channel traffic (stdout or the
// stderr extended-data stream) into a local sink, reporting each chunk
// to the logger's chunk hook when present. It is the Callback
// Installer's "on data"/"on extended data" + "on eof" hooks translated
// into a goroutine: an io.Reader ends in io.EOF exactly when the
// remote end sends channel-eof, and closing the sink here is what
// spec.md §4.4 calls "close the local stdout/stderr sinks (idempotent;
// skip if already closed)" -- io.PipeWriter.Close is already idempotent,
// so there is nothing further to guard.
func dataPump(src io.Reader, sink io.WriteCloser, logger Logger, report func(Logger, []byte)) {
	defer func() {
		if sink != nil {
			sink.Close()
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			report(logger, chunk)
			if sink != nil {
				if _, werr := sink.Write(chunk); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// stdinPump is the Callback Installer's stdin pump (spec.md §4.4): it
// is only installed when a stdin source is supplied, reads up to one
// stdinPumpUnit at a time, and forwards each read as a channel data
// write. On end-of-stream it stops and requests channel EOF
// (Channel.CloseWrite, the local equivalent of sending a
// channel-eof message) so the remote process sees stdin close.
//
// A caller closing the outer stdin pipe is what unblocks src.Read here
// (spec.md §5 "Cancellation"); there is no separate stop signal to
// check because an io.Reader has no way to be interrupted early short
// of the caller closing their end.
func stdinPump(ch ssh.Channel, src io.Reader, logger Logger) {
	defer ch.CloseWrite()

	buf := make([]byte, stdinPumpUnit)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			logStdin(logger, buf[:n])
			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// decodeExitStatus reads the uint32 exit code carried by RFC 4254
// §6.10's "exit-status" request.
func decodeExitStatus(payload []byte) (int, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(payload)), true
}

// exitSignalMsg mirrors RFC 4254 §6.10's "exit-signal" request.
type exitSignalMsg struct {
	Signal     string
	CoreDumped bool
	Error      string
	Lang       string
}

// serviceRequests is the Callback Installer's "on exit-status
// request"/"on exit-signal request" hooks: it drains the channel's
// out-of-band request stream, populating status exactly once from
// whichever of the two requests the server sends, and otherwise
// replies false to anything it doesn't recognize so a server that
// expects an ack doesn't hang. The loop (and therefore this function)
// returns when the remote channel closes and the request stream is
// drained and closed -- spec.md §4.4's "on close" hook, translated.
func serviceRequests(reqs <-chan *ssh.Request, status *ExitStatus, logger Logger) {
	for r := range reqs {
		switch r.Type {
		case "exit-status":
			if code, ok := decodeExitStatus(r.Payload); ok {
				status.SetExitCode(code)
			}
		case "exit-signal":
			var sig exitSignalMsg
			if err := ssh.Unmarshal(r.Payload, &sig); err == nil {
				status.SetExitSignal(signalName(sig.Signal), sig.CoreDumped)
			} else {
				logger.Warn("failed to unmarshal exit-signal request: " + err.Error())
			}
		default:
			if r.WantReply {
				r.Reply(false, nil)
			}
		}
	}
}

// installCallbacks wires the four data-plane hooks (stdout, stderr,
// stdin, and the exit-status/exit-signal/close request stream) onto an
// opened channel, and arranges for the channel's close condition to
// fire once the request stream and both output pumps have observed
// end-of-stream (the stdin pump is not waited for). This is the
// Callback Installer of spec.md §4.4, translated from "register an
// event handler per transport event" (the Ruby original) to "spawn a
// goroutine per stream" (idiomatic here, and the same shape
// session.go's drain()/serviceRequests() took in the teacher).
func installCallbacks(sess *Session, w *channelWrapper, stdin io.Reader, stdout, stderr io.WriteCloser, logger Logger) {
	logger = loggerOrNop(logger)
	status := w.getWaiter().Status()

	var dataPumps sync.WaitGroup
	dataPumps.Add(2)
	go func() {
		defer dataPumps.Done()
		dataPump(w.channel, stdout, logger, logStdout)
	}()
	go func() {
		defer dataPumps.Done()
		dataPump(w.channel.Stderr(), stderr, logger, logStderr)
	}()

	if stdin != nil {
		go stdinPump(w.channel, stdin, logger)
	}

	go func() {
		serviceRequests(w.reqs, status, logger)
		dataPumps.Wait()

		// "on close": close the stdin source when it is closable, so a
		// stdin pump still blocked reading it returns and the caller's
		// further writes fail, and force the channel closed defensively
		// in case the remote end never sent channel-close.
		if c, ok := stdin.(io.Closer); ok {
			c.Close()
		}
		w.channel.Close()
		sess.closeChannel(w, nil)
	}()
}
