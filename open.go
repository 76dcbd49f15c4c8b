package popen

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// envRequestMsg mirrors RFC 4254 §6.4's "env" request.
type envRequestMsg struct {
	Name  string
	Value string
}

// execRequestMsg mirrors RFC 4254 §6.5's "exec" request.
type execRequestMsg struct {
	Command string
}

// openWithRetry is the Open-with-retry driver of spec.md §4.6: it
// assembles the remote command line, opens a channel (retrying on
// ChannelOpenFailedError up to opts.ChannelRetries.Count times,
// sleeping Delay between attempts), requests a PTY and sets env vars
// if configured, sends the exec request, and installs the data-plane
// callbacks. It returns the channel wrapper and its Waiter so the
// façade can hand the caller's block live pipes plus a join point.
func openWithRetry(sess *Session, env map[string]string, command []string, opts Options, stdin io.Reader, stdout, stderr io.WriteCloser) (*channelWrapper, *Waiter, error) {
	cmdline := BuildCommandLine(command, opts.Redirects)
	retries := opts.ChannelRetries.orDefault()
	logger := loggerOrNop(opts.Logger)

	remaining := retries.Count
	for {
		wrapper, err := sess.openChannel("session", nil)
		if err != nil {
			if IsChannelOpenFailed(err) && remaining > 0 {
				remaining--
				logger.Warn(fmt.Sprintf("channel open refused, retrying in %s (%d attempt(s) left): %s", retries.Delay, remaining+1, err))
				time.Sleep(retries.Delay)
				continue
			}
			return nil, nil, err
		}

		if opts.OnOpen != nil {
			opts.OnOpen(wrapper.channel)
		}

		if err := setUpExec(wrapper.channel, cmdline, env, opts.PTY); err != nil {
			wrapper.setFault(err)
			sess.closeChannel(wrapper, err)
			return nil, nil, err
		}

		logInit(logger, sess.Addr(), cmdline, env, opts.PTY != nil)
		installCallbacks(sess, wrapper, stdin, stdout, stderr, logger)

		return wrapper, wrapper.getWaiter(), nil
	}
}

// setUpExec runs the "open callback" portion of spec.md §4.6 step 2:
// request a PTY if configured, set each environment variable (a
// server is free to reject any of these; per spec.md that rejection
// is not treated as a failure), then send the exec request itself,
// which does fail the open if the server refuses it.
func setUpExec(ch ssh.Channel, cmdline string, env map[string]string, pty *PTYSpec) error {
	if pty != nil {
		if err := requestPTY(ch, pty); err != nil {
			return err
		}
	}

	for name, value := range env {
		msg := envRequestMsg{Name: name, Value: value}
		// Transport errors (a dead channel, a closed connection) are
		// real failures; the server merely answering "no" to an env
		// var is the explicit non-failure spec.md §4.6 calls for, so
		// the reply's ok value is deliberately not inspected.
		if _, err := ch.SendRequest("env", true, ssh.Marshal(&msg)); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}

	run := execRequestMsg{Command: cmdline}
	ok, err := ch.SendRequest("exec", true, ssh.Marshal(&run))
	if err == nil && !ok {
		err = fmt.Errorf("exec request refused by remote end")
	}
	return err
}
