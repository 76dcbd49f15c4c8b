package popen

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Session is the Session Loop of spec.md §4.5: it owns the transport
// (an already-dialed *ssh.Client -- connection setup, key exchange,
// and authentication are out of scope here, per spec.md §1) and
// arbitrates every channel-open request that comes in from whatever
// caller goroutines are running popen2/popen3/capture* concurrently.
//
// golang.org/x/crypto/ssh's *ssh.Client already runs its own
// concurrency-safe read/write loop over the wire (that's the "SSH
// transport itself" spec.md declares out of scope), so this type does
// not reimplement select-over-file-descriptors -- see the "Cooperative
// loop + wake pipe" design note in spec.md §9, which explicitly allows
// a channel-based control path in a runtime that already has one. What
// Session does keep, faithfully, is the one-mutex discipline around
// the channel registry: channelsMu is the "channels mutex" of spec.md
// §3, every registry mutation happens under it, and channelsCond is
// the "channels condition" broadcast whenever the registry changes.
type Session struct {
	transport *ssh.Client

	channelsMu   sync.Mutex
	channelsCond *sync.Cond
	channels     map[uint64]*channelWrapper
	nextID       uint64
	closed       bool

	keepaliveStop chan struct{}
}

// NewSession wraps an already-authenticated transport. Session.Close
// closes the transport as part of tearing down every live channel.
func NewSession(transport *ssh.Client) *Session {
	s := &Session{
		transport: transport,
		channels:  make(map[uint64]*channelWrapper),
	}
	s.channelsCond = sync.NewCond(&s.channelsMu)
	go s.watchTransport()
	return s
}

// watchTransport blocks on the transport's own disconnect notice and
// forces every live channel closed with a fault as soon as it fires,
// the same teardown Close performs explicitly. This runs unconditionally
// from NewSession, not just when StartKeepalive is running: a silent
// drop (a TCP reset, a read that returns io.EOF) is something
// golang.org/x/crypto/ssh's *ssh.Client already notices on its own, and
// without this goroutine every Waiter blocked on such a connection
// would report a fictitious clean exit (fault == nil) instead of the
// session having died out from under it. StartKeepalive exists on top
// of this to notice a half-open connection sooner than the transport
// would on its own.
func (s *Session) watchTransport() {
	err := s.transport.Wait()
	if err == nil {
		err = ErrSessionClosed
	}

	s.channelsMu.Lock()
	if s.closed {
		s.channelsMu.Unlock()
		return
	}
	s.closed = true
	for _, w := range s.channels {
		w.signalOpen(err)
		w.channel.Close()
		w.signalClose(err)
	}
	s.channelsCond.Broadcast()
	s.channelsMu.Unlock()

	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
	}
}

// Addr reports the remote address of the underlying transport, used
// by the Callback Installer's Logger.Init hook.
func (s *Session) Addr() string {
	return s.transport.RemoteAddr().String()
}

// openChannel is the open-channel primitive referenced by spec.md
// §4.6 step 1: it posts the channel-open request, and on success
// registers the resulting channelWrapper in the registry and starts
// its Waiter task, per spec.md §4.3.
func (s *Session) openChannel(chanType string, extra []byte) (*channelWrapper, error) {
	ch, reqs, err := s.transport.OpenChannel(chanType, extra)
	if err != nil {
		var refused *ssh.OpenChannelError
		if errors.As(err, &refused) {
			return nil, &ChannelOpenFailedError{Reason: uint32(refused.Reason), Message: refused.Message}
		}
		return nil, err
	}

	s.channelsMu.Lock()
	if s.closed {
		s.channelsMu.Unlock()
		ch.Close()
		return nil, ErrSessionClosed
	}

	id := s.nextID
	s.nextID++
	wrapper := newChannelWrapper(id, ch, reqs, &s.channelsMu)
	s.channels[id] = wrapper
	s.channelsCond.Broadcast()
	s.channelsMu.Unlock()

	// The transport already confirmed the open synchronously (that's
	// what a successful OpenChannel call means), so the open
	// condition fires immediately -- there is no separate
	// asynchronous confirmation step to wait for in this transport.
	wrapper.signalOpen(nil)

	w := newWaiter(wrapper)
	wrapper.setWaiter(w)
	go w.deregisterWhenClosed(s)

	return wrapper, nil
}

// deregisterLocked removes a channel from the registry. Must be
// called with channelsMu held.
func (s *Session) deregisterLocked(id uint64) {
	delete(s.channels, id)
	s.channelsCond.Broadcast()
}

// closeChannel fires a channel's close condition, waking its Waiter
// so it can deregister and return. fault, if non-nil, is captured as
// the channel's terminal fault (spec.md §4.2: open failure and close
// both signal the close condition so no waiter is ever left blocked).
func (s *Session) closeChannel(w *channelWrapper, fault error) {
	s.channelsMu.Lock()
	w.signalClose(fault)
	s.channelsMu.Unlock()
}

// liveChannelCount reports how many channels are currently registered
// -- exposed for tests verifying concurrent-session behavior and for
// diagnostics.
func (s *Session) liveChannelCount() int {
	s.channelsMu.Lock()
	defer s.channelsMu.Unlock()
	return len(s.channels)
}

// Close tears the session down: per spec.md §4.5, every remaining
// channel has its open and close conditions signaled and is forced
// closed, guaranteeing no Waiter is left orphaned even though the
// transport is about to go away out from under it.
func (s *Session) Close() error {
	s.channelsMu.Lock()
	if s.closed {
		s.channelsMu.Unlock()
		return nil
	}
	s.closed = true
	for _, w := range s.channels {
		w.signalOpen(ErrSessionClosed)
		w.channel.Close()
		w.signalClose(ErrSessionClosed)
	}
	s.channelsCond.Broadcast()
	s.channelsMu.Unlock()

	if s.keepaliveStop != nil {
		close(s.keepaliveStop)
	}

	return s.transport.Close()
}

// StartKeepalive sends a "keepalive@go-popen" global request at the
// given interval and tears the session down if one ever fails,
// following the same monitor/Hangup pattern the teacher's
// connection.go used to detect a dead TCP connection underneath a
// multiplexed SSH session. It is not part of the core channel-lifecycle
// engine spec.md describes, but is the same ambient "is the transport
// still alive" concern every long-lived multiplexed SSH client needs.
func (s *Session) StartKeepalive(interval time.Duration, logger Logger) {
	logger = loggerOrNop(logger)
	s.keepaliveStop = make(chan struct{})
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _, err := s.transport.SendRequest("keepalive@go-popen", true, nil)
				if err != nil {
					logger.Error(fmt.Sprintf("keepalive failed, closing session: %s", err))
					s.Close()
					return
				}
			case <-s.keepaliveStop:
				return
			}
		}
	}()
}
