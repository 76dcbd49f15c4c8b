package popen

import (
	"sync"

	"golang.org/x/crypto/ssh"
)

// channelWrapper is the Channel Wrapper of spec.md §4.2: per-channel
// state tracking the open and close handshakes, plus whatever fault
// one of those handshakes captured.
//
// The open condition has its own mutex (openMu) so that one channel's
// open wait can never block another channel's open from progressing.
// The close condition shares the session's channels mutex -- each
// channelWrapper still owns a distinct *sync.Cond, so signaling one
// channel's close doesn't wake (or block) any other, but the
// underlying lock is the same one the Session Loop already holds
// while it mutates the registry, keeping "a channel is in the
// registry" and "a channel's close condition hasn't fired yet" from
// ever disagreeing with each other.
type channelWrapper struct {
	id      uint64
	channel ssh.Channel
	reqs    <-chan *ssh.Request

	openMu       sync.Mutex
	openCond     *sync.Cond
	openSignaled bool

	closeCond     *sync.Cond
	closeSignaled bool

	faultMu sync.Mutex
	fault   error

	waiterMu sync.Mutex
	waiter   *Waiter
}

func newChannelWrapper(id uint64, ch ssh.Channel, reqs <-chan *ssh.Request, channelsMu sync.Locker) *channelWrapper {
	w := &channelWrapper{
		id:   id,
		channel: ch,
		reqs: reqs,
	}
	w.openCond = sync.NewCond(&w.openMu)
	w.closeCond = sync.NewCond(channelsMu)
	return w
}

// setFault records the first fault captured by any of the open
// confirm/open failed/close hooks. Later callers never overwrite an
// earlier fault, so the caller always sees the hook that fired first.
func (c *channelWrapper) setFault(err error) {
	if err == nil {
		return
	}
	c.faultMu.Lock()
	if c.fault == nil {
		c.fault = err
	}
	c.faultMu.Unlock()
}

func (c *channelWrapper) getFault() error {
	c.faultMu.Lock()
	defer c.faultMu.Unlock()
	return c.fault
}

// setWaiter installs the channel's Waiter handle. Per spec.md §4.2,
// once set it is never reassigned.
func (c *channelWrapper) setWaiter(w *Waiter) {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	if c.waiter == nil {
		c.waiter = w
	}
}

func (c *channelWrapper) getWaiter() *Waiter {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()
	return c.waiter
}

// signalOpen fires the open condition exactly once -- on open
// confirmation, open failure, or catastrophic session shutdown,
// whichever comes first. err, if non-nil, is captured as the fault;
// an err passed after the condition has already fired is ignored.
func (c *channelWrapper) signalOpen(err error) {
	c.openMu.Lock()
	if !c.openSignaled {
		c.setFault(err)
		c.openSignaled = true
		c.openCond.Broadcast()
	}
	c.openMu.Unlock()
}

// waitOpen blocks the caller until the server has confirmed or
// refused the channel, then rethrows the captured fault, if any.
func (c *channelWrapper) waitOpen() error {
	c.openMu.Lock()
	for !c.openSignaled {
		c.openCond.Wait()
	}
	c.openMu.Unlock()
	return c.getFault()
}

// signalClose fires the close condition exactly once. Must be called
// with the session's channels mutex held (closeCond.L).
func (c *channelWrapper) signalClose(err error) {
	c.setFault(err)
	if !c.closeSignaled {
		c.closeSignaled = true
		c.closeCond.Broadcast()
	}
}

// waitUntilClosed blocks until signalClose has fired. Must be called
// with the session's channels mutex held; it releases it while
// waiting, per sync.Cond semantics.
func (c *channelWrapper) waitUntilClosed() {
	for !c.closeSignaled {
		c.closeCond.Wait()
	}
}

// wait joins the channel's Waiter task and returns its terminal
// status, or the fault that kept one from ever arriving.
func (c *channelWrapper) wait() (*ExitStatus, error) {
	w := c.getWaiter()
	if w == nil {
		return nil, c.getFault()
	}
	return w.join()
}
