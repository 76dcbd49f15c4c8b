package popen

// Waiter is the background join point of spec.md §4.3: one per
// channel, it carries the terminal ExitStatus and is what wait()
// ultimately blocks on.
//
// Its body runs entirely inside deregisterWhenClosed, launched by the
// Session as soon as a channel is registered in the channel registry:
// wait on the channel's close condition for as long as the channel
// remains registered, then recheck the captured fault and either
// propagate it or hand back the status the Callback Installer's
// exit-status/exit-signal hooks populated.
type Waiter struct {
	channel *channelWrapper
	status  *ExitStatus
	fault   error
	done    chan struct{}
}

func newWaiter(ch *channelWrapper) *Waiter {
	return &Waiter{
		channel: ch,
		status:  &ExitStatus{},
		done:    make(chan struct{}),
	}
}

// Status returns the terminal ExitStatus. Only meaningful after the
// Waiter has completed -- call Wait (or join) first.
func (w *Waiter) Status() *ExitStatus {
	return w.status
}

// Wait blocks until the remote process has exited (or the session
// died before it could), then returns its status or the fault that
// kept one from ever arriving. It is the caller's join point, and is
// what every façade in popen.go calls after its user block returns.
func (w *Waiter) Wait() (*ExitStatus, error) {
	return w.join()
}

// join blocks until the Waiter has completed, then returns its status
// or the fault that kept one from ever arriving.
func (w *Waiter) join() (*ExitStatus, error) {
	<-w.done
	if w.fault != nil {
		return nil, w.fault
	}
	return w.status, nil
}

// deregisterWhenClosed is the Waiter task's body. It is started by the
// Session immediately after registering the channel (see
// Session.openChannel), and is what makes the Session's shutdown path
// safe: that path forces every live channel closed and signals its
// open and close conditions, so this goroutine -- and therefore join() --
// never blocks forever even if the transport dies mid-flight.
func (w *Waiter) deregisterWhenClosed(sess *Session) {
	sess.channelsMu.Lock()
	w.channel.waitUntilClosed()
	sess.deregisterLocked(w.channel.id)
	sess.channelsMu.Unlock()

	w.fault = w.channel.getFault()
	close(w.done)
}
