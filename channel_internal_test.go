package popen

import (
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("channelWrapper", func() {
	var (
		mu sync.Mutex
		w  *channelWrapper
	)

	BeforeEach(func() {
		w = newChannelWrapper(1, nil, nil, &mu)
	})

	It("blocks waitOpen until signalOpen fires", func() {
		done := make(chan error, 1)
		go func() { done <- w.waitOpen() }()

		Consistently(done).ShouldNot(Receive())
		w.signalOpen(nil)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("propagates the fault captured by signalOpen to every waiter", func() {
		boom := errors.New("boom")
		go w.signalOpen(boom)
		Eventually(func() error { return w.waitOpen() }).Should(MatchError(boom))
	})

	It("never re-signals a condition once it has fired", func() {
		w.signalOpen(nil)
		w.signalOpen(errors.New("too late"))
		Ω(w.waitOpen()).Should(Succeed())
	})

	It("only installs a Waiter once", func() {
		first := newWaiter(w)
		second := newWaiter(w)
		w.setWaiter(first)
		w.setWaiter(second)
		Ω(w.getWaiter()).Should(BeIdenticalTo(first))
	})

	It("serializes waitUntilClosed under the shared lock passed to newChannelWrapper", func() {
		mu.Lock()
		go func() {
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			w.signalClose(nil)
			mu.Unlock()
		}()
		w.waitUntilClosed()
		mu.Unlock()
	})
})

var _ = Describe("Waiter", func() {
	It("completes once its channel's close condition fires, carrying the exit status", func() {
		sess := &Session{channels: make(map[uint64]*channelWrapper)}
		sess.channelsCond = sync.NewCond(&sess.channelsMu)

		cw := newChannelWrapper(1, nil, nil, &sess.channelsMu)
		sess.channelsMu.Lock()
		sess.channels[1] = cw
		sess.channelsMu.Unlock()

		w := newWaiter(cw)
		cw.setWaiter(w)
		go w.deregisterWhenClosed(sess)

		w.Status().SetExitCode(3)
		sess.closeChannel(cw, nil)

		status, err := w.Wait()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(status.Exited()).Should(BeTrue())
		Ω(status.ExitCode()).Should(Equal(3))
		Ω(sess.liveChannelCount()).Should(Equal(0))
	})

	It("surfaces the captured fault instead of a status when the channel closes with one", func() {
		sess := &Session{channels: make(map[uint64]*channelWrapper)}
		sess.channelsCond = sync.NewCond(&sess.channelsMu)

		cw := newChannelWrapper(1, nil, nil, &sess.channelsMu)
		sess.channelsMu.Lock()
		sess.channels[1] = cw
		sess.channelsMu.Unlock()

		w := newWaiter(cw)
		cw.setWaiter(w)
		go w.deregisterWhenClosed(sess)

		boom := errors.New("transport died")
		sess.closeChannel(cw, boom)

		_, err := w.Wait()
		Ω(err).Should(MatchError(boom))
	})
})
