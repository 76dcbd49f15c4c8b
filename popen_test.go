package popen_test

import (
	"io"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"

	"github.com/jhunt/go-popen"
)

var _ = Describe("end-to-end", func() {
	var (
		client  *ssh.Client
		cleanup func()
		sess    *popen.Session
	)

	BeforeEach(func() {
		client, cleanup = startTestServer(new(int32))
		sess = popen.NewSession(client)
	})

	AfterEach(func() {
		sess.Close()
		cleanup()
	})

	It("captures stdout and a zero exit code", func() {
		out, status, err := popen.Capture2(sess, nil, []string{"echo", "hello"}, popen.Options{})
		Ω(err).ShouldNot(HaveOccurred())
		Ω(out).Should(Equal("hello\n"))
		Ω(status.Exited()).Should(BeTrue())
		Ω(status.ExitCode()).Should(Equal(0))
	})

	It("partitions stdout and stderr faithfully, and surfaces a nonzero exit code", func() {
		out, errout, status, err := popen.Capture3(sess, nil, []string{"sh", "-c", "echo out; echo err 1>&2; exit 3"}, popen.Options{})
		Ω(err).ShouldNot(HaveOccurred())
		Ω(out).Should(Equal("out\n"))
		Ω(errout).Should(Equal("err\n"))
		Ω(status.Exited()).Should(BeTrue())
		Ω(status.ExitCode()).Should(Equal(3))
	})

	It("merges stdout and stderr onto one stream", func() {
		out, status, err := popen.Capture2e(sess, nil, []string{"sh", "-c", "echo a; echo b 1>&2"}, popen.Options{})
		Ω(err).ShouldNot(HaveOccurred())
		Ω(out).Should(ContainSubstring("a\n"))
		Ω(out).Should(ContainSubstring("b\n"))
		Ω(status.ExitCode()).Should(Equal(0))
	})

	It("writes stdin_data to the remote process before closing its stdin", func() {
		out, status, err := popen.Capture2(sess, nil, []string{"cat"}, popen.Options{StdinData: "hi\n"})
		Ω(err).ShouldNot(HaveOccurred())
		Ω(out).Should(Equal("hi\n"))
		Ω(status.ExitCode()).Should(Equal(0))
	})

	It("reports signal termination, not an exit code, when the remote process is killed", func() {
		out, status, err := popen.Capture2(sess, nil, []string{"kill -QUIT $$"}, popen.Options{})
		Ω(err).ShouldNot(HaveOccurred())
		Ω(out).Should(Equal(""))
		Ω(status.Exited()).Should(BeFalse())
		Ω(status.Signaled()).Should(BeTrue())
		Ω(status.TermSignal()).Should(Equal("3"))
	})

	It("lets popen3's block join the Waiter mid-flight and closes every pipe on return", func() {
		var finalStatus *popen.ExitStatus
		var inW io.WriteCloser
		var outR, errR io.ReadCloser
		err := popen.Popen3(sess, nil, []string{"sh", "-c", "sleep 0.1; exit 7"}, popen.Options{},
			func(stdin io.WriteCloser, stdout, stderr io.ReadCloser, w *popen.Waiter) error {
				inW, outR, errR = stdin, stdout, stderr
				stdin.Close()

				status, waitErr := w.Wait()
				finalStatus = status
				return waitErr
			})
		Ω(err).ShouldNot(HaveOccurred())
		Ω(finalStatus).ShouldNot(BeNil())
		Ω(finalStatus.ExitCode()).Should(Equal(7))

		_, werr := inW.Write([]byte("x"))
		Ω(werr).Should(Equal(io.ErrClosedPipe))
		_, oerr := outR.Read(make([]byte, 1))
		Ω(oerr).Should(Equal(io.ErrClosedPipe))
		_, eerr := errR.Read(make([]byte, 1))
		Ω(eerr).Should(Equal(io.ErrClosedPipe))
	})

	It("builds a remote command line with the redirect suffix appended", func() {
		cmd := popen.BuildCommandLine([]string{"echo", "x"}, []popen.Redirect{
			{Selector: ">>", Path: "/tmp/log"},
			popen.FDRedirect("err", 1),
		})
		Ω(cmd).Should(Equal(`echo x >>'/tmp/log' 2>&1`))
	})

	It("does not interleave bytes from two simultaneous commands on one session", func() {
		var wg sync.WaitGroup
		results := make([]string, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			out, _, err := popen.Capture2(sess, nil, []string{"sh", "-c", "for i in $(seq 1 200); do printf AAAA; done"}, popen.Options{})
			Ω(err).ShouldNot(HaveOccurred())
			results[0] = out
		}()
		go func() {
			defer wg.Done()
			out, _, err := popen.Capture2(sess, nil, []string{"sh", "-c", "for i in $(seq 1 200); do printf BBBB; done"}, popen.Options{})
			Ω(err).ShouldNot(HaveOccurred())
			results[1] = out
		}()
		wg.Wait()

		Ω(results[0]).Should(Equal(stringsRepeat("AAAA", 200)))
		Ω(results[1]).Should(Equal(stringsRepeat("BBBB", 200)))
	})
})

var _ = Describe("channel-open retries", func() {
	It("succeeds after K+1 attempts when a server refuses the first K opens", func() {
		refusals := int32(2)
		client, cleanup := startTestServer(&refusals)
		defer cleanup()

		sess := popen.NewSession(client)
		defer sess.Close()

		start := time.Now()
		out, status, err := popen.Capture2(sess, nil, []string{"echo", "hi"}, popen.Options{
			ChannelRetries: popen.RetriesWithDelay(5, 100*time.Millisecond),
		})
		elapsed := time.Since(start)

		Ω(err).ShouldNot(HaveOccurred())
		Ω(out).Should(Equal("hi\n"))
		Ω(status.ExitCode()).Should(Equal(0))
		Ω(elapsed).Should(BeNumerically(">=", 200*time.Millisecond))
	})

	It("fails with ChannelOpenFailed after exhausting the configured retries", func() {
		refusals := int32(1000)
		client, cleanup := startTestServer(&refusals)
		defer cleanup()

		sess := popen.NewSession(client)
		defer sess.Close()

		_, _, err := popen.Capture2(sess, nil, []string{"echo", "hi"}, popen.Options{
			ChannelRetries: popen.RetriesWithDelay(1, 0),
		})
		Ω(err).Should(HaveOccurred())
		Ω(popen.IsChannelOpenFailed(err)).Should(BeTrue())
	})
})

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

