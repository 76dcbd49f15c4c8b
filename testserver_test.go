package popen_test

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net"
	"os/exec"
	"sync/atomic"
	"syscall"

	"golang.org/x/crypto/ssh"
)

// startTestServer spins up an in-process SSH server wired directly to
// a net.Pipe, accepting any auth and running every "session" channel
// through a real shell via os/exec. It is modeled on the teacher's
// hub.go accept loop -- same shape, one channel type, drain the
// request stream and dispatch on r.Type -- minus the agent directory
// and hail handshake, since here the only thing a "session" channel
// needs to do is speak enough of the SSH Connection Protocol for
// open.go/callbacks.go to drive a real exec.
//
// refusals channel-open attempts are rejected with ResourceShortage
// before the server starts accepting, so tests can exercise the
// Open-with-retry driver's retry policy without a real flaky network.
func startTestServer(refusals *int32) (*ssh.Client, func()) {
	serverSide, clientSide := net.Pipe()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		panic(err)
	}

	serverConfig := &ssh.ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(signer)

	type handshake struct {
		conn  *ssh.ServerConn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}
	done := make(chan handshake, 1)
	go func() {
		conn, chans, reqs, err := ssh.NewServerConn(serverSide, serverConfig)
		done <- handshake{conn, chans, reqs, err}
	}()

	id := atomic.AddInt64(&testServerSeq, 1)
	clientConfig := &ssh.ClientConfig{HostKeyCallback: ssh.InsecureIgnoreHostKey()}
	cc, newch, reqc, err := ssh.NewClientConn(clientSide, fmt.Sprintf("testpipe-%d", id), clientConfig)
	if err != nil {
		panic(err)
	}
	client := ssh.NewClient(cc, newch, reqc)

	hs := <-done
	if hs.err != nil {
		panic(hs.err)
	}

	go ssh.DiscardRequests(hs.reqs)
	go serveSessions(hs.chans, refusals)

	return client, func() {
		client.Close()
		hs.conn.Close()
	}
}

var testServerSeq int64

func serveSessions(chans <-chan ssh.NewChannel, refusals *int32) {
	for newch := range chans {
		if newch.ChannelType() != "session" {
			newch.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}

		if atomic.LoadInt32(refusals) > 0 {
			atomic.AddInt32(refusals, -1)
			newch.Reject(ssh.ResourceShortage, "try again")
			continue
		}

		ch, reqs, err := newch.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, reqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	var env []string
	for r := range reqs {
		switch r.Type {
		case "env":
			var kv struct{ Name, Value string }
			if ssh.Unmarshal(r.Payload, &kv) == nil {
				env = append(env, kv.Name+"="+kv.Value)
			}
			if r.WantReply {
				r.Reply(true, nil)
			}

		case "pty-req", "window-change":
			if r.WantReply {
				r.Reply(true, nil)
			}

		case "exec":
			var payload struct{ Command string }
			ok := ssh.Unmarshal(r.Payload, &payload) == nil
			if r.WantReply {
				r.Reply(ok, nil)
			}
			if ok {
				runCommand(ch, payload.Command, env)
			}
			return

		default:
			if r.WantReply {
				r.Reply(false, nil)
			}
		}
	}
}

func runCommand(ch ssh.Channel, command string, env []string) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Env = append(cmd.Env, env...)
	cmd.Stdin = ch
	cmd.Stdout = ch
	cmd.Stderr = ch.Stderr()

	err := cmd.Run()
	switch e := err.(type) {
	case nil:
		sendExitStatus(ch, 0)
	case *exec.ExitError:
		if status, ok := e.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			sendExitSignal(ch, signalRFCName(status.Signal()))
		} else {
			sendExitStatus(ch, e.ExitCode())
		}
	default:
		sendExitStatus(ch, 126)
	}
}

func sendExitStatus(ch ssh.Channel, code int) {
	var payload struct{ Code uint32 }
	payload.Code = uint32(code)
	ch.SendRequest("exit-status", false, ssh.Marshal(&payload))
}

func sendExitSignal(ch ssh.Channel, name string) {
	msg := struct {
		Signal     string
		CoreDumped bool
		Error      string
		Lang       string
	}{Signal: name}
	ch.SendRequest("exit-signal", false, ssh.Marshal(&msg))
}

// testSignalNames is the fake server's side of the RFC 4254 signal
// name table -- the reverse of signal_unix.go's rfc4254Signals map, so
// a "kill -QUIT $$" scenario round-trips through the same names a real
// sshd would send.
var testSignalNames = map[syscall.Signal]string{
	syscall.SIGABRT: "ABRT",
	syscall.SIGALRM: "ALRM",
	syscall.SIGFPE:  "FPE",
	syscall.SIGHUP:  "HUP",
	syscall.SIGILL:  "ILL",
	syscall.SIGINT:  "INT",
	syscall.SIGKILL: "KILL",
	syscall.SIGPIPE: "PIPE",
	syscall.SIGQUIT: "QUIT",
	syscall.SIGSEGV: "SEGV",
	syscall.SIGTERM: "TERM",
	syscall.SIGUSR1: "USR1",
	syscall.SIGUSR2: "USR2",
}

func signalRFCName(s syscall.Signal) string {
	if name, ok := testSignalNames[s]; ok {
		return name
	}
	return s.String()
}
