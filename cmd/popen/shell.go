package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/jhunt/go-popen"
)

// runShell starts an interactive remote shell over a requested PTY:
// the local terminal is put in raw mode and forwarded byte-for-byte in
// both directions, and local SIGWINCH is translated into
// "window-change" requests, the same division of labor davidolrik
// overseer's companion runner uses golang.org/x/term and
// golang.org/x/sys for locally.
func runShell(sess *popen.Session) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "!!! stdin is not a terminal\n")
		os.Exit(1)
	}

	cols, rows, err := term.GetSize(fd)
	if err != nil {
		cols, rows = 80, 24
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! failed to set raw mode: %s\n", err)
		os.Exit(1)
	}
	defer term.Restore(fd, oldState)

	var channel ssh.Channel
	popenOpts := popen.Options{
		Logger: popen.GoLogAdapter{Component: "shell"},
		PTY: &popen.PTYSpec{
			Term:    envOr("TERM", "xterm-256color"),
			Columns: uint32(cols),
			Rows:    uint32(rows),
		},
		OnOpen: func(ch ssh.Channel) { channel = ch },
	}

	shell := envOr("SHELL", "/bin/sh")

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, unix.SIGWINCH)
	defer signal.Stop(sigwinch)

	err = popen.Popen2e(sess, nil, []string{shell, "-i"}, popenOpts,
		func(stdin io.WriteCloser, combined io.ReadCloser, w *popen.Waiter) error {
			go func() {
				for range sigwinch {
					if c, r, err := term.GetSize(fd); err == nil && channel != nil {
						popen.RequestWindowChange(channel, uint32(c), uint32(r), 0, 0)
					}
				}
			}()

			go io.Copy(stdin, os.Stdin)
			_, copyErr := io.Copy(os.Stdout, combined)
			return copyErr
		})

	if err != nil {
		fmt.Fprintf(os.Stderr, "\r\n!!! %s\r\n", err)
		os.Exit(2)
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
