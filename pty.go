package popen

import (
	"fmt"

	"golang.org/x/crypto/ssh"
)

// ttyOpEnd terminates an RFC 4254 pty-req mode list.
const ttyOpEnd = 0

// PTYSpec is the PTY spec from spec.md §3/§6: either a bare "give me a
// PTY" request (PTYEnabled) or a structured mapping of termios modes
// (VINTR, VQUIT, VEOF, ECHO, ISIG, ...), consumed once at exec time.
type PTYSpec struct {
	// Term is the $TERM value advertised to the remote shell.
	// Defaults to "xterm" when empty.
	Term string

	// Columns and Rows are the terminal dimensions in characters.
	Columns, Rows uint32

	// WidthPixels and HeightPixels are the terminal dimensions in
	// pixels, when known; zero is an acceptable "unknown" value per
	// RFC 4254.
	WidthPixels, HeightPixels uint32

	// Modes holds termios opcode/value pairs, keyed by the POSIX
	// termios opcode (ssh.VINTR, ssh.ECHO, ...). Both special
	// characters and local flags live in the same map, per the wire
	// format.
	Modes ssh.TerminalModes
}

// PTYEnabled returns the PTYSpec used for a plain boolean "pty: true"
// request: an 80x24 xterm with no explicit termios overrides.
func PTYEnabled() *PTYSpec {
	return &PTYSpec{Term: "xterm", Columns: 80, Rows: 24}
}

func (p *PTYSpec) term() string {
	if p.Term == "" {
		return "xterm"
	}
	return p.Term
}

// encodeModes renders the Modes map into the RFC 4254 mode-list
// encoding: repeated (opcode byte, uint32 value) pairs, terminated by
// a single zero byte. This is the same encoding golang.org/x/crypto/ssh's
// own *ssh.Session.RequestPty performs internally; we re-derive it here
// because we drive the channel directly rather than through an
// *ssh.Session.
func (p *PTYSpec) encodeModes() []byte {
	var out []byte
	for opcode, value := range p.Modes {
		pair := struct {
			Opcode byte
			Value  uint32
		}{opcode, value}
		out = append(out, ssh.Marshal(&pair)...)
	}
	return append(out, ttyOpEnd)
}

// ptyRequestMsg mirrors the unexported type golang.org/x/crypto/ssh
// uses internally for "pty-req"; RFC 4254 §6.2.
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

// requestPTY sends the "pty-req" request on an opened channel. Per
// spec.md §4.6 this happens once, inside the open callback, before the
// exec request.
func requestPTY(ch ssh.Channel, p *PTYSpec) error {
	msg := ptyRequestMsg{
		Term:     p.term(),
		Columns:  p.Columns,
		Rows:     p.Rows,
		Width:    p.WidthPixels,
		Height:   p.HeightPixels,
		Modelist: string(p.encodeModes()),
	}
	ok, err := ch.SendRequest("pty-req", true, ssh.Marshal(&msg))
	if err == nil && !ok {
		err = errChannelRequestRefused("pty-req")
	}
	return err
}

// windowChangeMsg mirrors RFC 4254 §6.7.
type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

// RequestWindowChange sends a "window-change" request on an open
// channel, used by interactive PTY sessions (see cmd/popen's shell
// subcommand) to propagate local terminal resizes.
func RequestWindowChange(ch ssh.Channel, columns, rows, widthPixels, heightPixels uint32) error {
	msg := windowChangeMsg{Columns: columns, Rows: rows, Width: widthPixels, Height: heightPixels}
	_, err := ch.SendRequest("window-change", false, ssh.Marshal(&msg))
	return err
}

func errChannelRequestRefused(name string) error {
	return fmt.Errorf("%s request refused by remote end", name)
}
