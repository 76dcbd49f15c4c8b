package popen

import (
	"encoding/binary"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/ssh"
)

var _ = Describe("PTYSpec", func() {
	It("defaults Term to xterm when empty", func() {
		p := &PTYSpec{}
		Ω(p.term()).Should(Equal("xterm"))
	})

	It("keeps an explicit Term", func() {
		p := &PTYSpec{Term: "vt100"}
		Ω(p.term()).Should(Equal("vt100"))
	})

	It("terminates an empty mode list with just the zero byte", func() {
		p := &PTYSpec{}
		Ω(p.encodeModes()).Should(Equal([]byte{ttyOpEnd}))
	})

	It("encodes each mode as a one-byte opcode plus a big-endian uint32 value", func() {
		p := &PTYSpec{Modes: ssh.TerminalModes{ssh.ECHO: 0}}
		encoded := p.encodeModes()

		Ω(encoded).Should(HaveLen(6))
		Ω(encoded[0]).Should(Equal(byte(ssh.ECHO)))
		Ω(binary.BigEndian.Uint32(encoded[1:5])).Should(Equal(uint32(0)))
		Ω(encoded[5]).Should(Equal(byte(ttyOpEnd)))
	})
})

var _ = Describe("PTYEnabled", func() {
	It("requests an 80x24 xterm with no termios overrides", func() {
		p := PTYEnabled()
		Ω(p.Term).Should(Equal("xterm"))
		Ω(p.Columns).Should(Equal(uint32(80)))
		Ω(p.Rows).Should(Equal(uint32(24)))
		Ω(p.Modes).Should(BeEmpty())
	})
})
