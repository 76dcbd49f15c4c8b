package main

import (
	"fmt"
	"io/ioutil"

	"golang.org/x/crypto/ssh"
)

// loadPrivateKey reads and parses an SSH private key file, the same
// way the teacher's ssh.go did for the sFAB hub/agent host keys --
// here it is the identity key presented to whatever real sshd we dial.
func loadPrivateKey(path string) (ssh.Signer, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key %s: %w", path, err)
	}
	return ssh.ParsePrivateKey(b)
}
