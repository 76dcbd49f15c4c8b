package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KnownHosts tracks which host keys are trusted for which hosts. It is
// the client-side analogue of the teacher's key_master.go (which
// tracked authorized agent keys for a sFAB Hub): same shape --
// key fingerprint -> subject -> trusted -- repurposed so the subject
// is a hostname instead of an agent identity.
type KnownHosts struct {
	keys map[string]map[string]bool
}

// Trust records that key is an acceptable host key for host.
func (k *KnownHosts) Trust(host string, key ssh.PublicKey) {
	fp := ssh.FingerprintSHA256(key)
	if k.keys == nil {
		k.keys = make(map[string]map[string]bool)
	}
	if _, ok := k.keys[fp]; !ok {
		k.keys[fp] = make(map[string]bool)
	}
	k.keys[fp][host] = true
}

// Trusted reports whether key has been trusted for host.
func (k *KnownHosts) Trusted(host string, key ssh.PublicKey) bool {
	fp := ssh.FingerprintSHA256(key)
	if k.keys == nil {
		return false
	}
	return k.keys[fp][host]
}

// HostKeyCallback adapts Trusted to the shape golang.org/x/crypto/ssh
// wants for ssh.ClientConfig.HostKeyCallback, the same wiring
// key_master.go did for ssh.CertChecker.UserKeyFallback.
func (k *KnownHosts) HostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if k.Trusted(hostname, key) || k.Trusted(remote.String(), key) {
			return nil
		}
		return fmt.Errorf("unrecognized host key for %s (%s); add it with 'popen trust'", hostname, ssh.FingerprintSHA256(key))
	}
}

// LoadKnownHosts reads a simple "host authorized-key-line" file; lines
// whose key does not parse are skipped. Missing files are treated as an
// empty trust store rather than an error, so on a first run every host
// is rejected until it is added with 'popen trust'.
func LoadKnownHosts(path string) (*KnownHosts, error) {
	k := &KnownHosts{}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return k, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		host := fields[0]
		key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.Join(fields[1:], " ")))
		if err != nil {
			continue
		}
		k.Trust(host, key)
	}
	return k, s.Err()
}

// AppendKnownHost persists a newly trusted host key line.
func AppendKnownHost(path, host string, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.WriteString(f, host+" "+string(ssh.MarshalAuthorizedKey(key)))
	return err
}
