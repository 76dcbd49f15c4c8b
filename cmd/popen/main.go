package main

import (
	"fmt"
	"net"
	"os"
	"time"

	fmt_ "github.com/jhunt/go-ansi"
	"github.com/jhunt/go-cli"
	env "github.com/jhunt/go-envirotron"
	"github.com/jhunt/go-log"
	"github.com/mattn/go-isatty"
	"golang.org/x/crypto/ssh"

	"github.com/jhunt/go-popen"
)

var opts struct {
	LogLevel string `cli:"-L, --log-level" env:"POPEN_LOG_LEVEL"`
	Help     bool   `cli:"-h, --help"`

	Host       string `cli:"-H, --host"       env:"POPEN_HOST"`
	User       string `cli:"-u, --user"       env:"POPEN_USER"`
	Identity   string `cli:"-i, --identity"   env:"POPEN_IDENTITY"`
	KnownHosts string `cli:"-k, --known-hosts" env:"POPEN_KNOWN_HOSTS"`
	Timeout    int    `cli:"-t, --timeout"    env:"POPEN_TIMEOUT"`

	Run struct {
		PTY bool `cli:"--pty, --no-pty"`
	} `cli:"run"`

	Shell struct{} `cli:"shell"`
	Trust struct{} `cli:"trust"`
}

func main() {
	opts.LogLevel = "info"
	opts.User = os.Getenv("USER")
	opts.Identity = os.ExpandEnv("$HOME/.ssh/id_rsa")
	opts.KnownHosts = os.ExpandEnv("$HOME/.popen/known_hosts")
	opts.Timeout = 30

	env.Override(&opts)
	log.SetupLogging(log.LogConfig{Type: "console", Level: opts.LogLevel})

	useColor := isatty.IsTerminal(os.Stdout.Fd())
	fmt_.Color(useColor)

	command, args, err := cli.Parse(&opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! %s\n", err)
		os.Exit(1)
	}

	if opts.Help || command == "" {
		usage()
		os.Exit(0)
	}
	if opts.Host == "" {
		fmt.Fprintf(os.Stderr, "!!! -H/--host (or $POPEN_HOST) is required\n")
		os.Exit(1)
	}

	if command == "trust" {
		trustHost()
		os.Exit(0)
	}

	client, err := dial()
	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! %s\n", err)
		os.Exit(2)
	}
	defer client.Close()

	sess := popen.NewSession(client)
	defer sess.Close()
	sess.StartKeepalive(10*time.Second, popen.GoLogAdapter{Component: "popen"})

	switch command {
	case "run":
		runCommand(sess, args)
	case "shell":
		runShell(sess)
	}
}

func dial() (*ssh.Client, error) {
	signer, err := loadPrivateKey(opts.Identity)
	if err != nil {
		return nil, fmt.Errorf("loading identity: %w", err)
	}

	known, err := LoadKnownHosts(opts.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: known.HostKeyCallback(),
		Timeout:         time.Duration(opts.Timeout) * time.Second,
	}

	return ssh.Dial("tcp", opts.Host, config)
}

// trustHost dials opts.Host with no auth methods configured, just far
// enough to complete the SSH key exchange, captures whatever host key
// the server offers via HostKeyCallback, and appends it to the known
// hosts file -- the client never gets as far as user authentication,
// but the host key has already been seen by then.
func trustHost() {
	var hostKey ssh.PublicKey
	config := &ssh.ClientConfig{
		User: opts.User,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			hostKey = key
			return nil
		},
		Timeout: time.Duration(opts.Timeout) * time.Second,
	}

	_, dialErr := ssh.Dial("tcp", opts.Host, config)
	if hostKey == nil {
		fmt.Fprintf(os.Stderr, "!!! could not retrieve host key for %s: %s\n", opts.Host, dialErr)
		os.Exit(2)
	}

	if err := AppendKnownHost(opts.KnownHosts, opts.Host, hostKey); err != nil {
		fmt.Fprintf(os.Stderr, "!!! failed to save host key for %s: %s\n", opts.Host, err)
		os.Exit(2)
	}

	fmt_.Printf("@G{trusted} %s (@C{%s})\n", opts.Host, ssh.FingerprintSHA256(hostKey))
}

func runCommand(sess *popen.Session, args []string) {
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "!!! popen run COMMAND [ARGS...]\n")
		os.Exit(1)
	}

	popenOpts := popen.Options{Logger: popen.GoLogAdapter{Component: "run"}}
	if opts.Run.PTY {
		popenOpts.PTY = popen.PTYEnabled()
	}

	out, errout, status, err := popen.Capture3(sess, nil, args, popenOpts)
	fmt.Fprint(os.Stdout, out)
	fmt.Fprint(os.Stderr, errout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "!!! %s\n", err)
		os.Exit(2)
	}

	if code := exitCode(status); code != 0 {
		os.Exit(code)
	}
}

func exitCode(status *popen.ExitStatus) int {
	if status == nil {
		return 2
	}
	if status.Exited() {
		return status.ExitCode()
	}
	if status.Signaled() {
		fmt_.Fprintf(os.Stderr, "@Y{terminated by signal %s}\n", status.TermSignal())
		return 1
	}
	return 2
}

func usage() {
	fmt_.Printf("@*{popen} - a helper utility for the @*{go-popen} SSH pipe library\n")
	fmt_.Printf("\n")
	fmt_.Printf("@W{COMMANDS}\n")
	fmt_.Printf("\n")
	fmt_.Printf("  @G{run} @C{COMMAND [ARGS...]}   Run COMMAND remotely and capture its output.\n")
	fmt_.Printf("                         --pty requests a remote pseudo-terminal.\n")
	fmt_.Printf("\n")
	fmt_.Printf("  @G{shell}                Start an interactive remote shell over a PTY.\n")
	fmt_.Printf("\n")
	fmt_.Printf("  @G{trust}                Retrieve -H's host key and add it to --known-hosts.\n")
	fmt_.Printf("\n")
	fmt_.Printf("@W{OPTIONS}\n")
	fmt_.Printf("\n")
	fmt_.Printf("  -H, --host      Remote host[:port] to dial.\n")
	fmt_.Printf("  -u, --user      Remote username.\n")
	fmt_.Printf("  -i, --identity  Path to the SSH private key to authenticate with.\n")
	fmt_.Printf("  -k, --known-hosts  Path to this tool's host-key trust store.\n")
}
