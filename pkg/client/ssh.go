package client

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// bgsSSHVersionPrefix is the banner every BGS SSH endpoint advertises.
const bgsSSHVersionPrefix = "SSH-2.0-BGS"

var errHostKeyRejected = errors.New("ssh host key rejected")

// trustStore checks server host keys against known_hosts files. Keys
// approved at the prompt are remembered in ~/.bgs/known_hosts, which is
// always consulted after the files named by SSH_KNOWN_HOSTS.
type trustStore struct {
	files   []string
	own     string
	pending map[string]ssh.PublicKey
	warning string
}

func newTrustStore() *trustStore {
	ts := &trustStore{pending: make(map[string]ssh.PublicKey)}
	if env := os.Getenv("SSH_KNOWN_HOSTS"); env != "" {
		for _, p := range filepath.SplitList(env) {
			if p = strings.TrimSpace(p); p != "" {
				ts.files = append(ts.files, p)
			}
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		ts.files = append(ts.files, filepath.Join(home, ".ssh", "known_hosts"))
	}
	if own, err := ExpandPath("~/.bgs/known_hosts"); err == nil {
		ts.own = own
		ts.files = append(ts.files, own)
	}

	if len(ts.existing()) == 0 {
		ts.warning = "no known_hosts file found; unknown SSH host keys need interactive approval"
	}
	return ts
}

func (ts *trustStore) existing() []string {
	var found []string
	for _, f := range ts.files {
		if _, err := os.Stat(f); err == nil {
			found = append(found, f)
		}
	}
	return found
}

func (ts *trustStore) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	var keyErr *knownhosts.KeyError
	if files := ts.existing(); len(files) > 0 {
		cb, err := knownhosts.New(files...)
		if err != nil {
			return fmt.Errorf("read known_hosts: %w", err)
		}
		err = cb(hostname, remote, key)
		if err == nil {
			return nil
		}
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return fmt.Errorf("ssh host key for %s changed: server presented %s, %s:%d expects %s",
				hostname, ssh.FingerprintSHA256(key), keyErr.Want[0].Filename, keyErr.Want[0].Line,
				ssh.FingerprintSHA256(keyErr.Want[0].Key))
		}
	}
	return ts.approve(hostname, key)
}

// approve asks the user about a key no file knows. Without a terminal the
// key is refused.
func (ts *trustStore) approve(hostname string, key ssh.PublicKey) error {
	if seen, ok := ts.pending[hostname]; ok && bytes.Equal(seen.Marshal(), key.Marshal()) {
		return nil
	}
	fingerprint := ssh.FingerprintSHA256(key)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("%w: %s presented %s, which no known_hosts file lists", errHostKeyRejected, hostname, fingerprint)
	}

	fmt.Printf("\nBGS server %s presented an unknown host key %s.\n", hostname, fingerprint)
	fmt.Print("Trust it and remember it? (yes/no) [no]: ")
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		ts.pending[hostname] = key
		return nil
	}
	return errHostKeyRejected
}

// commit records approved keys. It runs only after the banner proved the
// peer is a BGS server.
func (ts *trustStore) commit() error {
	defer clear(ts.pending)
	if len(ts.pending) == 0 || ts.own == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(ts.own), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(ts.own, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	for host, key := range ts.pending {
		if _, err := fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(host)}, key)); err != nil {
			return err
		}
	}
	return nil
}

// authSet holds the client credentials for one handshake. release closes
// the agent socket, which is only needed until the handshake finishes.
type authSet struct {
	methods []ssh.AuthMethod
	agent   net.Conn
}

func loadAuth() *authSet {
	a := &authSet{}
	if socket := os.Getenv("SSH_AUTH_SOCK"); socket != "" {
		if conn, err := net.Dial("unix", socket); err == nil {
			a.agent = conn
			a.methods = append(a.methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	if signers := diskSigners(); len(signers) > 0 {
		a.methods = append(a.methods, ssh.PublicKeys(signers...))
	}
	return a
}

func (a *authSet) release() {
	if a.agent != nil {
		a.agent.Close()
		a.agent = nil
	}
}

// diskSigners loads unencrypted default keys. Encrypted ones need the agent.
func diskSigners() []ssh.Signer {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var signers []ssh.Signer
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		pem, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		if signer, err := ssh.ParsePrivateKey(pem); err == nil {
			signers = append(signers, signer)
		}
	}
	return signers
}

func dialSSH(user, host, port string, trust *trustStore, timeout time.Duration) (net.Conn, error) {
	address := net.JoinHostPort(host, port)
	netConn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	if err := netConn.SetDeadline(time.Now().Add(timeout)); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}

	// With no keys the "none" method is still offered; BGS servers accept it.
	auth := loadAuth()
	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, address, &ssh.ClientConfig{
		User:            user,
		Auth:            auth.methods,
		HostKeyCallback: trust.check,
		Timeout:         timeout,
	})
	auth.release()
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", address, err)
	}
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		clientConn.Close()
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}

	banner := string(clientConn.ServerVersion())
	if !strings.HasPrefix(banner, bgsSSHVersionPrefix) {
		clientConn.Close()
		return nil, fmt.Errorf("%s advertised %q, not a BGS server (want prefix %q)", address, banner, bgsSSHVersionPrefix)
	}
	if err := trust.commit(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not remember SSH host key for %s: %v\n", address, err)
	}

	sshClient := ssh.NewClient(clientConn, chans, reqs)
	channel, requests, err := sshClient.OpenChannel("session", nil)
	if err != nil {
		sshClient.Close()
		return nil, err
	}
	go ssh.DiscardRequests(requests)

	return &sshStream{
		Channel: channel,
		client:  sshClient,
		local:   netConn.LocalAddr(),
		remote:  netConn.RemoteAddr(),
	}, nil
}

// sshStream presents the session channel as a net.Conn. Deadlines are not
// supported; Close tears down the whole SSH connection.
type sshStream struct {
	ssh.Channel
	client        *ssh.Client
	local, remote net.Addr
	once          sync.Once
	closeErr      error
}

func (s *sshStream) Close() error {
	s.once.Do(func() {
		if err := s.Channel.Close(); err != nil && !errors.Is(err, io.EOF) {
			s.closeErr = err
		}
		s.client.Close()
	})
	return s.closeErr
}

func (s *sshStream) LocalAddr() net.Addr              { return s.local }
func (s *sshStream) RemoteAddr() net.Addr             { return s.remote }
func (s *sshStream) SetDeadline(time.Time) error      { return nil }
func (s *sshStream) SetReadDeadline(time.Time) error  { return nil }
func (s *sshStream) SetWriteDeadline(time.Time) error { return nil }
