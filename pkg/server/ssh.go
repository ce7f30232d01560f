package server

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// sshServerVersion is the identification string clients check for.
const sshServerVersion = "SSH-2.0-BGS"

// startSSHServer starts the SSH listener when SSHAddr is set. Accounts are
// managed with REGISTER/LOGIN inside the stream, so the SSH layer itself
// accepts any user.
func (s *Server) startSSHServer() error {
	if s.config.SSHAddr == "" {
		log.Printf("SSH server disabled")
		return nil
	}

	hostKey, err := loadOrGenerateHostKey(s.config.SSHHostKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: sshServerVersion,
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", s.config.SSHAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.SSHAddr, err)
	}
	s.sshListener = listener
	log.Printf("SSH server listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptSSHLoop(listener, config)

	return nil
}

// acceptSSHLoop accepts incoming SSH connections
func (s *Server) acceptSSHLoop(listener net.Listener, config *ssh.ServerConfig) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("SSH accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go s.handleSSHConnection(conn, config)
	}
}

func (s *Server) handleSSHConnection(conn net.Conn, config *ssh.ServerConfig) {
	defer s.wg.Done()
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		debugLog.Printf("SSH handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer sshConn.Close()

	// Stop ranging over chans once the server shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.shutdown:
			sshConn.Close()
		case <-done:
		}
	}()

	go ssh.DiscardRequests(reqs)

	remote := sshConn.RemoteAddr().String()
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			debugLog.Printf("Could not accept SSH channel from %s: %v", remote, err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			go handleSSHChannelRequests(requests)
			s.handleStream("ssh", &sshChannelConn{channel: channel}, remote)
		}()
	}
}

// handleSSHChannelRequests accepts the requests a terminal client sends
// before the stream starts.
func handleSSHChannelRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// sshChannelConn adapts an SSH channel to the stream a session reads from.
type sshChannelConn struct {
	channel ssh.Channel
}

func (c *sshChannelConn) Read(b []byte) (int, error)  { return c.channel.Read(b) }
func (c *sshChannelConn) Write(b []byte) (int, error) { return c.channel.Write(b) }
func (c *sshChannelConn) Close() error                { return c.channel.Close() }

// loadOrGenerateHostKey reads the PEM host key at keyPath, creating an
// ed25519 key there when the file does not exist.
func loadOrGenerateHostKey(keyPath string) (ssh.Signer, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("ssh host key path is empty; set [server].ssh_host_key or remove it to use the default (%s)", DefaultConfig().SSHHostKeyPath)
	}
	keyPath, err := expandPath(keyPath)
	if err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key: %w", err)
		}
		log.Printf("Loaded SSH host key from %s", keyPath)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	log.Printf("Generating new SSH host key at %s...", keyPath)

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(privateKey, "bgs host key")
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load generated key: %w", err)
	}
	return signer, nil
}

// HostPublicKey returns the public half of the host key at keyPath, for
// writing known_hosts entries.
func HostPublicKey(keyPath string) (ssh.PublicKey, error) {
	signer, err := loadOrGenerateHostKey(keyPath)
	if err != nil {
		return nil, err
	}
	return signer.PublicKey(), nil
}
