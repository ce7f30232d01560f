package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/aeolun/bgsclient/pkg/protocol"
)

// DisconnectNotice is printed once when the stream is lost.
const DisconnectNotice = "Disconnected. Exiting..."

// Session runs one connected client: a sender goroutine that turns input
// lines into frames and a receiver goroutine that prints decoded server
// frames. The two share only the LogoutCoordinator.
type Session struct {
	transport *protocol.Transport
	closer    io.Closer
	input     LineSource
	out       Printer

	notifier Notifier
	metrics  *Metrics
	logger   *log.Logger

	logout     *LogoutCoordinator
	noticeOnce sync.Once
	inputOnce  sync.Once
}

// NewSession wires a session over an established transport. closer is the
// underlying connection; closing it must unblock a pending read.
func NewSession(t *protocol.Transport, closer io.Closer, input LineSource, out Printer) *Session {
	return &Session{
		transport: t,
		closer:    closer,
		input:     input,
		out:       out,
		logout:    NewLogoutCoordinator(),
	}
}

// SetLogger sets a logger for frame tracing
func (s *Session) SetLogger(logger *log.Logger) {
	s.logger = logger
}

// SetNotifier enables out-of-band alerts for NOTIFICATION frames.
func (s *Session) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetMetrics enables frame counters.
func (s *Session) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Logout exposes the coordinator (tests and front-ends that show state).
func (s *Session) Logout() *LogoutCoordinator {
	return s.logout
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Run starts the sender and receiver and returns when the session is over:
// after a successful LOGOUT, when input ends, when ctx is cancelled, or when
// the connection fails. A connection failure is returned as the error.
//
// If the input source cannot be closed, Run does not wait for a sender that
// is blocked reading input after the receiver has stopped.
func (s *Session) Run(ctx context.Context) error {
	var (
		sendErr, recvErr error
		sendDone         = make(chan struct{})
		recvDone         = make(chan struct{})
	)

	go func() {
		defer close(recvDone)
		recvErr = s.receiveLoop()
		s.logout.Abort()
		s.closeInput()
	}()

	go func() {
		defer close(sendDone)
		sendErr = s.sendLoop()
		s.logout.Abort()
		s.closer.Close()
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.logf("Session cancelled: %v", ctx.Err())
			s.logout.Abort()
			s.closer.Close()
			s.closeInput()
		case <-stop:
		}
	}()

	<-recvDone
	if _, closable := s.input.(io.Closer); closable {
		<-sendDone
	} else {
		select {
		case <-sendDone:
		default:
			s.logf("Receiver stopped; not waiting for blocked input")
		}
	}
	s.closer.Close()

	if recvErr != nil {
		return recvErr
	}
	select {
	case <-sendDone:
		return sendErr
	default:
		return nil
	}
}

func (s *Session) sendLoop() error {
	for {
		line, err := s.input.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || s.logout.Terminated() {
				s.logf("Input closed")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if s.logout.Terminated() {
			return nil
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.EqualFold(trimmed, "HELP") {
			for _, usage := range protocol.Usage() {
				s.out.Println(usage)
			}
			continue
		}

		msg, err := protocol.ParseCommand(line)
		if err != nil {
			s.metrics.RecordRejected(err)
			s.out.Println("Rejected: " + err.Error())
			continue
		}

		isLogout := msg.Opcode() == protocol.OpLogout
		if isLogout && !s.logout.Begin() {
			return nil
		}

		if err := protocol.WriteMessage(s.transport, msg); err != nil {
			s.logf("→ SEND %s failed: %v", msg.Opcode(), err)
			s.disconnected()
			return err
		}
		s.metrics.RecordSent(msg.Opcode())
		s.logf("→ SEND %s", msg.Opcode())

		if !isLogout {
			continue
		}
		switch s.logout.AwaitOutcome() {
		case LogoutTerminate:
			s.logf("Logout complete")
			return nil
		case LogoutProceed:
			s.logf("Logout refused; continuing")
		}
	}
}

func (s *Session) receiveLoop() error {
	for {
		msg, err := protocol.DecodeServerMessage(s.transport)
		if err != nil {
			if s.logout.Terminated() {
				// We closed the stream ourselves.
				return nil
			}
			s.metrics.RecordDecodeFailure(err)
			s.logf("← RECV failed: %v", err)
			s.disconnected()
			return err
		}

		s.metrics.RecordReceived(msg)
		line := protocol.Render(msg)
		s.logf("← RECV %s", line)
		s.out.Println(line)

		switch m := msg.(type) {
		case *protocol.AckMessage:
			if m.Resolved == protocol.OpLogout {
				s.logout.ReportAck()
				return nil
			}
		case *protocol.ErrorMessage:
			if m.Resolved == protocol.OpLogout {
				s.logout.ReportError()
			}
		case *protocol.NotificationMessage:
			if s.notifier != nil {
				if err := s.notifier.Notify(m); err != nil {
					s.logf("Notification failed: %v", err)
				}
			}
		}
	}
}

// disconnected prints the notice once and releases the other goroutine.
func (s *Session) disconnected() {
	s.noticeOnce.Do(func() {
		s.out.Println(DisconnectNotice)
	})
	s.logout.Abort()
}

func (s *Session) closeInput() {
	s.inputOnce.Do(func() {
		if c, ok := s.input.(io.Closer); ok {
			c.Close()
		}
	})
}
