package botlib

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/bgsclient/pkg/client"
	"github.com/aeolun/bgsclient/pkg/protocol"
)

var (
	// ErrRefused wraps every ERROR reply.
	ErrRefused = errors.New("request refused")
	// ErrTimeout is returned when no reply arrives in time. The connection
	// is closed since later replies could no longer be matched.
	ErrTimeout = errors.New("timeout waiting for response")
	// ErrConnectionClosed is returned for requests on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

const notificationBuffer = 256

// Client issues BGS requests one at a time and matches each to its ACK or
// ERROR. NOTIFICATION frames are routed to a separate channel.
type Client struct {
	conn    *client.Connection
	timeout time.Duration

	// One request in flight; servers answer in order.
	requestMu sync.Mutex

	responses     chan protocol.ServerMessage
	notifications chan *protocol.NotificationMessage
	dropped       atomic.Int64

	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

// Dial connects to addr (any address client.NewConnection accepts).
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := client.NewConnection(addr)
	if err != nil {
		return nil, err
	}
	conn.SetDialTimeout(timeout)
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("connect failed: %w", err)
	}

	c := &Client{
		conn:          conn,
		timeout:       timeout,
		responses:     make(chan protocol.ServerMessage, 1),
		notifications: make(chan *protocol.NotificationMessage, notificationBuffer),
		done:          make(chan struct{}),
	}
	go c.receiveLoop()
	return c, nil
}

// receiveLoop reads frames until the stream fails.
// Replies go to responses, NOTIFICATIONs to notifications.
func (c *Client) receiveLoop() {
	defer close(c.done)
	for {
		msg, err := protocol.DecodeServerMessage(c.conn.Transport())
		if err != nil {
			c.readErr = err
			c.conn.Close()
			return
		}

		if n, ok := msg.(*protocol.NotificationMessage); ok {
			select {
			case c.notifications <- n:
			default:
				// Nobody is draining; don't stall replies behind it.
				c.dropped.Add(1)
			}
			continue
		}

		select {
		case c.responses <- msg:
		case <-time.After(c.timeout):
			// Unsolicited reply with no waiter.
		}
	}
}

// Notifications delivers NOTIFICATION frames as they arrive.
func (c *Client) Notifications() <-chan *protocol.NotificationMessage {
	return c.notifications
}

// Dropped counts notifications discarded because the channel was full.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Done is closed once the stream has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the stream, after Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close closes the stream.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// request sends msg and waits for the reply resolving it.
func (c *Client) request(msg protocol.ClientMessage) (*protocol.AckMessage, error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()

	select {
	case <-c.done:
		return nil, ErrConnectionClosed
	default:
	}

	if err := protocol.WriteMessage(c.conn.Transport(), msg); err != nil {
		return nil, fmt.Errorf("write %s failed: %w", msg.Opcode(), err)
	}

	select {
	case reply := <-c.responses:
		return expectAck(reply, msg.Opcode())
	case <-c.done:
		// The reply may have landed just before the stream ended.
		select {
		case reply := <-c.responses:
			return expectAck(reply, msg.Opcode())
		default:
			return nil, ErrConnectionClosed
		}
	case <-time.After(c.timeout):
		c.Close()
		return nil, fmt.Errorf("%s: %w", msg.Opcode(), ErrTimeout)
	}
}

// expectAck checks that reply acknowledges op, turning ERROR into ErrRefused.
func expectAck(reply protocol.ServerMessage, op protocol.Opcode) (*protocol.AckMessage, error) {
	switch m := reply.(type) {
	case *protocol.AckMessage:
		if m.Resolved != op {
			return nil, fmt.Errorf("ACK for %s while waiting for %s", m.Resolved, op)
		}
		return m, nil
	case *protocol.ErrorMessage:
		if m.Resolved != op {
			return nil, fmt.Errorf("ERROR for %s while waiting for %s", m.Resolved, op)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrRefused)
	default:
		return nil, fmt.Errorf("unexpected %s while waiting for %s", reply.Opcode(), op)
	}
}

func (c *Client) Register(username, password string) error {
	_, err := c.request(&protocol.RegisterMessage{Username: username, Password: password})
	return err
}

func (c *Client) Login(username, password string) error {
	_, err := c.request(&protocol.LoginMessage{Username: username, Password: password})
	return err
}

// Logout ends the session. The server closes the stream after its ACK.
func (c *Client) Logout() error {
	_, err := c.request(&protocol.LogoutMessage{})
	c.Close()
	return err
}

// Follow returns the names that were newly followed.
func (c *Client) Follow(usernames ...string) ([]string, error) {
	ack, err := c.request(&protocol.FollowMessage{Usernames: usernames})
	if err != nil {
		return nil, err
	}
	return ack.Users, nil
}

// Unfollow returns the names that were unfollowed.
func (c *Client) Unfollow(usernames ...string) ([]string, error) {
	ack, err := c.request(&protocol.FollowMessage{Unfollow: true, Usernames: usernames})
	if err != nil {
		return nil, err
	}
	return ack.Users, nil
}

func (c *Client) Post(content string) error {
	_, err := c.request(&protocol.PostMessage{Content: content})
	return err
}

func (c *Client) PM(username, content string) error {
	_, err := c.request(&protocol.PMMessage{Username: username, Content: content})
	return err
}

func (c *Client) UserList() ([]string, error) {
	ack, err := c.request(&protocol.UserListMessage{})
	if err != nil {
		return nil, err
	}
	return ack.Users, nil
}

func (c *Client) Stat(username string) (protocol.StatCounts, error) {
	ack, err := c.request(&protocol.StatMessage{Username: username})
	if err != nil {
		return protocol.StatCounts{}, err
	}
	return ack.Stats, nil
}

func (c *Client) Block(username string) error {
	_, err := c.request(&protocol.BlockMessage{Username: username})
	return err
}
