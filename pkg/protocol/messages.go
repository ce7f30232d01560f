package protocol

import (
	"io"
	"math"
)

// credentials is the shared payload of REGISTER and LOGIN.
type credentials struct {
	Username string
	Password string
}

func (c *credentials) encodeTo(w io.Writer, op Opcode) error {
	if err := WriteOpcode(w, op); err != nil {
		return err
	}
	if err := WriteString(w, c.Username); err != nil {
		return err
	}
	return WriteString(w, c.Password)
}

func (c *credentials) decodeFrom(r Reader) error {
	username, err := ReadString(r)
	if err != nil {
		return err
	}
	password, err := ReadString(r)
	if err != nil {
		return err
	}
	c.Username = username
	c.Password = password
	return nil
}

// RegisterMessage (1) - create an account
type RegisterMessage struct {
	Username string
	Password string
}

func (m *RegisterMessage) Opcode() Opcode { return OpRegister }

func (m *RegisterMessage) EncodeTo(w io.Writer) error {
	c := credentials{Username: m.Username, Password: m.Password}
	return c.encodeTo(w, OpRegister)
}

func (m *RegisterMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *RegisterMessage) DecodeFrom(r Reader) error {
	var c credentials
	if err := c.decodeFrom(r); err != nil {
		return err
	}
	m.Username, m.Password = c.Username, c.Password
	return nil
}

// LoginMessage (2) - authenticate this connection
type LoginMessage struct {
	Username string
	Password string
}

func (m *LoginMessage) Opcode() Opcode { return OpLogin }

func (m *LoginMessage) EncodeTo(w io.Writer) error {
	c := credentials{Username: m.Username, Password: m.Password}
	return c.encodeTo(w, OpLogin)
}

func (m *LoginMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *LoginMessage) DecodeFrom(r Reader) error {
	var c credentials
	if err := c.decodeFrom(r); err != nil {
		return err
	}
	m.Username, m.Password = c.Username, c.Password
	return nil
}

// LogoutMessage (3) - end the session; no payload
type LogoutMessage struct{}

func (m *LogoutMessage) Opcode() Opcode { return OpLogout }

func (m *LogoutMessage) EncodeTo(w io.Writer) error {
	return WriteOpcode(w, OpLogout)
}

func (m *LogoutMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *LogoutMessage) DecodeFrom(r Reader) error { return nil }

// FollowMessage (4) - follow or unfollow users
//
// Console input always produces exactly one name. The count field is kept
// general so the peer can decode any well-formed frame.
type FollowMessage struct {
	Unfollow  bool
	Usernames []string
}

func (m *FollowMessage) Opcode() Opcode { return OpFollow }

func (m *FollowMessage) EncodeTo(w io.Writer) error {
	if len(m.Usernames) > math.MaxUint16 {
		return ErrTooManyNames
	}
	if err := WriteOpcode(w, OpFollow); err != nil {
		return err
	}
	var flag uint8
	if m.Unfollow {
		flag = 1
	}
	if err := WriteUint8(w, flag); err != nil {
		return err
	}
	if err := WriteUint16(w, uint16(len(m.Usernames))); err != nil {
		return err
	}
	for _, name := range m.Usernames {
		if err := WriteString(w, name); err != nil {
			return err
		}
	}
	return nil
}

func (m *FollowMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *FollowMessage) DecodeFrom(r Reader) error {
	flag, err := ReadUint8(r)
	if err != nil {
		return err
	}
	count, err := ReadUint16(r)
	if err != nil {
		return err
	}
	names, err := readNames(r, count)
	if err != nil {
		return err
	}
	m.Unfollow = flag != 0
	m.Usernames = names
	return nil
}

// PostMessage (5) - public post to followers and @mentions
type PostMessage struct {
	Content string
}

func (m *PostMessage) Opcode() Opcode { return OpPost }

func (m *PostMessage) EncodeTo(w io.Writer) error {
	if err := WriteOpcode(w, OpPost); err != nil {
		return err
	}
	return WriteString(w, m.Content)
}

func (m *PostMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *PostMessage) DecodeFrom(r Reader) error {
	content, err := ReadString(r)
	if err != nil {
		return err
	}
	m.Content = content
	return nil
}

// PMMessage (6) - private message
type PMMessage struct {
	Username string
	Content  string
}

func (m *PMMessage) Opcode() Opcode { return OpPM }

func (m *PMMessage) EncodeTo(w io.Writer) error {
	if err := WriteOpcode(w, OpPM); err != nil {
		return err
	}
	if err := WriteString(w, m.Username); err != nil {
		return err
	}
	return WriteString(w, m.Content)
}

func (m *PMMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *PMMessage) DecodeFrom(r Reader) error {
	username, err := ReadString(r)
	if err != nil {
		return err
	}
	content, err := ReadString(r)
	if err != nil {
		return err
	}
	m.Username = username
	m.Content = content
	return nil
}

// UserListMessage (7) - list registered users; no payload
type UserListMessage struct{}

func (m *UserListMessage) Opcode() Opcode { return OpUserList }

func (m *UserListMessage) EncodeTo(w io.Writer) error {
	return WriteOpcode(w, OpUserList)
}

func (m *UserListMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *UserListMessage) DecodeFrom(r Reader) error { return nil }

// StatMessage (8) - request a user's counters
type StatMessage struct {
	Username string
}

func (m *StatMessage) Opcode() Opcode { return OpStat }

func (m *StatMessage) EncodeTo(w io.Writer) error {
	if err := WriteOpcode(w, OpStat); err != nil {
		return err
	}
	return WriteString(w, m.Username)
}

func (m *StatMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *StatMessage) DecodeFrom(r Reader) error {
	username, err := ReadString(r)
	if err != nil {
		return err
	}
	m.Username = username
	return nil
}

// BlockMessage (12) - block a user
type BlockMessage struct {
	Username string
}

func (m *BlockMessage) Opcode() Opcode { return OpBlock }

func (m *BlockMessage) EncodeTo(w io.Writer) error {
	if err := WriteOpcode(w, OpBlock); err != nil {
		return err
	}
	return WriteString(w, m.Username)
}

func (m *BlockMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *BlockMessage) DecodeFrom(r Reader) error {
	username, err := ReadString(r)
	if err != nil {
		return err
	}
	m.Username = username
	return nil
}

// NotificationKind is the first payload byte of a NOTIFICATION.
type NotificationKind uint8

const (
	KindPM     NotificationKind = 0
	KindPublic NotificationKind = 1
)

// NotificationMessage (9) - pushed by the server when a post or PM arrives
type NotificationMessage struct {
	Kind    NotificationKind
	Sender  string
	Content string
}

func (m *NotificationMessage) Opcode() Opcode { return OpNotification }

// IsPrivate reports whether the notification carries a PM. Any non-zero
// kind byte is a public post.
func (m *NotificationMessage) IsPrivate() bool { return m.Kind == KindPM }

func (m *NotificationMessage) EncodeTo(w io.Writer) error {
	if err := WriteOpcode(w, OpNotification); err != nil {
		return err
	}
	if err := WriteUint8(w, uint8(m.Kind)); err != nil {
		return err
	}
	if err := WriteString(w, m.Sender); err != nil {
		return err
	}
	return WriteString(w, m.Content)
}

func (m *NotificationMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *NotificationMessage) DecodeFrom(r Reader) error {
	kind, err := ReadUint8(r)
	if err != nil {
		return err
	}
	sender, err := ReadString(r)
	if err != nil {
		return err
	}
	content, err := ReadString(r)
	if err != nil {
		return err
	}
	m.Kind = NotificationKind(kind)
	m.Sender = sender
	m.Content = content
	return nil
}

// StatCounts is the payload of an ACK for STAT.
type StatCounts struct {
	Posts     uint16
	Followers uint16
	Following uint16
}

// AckMessage (10) - success reply; payload depends on Resolved
//
//   - FOLLOW, USERLIST: Users (count + names)
//   - STAT: Stats
//   - REGISTER, LOGIN, LOGOUT, POST, PM, BLOCK: nothing
type AckMessage struct {
	Resolved Opcode
	Users    []string
	Stats    StatCounts
}

func (m *AckMessage) Opcode() Opcode { return OpAck }

func (m *AckMessage) EncodeTo(w io.Writer) error {
	if err := checkResolved(m.Resolved); err != nil {
		return err
	}
	if err := WriteOpcode(w, OpAck); err != nil {
		return err
	}
	if err := WriteOpcode(w, m.Resolved); err != nil {
		return err
	}

	switch m.Resolved {
	case OpFollow, OpUserList:
		if len(m.Users) > math.MaxUint16 {
			return ErrTooManyNames
		}
		if err := WriteUint16(w, uint16(len(m.Users))); err != nil {
			return err
		}
		for _, name := range m.Users {
			if err := WriteString(w, name); err != nil {
				return err
			}
		}
	case OpStat:
		for _, v := range []uint16{m.Stats.Posts, m.Stats.Followers, m.Stats.Following} {
			if err := WriteUint16(w, v); err != nil {
				return err
			}
		}
	case OpRegister, OpLogin, OpLogout, OpPost, OpPM, OpBlock:
	}
	return nil
}

func (m *AckMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *AckMessage) DecodeFrom(r Reader) error {
	resolved, err := ReadOpcode(r)
	if err != nil {
		return err
	}
	if err := checkResolved(resolved); err != nil {
		return err
	}
	m.Resolved = resolved
	m.Users = nil
	m.Stats = StatCounts{}

	switch resolved {
	case OpFollow, OpUserList:
		count, err := ReadUint16(r)
		if err != nil {
			return err
		}
		names, err := readNames(r, count)
		if err != nil {
			return err
		}
		m.Users = names
	case OpStat:
		var counts [3]uint16
		for i := range counts {
			v, err := ReadUint16(r)
			if err != nil {
				return err
			}
			counts[i] = v
		}
		m.Stats = StatCounts{Posts: counts[0], Followers: counts[1], Following: counts[2]}
	case OpRegister, OpLogin, OpLogout, OpPost, OpPM, OpBlock:
	}
	return nil
}

// ErrorMessage (11) - failure reply for the resolved opcode
type ErrorMessage struct {
	Resolved Opcode
}

func (m *ErrorMessage) Opcode() Opcode { return OpError }

func (m *ErrorMessage) EncodeTo(w io.Writer) error {
	if err := checkResolved(m.Resolved); err != nil {
		return err
	}
	if err := WriteOpcode(w, OpError); err != nil {
		return err
	}
	return WriteOpcode(w, m.Resolved)
}

func (m *ErrorMessage) Encode() ([]byte, error) { return encodeMessage(m) }

func (m *ErrorMessage) DecodeFrom(r Reader) error {
	resolved, err := ReadOpcode(r)
	if err != nil {
		return err
	}
	if err := checkResolved(resolved); err != nil {
		return err
	}
	m.Resolved = resolved
	return nil
}

// checkResolved rejects resolved opcodes that no client request could carry.
func checkResolved(op Opcode) error {
	switch op {
	case OpRegister, OpLogin, OpLogout, OpFollow, OpPost, OpPM, OpUserList, OpStat, OpBlock:
		return nil
	case OpNotification, OpAck, OpError:
		return violation("resolved opcode", uint16(op), "server opcode cannot be acknowledged")
	default:
		return violation("resolved opcode", uint16(op), "unknown opcode")
	}
}

// readNames reads exactly count null-terminated strings, keeping order and duplicates.
func readNames(r Reader, count uint16) ([]string, error) {
	names := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		name, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (*RegisterMessage) clientFrame() {}
func (*LoginMessage) clientFrame()    {}
func (*LogoutMessage) clientFrame()   {}
func (*FollowMessage) clientFrame()   {}
func (*PostMessage) clientFrame()     {}
func (*PMMessage) clientFrame()       {}
func (*UserListMessage) clientFrame() {}
func (*StatMessage) clientFrame()     {}
func (*BlockMessage) clientFrame()    {}

func (*NotificationMessage) serverFrame() {}
func (*AckMessage) serverFrame()          {}
func (*ErrorMessage) serverFrame()        {}

// Compile-time checks to ensure all message types implement the right interface
var (
	// Client → Server messages
	_ ClientMessage = (*RegisterMessage)(nil)
	_ ClientMessage = (*LoginMessage)(nil)
	_ ClientMessage = (*LogoutMessage)(nil)
	_ ClientMessage = (*FollowMessage)(nil)
	_ ClientMessage = (*PostMessage)(nil)
	_ ClientMessage = (*PMMessage)(nil)
	_ ClientMessage = (*UserListMessage)(nil)
	_ ClientMessage = (*StatMessage)(nil)
	_ ClientMessage = (*BlockMessage)(nil)

	// Server → Client messages
	_ ServerMessage = (*NotificationMessage)(nil)
	_ ServerMessage = (*AckMessage)(nil)
	_ ServerMessage = (*ErrorMessage)(nil)
)
