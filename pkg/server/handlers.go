package server

import (
	"errors"
	"math"
	"strings"

	"github.com/aeolun/bgsclient/pkg/database"
	"github.com/aeolun/bgsclient/pkg/protocol"
)

// ErrClientDisconnecting ends the message loop after a successful LOGOUT.
var ErrClientDisconnecting = errors.New("client disconnecting")

// handleMessage dispatches a decoded frame. A returned error ends the
// connection; refusals are sent as ERROR frames and return nil.
func (s *Server) handleMessage(sess *Session, msg protocol.ClientMessage) error {
	switch m := msg.(type) {
	case *protocol.RegisterMessage:
		return s.handleRegister(sess, m)
	case *protocol.LoginMessage:
		return s.handleLogin(sess, m)
	case *protocol.LogoutMessage:
		return s.handleLogout(sess)
	case *protocol.FollowMessage:
		return s.handleFollow(sess, m)
	case *protocol.PostMessage:
		return s.handlePost(sess, m)
	case *protocol.PMMessage:
		return s.handlePM(sess, m)
	case *protocol.UserListMessage:
		return s.handleUserList(sess)
	case *protocol.StatMessage:
		return s.handleStat(sess, m)
	case *protocol.BlockMessage:
		return s.handleBlock(sess, m)
	default:
		return s.sendError(sess, msg.Opcode())
	}
}

func (s *Server) send(sess *Session, msg protocol.ServerMessage) error {
	debugLog.Printf("Session %d → SEND: %s", sess.ID, protocol.Render(msg))
	s.metrics.RecordMessageSent(msg.Opcode())
	return sess.Conn.WriteMessage(msg)
}

func (s *Server) sendAck(sess *Session, op protocol.Opcode) error {
	return s.send(sess, &protocol.AckMessage{Resolved: op})
}

func (s *Server) sendError(sess *Session, op protocol.Opcode) error {
	return s.send(sess, &protocol.ErrorMessage{Resolved: op})
}

func (s *Server) tooLong(content string) bool {
	return s.config.MaxMessageLength > 0 && len(content) > s.config.MaxMessageLength
}

func (s *Server) handleRegister(sess *Session, msg *protocol.RegisterMessage) error {
	if msg.Username == "" {
		return s.sendError(sess, protocol.OpRegister)
	}
	if err := s.db.Register(msg.Username, msg.Password); err != nil {
		if !errors.Is(err, database.ErrUserExists) {
			errorLog.Printf("Session %d: register %q failed: %v", sess.ID, msg.Username, err)
		}
		return s.sendError(sess, protocol.OpRegister)
	}
	debugLog.Printf("Session %d: registered %s", sess.ID, msg.Username)
	return s.sendAck(sess, protocol.OpRegister)
}

// handleLogin acknowledges, then flushes notifications queued while the
// user was offline, all before any new delivery can reach the session.
func (s *Server) handleLogin(sess *Session, msg *protocol.LoginMessage) error {
	if sess.User() != "" {
		return s.sendError(sess, protocol.OpLogin)
	}
	// bcrypt is slow; check the password before blocking deliveries.
	if err := s.db.Authenticate(msg.Username, msg.Password); err != nil {
		debugLog.Printf("Session %d: login %q refused: %v", sess.ID, msg.Username, err)
		return s.sendError(sess, protocol.OpLogin)
	}

	s.sessions.presence.Lock()
	defer s.sessions.presence.Unlock()

	if !s.sessions.markOnline(sess, msg.Username) {
		debugLog.Printf("Session %d: %s is already logged in elsewhere", sess.ID, msg.Username)
		return s.sendError(sess, protocol.OpLogin)
	}
	if err := s.sendAck(sess, protocol.OpLogin); err != nil {
		s.sessions.markOffline(sess)
		return err
	}

	pending := s.db.DrainPending(msg.Username)
	for i, n := range pending {
		err := s.send(sess, &protocol.NotificationMessage{
			Kind:    protocol.NotificationKind(n.Kind),
			Sender:  n.Sender,
			Content: n.Content,
		})
		if err != nil {
			// Keep what was not delivered for the next login.
			for _, rest := range pending[i:] {
				_ = s.db.Enqueue(msg.Username, rest)
			}
			s.sessions.markOffline(sess)
			return err
		}
	}
	return nil
}

func (s *Server) handleLogout(sess *Session) error {
	s.sessions.presence.Lock()
	if sess.User() == "" {
		s.sessions.presence.Unlock()
		return s.sendError(sess, protocol.OpLogout)
	}
	s.sessions.markOffline(sess)
	s.sessions.presence.Unlock()

	if err := s.sendAck(sess, protocol.OpLogout); err != nil {
		return err
	}
	return ErrClientDisconnecting
}

func (s *Server) handleFollow(sess *Session, msg *protocol.FollowMessage) error {
	user := sess.User()
	if user == "" {
		return s.sendError(sess, protocol.OpFollow)
	}

	var succeeded []string
	for _, target := range msg.Usernames {
		var ok bool
		if msg.Unfollow {
			ok = s.db.Unfollow(user, target)
		} else {
			ok = s.db.Follow(user, target)
		}
		if ok {
			succeeded = append(succeeded, target)
		}
	}

	if len(succeeded) == 0 {
		return s.sendError(sess, protocol.OpFollow)
	}
	return s.send(sess, &protocol.AckMessage{Resolved: protocol.OpFollow, Users: succeeded})
}

func (s *Server) handlePost(sess *Session, msg *protocol.PostMessage) error {
	user := sess.User()
	if user == "" || s.tooLong(msg.Content) {
		return s.sendError(sess, protocol.OpPost)
	}

	n := &protocol.NotificationMessage{Kind: protocol.KindPublic, Sender: user, Content: msg.Content}
	s.sessions.presence.RLock()
	for _, recipient := range s.postRecipients(user, msg.Content) {
		s.deliver(recipient, n)
	}
	s.sessions.presence.RUnlock()

	s.db.RecordPost(user)
	return s.sendAck(sess, protocol.OpPost)
}

// postRecipients lists the sender's followers, oldest first, then users
// tagged with @name in content, skipping duplicates and anyone who has
// blocked the sender.
func (s *Server) postRecipients(sender, content string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if seen[name] || s.db.IsBlocked(name, sender) {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	for _, name := range s.db.Followers(sender) {
		add(name)
	}
	for _, word := range strings.Split(content, " ") {
		_, tagged, found := strings.Cut(word, "@")
		if !found || tagged == "" || !s.db.Exists(tagged) {
			continue
		}
		add(tagged)
	}
	return out
}

func (s *Server) handlePM(sess *Session, msg *protocol.PMMessage) error {
	user := sess.User()
	switch {
	case user == "",
		!s.db.Exists(msg.Username),
		s.db.IsBlocked(msg.Username, user),
		s.db.IsBlocked(user, msg.Username),
		s.tooLong(msg.Content):
		return s.sendError(sess, protocol.OpPM)
	}

	s.sessions.presence.RLock()
	s.deliver(msg.Username, &protocol.NotificationMessage{Kind: protocol.KindPM, Sender: user, Content: msg.Content})
	s.sessions.presence.RUnlock()

	return s.sendAck(sess, protocol.OpPM)
}

// deliver writes n to recipient's live session or queues it. Caller holds
// the presence read lock.
func (s *Server) deliver(recipient string, n *protocol.NotificationMessage) {
	if target, ok := s.sessions.Online(recipient); ok {
		if err := s.send(target, n); err != nil {
			// The recipient's own loop notices the broken stream.
			debugLog.Printf("Session %d: notification delivery failed: %v", target.ID, err)
		}
		s.metrics.RecordNotification(n.Kind, false)
		return
	}

	err := s.db.Enqueue(recipient, database.Notification{
		Kind:    uint8(n.Kind),
		Sender:  n.Sender,
		Content: n.Content,
	})
	if err != nil {
		errorLog.Printf("Queueing notification for %s failed: %v", recipient, err)
		return
	}
	s.metrics.RecordNotification(n.Kind, true)
}

func (s *Server) handleUserList(sess *Session) error {
	user := sess.User()
	if user == "" {
		return s.sendError(sess, protocol.OpUserList)
	}
	users := s.db.ListUsers(user)
	if len(users) > math.MaxUint16 {
		users = users[:math.MaxUint16]
	}
	return s.send(sess, &protocol.AckMessage{Resolved: protocol.OpUserList, Users: users})
}

func (s *Server) handleStat(sess *Session, msg *protocol.StatMessage) error {
	if sess.User() == "" {
		return s.sendError(sess, protocol.OpStat)
	}
	st, err := s.db.Stats(msg.Username)
	if err != nil {
		return s.sendError(sess, protocol.OpStat)
	}
	return s.send(sess, &protocol.AckMessage{
		Resolved: protocol.OpStat,
		Stats: protocol.StatCounts{
			Posts:     clamp16(st.Posts),
			Followers: clamp16(int64(st.Followers)),
			Following: clamp16(int64(st.Following)),
		},
	})
}

func (s *Server) handleBlock(sess *Session, msg *protocol.BlockMessage) error {
	user := sess.User()
	if user == "" {
		return s.sendError(sess, protocol.OpBlock)
	}
	if err := s.db.Block(user, msg.Username); err != nil {
		debugLog.Printf("Session %d: block %q refused: %v", sess.ID, msg.Username, err)
		return s.sendError(sess, protocol.OpBlock)
	}
	return s.sendAck(sess, protocol.OpBlock)
}

func clamp16(n int64) uint16 {
	if n > math.MaxUint16 {
		return math.MaxUint16
	}
	if n < 0 {
		return 0
	}
	return uint16(n)
}
