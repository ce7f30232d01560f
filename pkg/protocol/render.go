package protocol

import (
	"strconv"
	"strings"
)

// Render formats a decoded server message as one display line. Opcodes are
// printed as decimal numbers.
func Render(msg ServerMessage) string {
	switch m := msg.(type) {
	case *AckMessage:
		return renderAck(m)
	case *ErrorMessage:
		return "ERROR " + strconv.Itoa(int(m.Resolved))
	case *NotificationMessage:
		kind := "Public"
		if m.IsPrivate() {
			kind = "PM"
		}
		return "NOTIFICATION " + kind + " " + m.Sender + " " + m.Content
	default:
		return ""
	}
}

func renderAck(m *AckMessage) string {
	var sb strings.Builder
	sb.WriteString("ACK ")
	sb.WriteString(strconv.Itoa(int(m.Resolved)))

	switch m.Resolved {
	case OpFollow, OpUserList:
		sb.WriteByte(' ')
		sb.WriteString(strconv.Itoa(len(m.Users)))
		for _, name := range m.Users {
			sb.WriteByte(' ')
			sb.WriteString(name)
		}
	case OpStat:
		for _, v := range []uint16{m.Stats.Posts, m.Stats.Followers, m.Stats.Following} {
			sb.WriteByte(' ')
			sb.WriteString(strconv.Itoa(int(v)))
		}
	}
	return sb.String()
}
