// Package botlib provides a simple library for building BGS bots and
// scripted users.
package botlib

import (
	"strings"

	"github.com/aeolun/bgsclient/pkg/protocol"
)

// Message is a notification delivered to the bot.
type Message struct {
	Private bool // PM rather than a followed or mentioning POST
	Sender  string
	Content string

	// Internal: the bot's username for mention detection
	botName string
}

func newMessage(n *protocol.NotificationMessage, botName string) *Message {
	return &Message{
		Private: n.IsPrivate(),
		Sender:  n.Sender,
		Content: n.Content,
		botName: botName,
	}
}

// MentionsMe reports whether the content tags the bot. A word tags a user
// when the text after its first '@' is exactly that username, the same rule
// servers use to route POSTs.
func (m *Message) MentionsMe() bool {
	if m.botName == "" {
		return false
	}
	for _, word := range strings.Split(m.Content, " ") {
		if m.tagsMe(word) {
			return true
		}
	}
	return false
}

func (m *Message) tagsMe(word string) bool {
	_, tagged, found := strings.Cut(word, "@")
	return found && tagged == m.botName
}

// MentionedContent returns the content with words that tag the bot removed.
// Useful for extracting the actual query/command.
func (m *Message) MentionedContent() string {
	var kept []string
	for _, word := range strings.Fields(m.Content) {
		if !m.tagsMe(word) {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, " ")
}
