package botlib

import (
	"fmt"

	"github.com/aeolun/bgsclient/pkg/protocol"
)

// Context provides methods for responding to messages.
// It is passed to message handlers and provides a convenient API
// for common bot actions.
type Context struct {
	bot     *Bot
	message *Message
}

// Message returns the message that triggered this context.
func (c *Context) Message() *Message {
	return c.message
}

// Reply sends a PM to the message's sender.
func (c *Context) Reply(content string) error {
	return c.bot.client.PM(c.message.Sender, content)
}

// Post publishes content to the bot's followers.
func (c *Context) Post(content string) error {
	return c.bot.client.Post(content)
}

// Stat fetches another user's counters.
func (c *Context) Stat(username string) (protocol.StatCounts, error) {
	return c.bot.client.Stat(username)
}

// Author returns the username of the message sender.
func (c *Context) Author() string {
	return c.message.Sender
}

// BotName returns the bot's username.
func (c *Context) BotName() string {
	return c.bot.config.Username
}

// Log logs a message using the bot's logger.
func (c *Context) Log(format string, args ...interface{}) {
	if c.bot.logger != nil {
		c.bot.logger.Printf(format, args...)
	}
}

// String returns a debug representation of the context.
func (c *Context) String() string {
	return fmt.Sprintf("Context{private=%t, author=%s}", c.message.Private, c.message.Sender)
}
