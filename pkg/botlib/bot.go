package botlib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// MessageHandler is called for each notification the bot receives.
type MessageHandler func(ctx *Context, msg *Message)

// Config holds the bot configuration.
type Config struct {
	// Server address (host:port, tcp://, ssh://, ws://)
	Server string

	// Account the bot logs in as
	Username string
	Password string

	// Register the account first; an existing account is not an error
	Register bool

	// Users to follow after login
	Follow []string

	// Logger for debug output (optional, defaults to stdout)
	Logger *log.Logger

	// ResponseTimeout for request/response operations (default: 10s)
	ResponseTimeout time.Duration
}

// Bot represents a BGS bot instance.
type Bot struct {
	config Config
	client *Client
	logger *log.Logger

	// Handlers
	onPM      MessageHandler
	onPost    MessageHandler
	onMention MessageHandler
}

// New creates a new Bot with the given configuration.
func New(config Config) *Bot {
	if config.Logger == nil {
		config.Logger = log.New(os.Stdout, "[bot] ", log.LstdFlags)
	}
	if config.ResponseTimeout == 0 {
		config.ResponseTimeout = 10 * time.Second
	}

	return &Bot{
		config: config,
		logger: config.Logger,
	}
}

// OnPM registers a handler for private messages.
func (b *Bot) OnPM(handler MessageHandler) {
	b.onPM = handler
}

// OnPost registers a handler for posts by followed users.
func (b *Bot) OnPost(handler MessageHandler) {
	b.onPost = handler
}

// OnMention registers a handler for posts that tag the bot. Without it,
// such posts go to the OnPost handler.
func (b *Bot) OnMention(handler MessageHandler) {
	b.onMention = handler
}

// Run connects, logs in and dispatches notifications to the handlers until
// ctx is cancelled (the bot then logs out) or the connection is lost.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Printf("Connecting to %s...", b.config.Server)
	c, err := Dial(b.config.Server, b.config.ResponseTimeout)
	if err != nil {
		return err
	}
	b.client = c
	defer c.Close()

	if b.config.Register {
		if err := c.Register(b.config.Username, b.config.Password); err != nil {
			if !errors.Is(err, ErrRefused) {
				return fmt.Errorf("register: %w", err)
			}
			b.logger.Printf("Account %s already exists", b.config.Username)
		}
	}

	if err := c.Login(b.config.Username, b.config.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	b.logger.Printf("Logged in as %s", b.config.Username)

	if len(b.config.Follow) > 0 {
		followed, err := c.Follow(b.config.Follow...)
		if err != nil && !errors.Is(err, ErrRefused) {
			return fmt.Errorf("follow: %w", err)
		}
		b.logger.Printf("Following %v", followed)
	}

	b.logger.Printf("Bot is running")

	for {
		select {
		case <-ctx.Done():
			b.logger.Printf("Stop requested")
			if err := c.Logout(); err != nil {
				b.logger.Printf("Logout failed: %v", err)
			}
			b.logger.Printf("Bot stopped")
			return nil
		case n := <-c.Notifications():
			b.dispatch(newMessage(n, b.config.Username))
		case <-c.Done():
			return fmt.Errorf("connection lost: %w", c.Err())
		}
	}
}

func (b *Bot) dispatch(msg *Message) {
	// Skip our own posts
	if msg.Sender == b.config.Username {
		return
	}

	ctx := &Context{bot: b, message: msg}

	switch {
	case msg.Private:
		if b.onPM != nil {
			b.onPM(ctx, msg)
		}
	case msg.MentionsMe() && b.onMention != nil:
		b.onMention(ctx, msg)
	case b.onPost != nil:
		b.onPost(ctx, msg)
	}
}
