package botlib

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/aeolun/bgsclient/pkg/protocol"
	"github.com/aeolun/bgsclient/pkg/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testTimeout = 5 * time.Second

func startServer(t *testing.T) string {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.BcryptCost = bcrypt.MinCost

	srv, err := server.NewServer(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return "tcp://" + srv.TCPAddr()
}

func dial(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Dial(addr, testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func nextNotification(t *testing.T, c *Client) *protocol.NotificationMessage {
	t.Helper()
	select {
	case n := <-c.Notifications():
		return n
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for a notification")
		return nil
	}
}

func TestMessageMentions(t *testing.T) {
	tests := []struct {
		content   string
		mentions  bool
		remaining string
	}{
		{"hey @helper what's up", true, "hey what's up"},
		{"mail@helper", true, ""},
		{"@helperbot not me", false, "@helperbot not me"},
		{"no tags here", false, "no tags here"},
		{"@HELPER is case sensitive", false, "@HELPER is case sensitive"},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			m := &Message{Content: tt.content, botName: "helper"}
			assert.Equal(t, tt.mentions, m.MentionsMe())
			assert.Equal(t, tt.remaining, m.MentionedContent())
		})
	}

	assert.False(t, (&Message{Content: "@helper"}).MentionsMe(), "no bot name, no mention")
}

func TestClientRequests(t *testing.T) {
	addr := startServer(t)

	alice := dial(t, addr)
	require.NoError(t, alice.Register("alice", "pw"))
	assert.ErrorIs(t, alice.Register("alice", "pw"), ErrRefused)
	assert.ErrorIs(t, alice.Login("alice", "nope"), ErrRefused)
	require.NoError(t, alice.Login("alice", "pw"))

	bob := dial(t, addr)
	require.NoError(t, bob.Register("bob", "pw"))
	require.NoError(t, bob.Login("bob", "pw"))

	followed, err := bob.Follow("alice", "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, followed)

	require.NoError(t, alice.Post("first"))
	n := nextNotification(t, bob)
	assert.Equal(t, protocol.KindPublic, n.Kind)
	assert.Equal(t, "first", n.Content)

	require.NoError(t, alice.PM("bob", "psst"))
	n = nextNotification(t, bob)
	assert.True(t, n.IsPrivate())

	users, err := alice.UserList()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	stats, err := bob.Stat("alice")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatCounts{Posts: 1, Followers: 1}, stats)

	unfollowed, err := bob.Unfollow("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, unfollowed)

	require.NoError(t, alice.Block("bob"))
	assert.ErrorIs(t, bob.PM("alice", "hello?"), ErrRefused)

	require.NoError(t, alice.Logout())
	select {
	case <-alice.Done():
	case <-time.After(testTimeout):
		t.Fatal("stream still open after logout")
	}
	assert.ErrorIs(t, alice.Post("gone"), ErrConnectionClosed)
}

func TestBotRepliesAndStops(t *testing.T) {
	addr := startServer(t)

	user := dial(t, addr)
	require.NoError(t, user.Register("carol", "pw"))
	require.NoError(t, user.Login("carol", "pw"))

	bot := New(Config{
		Server:   addr,
		Username: "echo",
		Password: "secret",
		Register: true,
		Follow:   []string{"carol"},
		Logger:   log.New(io.Discard, "", 0),
	})
	bot.OnPM(func(ctx *Context, msg *Message) {
		ctx.Reply("echo: " + msg.Content)
	})
	bot.OnMention(func(ctx *Context, msg *Message) {
		ctx.Reply("you said: " + msg.MentionedContent())
	})
	posts := make(chan string, 1)
	bot.OnPost(func(ctx *Context, msg *Message) {
		posts <- msg.Content
	})

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- bot.Run(ctx) }()

	// Wait for the bot to log in and follow carol.
	require.Eventually(t, func() bool {
		stats, err := user.Stat("carol")
		return err == nil && stats.Followers == 1
	}, testTimeout, 10*time.Millisecond)

	require.NoError(t, user.PM("echo", "ping"))
	n := nextNotification(t, user)
	assert.Equal(t, "echo", n.Sender)
	assert.Equal(t, "echo: ping", n.Content)

	require.NoError(t, user.Post("hi @echo there"))
	n = nextNotification(t, user)
	assert.Equal(t, "you said: hi there", n.Content)

	require.NoError(t, user.Post("just a post"))
	select {
	case content := <-posts:
		assert.Equal(t, "just a post", content)
	case <-time.After(testTimeout):
		t.Fatal("post handler not called")
	}

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("bot did not stop")
	}
}
