// Command bgs-bot runs a small utility bot on a BGS server. It echoes
// private messages and answers mentions with the sender's counters.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aeolun/bgsclient/pkg/botlib"
	"github.com/spf13/cobra"
)

type options struct {
	server   string
	username string
	password string
	register bool
	follow   []string
	timeout  time.Duration
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "bgs-bot",
		Short: "Echo and stats bot for BGS servers",
		Long: `Logs in as a bot account and reacts to notifications:

  PM            replies with "echo: <content>"
  @mention      replies with the sender's posts/followers/following
  STAT <user>   (as a PM) replies with that user's counters

Examples:
  bgs-bot --user echo --password secret --register
  bgs-bot -s ws://chat.example.com/ws -u helper -p pw --follow alice,bob`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.username == "" || opts.password == "" {
				return fmt.Errorf("--user and --password are required")
			}
			return run(cmd.Context(), opts)
		},
	}

	rootCmd.Flags().StringVarP(&opts.server, "server", "s", "localhost:7777", "Server address")
	rootCmd.Flags().StringVarP(&opts.username, "user", "u", "", "Bot account name")
	rootCmd.Flags().StringVarP(&opts.password, "password", "p", os.Getenv("BGS_BOT_PASSWORD"), "Bot account password (default $BGS_BOT_PASSWORD)")
	rootCmd.Flags().BoolVar(&opts.register, "register", false, "Register the account before logging in")
	rootCmd.Flags().StringSliceVar(&opts.follow, "follow", nil, "Users to follow, comma separated")
	rootCmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Response timeout")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	bot := botlib.New(botlib.Config{
		Server:          opts.server,
		Username:        opts.username,
		Password:        opts.password,
		Register:        opts.register,
		Follow:          opts.follow,
		Logger:          log.New(os.Stdout, "[bot] ", log.LstdFlags),
		ResponseTimeout: opts.timeout,
	})

	bot.OnPM(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("PM from %s: %s", msg.Sender, msg.Content)

		if target, ok := strings.CutPrefix(msg.Content, "STAT "); ok {
			replyStats(ctx, strings.TrimSpace(target))
			return
		}
		if err := ctx.Reply("echo: " + msg.Content); err != nil {
			ctx.Log("Failed to reply: %v", err)
		}
	})

	bot.OnMention(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("Mentioned by %s: %s", msg.Sender, msg.Content)
		replyStats(ctx, msg.Sender)
	})

	bot.OnPost(func(ctx *botlib.Context, msg *botlib.Message) {
		ctx.Log("Post from %s: %s", msg.Sender, msg.Content)
	})

	log.Printf("Starting bot...")
	log.Printf("  Server: %s", opts.server)
	log.Printf("  User: %s", opts.username)
	log.Printf("  Following: %v", opts.follow)

	return bot.Run(ctx)
}

func replyStats(ctx *botlib.Context, username string) {
	stats, err := ctx.Stat(username)
	if err != nil {
		ctx.Log("STAT %s failed: %v", username, err)
		ctx.Reply(fmt.Sprintf("no stats for %s", username))
		return
	}
	reply := fmt.Sprintf("%s: %d posts, %d followers, %d following",
		username, stats.Posts, stats.Followers, stats.Following)
	if err := ctx.Reply(reply); err != nil {
		ctx.Log("Failed to reply: %v", err)
	}
}
