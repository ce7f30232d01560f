// Command bgs-loadtest drives many scripted users against a BGS server and
// reports request throughput and latency.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/bgsclient/pkg/botlib"
	"github.com/spf13/cobra"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat."

var loremWords = strings.Fields(loremIpsum)

// Stats aggregates results across all simulated users.
type Stats struct {
	requests       atomic.Int64
	refused        atomic.Int64
	failed         atomic.Int64
	connectErrors  atomic.Int64
	notifications  atomic.Int64
	totalLatencyUs atomic.Int64
	activeUsers    atomic.Int64
}

func (s *Stats) record(start time.Time, err error) {
	s.requests.Add(1)
	switch {
	case err == nil:
		s.totalLatencyUs.Add(time.Since(start).Microseconds())
	case errors.Is(err, botlib.ErrRefused):
		s.refused.Add(1)
	default:
		s.failed.Add(1)
	}
}

func (s *Stats) snapshot() (requests, refused, failed int64, avgLatencyUs float64) {
	requests = s.requests.Load()
	refused = s.refused.Load()
	failed = s.failed.Load()
	if ok := requests - refused - failed; ok > 0 {
		avgLatencyUs = float64(s.totalLatencyUs.Load()) / float64(ok)
	}
	return
}

type options struct {
	server   string
	users    int
	duration time.Duration
	minDelay time.Duration
	maxDelay time.Duration
	timeout  time.Duration
}

func main() {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "bgs-loadtest",
		Short: "Load test a BGS server",
		Long: `Registers N users, has each follow a few others, then posts and
sends PMs at random intervals until the duration ends.

Examples:
  bgs-loadtest --users 100 --duration 2m
  bgs-loadtest --server ws://localhost:8080/ws --min-delay 50ms`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.users <= 0 {
				return fmt.Errorf("--users must be positive")
			}
			if opts.maxDelay < opts.minDelay {
				return fmt.Errorf("--max-delay must not be below --min-delay")
			}
			return run(cmd.Context(), opts)
		},
	}

	rootCmd.Flags().StringVarP(&opts.server, "server", "s", "localhost:7777", "Server address")
	rootCmd.Flags().IntVarP(&opts.users, "users", "n", 10, "Number of concurrent users")
	rootCmd.Flags().DurationVarP(&opts.duration, "duration", "d", time.Minute, "Test duration")
	rootCmd.Flags().DurationVar(&opts.minDelay, "min-delay", 100*time.Millisecond, "Minimum delay between requests")
	rootCmd.Flags().DurationVar(&opts.maxDelay, "max-delay", time.Second, "Maximum delay between requests")
	rootCmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-request timeout")

	log.SetOutput(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	// Unique per run so repeated runs against one server don't collide.
	prefix := fmt.Sprintf("lt%x", time.Now().UnixNano()&0xffffff)
	names := make([]string, opts.users)
	for i := range names {
		names[i] = fmt.Sprintf("%s_%d", prefix, i)
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", opts.server)
	log.Printf("  Users: %d", opts.users)
	log.Printf("  Duration: %v", opts.duration)
	log.Printf("  Delay: %v - %v", opts.minDelay, opts.maxDelay)

	stats := &Stats{}
	start := time.Now()

	stopReport := make(chan struct{})
	go report(stats, start, stopReport)

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(id int, name string) {
			defer wg.Done()
			u := &user{id: id, name: name, peers: names, opts: opts, stats: stats}
			if err := u.run(ctx); err != nil {
				stats.connectErrors.Add(1)
				log.Printf("[user %d] %v", id, err)
			}
		}(i, name)
	}
	wg.Wait()
	close(stopReport)

	requests, refused, failed, avgUs := stats.snapshot()
	elapsed := time.Since(start).Seconds()
	log.Printf("")
	log.Printf("Done in %.1fs", elapsed)
	log.Printf("  Requests: %d (%.1f/s)", requests, float64(requests)/elapsed)
	log.Printf("  Refused: %d, failed: %d, connect errors: %d", refused, failed, stats.connectErrors.Load())
	log.Printf("  Notifications received: %d", stats.notifications.Load())
	log.Printf("  Average latency: %.2fms", avgUs/1000)
	return nil
}

func report(stats *Stats, start time.Time, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			requests, refused, failed, avgUs := stats.snapshot()
			elapsed := time.Since(start).Seconds()
			log.Printf("Stats: %d requests (%.1f/s), %d refused, %d failed, %d users, avg %.2fms, goroutines %d",
				requests, float64(requests)/elapsed, refused, failed, stats.activeUsers.Load(), avgUs/1000, runtime.NumGoroutine())
		case <-stop:
			return
		}
	}
}

// user is one simulated account.
type user struct {
	id    int
	name  string
	peers []string
	opts  options
	stats *Stats
	rng   *rand.Rand
}

func (u *user) run(ctx context.Context) error {
	u.rng = rand.New(rand.NewSource(time.Now().UnixNano() + int64(u.id)))

	c, err := botlib.Dial(u.opts.server, u.opts.timeout)
	if err != nil {
		return err
	}
	defer c.Close()

	const password = "loadtest"
	if err := c.Register(u.name, password); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := c.Login(u.name, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	u.stats.activeUsers.Add(1)
	defer u.stats.activeUsers.Add(-1)

	// Drain notifications so the counters see them.
	go func() {
		for {
			select {
			case <-c.Notifications():
				u.stats.notifications.Add(1)
			case <-c.Done():
				return
			}
		}
	}()

	// Peers register concurrently; unknown names are simply skipped.
	for i := 0; i < 3 && len(u.peers) > 1; i++ {
		peer := u.randomPeer()
		t := time.Now()
		_, err := c.Follow(peer)
		u.stats.record(t, err)
	}

	for {
		delay := u.opts.minDelay
		if span := u.opts.maxDelay - u.opts.minDelay; span > 0 {
			delay += time.Duration(u.rng.Int63n(int64(span)))
		}
		select {
		case <-ctx.Done():
			err := c.Logout()
			if err != nil && !errors.Is(err, botlib.ErrConnectionClosed) {
				return fmt.Errorf("logout: %w", err)
			}
			return nil
		case <-c.Done():
			return fmt.Errorf("connection lost: %v", c.Err())
		case <-time.After(delay):
		}

		t := time.Now()
		switch n := u.rng.Intn(10); {
		case n < 6:
			err = c.Post(u.sentence())
		case n < 9 && len(u.peers) > 1:
			err = c.PM(u.randomPeer(), u.sentence())
		default:
			_, err = c.Stat(u.randomPeer())
		}
		u.stats.record(t, err)
	}
}

func (u *user) randomPeer() string {
	for {
		p := u.peers[u.rng.Intn(len(u.peers))]
		if p != u.name || len(u.peers) == 1 {
			return p
		}
	}
}

func (u *user) sentence() string {
	n := 3 + u.rng.Intn(12)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[u.rng.Intn(len(loremWords))]
	}
	if u.rng.Intn(5) == 0 {
		words = append(words, "@"+u.randomPeer())
	}
	return strings.Join(words, " ")
}
