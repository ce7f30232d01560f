package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitAsync(lc *LogoutCoordinator) <-chan LogoutOutcome {
	ch := make(chan LogoutOutcome, 1)
	go func() { ch <- lc.AwaitOutcome() }()
	return ch
}

func requireBlocked(t *testing.T, ch <-chan LogoutOutcome) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("AwaitOutcome returned %s while still pending", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireOutcome(t *testing.T, ch <-chan LogoutOutcome, want LogoutOutcome) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("AwaitOutcome did not return %s", want)
	}
}

func TestLogoutErrorThenAck(t *testing.T) {
	lc := NewLogoutCoordinator()

	// First attempt is refused.
	require.True(t, lc.Begin())
	ch := awaitAsync(lc)
	requireBlocked(t, ch)
	lc.ReportError()
	requireOutcome(t, ch, LogoutProceed)
	assert.False(t, lc.Terminated())

	// Second attempt succeeds.
	require.True(t, lc.Begin())
	ch = awaitAsync(lc)
	requireBlocked(t, ch)
	lc.ReportAck()
	requireOutcome(t, ch, LogoutTerminate)
	assert.True(t, lc.Terminated())

	// Terminate is absorbing.
	assert.Equal(t, LogoutTerminate, lc.AwaitOutcome())
	assert.False(t, lc.Begin())
}

func TestLogoutOutcomeDepositedBeforeWait(t *testing.T) {
	lc := NewLogoutCoordinator()
	require.True(t, lc.Begin())
	lc.ReportError()
	assert.Equal(t, LogoutProceed, lc.AwaitOutcome())

	require.True(t, lc.Begin())
	lc.ReportAck()
	assert.Equal(t, LogoutTerminate, lc.AwaitOutcome())
}

func TestLogoutStaleErrorIgnored(t *testing.T) {
	lc := NewLogoutCoordinator()
	lc.ReportError() // nothing armed

	require.True(t, lc.Begin())
	ch := awaitAsync(lc)
	requireBlocked(t, ch)
	lc.ReportAck()
	requireOutcome(t, ch, LogoutTerminate)
}

func TestLogoutErrorAfterTerminateIgnored(t *testing.T) {
	lc := NewLogoutCoordinator()
	lc.ReportAck()
	lc.ReportError()
	assert.Equal(t, LogoutTerminate, lc.AwaitOutcome())
}

func TestLogoutAbortUnblocksWaiter(t *testing.T) {
	lc := NewLogoutCoordinator()
	require.True(t, lc.Begin())
	ch := awaitAsync(lc)
	requireBlocked(t, ch)

	lc.Abort()
	requireOutcome(t, ch, LogoutTerminate)
	assert.True(t, lc.Terminated())
}

func TestLogoutAbortWakesAllWaiters(t *testing.T) {
	lc := NewLogoutCoordinator()
	require.True(t, lc.Begin())

	var wg sync.WaitGroup
	results := make(chan LogoutOutcome, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- lc.AwaitOutcome()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	lc.Abort()
	wg.Wait()
	close(results)

	for got := range results {
		assert.Equal(t, LogoutTerminate, got)
	}
}

func TestLogoutOutcomeString(t *testing.T) {
	assert.Equal(t, "proceed", LogoutProceed.String())
	assert.Equal(t, "terminate", LogoutTerminate.String())
	assert.Equal(t, "unknown", LogoutOutcome(0).String())
}
