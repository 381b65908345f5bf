package playback

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestTimeoutAddsSlack(t *testing.T) {
	c := NewCoordinator(DefaultSlack, newLogger())
	assert.Equal(t, 1250*time.Millisecond, c.Timeout(time.Second))
	assert.Equal(t, DefaultSlack, c.Timeout(-time.Second))
}

func TestFinishWakesWaiterImmediately(t *testing.T) {
	c := NewCoordinator(DefaultSlack, newLogger())
	p := c.Register("req-1")

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Finish("req-1")
	}()

	start := time.Now()
	outcome := c.Wait(context.Background(), p, 5*time.Second)
	assert.Equal(t, Confirmed, outcome)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.Len())
}

func TestFinishBeforeWait(t *testing.T) {
	c := NewCoordinator(DefaultSlack, newLogger())
	p := c.Register("early")
	require.True(t, c.Finish("early"))

	assert.Equal(t, Confirmed, c.Wait(context.Background(), p, time.Second))
}

func TestWaitTimesOut(t *testing.T) {
	c := NewCoordinator(0, newLogger())
	p := c.Register("slow")

	start := time.Now()
	outcome := c.Wait(context.Background(), p, 50*time.Millisecond)
	assert.Equal(t, TimedOut, outcome)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, c.Len())

	assert.False(t, c.Finish("slow"), "late confirmation must be ignored")
}

func TestUnknownFinishIgnored(t *testing.T) {
	c := NewCoordinator(DefaultSlack, newLogger())
	assert.False(t, c.Finish("nobody"))
}

func TestFinishDeliveredOnce(t *testing.T) {
	c := NewCoordinator(DefaultSlack, newLogger())
	c.Register("dup")

	var delivered atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Finish("dup") {
				delivered.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), delivered.Load())
}

func TestReRegisterReplacesEntry(t *testing.T) {
	c := NewCoordinator(0, newLogger())
	first := c.Register("same")
	second := c.Register("same")

	require.True(t, c.Finish("same"))
	assert.Equal(t, Confirmed, c.Wait(context.Background(), second, time.Second))
	assert.Equal(t, TimedOut, c.Wait(context.Background(), first, 20*time.Millisecond))
}

func TestTimedOutWaiterDoesNotDropNewerEntry(t *testing.T) {
	c := NewCoordinator(0, newLogger())
	first := c.Register("same")
	c.Register("same")

	assert.Equal(t, TimedOut, c.Wait(context.Background(), first, 10*time.Millisecond))
	assert.Equal(t, 1, c.Len())
}

func TestWaitCancelled(t *testing.T) {
	c := NewCoordinator(DefaultSlack, newLogger())
	p := c.Register("cancel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Cancelled, c.Wait(ctx, p, time.Minute))
	assert.Equal(t, 0, c.Len())
}

func TestIndependentIDs(t *testing.T) {
	c := NewCoordinator(0, newLogger())
	a := c.Register("a")
	b := c.Register("b")

	require.True(t, c.Finish("b"))
	assert.Equal(t, Confirmed, c.Wait(context.Background(), b, time.Second))
	assert.Equal(t, TimedOut, c.Wait(context.Background(), a, 10*time.Millisecond))
}
