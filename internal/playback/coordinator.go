// Package playback tracks audio handed to remote players and waits for their
// "play finished" confirmations.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSlack is added to the estimated audio length to absorb transport
// and scheduling jitter.
const DefaultSlack = 250 * time.Millisecond

// Outcome is the terminal state of a pending playback.
type Outcome int

const (
	Confirmed Outcome = iota + 1
	TimedOut
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Pending is a dispatched playback awaiting confirmation.
type Pending struct {
	id   string
	done chan struct{}
	once sync.Once
}

func (p *Pending) ID() string { return p.id }

func (p *Pending) resolve() {
	p.once.Do(func() { close(p.done) })
}

// Coordinator maps request ids to pending playbacks.
type Coordinator struct {
	slack   time.Duration
	log     *slog.Logger
	mu      sync.Mutex
	pending map[string]*Pending
}

func NewCoordinator(slack time.Duration, log *slog.Logger) *Coordinator {
	if slack < 0 {
		slack = 0
	}
	return &Coordinator{
		slack:   slack,
		log:     log.With(slog.String("component", "playback-coordinator")),
		pending: make(map[string]*Pending),
	}
}

// Timeout returns how long to wait for audio lasting d.
func (c *Coordinator) Timeout(d time.Duration) time.Duration {
	if d < 0 {
		d = 0
	}
	return d + c.slack
}

// Register records a dispatched playback. Registering an id that is still
// pending replaces the older entry, which can then only time out.
func (c *Coordinator) Register(id string) *Pending {
	p := &Pending{id: id, done: make(chan struct{})}
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	return p
}

// Finish confirms the playback for id. Unknown or already resolved ids are
// ignored and reported as false.
func (c *Coordinator) Finish(id string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve()
	return true
}

// Wait blocks until p is confirmed, timeout elapses or ctx ends. A timeout is
// logged but is not an error.
func (c *Coordinator) Wait(ctx context.Context, p *Pending, timeout time.Duration) Outcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return Confirmed
	case <-timer.C:
		c.forget(p)
		c.log.Warn("did not receive play finished before timeout",
			slog.String("request_id", p.id),
			slog.Duration("timeout", timeout))
		return TimedOut
	case <-ctx.Done():
		c.forget(p)
		return Cancelled
	}
}

// Len reports the number of playbacks awaiting confirmation.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coordinator) forget(p *Pending) {
	c.mu.Lock()
	if cur, ok := c.pending[p.id]; ok && cur == p {
		delete(c.pending, p.id)
	}
	c.mu.Unlock()
}
