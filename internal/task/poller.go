// Package task polls asynchronous vendor jobs until they reach a terminal
// status or a deadline passes.
package task

import (
	"context"
	"time"

	"github.com/oasbridge/postman-sync/internal/postman"
)

const (
	// DefaultInterval is the pause between status fetches.
	DefaultInterval = 3 * time.Second
	// DefaultTimeout bounds the whole poll.
	DefaultTimeout = 180 * time.Second
)

// Clock abstracts time so tests can simulate the poll loop without real
// delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchFunc retrieves the current task snapshot.
type FetchFunc func(ctx context.Context) (postman.Task, error)

// Poller repeatedly fetches a task's status at a fixed interval.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
	Clock    Clock
}

// New returns a poller with the given interval and timeout; non-positive
// values fall back to the defaults.
func New(interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{Interval: interval, Timeout: timeout, Clock: realClock{}}
}

// Poll fetches once per tick and returns as soon as the task reports a
// terminal status. When the timeout elapses first, the last observed
// snapshot is returned with a nil error; callers must check Terminal()
// themselves. A fetch failure or context cancellation aborts the loop.
func (p *Poller) Poll(ctx context.Context, fetch FetchFunc) (postman.Task, error) {
	clock := p.Clock
	if clock == nil {
		clock = realClock{}
	}

	deadline := clock.Now().Add(p.Timeout)

	var last postman.Task
	for {
		snapshot, err := fetch(ctx)
		if err != nil {
			return last, err
		}
		last = snapshot

		if snapshot.Terminal() {
			return snapshot, nil
		}
		if clock.Now().Add(p.Interval).After(deadline) {
			return last, nil
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return last, err
		}
	}
}
