package scan

import (
	"sync"
	"sync/atomic"
)

// cancelSignal is the only synchronization primitive shared between the
// coordinator's callers and the supervisor goroutine. Set is idempotent and
// safe to call concurrently with IsSet; once set the signal stays set until
// the next Start replaces it.
type cancelSignal struct {
	flag atomic.Bool
	once sync.Once
	ch   chan struct{}
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{ch: make(chan struct{})}
}

func (c *cancelSignal) Set() {
	c.flag.Store(true)
	c.once.Do(func() { close(c.ch) })
}

func (c *cancelSignal) IsSet() bool {
	return c.flag.Load()
}

// Done returns a channel closed once the signal is set, so a blocked read
// can be interrupted via select.
func (c *cancelSignal) Done() <-chan struct{} {
	return c.ch
}
