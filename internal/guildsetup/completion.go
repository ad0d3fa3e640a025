package guildsetup

import (
	"context"
	"sync"

	"github.com/guildwire/guildwire/internal/cache"
)

// Completion is a one-shot signal fulfilled when a guild finishes setup.
type Completion struct {
	once  sync.Once
	done  chan struct{}
	guild *cache.Guild
	err   error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolve fulfills c. Later calls are ignored.
func (c *Completion) resolve(g *cache.Guild, err error) bool {
	fired := false
	c.once.Do(func() {
		c.guild, c.err = g, err
		close(c.done)
		fired = true
	})
	return fired
}

// Done is closed once the guild is ready, confirmed unavailable or removed.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Resolved reports whether the completion has fired.
func (c *Completion) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the completion fires or ctx ends.
func (c *Completion) Wait(ctx context.Context) (*cache.Guild, error) {
	select {
	case <-c.done:
		return c.guild, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
