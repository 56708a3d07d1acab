package engine

import (
	"context"
	"sync"
)

// Completions is a registry of waits keyed by offer id. Each registered wait
// is resolved at most once.
type Completions struct {
	mu      sync.Mutex
	waiters map[string]*Pending
}

func NewCompletions() *Completions {
	return &Completions{waiters: make(map[string]*Pending)}
}

// Pending is one registered wait.
type Pending struct {
	id   string
	done chan struct{}
	reg  *Completions
}

// Register creates the wait for id, replacing any previous one.
func (c *Completions) Register(id string) *Pending {
	p := &Pending{id: id, done: make(chan struct{}), reg: c}

	c.mu.Lock()
	c.waiters[id] = p
	c.mu.Unlock()
	return p
}

// Resolve releases the wait for id. It reports false when nothing was waiting.
func (c *Completions) Resolve(id string) bool {
	c.mu.Lock()
	p, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	close(p.done)
	return true
}

// Len returns the number of unresolved waits.
func (c *Completions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Wait blocks until the wait is resolved or ctx ends.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops the registration if it is still outstanding.
func (p *Pending) Close() {
	p.reg.mu.Lock()
	defer p.reg.mu.Unlock()
	if cur, ok := p.reg.waiters[p.id]; ok && cur == p {
		delete(p.reg.waiters, p.id)
	}
}
