package graph

import "time"

// timedMutex is a mutex which supports bounded-time acquisition attempts.
// An empty slot in the channel means the lock is free.
type timedMutex chan struct{}

func newTimedMutex() timedMutex {
	return make(timedMutex, 1)
}

func (m timedMutex) lock() {
	m <- struct{}{}
}

// lockTimeout attempts to take the lock within d. It returns false if the
// lock was not acquired.
func (m timedMutex) lockTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case m <- struct{}{}:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case m <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (m timedMutex) unlock() {
	<-m
}

// GraphHandle is a held graph lock. It guards topology and node lifecycle
// collections of the owning context.
type GraphHandle struct {
	c      *Context
	reason string
}

// RenderHandle is a held render lock. It guards the state needed to produce
// one render quantum and carries the quantum ordinal used to process every
// node at most once per quantum.
type RenderHandle struct {
	c       *Context
	quantum uint64
	frames  int
}

// AcquireGraph blocks until the graph lock of c is taken and returns the
// handle. Callers must check Context for nil before touching the graph: nil
// means the context was torn down while the lock was being acquired and the
// operation must be abandoned.
func AcquireGraph(c *Context, reason string) *GraphHandle {
	c.graphMu.lock()
	return &GraphHandle{c: c, reason: reason}
}

// TryAcquireGraph is a bounded-time variant of AcquireGraph. It is used by
// the render goroutine at quantum boundaries and by the shutdown retry
// loop, neither of which may block indefinitely.
func TryAcquireGraph(c *Context, reason string, timeout time.Duration) (*GraphHandle, bool) {
	if !c.graphMu.lockTimeout(timeout) {
		return nil, false
	}
	return &GraphHandle{c: c, reason: reason}, true
}

// Context returns the owning context, or nil if the context has been torn
// down. A nil result signals an already-completed shutdown: abandon the
// operation, do not retry.
func (g *GraphHandle) Context() *Context {
	if g == nil || g.c == nil || g.c.tornDown.Load() {
		return nil
	}
	return g.c
}

// Release gives the graph lock up. The handle must not be used afterwards.
func (g *GraphHandle) Release() {
	g.c.graphMu.unlock()
}

// AcquireRender takes the render lock of c for the duration of one render
// quantum and advances the quantum ordinal.
func AcquireRender(c *Context, frames int) *RenderHandle {
	c.renderMu.lock()
	return &RenderHandle{
		c:       c,
		quantum: c.quantum.Add(1),
		frames:  frames,
	}
}

// Context returns the owning context, or nil if the context has been torn
// down.
func (r *RenderHandle) Context() *Context {
	if r == nil || r.c == nil || r.c.tornDown.Load() {
		return nil
	}
	return r.c
}

// Frames returns the frame count of the current render quantum.
func (r *RenderHandle) Frames() int {
	return r.frames
}

// Release gives the render lock up. The handle must not be used afterwards.
func (r *RenderHandle) Release() {
	r.c.renderMu.unlock()
}
