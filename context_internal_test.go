package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testProc is a minimal processor for lifecycle tests.
type testProc struct {
	inputs, outputs int
	disposed        int
}

func (p *testProc) Inputs() int { return p.inputs }

func (p *testProc) Outputs() int { return p.outputs }

func (p *testProc) Process(r *RenderHandle, in, out []Buffer, frames int) {}

func (p *testProc) Dispose() { p.disposed++ }

// stallingProc blocks inside Process until released.
type stallingProc struct {
	entered chan struct{}
	release chan struct{}
}

func (p *stallingProc) Inputs() int { return 0 }

func (p *stallingProc) Outputs() int { return 1 }

func (p *stallingProc) Process(r *RenderHandle, in, out []Buffer, frames int) {
	close(p.entered)
	<-p.release
}

// tailProc reports a tail time, like a reverb would.
type tailProc struct {
	testProc
	tail time.Duration
}

func (p *tailProc) TailTime() time.Duration { return p.tail }

func (p *tailProc) LatencyTime() time.Duration { return 0 }

func countReferenced(c *Context, n *Node) int {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	count := 0
	for _, ref := range c.referenced {
		if ref == n {
			count++
		}
	}
	return count
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	c, err := NewOffline(2, 1024, 44100)
	require.NoError(t, err)
	require.NoError(t, c.Initialize())
	return c
}

func TestCommitOrderFIFO(t *testing.T) {
	c := newTestContext(t)
	from := c.NewNode(&testProc{outputs: 1})
	to := c.NewNode(&testProc{inputs: 1})

	// Connect then disconnect submitted before a single commit: applied in
	// order, the net result is no connection.
	c.Connect(from, to)
	c.Disconnect(from, to)

	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	assert.Equal(t, 0, from.ConnectionRefCount())
	assert.Equal(t, 0, to.ConnectionRefCount())
	assert.Equal(t, stageDetached, from.stage.Load())
	assert.Empty(t, c.referenced)
	assert.Empty(t, from.Output(0).dests)
	assert.False(t, from.OutputsEnabled())
}

func TestConnectIdempotent(t *testing.T) {
	c := newTestContext(t)
	from := c.NewNode(&testProc{outputs: 1})
	to := c.NewNode(&testProc{inputs: 1})

	c.Connect(from, to)
	c.Connect(from, to)

	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	// The terminal edge is deduplicated, the references are counted twice.
	assert.Len(t, to.Input(0).sources, 1)
	assert.Equal(t, 2, from.ConnectionRefCount())

	c.Disconnect(from, to)
	c.Disconnect(from, to)
	g = AcquireGraph(c, "test")
	c.Update(g)
	g.Release()
	assert.Equal(t, 0, from.ConnectionRefCount())
	assert.Empty(t, to.Input(0).sources)
}

func TestTerminalConnectionsSkipRefCounting(t *testing.T) {
	c := newTestContext(t)
	from := c.NewNode(&testProc{outputs: 1})
	to := c.NewNode(&testProc{inputs: 1})

	c.ConnectTerminals(to.Input(0), from.Output(0))
	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	assert.Len(t, to.Input(0).sources, 1)
	assert.Equal(t, 0, from.ConnectionRefCount())
	assert.Empty(t, c.referenced)

	c.DisconnectTerminal(from.Output(0))
	g = AcquireGraph(c, "test")
	c.Update(g)
	g.Release()
	assert.Empty(t, to.Input(0).sources)
}

func TestFinishedNodeLifecycle(t *testing.T) {
	c := newTestContext(t)
	n := c.NewNode(&testProc{outputs: 1})

	g := AcquireGraph(c, "test")
	c.RefNode(g, n)
	g.Release()
	assert.Equal(t, stageReferenced, n.stage.Load())

	r := AcquireRender(c, c.BufferSize())
	c.notifyNodeFinished(r, n)
	// Repeated notification is a no-op.
	c.notifyNodeFinished(r, n)
	r.Release()
	assert.Equal(t, stageFinished, n.stage.Load())
	assert.Len(t, c.finished, 1)

	g = AcquireGraph(c, "test")
	c.derefFinishedNodes(g)
	g.Release()
	assert.Equal(t, stageDetached, n.stage.Load())
	assert.Empty(t, c.finished)
	assert.Empty(t, c.referenced)
}

func TestNotifyUnreferencedPanics(t *testing.T) {
	c := newTestContext(t)
	n := c.NewNode(&testProc{outputs: 1})
	r := AcquireRender(c, c.BufferSize())
	defer r.Release()
	assert.Panics(t, func() {
		c.notifyNodeFinished(r, n)
	})
}

func TestDerefUnownedPanics(t *testing.T) {
	c := newTestContext(t)
	n := c.NewNode(&testProc{outputs: 1})
	g := AcquireGraph(c, "test")
	defer g.Release()
	assert.Panics(t, func() {
		c.DerefNode(g, n)
	})
}

func TestMarkForDeletionDisposesOnce(t *testing.T) {
	c := newTestContext(t)
	p := &testProc{outputs: 1}
	n := c.NewNode(p)

	g := AcquireGraph(c, "test")
	c.RefNode(g, n)
	g.Release()

	r := AcquireRender(c, c.BufferSize())
	c.MarkForDeletion(r, n)
	r.Release()
	assert.Equal(t, stageMarked, n.stage.Load())
	assert.Empty(t, c.referenced)

	// Referencing a node staged for deletion is a programming error.
	g = AcquireGraph(c, "test")
	assert.Panics(t, func() {
		c.RefNode(g, n)
	})
	c.scheduleNodeDeletion(g)
	g.Release()
	assert.Equal(t, stageToDelete, n.stage.Load())

	// Destruction happens on the control goroutine via the task queue.
	task := <-c.tasks
	task()
	assert.Equal(t, 1, p.disposed)
	assert.Equal(t, stageDetached, n.stage.Load())
	assert.Empty(t, c.toDelete)

	// Draining again finds nothing.
	c.deleteMarkedNodes()
	assert.Equal(t, 1, p.disposed)
}

func TestMarkUnreferencedPanics(t *testing.T) {
	c := newTestContext(t)
	n := c.NewNode(&testProc{outputs: 1})
	r := AcquireRender(c, c.BufferSize())
	defer r.Release()
	assert.Panics(t, func() {
		c.MarkForDeletion(r, n)
	})
}

func TestClearDrainsDeletionStages(t *testing.T) {
	c := newTestContext(t)
	p := &testProc{outputs: 1}
	n := c.NewNode(p)

	g := AcquireGraph(c, "test")
	c.RefNode(g, n)
	g.Release()
	r := AcquireRender(c, c.BufferSize())
	c.MarkForDeletion(r, n)
	r.Release()

	c.Clear()
	assert.Equal(t, 1, p.disposed)
	assert.Empty(t, c.marked)
	assert.Empty(t, c.toDelete)
}

func TestUpdateAfterStopDropsPending(t *testing.T) {
	c := newTestContext(t)
	from := c.NewNode(&testProc{outputs: 1})
	to := c.NewNode(&testProc{inputs: 1})
	c.Connect(from, to)

	c.stopScheduled.Store(true)
	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	assert.Empty(t, c.pendingNodeConnections)
	assert.Equal(t, 0, c.ConnectionCount())
	assert.Empty(t, to.Input(0).sources)
}

func TestHeldSourcesReaped(t *testing.T) {
	c := newTestContext(t)
	n := c.NewNode(&testProc{outputs: 1})
	c.HoldSourceUntilFinished(n)

	c.handleHeldSources()
	assert.Len(t, c.heldSources, 1)

	n.finished.Store(true)
	c.handleHeldSources()
	assert.Empty(t, c.heldSources)
}

func TestRenderAfterTeardownSilences(t *testing.T) {
	c := newTestContext(t)
	g := AcquireGraph(c, "test")
	c.Stop(g)
	g.Release()

	out := NewBuffer(2, c.BufferSize())
	out[0][0] = 0.5
	c.renderQuantum(out, c.BufferSize())
	assert.Equal(t, 0.0, out[0][0])
}

func TestGraphLockFreeDuringRender(t *testing.T) {
	c := newTestContext(t)
	p := &stallingProc{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c.Connect(c.NewNode(p), c.Destination().Node())
	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	done := make(chan struct{})
	out := NewBuffer(2, c.BufferSize())
	go func() {
		defer close(done)
		c.renderQuantum(out, c.BufferSize())
	}()
	<-p.entered

	// Samples are produced holding only the render lock: control-side
	// graph work proceeds concurrently with production.
	g, ok := TryAcquireGraph(c, "control", 100*time.Millisecond)
	require.True(t, ok)
	require.NotNil(t, g.Context())
	g.Release()

	close(p.release)
	<-done
}

func TestFanOutFinishDerefsOnce(t *testing.T) {
	c := newTestContext(t)
	src := c.NewNode(&testProc{outputs: 1})
	a := c.NewNode(&testProc{inputs: 1})
	b := c.NewNode(&testProc{inputs: 1})
	c.Connect(src, a)
	c.Connect(src, b)
	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()
	require.Equal(t, 2, src.ConnectionRefCount())
	require.Equal(t, 2, countReferenced(c, src))

	r := AcquireRender(c, c.BufferSize())
	c.notifyNodeFinished(r, src)
	r.Release()
	g = AcquireGraph(c, "test")
	c.derefFinishedNodes(g)
	g.Release()

	// Finishing gives up exactly one reference; the two connections
	// still hold the node.
	assert.Equal(t, 1, countReferenced(c, src))
	assert.Equal(t, 2, src.ConnectionRefCount())
	assert.Equal(t, stageReferenced, src.stage.Load())

	c.Disconnect(src, a)
	c.Disconnect(src, b)
	g = AcquireGraph(c, "test")
	c.Update(g)
	g.Release()
	assert.Equal(t, 0, src.ConnectionRefCount())
	assert.Empty(t, c.referenced)
	assert.Equal(t, stageDetached, src.stage.Load())
}

func TestTailNodeDisablesAfterTail(t *testing.T) {
	c := newTestContext(t)
	p := &tailProc{
		testProc: testProc{inputs: 1, outputs: 1},
		tail:     DurationOf(c.SampleRate(), int64(2*c.BufferSize())),
	}
	n := c.NewNode(p)
	dest := c.Destination().Node()
	c.Connect(n, dest)
	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	// Disconnecting a tail node keeps its outputs enabled until the
	// tail has been rendered past.
	c.Disconnect(n, dest)
	g = AcquireGraph(c, "test")
	c.Update(g)
	g.Release()
	assert.True(t, n.OutputsEnabled())

	require.NoError(t, c.RenderQuanta(3))
	assert.False(t, n.OutputsEnabled())
	assert.Empty(t, c.tailNodes)
}

func TestTailNodeReconnectCancelsDisable(t *testing.T) {
	c := newTestContext(t)
	p := &tailProc{
		testProc: testProc{inputs: 1, outputs: 1},
		tail:     DurationOf(c.SampleRate(), int64(2*c.BufferSize())),
	}
	n := c.NewNode(p)
	dest := c.Destination().Node()
	c.Connect(n, dest)
	g := AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	c.Disconnect(n, dest)
	c.Connect(n, dest)
	g = AcquireGraph(c, "test")
	c.Update(g)
	g.Release()

	require.NoError(t, c.RenderQuanta(3))
	assert.True(t, n.OutputsEnabled())
	assert.Empty(t, c.tailNodes)
}

func TestProcessOncePerQuantum(t *testing.T) {
	c := newTestContext(t)
	n := c.NewNode(&testProc{outputs: 1})

	r := AcquireRender(c, c.BufferSize())
	n.processIfNecessary(r, c.BufferSize())
	first := n.lastQuantum
	n.processIfNecessary(r, c.BufferSize())
	assert.Equal(t, first, n.lastQuantum)
	r.Release()

	r = AcquireRender(c, c.BufferSize())
	n.processIfNecessary(r, c.BufferSize())
	assert.Equal(t, first+1, n.lastQuantum)
	r.Release()
}
