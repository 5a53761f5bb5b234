package graph

import (
	"sync/atomic"
	"time"

	"github.com/rs/xid"
)

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// Processor is a unit of signal processing. Implementations declare their
// terminal counts once and produce samples every time they are pulled.
// Process is called on the render goroutine with the render lock held: it
// must not block, allocate or do unbounded work. in and out contain one
// buffer per declared terminal.
type Processor interface {
	Inputs() int
	Outputs() int
	Process(r *RenderHandle, in, out []Buffer, frames int)
}

// Finisher is implemented by source-like processors which run out of data,
// e.g. one-shot sample players. Once Finished reports true the node is
// moved into the finished list and dereferenced at the next graph-lock
// window.
type Finisher interface {
	Finished() bool
}

// Tailer is implemented by processors which keep producing for some time
// after their input goes silent, e.g. reverbs and delays. When the last
// reference of such a node is dropped, its outputs stay enabled until the
// tail and latency have been rendered past.
type Tailer interface {
	TailTime() time.Duration
	LatencyTime() time.Duration
}

// Disposer is implemented by processors owning resources that require
// non-trivial teardown. Dispose is invoked exactly once, always on a
// control goroutine, never on the render goroutine.
type Disposer interface {
	Dispose()
}

// Node lifecycle stages. A node is referenced XOR detached XOR in exactly
// one of the finished/marked/to-delete stages.
const (
	stageDetached int32 = iota
	stageReferenced
	stageFinished
	stageMarked
	stageToDelete
)

// Node wraps a Processor into the graph. Nodes connect via directed edges
// from an output terminal to an input terminal; multiple edges may target
// the same input (summed) and fan out from the same output.
type Node struct {
	uid  string
	c    *Context
	proc Processor

	inputs  []*Input
	outputs []*Output

	// connRefs is mutated only under the graph lock but read concurrently.
	connRefs atomic.Int32
	enabled  atomic.Bool
	finished atomic.Bool
	stage    atomic.Int32

	// lastQuantum guards against processing a node twice within one
	// quantum. Touched only under the render lock.
	lastQuantum uint64

	// disableAfter is the frame deadline after which outputs of an
	// unreferenced tail node are disabled. Guarded by the graph lock.
	disableAfter uint64

	inViews  []Buffer
	outViews []Buffer
}

// NewNode wraps the processor into a node owned by this context. Terminal
// buffers are allocated here so the render path never does.
func (c *Context) NewNode(p Processor) *Node {
	n := &Node{
		uid:  newUID(),
		c:    c,
		proc: p,
	}
	n.enabled.Store(true)
	for i := 0; i < p.Inputs(); i++ {
		n.inputs = append(n.inputs, &Input{
			node:    n,
			index:   i,
			summing: NewBuffer(c.numChannels, c.bufferSize),
		})
	}
	for i := 0; i < p.Outputs(); i++ {
		n.outputs = append(n.outputs, &Output{
			node:  n,
			index: i,
			buf:   NewBuffer(c.numChannels, c.bufferSize),
		})
	}
	n.inViews = make([]Buffer, len(n.inputs))
	n.outViews = make([]Buffer, len(n.outputs))
	for i := range n.outputs {
		n.outViews[i] = n.outputs[i].buf
	}
	return n
}

// ID returns node unique id.
func (n *Node) ID() string {
	return n.uid
}

// Input returns input terminal at index i.
func (n *Node) Input(i int) *Input {
	return n.inputs[i]
}

// Output returns output terminal at index i.
func (n *Node) Output(i int) *Output {
	return n.outputs[i]
}

// ConnectionRefCount returns the number of live connections holding the
// node. Safe to call from any goroutine.
func (n *Node) ConnectionRefCount() int {
	return int(n.connRefs.Load())
}

// OutputsEnabled reports whether the node currently contributes to the
// rendered signal.
func (n *Node) OutputsEnabled() bool {
	return n.enabled.Load()
}

// Finished reports whether a source-like node has completed playback.
func (n *Node) Finished() bool {
	return n.finished.Load()
}

// enableOutputsIfNecessary re-enables outputs of a node which was disabled
// due to zero references and cancels a pending tail disable. Requires the
// graph lock.
func (n *Node) enableOutputsIfNecessary(g *GraphHandle) {
	if n.connRefs.Load() > 0 {
		n.disableAfter = 0
		n.enabled.Store(true)
	}
}

// disableOutputsIfNecessary disables outputs once the last reference is
// gone. Tail nodes are not silenced immediately: the disable is deferred
// past their tail deadline instead. Requires the graph lock.
func (n *Node) disableOutputsIfNecessary(g *GraphHandle) {
	if !n.enabled.Load() || n.connRefs.Load() > 0 {
		return
	}
	if tail, ok := n.proc.(Tailer); ok {
		if d := tail.TailTime() + tail.LatencyTime(); d > 0 {
			n.disableAfter = n.c.CurrentSampleFrame() +
				uint64(float64(n.c.SampleRate())*d.Seconds())
			n.c.deferDisable(n)
			return
		}
	}
	n.enabled.Store(false)
}

// processIfNecessary pulls the node inputs and produces one quantum of
// output. Subsequent calls within the same quantum are no-ops, so shared
// nodes in fan-out topologies process exactly once.
func (n *Node) processIfNecessary(r *RenderHandle, frames int) {
	if r.Context() == nil {
		return
	}
	if n.lastQuantum == r.quantum {
		return
	}
	n.lastQuantum = r.quantum
	if !n.enabled.Load() || n.finished.Load() {
		for _, out := range n.outputs {
			out.buf.Zero(frames)
		}
		return
	}
	for i, in := range n.inputs {
		n.inViews[i] = in.pull(r, frames)
	}
	n.proc.Process(r, n.inViews, n.outViews, frames)
	if f, ok := n.proc.(Finisher); ok && f.Finished() {
		n.c.notifyNodeFinished(r, n)
	}
}

// dispose drops the processor resources. Control goroutine only.
func (n *Node) dispose() {
	if d, ok := n.proc.(Disposer); ok {
		d.Dispose()
	}
}

// Input is a node input terminal. Buffers of all connected outputs are
// summed into it.
type Input struct {
	node    *Node
	index   int
	sources []*Output
	summing Buffer
}

// Node returns the owning node.
func (in *Input) Node() *Node {
	return in.node
}

// pull sums all connected outputs into the summing buffer for the current
// quantum.
func (in *Input) pull(r *RenderHandle, frames int) Buffer {
	in.summing.Zero(frames)
	for _, out := range in.sources {
		in.summing.Sum(out.pull(r, frames), frames)
	}
	return in.summing
}

// Output is a node output terminal. It fans out to any number of inputs.
type Output struct {
	node  *Node
	index int
	dests []*Input
	buf   Buffer
}

// Node returns the owning node.
func (out *Output) Node() *Node {
	return out.node
}

// pull makes the owning node produce the current quantum and returns the
// output buffer.
func (out *Output) pull(r *RenderHandle, frames int) Buffer {
	out.node.processIfNecessary(r, frames)
	return out.buf
}

// connectTerminals wires an edge from out to in. Requires the graph lock;
// the committing context additionally brackets the call with the render
// lock so the render goroutine never observes a half-built edge.
// Reconnecting an existing edge is a no-op.
func connectTerminals(g *GraphHandle, in *Input, out *Output) {
	for _, o := range in.sources {
		if o == out {
			return
		}
	}
	in.sources = append(in.sources, out)
	out.dests = append(out.dests, in)
}

// disconnectTerminals removes the edge from out to in, if present.
// Requires the graph lock.
func disconnectTerminals(g *GraphHandle, in *Input, out *Output) {
	for i, o := range in.sources {
		if o == out {
			in.sources = append(in.sources[:i], in.sources[i+1:]...)
			break
		}
	}
	for i, d := range out.dests {
		if d == in {
			out.dests = append(out.dests[:i], out.dests[i+1:]...)
			break
		}
	}
}

// disconnectAll severs every edge leaving the output. Requires the graph
// lock.
func (out *Output) disconnectAll(g *GraphHandle) {
	for _, in := range out.dests {
		for i, o := range in.sources {
			if o == out {
				in.sources = append(in.sources[:i], in.sources[i+1:]...)
				break
			}
		}
	}
	out.dests = out.dests[:0]
}

// disconnectAll severs every edge entering the input. Requires the graph
// lock.
func (in *Input) disconnectAll(g *GraphHandle) {
	for _, out := range in.sources {
		for i, d := range out.dests {
			if d == in {
				out.dests = append(out.dests[:i], out.dests[i+1:]...)
				break
			}
		}
	}
	in.sources = in.sources[:0]
}
