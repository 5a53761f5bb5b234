package graph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultBufferSize is the default number of frames per render quantum.
	DefaultBufferSize = 128
	// DefaultNumChannels is the default channel count of the graph bus.
	DefaultNumChannels = 2

	minSampleRate      = 44100
	maxSampleRate      = 96000
	maxOfflineChannels = 10
)

var (
	// ErrContextsExhausted is returned when a hardware context is created
	// past the admission cap.
	ErrContextsExhausted = errors.New("all hardware contexts are in use")
	// ErrOfflineChannels is returned for an offline channel count out of range.
	ErrOfflineChannels = errors.New("offline context channel count out of range")
	// ErrSampleRateRange is returned for a sample rate out of the supported range.
	ErrSampleRateRange = errors.New("sample rate out of supported range")
	// ErrSampleRateMismatch is returned when the requested sample rate does
	// not match the loaded spatialization data.
	ErrSampleRateMismatch = errors.New("sample rate does not match loaded spatialization data")
	// ErrShutdownTimeout is returned when the bounded lock attempts of
	// shutdown are exhausted.
	ErrShutdownTimeout = errors.New("could not acquire graph lock for shutdown")
	// ErrUninitialized is returned on an attempt to initialize a context
	// again after it has been uninitialized.
	ErrUninitialized = errors.New("context has been uninitialized")
	// ErrNoDestination is returned when a hardware context is initialized
	// without a bound device.
	ErrNoDestination = errors.New("no destination device bound")
	// ErrNotOffline is returned when offline rendering is requested on a
	// hardware context.
	ErrNotOffline = errors.New("context is not offline")
)

// Logger is a global interface for graph loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
}

type silentLogger struct{}

func (silentLogger) Debug(args ...interface{}) {}

func (silentLogger) Info(args ...interface{}) {}

var defaultLogger silentLogger

// SpatialLoader loads spatialization data asynchronously. Rendering may
// proceed before the data is loaded, processing whatever is available; the
// Runnable readiness gate reports when full-fidelity spatial processing is
// possible.
type SpatialLoader interface {
	LoadAsync(sampleRate int)
	Loaded() bool
	SampleRate() int
}

// nullLoader is the default loader: no spatialization data, always loaded.
type nullLoader struct {
	sampleRate atomic.Int32
}

func (l *nullLoader) LoadAsync(sampleRate int) { l.sampleRate.Store(int32(sampleRate)) }

func (l *nullLoader) Loaded() bool { return true }

func (l *nullLoader) SampleRate() int { return int(l.sampleRate.Load()) }

// Context owns the node graph. All topology requests are deferred and
// committed at render-quantum boundaries; see package documentation for the
// locking contract.
type Context struct {
	uid         string
	sampleRate  int
	bufferSize  int
	numChannels int
	offline     bool

	graphMu  timedMutex
	renderMu timedMutex
	// queueMu guards the pending-connection queues and the automatic-pull
	// set. Sub-microsecond critical sections only.
	queueMu sync.Mutex
	// lifeMu guards the referenced/finished/marked/to-delete collections
	// and the held-sources list. Same constraint.
	lifeMu sync.Mutex

	initialized         atomic.Bool
	stopScheduled       atomic.Bool
	audioThreadFinished atomic.Bool
	tornDown            atomic.Bool

	pendingConnections     []pendingConnection
	pendingNodeConnections []pendingNodeConnection

	referenced []*Node
	finished   []*Node
	marked     []*Node
	toDelete   []*Node
	// deletionScheduled is guarded by lifeMu.
	deletionScheduled bool

	automaticPull     map[*Node]struct{}
	pullSnapshot      []*Node
	pullNeedsUpdating bool

	heldSources []*Node

	// tailNodes are unreferenced nodes still ringing out their tails.
	// Guarded by the graph lock.
	tailNodes []*Node

	activeSourceCount atomic.Int32
	connectionCount   atomic.Int32
	quantum           atomic.Uint64

	destination    *Destination
	device         Device
	recorder       Recorder
	targetFrames   int
	renderedFrames int

	admission *Admission
	loader    SpatialLoader
	tasks     chan func()
	log       Logger
}

// Option provides a way to set functional parameters to context.
type Option func(*Context) error

// WithLogger sets logger to the context. If this option is not provided,
// silent logger is used.
func WithLogger(l Logger) Option {
	return func(c *Context) error {
		c.log = l
		return nil
	}
}

// WithAdmission sets the admission-control service used by this context.
// Defaults to the process-wide service capped at MaxHardwareContexts.
func WithAdmission(a *Admission) Option {
	return func(c *Context) error {
		c.admission = a
		return nil
	}
}

// WithDevice binds the hardware output device.
func WithDevice(d Device) Option {
	return func(c *Context) error {
		c.device = d
		return nil
	}
}

// WithRecorder sets the render target of an offline context.
func WithRecorder(r Recorder) Option {
	return func(c *Context) error {
		c.recorder = r
		return nil
	}
}

// WithSpatialLoader sets the spatialization-data loader gating Runnable.
func WithSpatialLoader(l SpatialLoader) Option {
	return func(c *Context) error {
		c.loader = l
		return nil
	}
}

// WithBufferSize sets frames per render quantum.
func WithBufferSize(frames int) Option {
	return func(c *Context) error {
		if frames <= 0 {
			return fmt.Errorf("non-positive buffer size: %d", frames)
		}
		c.bufferSize = frames
		return nil
	}
}

// WithNumChannels sets the channel count of the graph bus.
func WithNumChannels(numChannels int) Option {
	return func(c *Context) error {
		if numChannels <= 0 {
			return fmt.Errorf("non-positive number of channels: %d", numChannels)
		}
		c.numChannels = numChannels
		return nil
	}
}

func newContext(options ...Option) (*Context, error) {
	c := &Context{
		uid:           newUID(),
		bufferSize:    DefaultBufferSize,
		numChannels:   DefaultNumChannels,
		graphMu:       newTimedMutex(),
		renderMu:      newTimedMutex(),
		automaticPull: make(map[*Node]struct{}),
		tasks:         make(chan func(), 4),
		admission:     defaultAdmission,
		loader:        &nullLoader{},
		log:           defaultLogger,
	}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// New creates a new hardware context. It fails with ErrContextsExhausted if
// the admission cap is reached. The context is initialized lazily: bind a
// device with WithDevice and call Initialize, or use Start.
func New(options ...Option) (*Context, error) {
	c, err := newContext(options...)
	if err != nil {
		return nil, err
	}
	if c.admission.Full() {
		return nil, ErrContextsExhausted
	}
	if c.device != nil {
		c.sampleRate = c.device.SampleRate()
	}
	return c, nil
}

// NewOffline creates a context rendering numFrames frames on demand instead
// of being driven by hardware. Offline contexts are exempt from admission
// control but validate their parameters strictly.
func NewOffline(numChannels, numFrames, sampleRate int, options ...Option) (*Context, error) {
	c, err := newContext(options...)
	if err != nil {
		return nil, err
	}
	if numChannels < 1 || numChannels > maxOfflineChannels {
		return nil, fmt.Errorf("%w: %d", ErrOfflineChannels, numChannels)
	}
	if sampleRate < minSampleRate || sampleRate > maxSampleRate {
		return nil, fmt.Errorf("%w: %d", ErrSampleRateRange, sampleRate)
	}
	if c.loader.Loaded() && c.loader.SampleRate() != 0 && c.loader.SampleRate() != sampleRate {
		return nil, fmt.Errorf("%w: %d", ErrSampleRateMismatch, sampleRate)
	}
	c.offline = true
	c.numChannels = numChannels
	c.sampleRate = sampleRate
	c.targetFrames = numFrames
	return c, nil
}

// ID returns context unique id.
func (c *Context) ID() string {
	return c.uid
}

// Initialized reports whether the context has been lazily initialized.
func (c *Context) Initialized() bool {
	return c.initialized.Load()
}

// Offline reports whether this is an offline context.
func (c *Context) Offline() bool {
	return c.offline
}

// SampleRate returns the context sample rate: the hardware rate for device
// contexts, the requested rate for offline ones.
func (c *Context) SampleRate() int {
	if c.device != nil {
		return c.device.SampleRate()
	}
	return c.sampleRate
}

// BufferSize returns frames per render quantum.
func (c *Context) BufferSize() int {
	return c.bufferSize
}

// NumChannels returns the channel count of the graph bus.
func (c *Context) NumChannels() int {
	return c.numChannels
}

// Destination returns the destination node of the context. It is non-nil
// once the context is initialized.
func (c *Context) Destination() *Destination {
	return c.destination
}

// Runnable reports whether the context is ready for full-fidelity
// rendering: it must be initialized and the spatialization data must have
// finished loading. Rendering itself may proceed before readiness.
func (c *Context) Runnable() bool {
	if !c.Initialized() {
		return false
	}
	return c.loader.Loaded()
}

// Initialize binds the destination and, for hardware contexts, starts the
// device callback and admits the context into the hardware cap. The cap
// counter is incremented only after the device confirms it has started
// rendering. Initialize is idempotent but refuses to run again after
// Uninitialize.
func (c *Context) Initialize() error {
	if c.initialized.Load() {
		return nil
	}
	if c.audioThreadFinished.Load() {
		return ErrUninitialized
	}
	if c.offline {
		c.destination = newOfflineDestination(c, c.recorder)
		c.initialized.Store(true)
		return nil
	}
	if c.device == nil {
		return ErrNoDestination
	}
	c.sampleRate = c.device.SampleRate()
	c.destination = newDestination(c, c.device)
	if err := c.device.Start(c.renderQuantum); err != nil {
		return fmt.Errorf("start device: %w", err)
	}
	c.admission.admit()
	c.initialized.Store(true)
	c.log.Debug("graph: context initialized", c.uid)
	return nil
}

// Update runs the per-quantum control-side update: drains both mutation
// queues in FIFO order and dereferences finished nodes. Requires the graph
// lock. The periodic driver calls it every tick; the render goroutine calls
// it symmetrically at quantum start when it can take the graph lock.
func (c *Context) Update(g *GraphHandle) {
	if g.Context() == nil {
		return
	}
	if c.stopScheduled.Load() {
		// Once stop is scheduled no further topology mutation is applied.
		c.dropPending()
		return
	}
	c.commitPending(g)
	c.derefFinishedNodes(g)
	c.disableFinishedTailNodes(g)
}

// deferDisable registers a node whose outputs must stay enabled until its
// tail plays out. Requires the graph lock.
func (c *Context) deferDisable(n *Node) {
	for _, t := range c.tailNodes {
		if t == n {
			return
		}
	}
	c.tailNodes = append(c.tailNodes, n)
}

// disableFinishedTailNodes disables outputs of registered tail nodes once
// their tail deadline has been rendered past. A node reconnected while
// ringing out is dropped from the list with its outputs still enabled.
// Requires the graph lock.
func (c *Context) disableFinishedTailNodes(g *GraphHandle) {
	if len(c.tailNodes) == 0 {
		return
	}
	now := c.CurrentSampleFrame()
	keep := c.tailNodes[:0]
	for _, n := range c.tailNodes {
		switch {
		case n.connRefs.Load() > 0:
			n.disableAfter = 0
		case now >= n.disableAfter:
			n.disableAfter = 0
			n.enabled.Store(false)
		default:
			keep = append(keep, n)
		}
	}
	c.tailNodes = keep
}

func (c *Context) dropPending() {
	c.queueMu.Lock()
	c.pendingConnections = nil
	c.pendingNodeConnections = nil
	c.queueMu.Unlock()
}

// RefNode adds the node to the referenced-node collection, keeping it alive
// independently of caller references. Requires the graph lock.
func (c *Context) RefNode(g *GraphHandle, n *Node) {
	if g.Context() == nil {
		return
	}
	c.refNode(g, n)
}

// DerefNode removes one reference of the node from the referenced-node
// collection. Dereferencing a node the context does not own is a fatal
// programming error. Requires the graph lock.
func (c *Context) DerefNode(g *GraphHandle, n *Node) {
	if g.Context() == nil {
		return
	}
	if !c.derefNode(g, n) {
		panic("graph: deref of node not owned by the context")
	}
}

func (c *Context) refNode(g *GraphHandle, n *Node) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	switch n.stage.Load() {
	case stageMarked, stageToDelete:
		panic("graph: ref of node pending deletion")
	}
	c.referenced = append(c.referenced, n)
	n.stage.Store(stageReferenced)
}

// derefNode removes one occurrence of the node from the referenced
// collection and reports whether it was found. Missing entries are legal on
// the internal path: a finished node has already given its reference up.
func (c *Context) derefNode(g *GraphHandle, n *Node) bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	return c.derefNodeLocked(n)
}

func (c *Context) derefNodeLocked(n *Node) bool {
	for i := range c.referenced {
		if c.referenced[i] == n {
			c.referenced = append(c.referenced[:i], c.referenced[i+1:]...)
			if n.stage.Load() == stageReferenced && !c.isReferencedLocked(n) {
				n.stage.Store(stageDetached)
			}
			return true
		}
	}
	return false
}

func (c *Context) isReferencedLocked(n *Node) bool {
	for i := range c.referenced {
		if c.referenced[i] == n {
			return true
		}
	}
	return false
}

// notifyNodeFinished records that a source-like node completed playback.
// Called from the render goroutine while producing a quantum; the actual
// dereference happens at the next graph-lock window.
func (c *Context) notifyNodeFinished(r *RenderHandle, n *Node) {
	if r.Context() == nil {
		return
	}
	if !n.finished.CompareAndSwap(false, true) {
		return
	}
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if !c.isReferencedLocked(n) {
		panic("graph: node to finish not referenced")
	}
	c.finished = append(c.finished, n)
	n.stage.Store(stageFinished)
}

// derefFinishedNodes drains the finished list. A finished node gives up
// exactly one reference; live connections keep holding theirs. Requires the
// graph lock.
func (c *Context) derefFinishedNodes(g *GraphHandle) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	for _, n := range c.finished {
		c.derefNodeLocked(n)
		if c.isReferencedLocked(n) {
			n.stage.Store(stageReferenced)
		} else {
			n.stage.Store(stageDetached)
		}
	}
	c.finished = nil
}

// MarkForDeletion stages the node for destruction on a control goroutine.
// The node must be present in the referenced-node collection; anything else
// indicates a double-free or a node this context never owned and is a fatal
// programming error. Called in render-lock context.
func (c *Context) MarkForDeletion(r *RenderHandle, n *Node) {
	if r.Context() == nil {
		return
	}
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if !c.isReferencedLocked(n) {
		panic("graph: mark for deletion of unreferenced node")
	}
	for c.derefNodeLocked(n) {
	}
	c.marked = append(c.marked, n)
	n.stage.Store(stageMarked)
}

// scheduleNodeDeletion moves marked nodes into the to-delete list and posts
// a one-shot callback to a control goroutine. Destruction may do
// non-trivial work, so it never executes on the render goroutine. Runs once
// per quantum post-processing.
func (c *Context) scheduleNodeDeletion(g *GraphHandle) {
	if !c.initialized.Load() || g.Context() == nil {
		return
	}
	c.lifeMu.Lock()
	if len(c.marked) == 0 || c.deletionScheduled {
		c.lifeMu.Unlock()
		return
	}
	c.toDelete = append(c.toDelete, c.marked...)
	for _, n := range c.marked {
		n.stage.Store(stageToDelete)
	}
	c.marked = nil
	c.deletionScheduled = true
	c.lifeMu.Unlock()

	select {
	case c.tasks <- c.deleteMarkedNodes:
	default:
		// A task is already queued; deletionScheduled stays set and the
		// staged nodes ride along with it.
	}
}

// deleteMarkedNodes drops the last ownership references of staged nodes.
// Control goroutine only.
func (c *Context) deleteMarkedNodes() {
	c.lifeMu.Lock()
	staged := c.toDelete
	c.toDelete = nil
	c.deletionScheduled = false
	c.lifeMu.Unlock()
	for _, n := range staged {
		n.stage.Store(stageDetached)
		n.dispose()
	}
}

// Clear synchronously drains the deletion stages. Used during full
// shutdown: the render goroutine is gone and nobody will schedule node
// deletion, so the context does it itself.
func (c *Context) Clear() {
	for {
		c.deleteMarkedNodes()
		c.lifeMu.Lock()
		c.toDelete = append(c.toDelete, c.marked...)
		for _, n := range c.marked {
			n.stage.Store(stageToDelete)
		}
		c.marked = nil
		remaining := len(c.toDelete)
		c.lifeMu.Unlock()
		if remaining == 0 {
			return
		}
	}
}

// Uninitialize stops the device callback and releases the hardware cap
// slot. It runs exactly once; the context cannot be initialized again
// afterwards. Requires the graph lock.
func (c *Context) Uninitialize(g *GraphHandle) {
	if !c.initialized.Load() {
		return
	}
	if c.destination != nil {
		if err := c.destination.stop(); err != nil {
			c.log.Info("graph: stopping destination:", err)
		}
	}
	c.audioThreadFinished.Store(true)
	if !c.offline {
		c.admission.release()
	}
	c.lifeMu.Lock()
	for _, n := range c.referenced {
		n.stage.Store(stageDetached)
	}
	c.referenced = nil
	for _, n := range c.finished {
		n.stage.Store(stageDetached)
	}
	c.finished = nil
	c.heldSources = nil
	c.lifeMu.Unlock()
	c.tailNodes = nil
	c.queueMu.Lock()
	c.automaticPull = make(map[*Node]struct{})
	c.pullSnapshot = nil
	c.pullNeedsUpdating = false
	c.queueMu.Unlock()
	c.initialized.Store(false)
}

// Stop schedules the context stop and performs synchronous teardown:
// uninitialize, then drain every deletion stage. After Stop no further
// topology mutation is applied and lock handles report a nil context.
// Requires the graph lock.
func (c *Context) Stop(g *GraphHandle) {
	if c.stopScheduled.Swap(true) {
		return
	}
	c.dropPending()
	c.Uninitialize(g)
	c.Clear()
	c.tornDown.Store(true)
}

// Close asserts that teardown fully drained every owned collection. A
// non-empty collection at this point means a queue was skipped during
// shutdown, which is a fatal programming error.
func (c *Context) Close() {
	if c.initialized.Load() {
		panic("graph: close of initialized context")
	}
	if !c.stopScheduled.Load() {
		panic("graph: close of context without stop")
	}
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.referenced) != 0 || len(c.finished) != 0 || len(c.marked) != 0 || len(c.toDelete) != 0 {
		panic("graph: close with undrained lifecycle collections")
	}
	if len(c.pendingConnections) != 0 || len(c.pendingNodeConnections) != 0 {
		panic("graph: close with undrained mutation queues")
	}
	if len(c.automaticPull) != 0 || len(c.pullSnapshot) != 0 {
		panic("graph: close with registered automatic pull nodes")
	}
}

// HoldSourceUntilFinished keeps a one-shot source registered until it
// reports finished, even if the caller drops its own reference.
func (c *Context) HoldSourceUntilFinished(n *Node) {
	c.lifeMu.Lock()
	c.heldSources = append(c.heldSources, n)
	c.lifeMu.Unlock()
}

// handleHeldSources reaps held sources which have finished.
func (c *Context) handleHeldSources() {
	c.lifeMu.Lock()
	held := c.heldSources[:0]
	for _, n := range c.heldSources {
		if !n.Finished() {
			held = append(held, n)
		}
	}
	c.heldSources = held
	c.lifeMu.Unlock()
}

// IncrementActiveSourceCount is called by source nodes when they start
// producing.
func (c *Context) IncrementActiveSourceCount() {
	c.activeSourceCount.Add(1)
}

// DecrementActiveSourceCount is called by source nodes when they stop.
func (c *Context) DecrementActiveSourceCount() {
	c.activeSourceCount.Add(-1)
}

// ActiveSourceCount returns the number of currently active sources.
func (c *Context) ActiveSourceCount() int {
	return int(c.activeSourceCount.Load())
}

// ConnectionCount returns the running tally of committed connections.
func (c *Context) ConnectionCount() int {
	return int(c.connectionCount.Load())
}

// CurrentSampleFrame returns the sample position reported by the
// destination.
func (c *Context) CurrentSampleFrame() uint64 {
	if c.destination == nil {
		return 0
	}
	return c.destination.CurrentSampleFrame()
}

// CurrentTime returns the wall time of the current sample position.
func (c *Context) CurrentTime() float64 {
	if c.destination == nil {
		return 0
	}
	return c.destination.CurrentTime()
}

// handlePreRenderTasks commits pending topology changes and refreshes the
// automatic-pull snapshot at the beginning of a render quantum.
func (c *Context) handlePreRenderTasks(g *GraphHandle) {
	c.Update(g)
	c.updateAutomaticPullNodes()
}

// handlePostRenderTasks stages node deletion and refreshes the
// automatic-pull snapshot at the end of a render quantum.
func (c *Context) handlePostRenderTasks(g *GraphHandle, r *RenderHandle) {
	c.scheduleNodeDeletion(g)
	c.disableFinishedTailNodes(g)
	c.updateAutomaticPullNodes()
	c.handleHeldSources()
}

// renderQuantum produces one block of audio. It is the device render
// callback for hardware contexts and the inner loop of offline rendering.
// Graph-affecting work happens only if the graph lock can be taken within
// the bounded attempt; otherwise it is skipped, never waited for. The graph
// lock is given back before sample production starts: samples are produced
// holding only the render lock, so control goroutines are never blocked for
// the duration of a quantum.
func (c *Context) renderQuantum(out Buffer, frames int) {
	if c.tornDown.Load() {
		out.Zero(frames)
		return
	}
	if g, ok := TryAcquireGraph(c, "preRender", 0); ok {
		if g.Context() != nil {
			c.handlePreRenderTasks(g)
		}
		g.Release()
	}
	r := AcquireRender(c, frames)
	if c.destination != nil {
		c.destination.render(r, out, frames)
	} else {
		out.Zero(frames)
	}
	c.processAutomaticPullNodes(r, frames)
	if g, ok := TryAcquireGraph(c, "postRender", 0); ok {
		if g.Context() != nil {
			c.handlePostRenderTasks(g, r)
		}
		g.Release()
	}
	r.Release()
}
