package graph

// pendingNodeConnection is a node-granularity topology mutation request.
// A disconnect with nil from means "sever the default input of to".
type pendingNodeConnection struct {
	from, to *Node
	connect  bool
}

// pendingConnection is a terminal-granularity topology mutation request.
// It bypasses node reference counting: internal wiring only.
type pendingConnection struct {
	in      *Input
	out     *Output
	connect bool
}

// Connect requests an edge from the first output terminal of from to the
// first input terminal of to. Non-blocking: the request is committed at the
// next render-quantum boundary. Callable from any goroutine.
func (c *Context) Connect(from, to *Node) {
	c.submitNodeConnection(pendingNodeConnection{from: from, to: to, connect: true})
}

// Disconnect requests removal of the edge created by Connect(from, to).
func (c *Context) Disconnect(from, to *Node) {
	c.submitNodeConnection(pendingNodeConnection{from: from, to: to})
}

// DisconnectAll requests severing the default input of to entirely,
// whatever is connected to it.
func (c *Context) DisconnectAll(to *Node) {
	c.submitNodeConnection(pendingNodeConnection{to: to})
}

// ConnectTerminals requests an edge from out to in. Low-level path used for
// internal wiring: it does not touch node reference counts.
func (c *Context) ConnectTerminals(in *Input, out *Output) {
	c.submitConnection(pendingConnection{in: in, out: out, connect: true})
}

// DisconnectTerminal requests severing every edge leaving out.
func (c *Context) DisconnectTerminal(out *Output) {
	c.submitConnection(pendingConnection{out: out})
}

func (c *Context) submitNodeConnection(p pendingNodeConnection) {
	if c.stopScheduled.Load() {
		c.log.Debug("graph: node connection dropped, stop scheduled")
		return
	}
	c.queueMu.Lock()
	c.pendingNodeConnections = append(c.pendingNodeConnections, p)
	c.queueMu.Unlock()
}

func (c *Context) submitConnection(p pendingConnection) {
	if c.stopScheduled.Load() {
		c.log.Debug("graph: terminal connection dropped, stop scheduled")
		return
	}
	c.queueMu.Lock()
	c.pendingConnections = append(c.pendingConnections, p)
	c.queueMu.Unlock()
}

// commitPending drains both mutation queues in FIFO order and applies them
// to the live topology. It is the only mutator of committed topology.
// Requires the graph lock; topology application is bracketed with the
// render lock so it never overlaps sample production.
func (c *Context) commitPending(g *GraphHandle) {
	c.queueMu.Lock()
	connections := c.pendingConnections
	nodeConnections := c.pendingNodeConnections
	c.pendingConnections = nil
	c.pendingNodeConnections = nil
	c.queueMu.Unlock()

	if len(connections) == 0 && len(nodeConnections) == 0 {
		return
	}

	// Keep topology writes out of sample production. The render goroutine
	// only ever tries the graph lock, so no lock-order inversion is
	// possible here.
	c.renderMu.lock()
	defer c.renderMu.unlock()

	for _, p := range connections {
		if p.connect {
			connectTerminals(g, p.in, p.out)
		} else {
			p.out.disconnectAll(g)
		}
	}

	for _, p := range nodeConnections {
		if p.connect {
			c.applyConnect(g, p.from, p.to)
		} else {
			c.applyDisconnect(g, p.from, p.to)
		}
	}
}

func (c *Context) applyConnect(g *GraphHandle, from, to *Node) {
	connectTerminals(g, to.Input(0), from.Output(0))
	c.refNode(g, from)
	c.refNode(g, to)
	from.connRefs.Add(1)
	to.connRefs.Add(1)
	from.enableOutputsIfNecessary(g)
	to.enableOutputsIfNecessary(g)
	c.connectionCount.Add(1)
}

func (c *Context) applyDisconnect(g *GraphHandle, from, to *Node) {
	if from == nil {
		// Disconnect-all: sever the default input of to entirely.
		to.connRefs.Add(-1)
		to.Input(0).disconnectAll(g)
		to.disableOutputsIfNecessary(g)
		return
	}
	from.connRefs.Add(-1)
	to.connRefs.Add(-1)
	disconnectTerminals(g, to.Input(0), from.Output(0))
	c.derefNode(g, from)
	c.derefNode(g, to)
	from.disableOutputsIfNecessary(g)
	to.disableOutputsIfNecessary(g)
}
