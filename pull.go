package graph

// AddAutomaticPullNode registers a node for unconditional per-quantum
// processing. Nodes with no downstream connection, like analysers, only run
// because of this set. The render-side snapshot is refreshed at the next
// quantum boundary.
func (c *Context) AddAutomaticPullNode(n *Node) {
	c.queueMu.Lock()
	if _, ok := c.automaticPull[n]; !ok {
		c.automaticPull[n] = struct{}{}
		c.pullNeedsUpdating = true
	}
	c.queueMu.Unlock()
}

// RemoveAutomaticPullNode removes the node from the automatic-pull set.
func (c *Context) RemoveAutomaticPullNode(n *Node) {
	c.queueMu.Lock()
	if _, ok := c.automaticPull[n]; ok {
		delete(c.automaticPull, n)
		c.pullNeedsUpdating = true
	}
	c.queueMu.Unlock()
}

// updateAutomaticPullNodes rebuilds the render-side snapshot as a faithful
// copy of the control-side set. Runs at quantum boundaries only, so the
// render loop iterates the snapshot without any synchronization.
func (c *Context) updateAutomaticPullNodes() {
	c.queueMu.Lock()
	if c.pullNeedsUpdating {
		c.pullSnapshot = c.pullSnapshot[:0]
		for n := range c.automaticPull {
			c.pullSnapshot = append(c.pullSnapshot, n)
		}
		c.pullNeedsUpdating = false
	}
	c.queueMu.Unlock()
}

// processAutomaticPullNodes forces every node of the snapshot to produce
// output for the current quantum regardless of downstream pulls.
func (c *Context) processAutomaticPullNodes(r *RenderHandle, frames int) {
	for _, n := range c.pullSnapshot {
		n.processIfNecessary(r, frames)
	}
}
