package graph

import (
	"fmt"
	"sync/atomic"
)

// RenderFunc produces one render quantum into out. The device invokes it at
// a fixed period from its callback goroutine.
type RenderFunc func(out Buffer, frames int)

// Device is the platform audio output boundary. Implementations live in the
// portaudio and oto subpackages; mock.Device drives quanta manually.
type Device interface {
	// Start begins the hardware callback. The render function will now be
	// called repeatedly to produce audio, one render quantum per call.
	Start(render RenderFunc) error
	Stop() error
	SampleRate() int
}

// Recorder consumes rendered quanta of an offline context.
type Recorder interface {
	Record(b Buffer, frames int) error
}

// destinationProcessor is the terminal node body: one input, no outputs.
// The destination pulls the input itself during render.
type destinationProcessor struct{}

func (destinationProcessor) Inputs() int { return 1 }

func (destinationProcessor) Outputs() int { return 0 }

func (destinationProcessor) Process(r *RenderHandle, in, out []Buffer, frames int) {}

// Destination is the sink of the graph: everything audible is connected,
// directly or not, to its node.
type Destination struct {
	c      *Context
	node   *Node
	device Device
	frame  atomic.Uint64
}

func newDestination(c *Context, device Device) *Destination {
	return &Destination{
		c:      c,
		node:   c.NewNode(destinationProcessor{}),
		device: device,
	}
}

func newOfflineDestination(c *Context, recorder Recorder) *Destination {
	return &Destination{
		c:    c,
		node: c.NewNode(destinationProcessor{}),
	}
}

// Node returns the graph node of the destination, the usual `to` argument
// of Connect.
func (d *Destination) Node() *Node {
	return d.node
}

// CurrentSampleFrame returns the number of frames rendered so far.
func (d *Destination) CurrentSampleFrame() uint64 {
	return d.frame.Load()
}

// CurrentTime returns the rendered position in seconds.
func (d *Destination) CurrentTime() float64 {
	return float64(d.frame.Load()) / float64(d.c.SampleRate())
}

// render pulls the destination input for one quantum. Render lock held.
func (d *Destination) render(r *RenderHandle, out Buffer, frames int) {
	out.Copy(d.node.Input(0).pull(r, frames), frames)
	d.frame.Add(uint64(frames))
}

func (d *Destination) stop() error {
	if d.device == nil {
		return nil
	}
	return d.device.Stop()
}

// RenderAll renders the whole offline target, committing pending mutations
// at every quantum boundary and feeding the recorder, if any.
func (c *Context) RenderAll() error {
	if !c.offline {
		return ErrNotOffline
	}
	if err := c.Initialize(); err != nil {
		return err
	}
	scratch := NewBuffer(c.numChannels, c.bufferSize)
	for c.renderedFrames < c.targetFrames {
		frames := c.targetFrames - c.renderedFrames
		if frames > c.bufferSize {
			frames = c.bufferSize
		}
		if err := c.renderOffline(scratch, frames); err != nil {
			return err
		}
	}
	return nil
}

// RenderQuanta renders n full quanta of an offline context.
func (c *Context) RenderQuanta(n int) error {
	if !c.offline {
		return ErrNotOffline
	}
	if err := c.Initialize(); err != nil {
		return err
	}
	scratch := NewBuffer(c.numChannels, c.bufferSize)
	for i := 0; i < n; i++ {
		if err := c.renderOffline(scratch, c.bufferSize); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) renderOffline(scratch Buffer, frames int) error {
	c.renderQuantum(scratch, frames)
	c.renderedFrames += frames
	// Offline contexts have no driver: the caller goroutine is the control
	// thread, so posted deletion callbacks run here.
	select {
	case task := <-c.tasks:
		task()
	default:
	}
	if c.recorder != nil {
		if err := c.recorder.Record(scratch, frames); err != nil {
			return fmt.Errorf("record quantum: %w", err)
		}
	}
	return nil
}
