// Package mock contains processors and devices used to test the graph.
package mock

import (
	"sync"

	"github.com/pipelined/graph"
)

// Processor types
type (
	// Source emits a constant value. It reports finished after Limit
	// quanta, zero Limit means it never finishes. Disposed counts calls
	// to Dispose.
	Source struct {
		Value    float64
		Limit    int
		quanta   int
		Disposed int
	}

	// Pass copies its single input to its single output unchanged.
	Pass struct{}

	// Sink consumes its input and remembers the last processed quantum.
	Sink struct {
		Frames int
	}
)

// Inputs implements graph.Processor.
func (s *Source) Inputs() int {
	return 0
}

// Outputs implements graph.Processor.
func (s *Source) Outputs() int {
	return 1
}

// Process fills the output with the constant value.
func (s *Source) Process(r *graph.RenderHandle, in, out []graph.Buffer, frames int) {
	for _, c := range out[0] {
		for i := 0; i < frames; i++ {
			c[i] = s.Value
		}
	}
	s.quanta++
}

// Finished implements graph.Finisher.
func (s *Source) Finished() bool {
	return s.Limit > 0 && s.quanta >= s.Limit
}

// Dispose implements graph.Disposer.
func (s *Source) Dispose() {
	s.Disposed++
}

// Inputs implements graph.Processor.
func (p *Pass) Inputs() int {
	return 1
}

// Outputs implements graph.Processor.
func (p *Pass) Outputs() int {
	return 1
}

// Process copies input to output.
func (p *Pass) Process(r *graph.RenderHandle, in, out []graph.Buffer, frames int) {
	out[0].Copy(in[0], frames)
}

// Inputs implements graph.Processor.
func (s *Sink) Inputs() int {
	return 1
}

// Outputs implements graph.Processor.
func (s *Sink) Outputs() int {
	return 0
}

// Process remembers how many frames were pulled.
func (s *Sink) Process(r *graph.RenderHandle, in, out []graph.Buffer, frames int) {
	s.Frames += frames
}

// Device is a manually driven hardware device. Render quanta are produced
// only when Tick is called, so tests control the render thread.
type Device struct {
	Rate    int
	Buffer  int
	Started int
	Stopped int

	m      sync.Mutex
	render graph.RenderFunc
	out    graph.Buffer
}

// SampleRate implements graph.Device.
func (d *Device) SampleRate() int {
	if d.Rate == 0 {
		return 44100
	}
	return d.Rate
}

// Start implements graph.Device.
func (d *Device) Start(render graph.RenderFunc) error {
	d.m.Lock()
	defer d.m.Unlock()
	d.render = render
	if d.Buffer == 0 {
		d.Buffer = 128
	}
	d.out = graph.NewBuffer(2, d.Buffer)
	d.Started++
	return nil
}

// Stop implements graph.Device.
func (d *Device) Stop() error {
	d.m.Lock()
	defer d.m.Unlock()
	d.render = nil
	d.Stopped++
	return nil
}

// Tick renders a single quantum and returns it. It returns nil when the
// device is stopped.
func (d *Device) Tick() graph.Buffer {
	d.m.Lock()
	defer d.m.Unlock()
	if d.render == nil {
		return nil
	}
	d.render(d.out, d.Buffer)
	return d.out
}

// Recorder captures every recorded quantum.
type Recorder struct {
	Quanta [][]float64
	Frames int
}

// Record implements graph.Recorder. It stores a copy of the first channel.
func (r *Recorder) Record(b graph.Buffer, frames int) error {
	c := make([]float64, frames)
	copy(c, b[0][:frames])
	r.Quanta = append(r.Quanta, c)
	r.Frames += frames
	return nil
}
