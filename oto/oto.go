// Package oto provides a pure-Go hardware output device backed by the oto
// player. The player pulls samples through an io.Reader, so every Read
// renders as many quanta as needed to fill the requested byte slice.
package oto

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/pipelined/graph"
)

// Device plays the rendered signal through oto. It implements graph.Device.
type Device struct {
	sampleRate  int
	numChannels int
	bufferSize  int

	ctx    *oto.Context
	player *oto.Player

	m      sync.Mutex
	render graph.RenderFunc
	out    graph.Buffer
	// pending holds interleaved float32 samples rendered but not yet read.
	pending []byte
}

// New returns a new initialized device.
func New(sampleRate, numChannels, bufferSize int) (*Device, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: numChannels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, err
	}
	<-ready
	return &Device{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		bufferSize:  bufferSize,
		ctx:         ctx,
	}, nil
}

// SampleRate returns the hardware sample rate.
func (d *Device) SampleRate() int {
	return d.sampleRate
}

// Start hooks the render function to the player and starts playback.
func (d *Device) Start(render graph.RenderFunc) error {
	d.m.Lock()
	d.render = render
	d.out = graph.NewBuffer(d.numChannels, d.bufferSize)
	d.m.Unlock()
	d.player = d.ctx.NewPlayer(d)
	d.player.Play()
	return nil
}

// Read renders quanta until p is filled with interleaved float32 samples.
// It is invoked by the oto playback goroutine.
func (d *Device) Read(p []byte) (int, error) {
	d.m.Lock()
	defer d.m.Unlock()
	if d.render == nil {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	filled := 0
	for filled < len(p) {
		if len(d.pending) == 0 {
			d.render(d.out, d.bufferSize)
			d.pending = d.pending[:0]
			for i := 0; i < d.bufferSize; i++ {
				for j := 0; j < d.numChannels; j++ {
					d.pending = binary.LittleEndian.AppendUint32(
						d.pending,
						math.Float32bits(float32(d.out[j][i])),
					)
				}
			}
		}
		n := copy(p[filled:], d.pending)
		d.pending = d.pending[n:]
		filled += n
	}
	return filled, nil
}

// Stop halts playback and detaches the render function.
func (d *Device) Stop() error {
	if d.player != nil {
		if err := d.player.Close(); err != nil {
			return err
		}
		d.player = nil
	}
	d.m.Lock()
	d.render = nil
	d.pending = nil
	d.m.Unlock()
	return nil
}
