// Package portaudio provides a hardware output device backed by the
// default portaudio stream.
package portaudio

import (
	"github.com/gordonklaus/portaudio"

	"github.com/pipelined/graph"
)

// Device plays the rendered signal using the default output device. It
// implements graph.Device.
type Device struct {
	sampleRate  int
	numChannels int
	bufferSize  int
	buf         []float32
	out         graph.Buffer
	stream      *portaudio.Stream
	done        chan struct{}
	finished    chan struct{}
}

// New returns a new initialized device.
func New(sampleRate, numChannels, bufferSize int) *Device {
	return &Device{
		sampleRate:  sampleRate,
		numChannels: numChannels,
		bufferSize:  bufferSize,
	}
}

// SampleRate returns the hardware sample rate.
func (d *Device) SampleRate() int {
	return d.sampleRate
}

// Start initializes portaudio, opens the default stream and spawns the
// callback loop which renders one quantum per stream write.
func (d *Device) Start(render graph.RenderFunc) error {
	d.buf = make([]float32, d.bufferSize*d.numChannels)
	d.out = graph.NewBuffer(d.numChannels, d.bufferSize)
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	stream, err := portaudio.OpenDefaultStream(0, d.numChannels, float64(d.sampleRate), d.bufferSize, &d.buf)
	if err != nil {
		return err
	}
	if err = stream.Start(); err != nil {
		return err
	}
	d.stream = stream
	d.done = make(chan struct{})
	d.finished = make(chan struct{})
	go d.loop(render)
	return nil
}

// loop is the render callback goroutine. Stream writes block until the
// hardware needs the next quantum, pacing the renders.
func (d *Device) loop(render graph.RenderFunc) {
	defer close(d.finished)
	for {
		select {
		case <-d.done:
			return
		default:
		}
		render(d.out, d.bufferSize)
		for i := 0; i < d.bufferSize; i++ {
			for j := 0; j < d.numChannels; j++ {
				d.buf[i*d.numChannels+j] = float32(d.out[j][i])
			}
		}
		if err := d.stream.Write(); err != nil {
			return
		}
	}
}

// Stop terminates the callback loop and releases portaudio structures.
func (d *Device) Stop() error {
	close(d.done)
	<-d.finished
	if err := d.stream.Stop(); err != nil {
		return err
	}
	if err := d.stream.Close(); err != nil {
		return err
	}
	return portaudio.Terminate()
}
