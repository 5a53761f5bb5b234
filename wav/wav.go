// Package wav provides a wav-file render target for offline contexts.
package wav

import (
	"errors"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/pipelined/graph"
)

// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
var ErrUnsupportedBitDepth = errors.New("only 16 and 32 bit depth is supported")

// Recorder saves rendered quanta to a wav file. It implements
// graph.Recorder for offline contexts.
type Recorder struct {
	path     string
	bitDepth int
	file     *os.File
	encoder  *wav.Encoder
	ib       *audio.IntBuffer
}

// NewRecorder creates a recorder writing to path.
func NewRecorder(path string, sampleRate, numChannels, bitDepth int) (*Recorder, error) {
	if bitDepth != 16 && bitDepth != 32 {
		return nil, ErrUnsupportedBitDepth
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		path:     path,
		bitDepth: bitDepth,
		file:     f,
		encoder:  wav.NewEncoder(f, sampleRate, bitDepth, numChannels, 1),
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: numChannels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
	}, nil
}

// Record interleaves the quantum and writes it to the encoder.
func (r *Recorder) Record(b graph.Buffer, frames int) error {
	numChannels := b.NumChannels()
	if cap(r.ib.Data) < frames*numChannels {
		r.ib.Data = make([]int, frames*numChannels)
	}
	r.ib.Data = r.ib.Data[:frames*numChannels]
	multiplier := multiplier(r.bitDepth)
	for i := 0; i < frames; i++ {
		for j := 0; j < numChannels; j++ {
			r.ib.Data[i*numChannels+j] = int(b[j][i] * float64(multiplier))
		}
	}
	return r.encoder.Write(r.ib)
}

// Flush finalizes the encoder and closes the file.
func (r *Recorder) Flush() error {
	if err := r.encoder.Close(); err != nil {
		return err
	}
	return r.file.Close()
}

// multiplier is used when float to int conversion is done.
func multiplier(bitDepth int) int {
	switch bitDepth {
	case 16:
		return math.MaxInt16 - 1
	case 32:
		return math.MaxInt32 - 1
	default:
		return 1
	}
}
