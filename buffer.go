package graph

import "time"

// Buffer is a non-interleaved block of samples: one slice per channel. All
// render-path buffers are allocated up front so that sample production
// never allocates.
type Buffer [][]float64

// NewBuffer allocates a silent buffer with provided dimensions.
func NewBuffer(numChannels, bufferSize int) Buffer {
	b := make(Buffer, numChannels)
	for i := range b {
		b[i] = make([]float64, bufferSize)
	}
	return b
}

// NumChannels returns number of channels in the buffer.
func (b Buffer) NumChannels() int {
	return len(b)
}

// Size returns number of frames per channel.
func (b Buffer) Size() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Zero sets first frames samples of every channel to silence.
func (b Buffer) Zero(frames int) {
	for i := range b {
		c := b[i][:frames]
		for j := range c {
			c[j] = 0
		}
	}
}

// Sum mixes first frames samples of src into the buffer.
func (b Buffer) Sum(src Buffer, frames int) {
	for i := range b {
		if i >= len(src) {
			break
		}
		c, s := b[i][:frames], src[i][:frames]
		for j := range c {
			c[j] += s[j]
		}
	}
}

// Copy replaces first frames samples of the buffer with src.
func (b Buffer) Copy(src Buffer, frames int) {
	for i := range b {
		c := b[i][:frames]
		if i >= len(src) {
			for j := range c {
				c[j] = 0
			}
			continue
		}
		copy(c, src[i][:frames])
	}
}

// DurationOf returns time duration of passed frames for this sample rate.
func DurationOf(sampleRate int, frames int64) time.Duration {
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}
