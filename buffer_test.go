package graph_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pipelined/graph"
)

func TestBuffer(t *testing.T) {
	b := graph.NewBuffer(2, 4)
	assert.Equal(t, 2, b.NumChannels())
	assert.Equal(t, 4, b.Size())

	src := graph.Buffer{{1, 2, 3, 4}, {5, 6, 7, 8}}
	b.Copy(src, 4)
	assert.Equal(t, src, b)

	b.Sum(src, 2)
	assert.Equal(t, graph.Buffer{{2, 4, 3, 4}, {10, 12, 7, 8}}, b)

	b.Zero(3)
	assert.Equal(t, graph.Buffer{{0, 0, 0, 4}, {0, 0, 0, 8}}, b)
}

func TestBufferChannelMismatch(t *testing.T) {
	b := graph.Buffer{{1, 1}, {1, 1}}
	mono := graph.Buffer{{2, 2}}

	b.Sum(mono, 2)
	assert.Equal(t, graph.Buffer{{3, 3}, {1, 1}}, b)

	// Copy silences channels the source does not have.
	b.Copy(mono, 2)
	assert.Equal(t, graph.Buffer{{2, 2}, {0, 0}}, b)
}

func TestDurationOf(t *testing.T) {
	assert.Equal(t, time.Second, graph.DurationOf(44100, 44100))
	assert.Equal(t, 500*time.Millisecond, graph.DurationOf(44100, 22050))
}
