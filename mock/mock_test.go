package mock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/graph"
	"github.com/pipelined/graph/mock"
)

func TestSource(t *testing.T) {
	s := &mock.Source{Value: 0.5, Limit: 2}
	out := []graph.Buffer{graph.NewBuffer(2, 4)}

	s.Process(nil, nil, out, 4)
	assert.Equal(t, 0.5, out[0][0][0])
	assert.Equal(t, 0.5, out[0][1][3])
	assert.False(t, s.Finished())

	s.Process(nil, nil, out, 4)
	assert.True(t, s.Finished())

	s.Dispose()
	s.Dispose()
	assert.Equal(t, 2, s.Disposed)
}

func TestPass(t *testing.T) {
	p := &mock.Pass{}
	in := []graph.Buffer{{{1, 2}, {3, 4}}}
	out := []graph.Buffer{graph.NewBuffer(2, 2)}
	p.Process(nil, in, out, 2)
	assert.Equal(t, in[0], out[0])
}

func TestDevice(t *testing.T) {
	d := &mock.Device{}
	assert.Equal(t, 44100, d.SampleRate())
	assert.Nil(t, d.Tick())

	require.NoError(t, d.Start(func(out graph.Buffer, frames int) {
		out[0][0] = 0.5
	}))
	out := d.Tick()
	require.NotNil(t, out)
	assert.Equal(t, 0.5, out[0][0])
	assert.Equal(t, 1, d.Started)

	require.NoError(t, d.Stop())
	assert.Nil(t, d.Tick())
	assert.Equal(t, 1, d.Stopped)
}

func TestRecorder(t *testing.T) {
	r := &mock.Recorder{}
	require.NoError(t, r.Record(graph.Buffer{{1, 2, 3}}, 3))
	require.NoError(t, r.Record(graph.Buffer{{4, 5}}, 2))
	assert.Equal(t, 5, r.Frames)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5}}, r.Quanta)
}
