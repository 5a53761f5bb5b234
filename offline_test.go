package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/graph"
	"github.com/pipelined/graph/mock"
)

func TestNewOfflineValidation(t *testing.T) {
	tests := []struct {
		name        string
		numChannels int
		sampleRate  int
		loader      graph.SpatialLoader
		err         error
	}{
		{
			name:        "zero channels",
			numChannels: 0,
			sampleRate:  44100,
			err:         graph.ErrOfflineChannels,
		},
		{
			name:        "too many channels",
			numChannels: 11,
			sampleRate:  44100,
			err:         graph.ErrOfflineChannels,
		},
		{
			name:        "rate too low",
			numChannels: 2,
			sampleRate:  44099,
			err:         graph.ErrSampleRateRange,
		},
		{
			name:        "rate too high",
			numChannels: 2,
			sampleRate:  96001,
			err:         graph.ErrSampleRateRange,
		},
		{
			name:        "loader rate mismatch",
			numChannels: 2,
			sampleRate:  44100,
			loader:      &stubLoader{loaded: true, rate: 48000},
			err:         graph.ErrSampleRateMismatch,
		},
		{
			name:        "loader rate match",
			numChannels: 2,
			sampleRate:  48000,
			loader:      &stubLoader{loaded: true, rate: 48000},
		},
		{
			name:        "bounds",
			numChannels: 10,
			sampleRate:  96000,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var options []graph.Option
			if test.loader != nil {
				options = append(options, graph.WithSpatialLoader(test.loader))
			}
			c, err := graph.NewOffline(test.numChannels, 1024, test.sampleRate, options...)
			if test.err != nil {
				assert.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			assert.True(t, c.Offline())
			assert.Equal(t, test.numChannels, c.NumChannels())
			assert.Equal(t, test.sampleRate, c.SampleRate())
		})
	}
}

func TestRenderAll(t *testing.T) {
	rec := &mock.Recorder{}
	frames := 2*graph.DefaultBufferSize + 44
	c, err := graph.NewOffline(2, frames, 44100, graph.WithRecorder(rec))
	require.NoError(t, err)
	require.NoError(t, c.Initialize())

	c.Connect(c.NewNode(&mock.Source{Value: 0.5}), c.Destination().Node())
	require.NoError(t, c.RenderAll())

	assert.Equal(t, frames, rec.Frames)
	require.Len(t, rec.Quanta, 3)
	assert.Len(t, rec.Quanta[2], 44)
	// The connection is committed before the first quantum is rendered.
	assert.Equal(t, 0.5, rec.Quanta[0][0])
	assert.Equal(t, 0.5, rec.Quanta[2][43])
	assert.Equal(t, uint64(frames), c.CurrentSampleFrame())

	stopContext(t, c)
}

func TestRenderQuanta(t *testing.T) {
	rec := &mock.Recorder{}
	c, err := graph.NewOffline(1, 10*graph.DefaultBufferSize, 44100, graph.WithRecorder(rec))
	require.NoError(t, err)

	// Initialization is lazy: the first render call performs it.
	require.NoError(t, c.RenderQuanta(2))
	assert.True(t, c.Initialized())
	assert.Equal(t, 2*graph.DefaultBufferSize, rec.Frames)

	stopContext(t, c)
}

func TestRenderOfflineOnly(t *testing.T) {
	c, err := graph.New(graph.WithDevice(&mock.Device{}))
	require.NoError(t, err)
	assert.ErrorIs(t, c.RenderAll(), graph.ErrNotOffline)
	assert.ErrorIs(t, c.RenderQuanta(1), graph.ErrNotOffline)
}

func TestOfflineSourceFinishes(t *testing.T) {
	rec := &mock.Recorder{}
	c, err := graph.NewOffline(2, 4*graph.DefaultBufferSize, 44100, graph.WithRecorder(rec))
	require.NoError(t, err)
	require.NoError(t, c.Initialize())

	src := c.NewNode(&mock.Source{Value: 0.5, Limit: 2})
	c.Connect(src, c.Destination().Node())
	require.NoError(t, c.RenderAll())

	require.Len(t, rec.Quanta, 4)
	assert.Equal(t, 0.5, rec.Quanta[0][0])
	assert.Equal(t, 0.5, rec.Quanta[1][0])
	assert.Equal(t, 0.0, rec.Quanta[2][0])
	assert.Equal(t, 0.0, rec.Quanta[3][0])
	assert.True(t, src.Finished())

	stopContext(t, c)
}
