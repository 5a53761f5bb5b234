package wav_test

import (
	"os"
	"path/filepath"
	"testing"

	gowav "github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipelined/graph"
	"github.com/pipelined/graph/wav"
)

func TestRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	r, err := wav.NewRecorder(path, 44100, 2, 16)
	require.NoError(t, err)

	b := graph.NewBuffer(2, 8)
	for i := range b[0] {
		b[0][i] = 0.5
		b[1][i] = -0.25
	}
	require.NoError(t, r.Record(b, 8))
	require.NoError(t, r.Record(b, 4))
	require.NoError(t, r.Flush())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	d := gowav.NewDecoder(f)
	ib, err := d.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 2, ib.Format.NumChannels)
	assert.Equal(t, 44100, ib.Format.SampleRate)
	require.Len(t, ib.Data, 12*2)
	assert.InDelta(t, 0.5, float64(ib.Data[0])/32767, 1e-3)
	assert.InDelta(t, -0.25, float64(ib.Data[1])/32767, 1e-3)
}

func TestRecorderBitDepth(t *testing.T) {
	_, err := wav.NewRecorder("out.wav", 44100, 2, 24)
	assert.ErrorIs(t, err, wav.ErrUnsupportedBitDepth)
}
