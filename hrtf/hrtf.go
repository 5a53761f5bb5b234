// Package hrtf loads spatialization impulse-response data asynchronously.
//
// The loader satisfies graph.SpatialLoader: rendering may start before the
// data is loaded, the Runnable readiness gate of the context reports when
// full-fidelity spatial processing is available.
package hrtf

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-audio/wav"

	"github.com/pipelined/graph/log"
)

// Loader loads a set of wav impulse responses from a directory on a
// background goroutine.
type Loader struct {
	dir        string
	once       sync.Once
	loaded     atomic.Bool
	sampleRate atomic.Int32

	m        sync.Mutex
	impulses map[string][][]float64
	err      error
}

// New creates a loader for the provided directory. An empty directory path
// yields a loader with no data which reports loaded immediately.
func New(dir string) *Loader {
	return &Loader{
		dir:      dir,
		impulses: make(map[string][][]float64),
	}
}

// LoadAsync sets the asynchronous loading in motion. Consequent calls do
// nothing. Check Loaded to find out whether the data set is fully loaded.
func (l *Loader) LoadAsync(sampleRate int) {
	l.once.Do(func() {
		l.sampleRate.Store(int32(sampleRate))
		go l.load()
	})
}

// Loaded reports whether the data set has been fully loaded.
func (l *Loader) Loaded() bool {
	return l.loaded.Load()
}

// SampleRate returns the sample rate the data set was loaded for.
func (l *Loader) SampleRate() int {
	return int(l.sampleRate.Load())
}

// Err returns the error of the load, if any. Missing data is not an error:
// the loader reports loaded with an empty set.
func (l *Loader) Err() error {
	l.m.Lock()
	defer l.m.Unlock()
	return l.err
}

// Impulse returns the loaded impulse response by file name, or nil.
func (l *Loader) Impulse(name string) [][]float64 {
	l.m.Lock()
	defer l.m.Unlock()
	return l.impulses[name]
}

// Len returns the number of loaded impulse responses.
func (l *Loader) Len() int {
	l.m.Lock()
	defer l.m.Unlock()
	return len(l.impulses)
}

func (l *Loader) load() {
	defer l.loaded.Store(true)
	if l.dir == "" {
		return
	}
	logger := log.GetLogger("hrtf")
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.wav"))
	if err != nil {
		l.fail(err)
		return
	}
	sort.Strings(paths)
	for _, path := range paths {
		impulse, err := decode(path)
		if err != nil {
			l.fail(fmt.Errorf("load %v: %w", path, err))
			return
		}
		l.m.Lock()
		l.impulses[filepath.Base(path)] = impulse
		l.m.Unlock()
	}
	logger.Debug("hrtf: loaded ", len(paths), " impulse responses")
}

func (l *Loader) fail(err error) {
	l.m.Lock()
	l.err = err
	l.m.Unlock()
}

func decode(path string) ([][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %v", path)
	}
	ib, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	numChannels := ib.Format.NumChannels
	frames := len(ib.Data) / numChannels
	divider := float64(int(1)<<(ib.SourceBitDepth-1)) - 1
	impulse := make([][]float64, numChannels)
	for i := range impulse {
		impulse[i] = make([]float64, frames)
		for j := 0; j < frames; j++ {
			impulse[i][j] = float64(ib.Data[j*numChannels+i]) / divider
		}
	}
	return impulse, nil
}
