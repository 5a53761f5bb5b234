package graph

import (
	"sync"
	"time"
)

// DefaultDriverInterval is the default period of the control-side driver
// tick.
const DefaultDriverInterval = 10 * time.Millisecond

// Driver is the periodic control-thread loop of a context. Every tick it
// takes the graph lock and runs the per-quantum control-side update, so
// pending mutations are committed even when the render goroutine cannot
// take the graph lock itself. It also runs the deferred node-deletion
// callbacks posted by the render goroutine.
type Driver struct {
	c        *Context
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartDriver spawns the driver loop for the context. Stop the driver
// before the context is shut down; Finish does both.
func StartDriver(c *Context, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultDriverInterval
	}
	d := &Driver{
		c:        c,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.loop()
	return d
}

// Stop signals the loop to terminate and waits for it.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	<-d.done
}

func (d *Driver) loop() {
	defer close(d.done)
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			d.c.log.Debug("graph: driver finished")
			return
		case task := <-d.c.tasks:
			task()
		case <-t.C:
			g, ok := TryAcquireGraph(d.c, "driver.update", d.interval)
			if !ok {
				continue
			}
			// The context may have been torn down during the wait.
			if g.Context() == nil {
				g.Release()
				d.c.log.Debug("graph: driver finished, context gone")
				return
			}
			d.c.Update(g)
			g.Release()
		}
	}
}

// Start creates a hardware context bound to the device, kicks off the
// asynchronous spatialization-data load, initializes the context and spawns
// the periodic driver.
func Start(device Device, options ...Option) (*Context, *Driver, error) {
	c, err := New(append([]Option{WithDevice(device)}, options...)...)
	if err != nil {
		return nil, nil, err
	}
	c.loader.LoadAsync(c.SampleRate())
	if err := c.Initialize(); err != nil {
		return nil, nil, err
	}
	return c, StartDriver(c, DefaultDriverInterval), nil
}

// Finish shuts a context down. It stops the driver, lets in-flight work
// settle, then attempts the graph lock a bounded number of times with short
// sleeps between: on success it stops, drains and uninitializes the
// context; on exhaustion it reports ErrShutdownTimeout instead of hanging.
// Finishing an already-finished context is a no-op.
func Finish(c *Context, d *Driver) error {
	interval := DefaultDriverInterval
	if d != nil {
		interval = d.interval
		d.Stop()
	}
	time.Sleep(2 * interval)

	const attempts = 10
	for i := 0; i < attempts; i++ {
		g, ok := TryAcquireGraph(c, "Finish", time.Millisecond)
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if g.Context() == nil {
			// Shutdown already completed elsewhere.
			g.Release()
			return nil
		}
		c.Stop(g)
		g.Release()
		return nil
	}
	c.log.Info("graph: could not acquire lock for shutdown")
	return ErrShutdownTimeout
}
