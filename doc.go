/*
Package graph implements a real-time audio node-graph runtime.

Concept

Callers build a directed graph of signal-processing nodes and the runtime
renders it sample-accurately, one render quantum at a time, on a dedicated
audio callback goroutine, while the graph topology is mutated concurrently
from control goroutines.

The package is built around two lock domains:

    Graph lock - guards topology and node lifecycle collections;
    Render lock - guards the state needed to produce one render quantum.

Topology changes are never applied in place. Connect and Disconnect enqueue
pending mutations which are committed in FIFO order exactly once per render
quantum, under the graph lock, strictly before sample production for that
quantum begins. A node connected in quantum N is visible to sample
production no later than quantum N+1.

Nodes

A node wraps a Processor provided by the caller. Processors declare their
input and output terminal counts and produce samples when pulled. The
context keeps a node referenced for as long as it has live connections or a
finish/delete still in flight, and guarantees that node teardown never
happens on the render goroutine.

Devices

Sample production is driven by a Device: the portaudio and oto subpackages
talk to actual hardware, mock.Device drives quanta manually in tests, and
offline contexts render on demand into a Recorder.

Execution

For hardware rendering, Start creates a context bound to a device and
spawns the periodic driver which commits pending mutations every tick:

    c, d, err := graph.Start(dev)
    ...
    c.Connect(src, c.Destination().Node())
    ...
    err = graph.Finish(c, d)

Finish stops the driver, then attempts the graph lock a bounded number of
times to stop, drain and uninitialize the context. It reports an error
instead of hanging if the lock cannot be acquired.
*/
package graph
