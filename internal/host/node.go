package host

import (
	"fmt"
	"sync/atomic"

	"github.com/skypro1111/reblock-audio-service/internal/port"
)

// MaxChannelCount bounds the channel count of a node bus.
const MaxChannelCount = 32

// NodeOptions describes the bus topology of a node: at most one input bus and
// one output bus.
type NodeOptions struct {
	NumberOfInputs     int // 0 or 1
	NumberOfOutputs    int // 0 or 1
	InputChannelCount  int
	OutputChannelCount int
}

// Validate checks the bus topology.
func (o NodeOptions) Validate() error {
	if o.NumberOfInputs < 0 || o.NumberOfInputs > 1 {
		return fmt.Errorf("number of inputs must be 0 or 1, got %d", o.NumberOfInputs)
	}
	if o.NumberOfOutputs < 0 || o.NumberOfOutputs > 1 {
		return fmt.Errorf("number of outputs must be 0 or 1, got %d", o.NumberOfOutputs)
	}
	if o.InputChannelCount < 0 || o.InputChannelCount > MaxChannelCount {
		return fmt.Errorf("input channel count must be between 0 and %d, got %d", MaxChannelCount, o.InputChannelCount)
	}
	if o.OutputChannelCount < 0 || o.OutputChannelCount > MaxChannelCount {
		return fmt.Errorf("output channel count must be between 0 and %d, got %d", MaxChannelCount, o.OutputChannelCount)
	}
	return nil
}

// Node is a processor instance in the render graph.
type Node struct {
	engine    *Engine
	processor Processor

	renderPort *port.Port
	clientPort *port.Port

	// Render buffers, reused every quantum. Guarded by the engine mutex.
	inputs  [][]float64
	outputs [][]float64
	source  Source
	sink    Sink

	active atomic.Bool
	faults atomic.Uint64
}

func newNode(e *Engine, opts NodeOptions, p Processor, renderPort, clientPort *port.Port) *Node {
	n := &Node{
		engine:     e,
		processor:  p,
		renderPort: renderPort,
		clientPort: clientPort,
		inputs:     makeBus(opts.NumberOfInputs, opts.InputChannelCount, e.config.QuantumSize),
		outputs:    makeBus(opts.NumberOfOutputs, opts.OutputChannelCount, e.config.QuantumSize),
	}
	n.active.Store(true)
	return n
}

func makeBus(buses, channels, frames int) [][]float64 {
	if buses == 0 {
		return nil
	}
	bus := make([][]float64, channels)
	for c := range bus {
		bus[c] = make([]float64, frames)
	}
	return bus
}

// Port returns the client side of the node's message channel.
func (n *Node) Port() *port.Port {
	return n.clientPort
}

// Processor returns the processor instance rendered by the node.
func (n *Node) Processor() Processor {
	return n.processor
}

// Active reports whether the node is still rendered.
func (n *Node) Active() bool {
	return n.active.Load()
}

// Faults returns the number of quanta in which the processor panicked.
func (n *Node) Faults() uint64 {
	return n.faults.Load()
}

// Connect attaches the source feeding the input bus and the sink receiving
// the output bus. Either may be nil.
func (n *Node) Connect(src Source, sink Sink) {
	n.engine.mu.Lock()
	defer n.engine.mu.Unlock()
	n.source = src
	n.sink = sink
}

// Close removes the node from the render graph and closes its ports.
func (n *Node) Close() {
	n.engine.removeNode(n)
	n.active.Store(false)
	n.closePorts()
}

func (n *Node) closePorts() {
	n.renderPort.Close()
}

// render processes one quantum. Called with the engine mutex held.
func (n *Node) render(rc RenderContext, frames int) {
	if !n.active.Load() {
		return
	}

	if n.source != nil {
		n.source.Read(n.inputs, frames)
	} else {
		silence(n.inputs)
	}
	silence(n.outputs)

	if !n.process(rc) {
		n.active.Store(false)
	}

	if n.sink != nil {
		n.sink.Write(n.outputs, frames)
	}
}

// process calls the processor, turning a panic into a silent quantum.
func (n *Node) process(rc RenderContext) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			n.faults.Add(1)
			silence(n.outputs)
			keep = true
		}
	}()
	return n.processor.Process(rc, n.inputs, n.outputs)
}

func silence(bus [][]float64) {
	for _, ch := range bus {
		for i := range ch {
			ch[i] = 0
		}
	}
}
