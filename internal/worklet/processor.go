package worklet

import (
	"context"
	"fmt"
	"sync"

	"github.com/skypro1111/reblock-audio-service/internal/audio"
	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/port"
	"github.com/skypro1111/reblock-audio-service/internal/protocol"
)

// ProcessorName is the name the processor is registered under.
const ProcessorName = "script-processor-polyfill"

// Stats represents worklet statistics.
type Stats struct {
	audio.AccumulatorStats

	Configured         bool   `json:"configured"`
	BlockSize          int    `json:"block_size"`
	NumInputs          int    `json:"num_inputs"`
	NumOutputs         int    `json:"num_outputs"`
	IgnoredInits       uint64 `json:"ignored_inits"`
	Faults             uint64 `json:"faults"`
	PostErrors         uint64 `json:"post_errors"`
	UnexpectedMessages uint64 `json:"unexpected_messages"`
}

// Processor is the render-side unit of a script processor node. All methods
// except Stats run on the render goroutine.
type Processor struct {
	port        *port.Port
	sampleRate  int
	quantumSize int
	defaults    audio.SessionConfig

	acc     *audio.Accumulator // nil until configured
	started bool
	now     float64 // start of the quantum being rendered
	emit    func(audio.Block)

	ignoredInits uint64
	faults       uint64
	postErrors   uint64
	unexpected   uint64

	mu       sync.Mutex // guards snapshot
	snapshot Stats
}

// New creates a processor from the options of a host node. Until an Init
// message arrives the processor assumes 1024-frame blocks and the channel
// counts of the node buses, one channel each when a bus is absent.
func New(opts host.ProcessorOptions) (*Processor, error) {
	if opts.Port == nil {
		return nil, fmt.Errorf("processor requires a message port")
	}
	if opts.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", opts.SampleRate)
	}

	defaults := audio.DefaultSessionConfig(opts.SampleRate)
	if opts.NumberOfInputs > 0 && opts.InputChannelCount > 0 {
		defaults.NumInputs = opts.InputChannelCount
	}
	if opts.NumberOfOutputs > 0 && opts.OutputChannelCount > 0 {
		defaults.NumOutputs = opts.OutputChannelCount
	}

	p := &Processor{
		port:        opts.Port,
		sampleRate:  opts.SampleRate,
		quantumSize: opts.QuantumSize,
		defaults:    defaults,
	}
	p.emit = p.postBlock
	return p, nil
}

// Factory is the host.ProcessorFactory of the processor.
func Factory(opts host.ProcessorOptions) (host.Processor, error) {
	return New(opts)
}

// Module returns the module registering the processor under ProcessorName.
func Module() host.Module {
	return host.NewModule(ProcessorName, func(ctx context.Context, r host.Registrar) error {
		return r.RegisterProcessor(ProcessorName, Factory)
	})
}

// Process implements host.Processor. It never blocks and always keeps the
// node alive; a panic inside the quantum yields silence for that quantum.
func (p *Processor) Process(rc host.RenderContext, inputs, outputs [][]float64) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			p.faults++
			for _, ch := range outputs {
				for i := range ch {
					ch[i] = 0
				}
			}
			p.publish()
			keep = true
		}
	}()

	p.drain()
	if p.acc == nil {
		p.configure(p.defaults)
	}
	p.started = true
	p.now = rc.CurrentTime

	p.acc.Process(inputs, outputs, p.emit)
	p.publish()
	return true
}

// drain handles every message waiting on the port.
func (p *Processor) drain() {
	for {
		msg, ok := p.port.TryReceive()
		if !ok {
			return
		}

		switch m := msg.(type) {
		case protocol.Init:
			if p.started {
				// Block size and channel counts are fixed once audio flows
				p.ignoredInits++
				continue
			}
			p.configure(audio.SessionConfig{
				BlockSize:  m.BlockSize,
				NumInputs:  m.NumInputs,
				NumOutputs: m.NumOutputs,
				SampleRate: p.sampleRate,
			})
		case protocol.BlockProcessed:
			if p.acc == nil {
				p.configure(p.defaults)
			}
			p.acc.Enqueue(audio.Block{Channels: m.Output})
		default:
			p.unexpected++
		}
	}
}

func (p *Processor) configure(cfg audio.SessionConfig) {
	p.acc = audio.NewAccumulator(cfg, p.quantumSize)
}

// postBlock hands a completed input block to the client side.
func (p *Processor) postBlock(b audio.Block) {
	cfg := p.acc.Config()
	err := p.port.Post(protocol.BlockReady{
		Input:     b.Channels,
		Timestamp: p.now + cfg.Latency(),
	})
	if err != nil {
		p.postErrors++
	}
}

func (p *Processor) publish() {
	s := Stats{
		IgnoredInits:       p.ignoredInits,
		Faults:             p.faults,
		PostErrors:         p.postErrors,
		UnexpectedMessages: p.unexpected,
	}
	if p.acc != nil {
		cfg := p.acc.Config()
		s.AccumulatorStats = p.acc.Stats()
		s.Configured = true
		s.BlockSize = cfg.BlockSize
		s.NumInputs = cfg.NumInputs
		s.NumOutputs = cfg.NumOutputs
	}

	p.mu.Lock()
	p.snapshot = s
	p.mu.Unlock()
}

// Stats returns the counters as of the last rendered quantum. Safe for
// concurrent use.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}
