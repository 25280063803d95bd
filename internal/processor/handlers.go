package processor

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cwbudde/algo-vecmath"

	"github.com/skypro1111/reblock-audio-service/internal/bridge"
)

// Handler names accepted by New.
const (
	NamePassthrough = "passthrough"
	NameGain        = "gain"
	NameMix         = "mix"
	NameGate        = "gate"
	NameSilence     = "silence"
)

// Params configures the handler created by New.
type Params struct {
	Gain          float64 // gain: linear factor
	GateThreshold float64 // gate: RMS level in [0, 1] below which a block is muted
}

// New returns the handler registered under name.
func New(name string, params Params) (bridge.HandlerFunc, error) {
	switch name {
	case NamePassthrough, "":
		return Passthrough, nil
	case NameGain:
		return Gain(params.Gain), nil
	case NameMix:
		return Mix(), nil
	case NameGate:
		g, err := NewGate(params.GateThreshold)
		if err != nil {
			return nil, err
		}
		return g.Handle, nil
	case NameSilence:
		return Silence, nil
	default:
		return nil, fmt.Errorf("unknown processor %q (available: %v)", name, Names())
	}
}

// Names lists the available handlers.
func Names() []string {
	names := []string{NamePassthrough, NameGain, NameMix, NameGate, NameSilence}
	sort.Strings(names)
	return names
}

// Passthrough copies input channel i to output channel i. Outputs without a
// matching input stay silent.
func Passthrough(ev *bridge.AudioProcessingEvent) {
	in := ev.InputBuffer.Channels()
	for c, out := range ev.OutputBuffer.Channels() {
		if c < len(in) {
			copy(out, in[c])
		}
	}
}

// Silence leaves the output silent.
func Silence(ev *bridge.AudioProcessingEvent) {}

// Gain returns a handler scaling each input channel by factor.
func Gain(factor float64) bridge.HandlerFunc {
	return func(ev *bridge.AudioProcessingEvent) {
		in := ev.InputBuffer.Channels()
		for c, out := range ev.OutputBuffer.Channels() {
			if c < len(in) {
				vecmath.ScaleBlock(out, in[c], factor)
			}
		}
	}
}

// Mix returns a handler writing the average of all input channels to every
// output channel.
func Mix() bridge.HandlerFunc {
	var sum []float64
	return func(ev *bridge.AudioProcessingEvent) {
		in := ev.InputBuffer.Channels()
		if len(in) == 0 {
			return
		}

		n := ev.InputBuffer.Length()
		if cap(sum) < n {
			sum = make([]float64, n)
		}
		sum = sum[:n]
		for i := range sum {
			sum[i] = 0
		}
		for _, ch := range in {
			vecmath.AddBlockInPlace(sum, ch)
		}

		scale := 1 / float64(len(in))
		for _, out := range ev.OutputBuffer.Channels() {
			vecmath.ScaleBlock(out, sum, scale)
		}
	}
}

// GateStats represents gate statistics.
type GateStats struct {
	Threshold      float64 `json:"threshold"`
	TotalBlocks    uint64  `json:"total_blocks"`
	OpenBlocks     uint64  `json:"open_blocks"`
	OpenPercentage float64 `json:"open_percentage"`
	LastLevel      float64 `json:"last_level"`
}

// Gate passes blocks whose RMS level reaches the threshold and mutes the rest.
type Gate struct {
	mu        sync.RWMutex
	threshold float64
	squares   []float64

	totalBlocks uint64
	openBlocks  uint64
	lastLevel   float64
}

// NewGate creates a gate with an RMS threshold in [0, 1].
func NewGate(threshold float64) (*Gate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	return &Gate{threshold: threshold}, nil
}

// Handle is the gate's bridge.HandlerFunc.
func (g *Gate) Handle(ev *bridge.AudioProcessingEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.level(ev.InputBuffer.Channels())
	open := level >= g.threshold

	g.totalBlocks++
	g.lastLevel = level
	if !open {
		return
	}
	g.openBlocks++
	Passthrough(ev)
}

// level returns the RMS over every sample of every channel.
func (g *Gate) level(channels [][]float64) float64 {
	var energy float64
	var count int
	for _, ch := range channels {
		if cap(g.squares) < len(ch) {
			g.squares = make([]float64, len(ch))
		}
		sq := g.squares[:len(ch)]
		vecmath.MulBlock(sq, ch, ch)
		for _, v := range sq {
			energy += v
		}
		count += len(ch)
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(energy / float64(count))
}

// UpdateThreshold changes the gate threshold.
func (g *Gate) UpdateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threshold = threshold
	return nil
}

// GetStats returns current gate statistics.
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	openPercentage := float64(0)
	if g.totalBlocks > 0 {
		openPercentage = float64(g.openBlocks) / float64(g.totalBlocks) * 100
	}
	return GateStats{
		Threshold:      g.threshold,
		TotalBlocks:    g.totalBlocks,
		OpenBlocks:     g.openBlocks,
		OpenPercentage: openPercentage,
		LastLevel:      g.lastLevel,
	}
}
