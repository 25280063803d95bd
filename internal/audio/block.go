package audio

import "fmt"

const (
	// DefaultBlockSize is the block size adopted when no init message arrives
	// before the first quantum.
	DefaultBlockSize = 1024

	// DefaultQuantumSize is the render quantum of the host engine.
	DefaultQuantumSize = 128

	// MaxChannels bounds the channel count of a single bus.
	MaxChannels = 32
)

// Block is a multi-channel buffer of equally sized channel slices.
type Block struct {
	Channels [][]float64
}

// NewBlock returns a silent block with the given channel count and frame length.
func NewBlock(numChannels, frames int) Block {
	if numChannels < 0 {
		numChannels = 0
	}
	if frames < 0 {
		frames = 0
	}
	channels := make([][]float64, numChannels)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	return Block{Channels: channels}
}

// NumChannels returns the channel count.
func (b Block) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the length of the first channel, or 0 for a block without channels.
func (b Block) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	channels := make([][]float64, len(b.Channels))
	for c, ch := range b.Channels {
		channels[c] = make([]float64, len(ch))
		copy(channels[c], ch)
	}
	return Block{Channels: channels}
}

// Conform returns a block of exactly numChannels x frames holding b's samples.
// Extra channels and frames are dropped, missing ones are zero. The second
// result reports whether b already had that shape.
func (b Block) Conform(numChannels, frames int) (Block, bool) {
	matched := len(b.Channels) == numChannels
	for _, ch := range b.Channels {
		if len(ch) != frames {
			matched = false
			break
		}
	}
	if matched {
		return b, true
	}

	out := NewBlock(numChannels, frames)
	for c := 0; c < numChannels && c < len(b.Channels); c++ {
		copy(out.Channels[c], b.Channels[c])
	}
	return out, false
}

// SessionConfig is the immutable configuration of one processing node.
type SessionConfig struct {
	BlockSize  int
	NumInputs  int
	NumOutputs int
	SampleRate int
}

// DefaultSessionConfig returns the configuration adopted when the client never
// sends one: 1024-frame blocks, one input and one output channel.
func DefaultSessionConfig(sampleRate int) SessionConfig {
	return SessionConfig{
		BlockSize:  DefaultBlockSize,
		NumInputs:  1,
		NumOutputs: 1,
		SampleRate: sampleRate,
	}
}

// Validate checks the configuration bounds.
func (c SessionConfig) Validate() error {
	if c.BlockSize < 1 {
		return fmt.Errorf("block size must be positive, got %d", c.BlockSize)
	}
	if c.NumInputs < 0 || c.NumInputs > MaxChannels {
		return fmt.Errorf("input channels must be between 0 and %d, got %d", MaxChannels, c.NumInputs)
	}
	if c.NumOutputs < 0 || c.NumOutputs > MaxChannels {
		return fmt.Errorf("output channels must be between 0 and %d, got %d", MaxChannels, c.NumOutputs)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	return nil
}

// Latency returns the added delay of one block in seconds.
func (c SessionConfig) Latency() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.BlockSize) / float64(c.SampleRate)
}
