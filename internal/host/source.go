package host

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/reblock-audio-service/internal/audio"
)

// Source fills a node's input bus once per quantum.
type Source interface {
	Read(dst [][]float64, frames int)
}

// Sink receives a node's output bus once per quantum. Write must not retain src.
type Sink interface {
	Write(src [][]float64, frames int)
}

// SilenceSource produces zeros.
type SilenceSource struct{}

// Read implements Source.
func (SilenceSource) Read(dst [][]float64, frames int) {
	silence(dst)
}

// SineSource produces the same sine tone on every channel.
type SineSource struct {
	frequency  float64
	amplitude  float64
	sampleRate int
	phase      float64
}

// NewSineSource creates a tone generator.
func NewSineSource(frequency, amplitude float64, sampleRate int) *SineSource {
	return &SineSource{
		frequency:  frequency,
		amplitude:  amplitude,
		sampleRate: sampleRate,
	}
}

// Read implements Source.
func (s *SineSource) Read(dst [][]float64, frames int) {
	step := 2 * math.Pi * s.frequency / float64(s.sampleRate)
	phase := s.phase
	for i := 0; i < frames; i++ {
		v := s.amplitude * math.Sin(phase)
		for _, ch := range dst {
			if i < len(ch) {
				ch[i] = v
			}
		}
		phase += step
	}
	s.phase = math.Mod(phase, 2*math.Pi)
}

// BlockSource plays a block of audio, optionally looping. Channels the block
// lacks are silent; once a non-looping block ends the source is silent.
type BlockSource struct {
	block audio.Block
	loop  bool
	pos   int
}

// NewBlockSource creates a source playing b.
func NewBlockSource(b audio.Block, loop bool) *BlockSource {
	return &BlockSource{block: b, loop: loop}
}

// Read implements Source.
func (s *BlockSource) Read(dst [][]float64, frames int) {
	length := s.block.Frames()
	for i := 0; i < frames; i++ {
		if s.pos >= length && s.loop && length > 0 {
			s.pos = 0
		}
		for c, ch := range dst {
			if i >= len(ch) {
				continue
			}
			if s.pos < length && c < s.block.NumChannels() {
				ch[i] = s.block.Channels[c][s.pos]
			} else {
				ch[i] = 0
			}
		}
		if s.pos < length {
			s.pos++
		}
	}
}

// Done reports whether a non-looping source has played its whole block.
func (s *BlockSource) Done() bool {
	return !s.loop && s.pos >= s.block.Frames()
}

// DiscardSink drops everything.
type DiscardSink struct{}

// Write implements Sink.
func (DiscardSink) Write(src [][]float64, frames int) {}

// RecordSink keeps up to a fixed number of frames of the output bus.
type RecordSink struct {
	mu        sync.Mutex
	block     audio.Block
	maxFrames int
	recorded  int
}

// NewRecordSink creates a sink for numChannels channels holding at most maxFrames frames.
func NewRecordSink(numChannels, maxFrames int) *RecordSink {
	return &RecordSink{
		block:     audio.NewBlock(numChannels, maxFrames),
		maxFrames: maxFrames,
	}
}

// Write implements Sink.
func (s *RecordSink) Write(src [][]float64, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := frames
	if room := s.maxFrames - s.recorded; n > room {
		n = room
	}
	if n <= 0 {
		return
	}
	for c, ch := range s.block.Channels {
		if c < len(src) {
			copy(ch[s.recorded:s.recorded+n], src[c])
		}
	}
	s.recorded += n
}

// Recorded returns the number of frames captured so far.
func (s *RecordSink) Recorded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorded
}

// Block returns a copy of the captured audio.
func (s *RecordSink) Block() audio.Block {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := audio.NewBlock(s.block.NumChannels(), s.recorded)
	for c, ch := range s.block.Channels {
		copy(out.Channels[c], ch[:s.recorded])
	}
	return out
}

// MeterSink tracks the peak absolute sample value of the output bus.
type MeterSink struct {
	peak   atomic.Uint64 // float64 bits
	frames atomic.Uint64
}

// Write implements Sink.
func (m *MeterSink) Write(src [][]float64, frames int) {
	peak := math.Float64frombits(m.peak.Load())
	for _, ch := range src {
		for _, v := range ch {
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}
	}
	m.peak.Store(math.Float64bits(peak))
	m.frames.Add(uint64(frames))
}

// Peak returns the highest absolute sample seen.
func (m *MeterSink) Peak() float64 {
	return math.Float64frombits(m.peak.Load())
}

// Frames returns the number of frames observed.
func (m *MeterSink) Frames() uint64 {
	return m.frames.Load()
}

// MultiSink fans the output bus out to several sinks.
type MultiSink []Sink

// Write implements Sink.
func (ms MultiSink) Write(src [][]float64, frames int) {
	for _, s := range ms {
		if s != nil {
			s.Write(src, frames)
		}
	}
}
