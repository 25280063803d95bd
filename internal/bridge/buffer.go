package bridge

import "fmt"

// AudioBuffer is a planar buffer of float64 samples handed to a handler.
type AudioBuffer struct {
	channels   [][]float64
	length     int
	sampleRate int
}

// NewAudioBuffer wraps channels of length frames each. The slices are not copied.
func NewAudioBuffer(channels [][]float64, length, sampleRate int) *AudioBuffer {
	return &AudioBuffer{channels: channels, length: length, sampleRate: sampleRate}
}

// NumberOfChannels returns the channel count.
func (b *AudioBuffer) NumberOfChannels() int {
	return len(b.channels)
}

// Length returns the number of frames per channel.
func (b *AudioBuffer) Length() int {
	return b.length
}

// SampleRate returns the sample rate in Hz.
func (b *AudioBuffer) SampleRate() int {
	return b.sampleRate
}

// Duration returns the buffer length in seconds.
func (b *AudioBuffer) Duration() float64 {
	if b.sampleRate <= 0 {
		return 0
	}
	return float64(b.length) / float64(b.sampleRate)
}

// GetChannelData returns the samples of channel ch. Writes to the returned
// slice modify the buffer.
func (b *AudioBuffer) GetChannelData(ch int) ([]float64, error) {
	if ch < 0 || ch >= len(b.channels) {
		return nil, fmt.Errorf("channel index %d out of range [0, %d)", ch, len(b.channels))
	}
	return b.channels[ch], nil
}

// Channels returns every channel of the buffer.
func (b *AudioBuffer) Channels() [][]float64 {
	return b.channels
}

// AudioProcessingEvent is passed to the handler once per block.
type AudioProcessingEvent struct {
	// PlaybackTime is when the output block is expected to be heard, in
	// seconds of the render clock.
	PlaybackTime float64
	InputBuffer  *AudioBuffer
	OutputBuffer *AudioBuffer
}

// HandlerFunc processes one block. It reads InputBuffer and fills
// OutputBuffer in place; OutputBuffer starts silent.
type HandlerFunc func(ev *AudioProcessingEvent)
