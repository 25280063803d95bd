package processor

import (
	"math"
	"testing"

	"github.com/skypro1111/reblock-audio-service/internal/bridge"
)

func newEvent(in [][]float64, numOutputs int) *bridge.AudioProcessingEvent {
	frames := 0
	if len(in) > 0 {
		frames = len(in[0])
	}
	out := make([][]float64, numOutputs)
	for c := range out {
		out[c] = make([]float64, frames)
	}
	return &bridge.AudioProcessingEvent{
		InputBuffer:  bridge.NewAudioBuffer(in, frames, 1000),
		OutputBuffer: bridge.NewAudioBuffer(out, frames, 1000),
	}
}

func assertChannel(t *testing.T, label string, got, expected []float64) {
	t.Helper()
	for i := range expected {
		if math.Abs(got[i]-expected[i]) > 1e-12 {
			t.Errorf("%s frame %d: expected %f, got %f", label, i, expected[i], got[i])
		}
	}
}

func TestPassthrough(t *testing.T) {
	ev := newEvent([][]float64{{1, 2}, {3, 4}}, 3)
	Passthrough(ev)

	out := ev.OutputBuffer.Channels()
	assertChannel(t, "channel 0", out[0], []float64{1, 2})
	assertChannel(t, "channel 1", out[1], []float64{3, 4})
	assertChannel(t, "channel 2", out[2], []float64{0, 0})
}

func TestGain(t *testing.T) {
	ev := newEvent([][]float64{{0.5, -1, 0.25}}, 1)
	Gain(0.5)(ev)

	assertChannel(t, "channel 0", ev.OutputBuffer.Channels()[0], []float64{0.25, -0.5, 0.125})
}

func TestMix(t *testing.T) {
	mix := Mix()
	ev := newEvent([][]float64{{1, 0, 0.5}, {0, 1, 0.5}}, 2)
	mix(ev)

	for _, out := range ev.OutputBuffer.Channels() {
		assertChannel(t, "mixed channel", out, []float64{0.5, 0.5, 0.5})
	}

	// Scratch buffer is reset between blocks
	ev = newEvent([][]float64{{2, 2, 2}, {0, 0, 0}}, 1)
	mix(ev)
	assertChannel(t, "second block", ev.OutputBuffer.Channels()[0], []float64{1, 1, 1})
}

func TestGate(t *testing.T) {
	g, err := NewGate(0.1)
	if err != nil {
		t.Fatalf("Failed to create gate: %v", err)
	}

	loud := newEvent([][]float64{{0.5, -0.5, 0.5, -0.5}}, 1)
	g.Handle(loud)
	assertChannel(t, "loud block", loud.OutputBuffer.Channels()[0], []float64{0.5, -0.5, 0.5, -0.5})

	quiet := newEvent([][]float64{{0.01, -0.01, 0.01, -0.01}}, 1)
	g.Handle(quiet)
	assertChannel(t, "quiet block", quiet.OutputBuffer.Channels()[0], []float64{0, 0, 0, 0})

	stats := g.GetStats()
	if stats.TotalBlocks != 2 || stats.OpenBlocks != 1 {
		t.Errorf("Expected 2 total and 1 open block, got %d and %d", stats.TotalBlocks, stats.OpenBlocks)
	}
	if stats.OpenPercentage != 50 {
		t.Errorf("Expected 50%% open, got %f", stats.OpenPercentage)
	}
	if math.Abs(stats.LastLevel-0.01) > 1e-12 {
		t.Errorf("Expected last level 0.01, got %f", stats.LastLevel)
	}

	if err := g.UpdateThreshold(1.5); err == nil {
		t.Error("Expected error for threshold above 1")
	}
}

func TestNewGateValidation(t *testing.T) {
	tests := []struct {
		threshold float64
		expectErr bool
	}{
		{0, false},
		{0.5, false},
		{1, false},
		{-0.1, true},
		{1.1, true},
	}

	for _, tt := range tests {
		_, err := NewGate(tt.threshold)
		if (err != nil) != tt.expectErr {
			t.Errorf("Threshold %f: expected error %v, got %v", tt.threshold, tt.expectErr, err)
		}
	}
}

func TestNew(t *testing.T) {
	for _, name := range Names() {
		if _, err := New(name, Params{Gain: 1, GateThreshold: 0.1}); err != nil {
			t.Errorf("Expected handler %s, got error %v", name, err)
		}
	}

	if _, err := New("reverb", Params{}); err == nil {
		t.Error("Expected error for unknown handler")
	}
	if _, err := New(NameGate, Params{GateThreshold: 2}); err == nil {
		t.Error("Expected error for invalid gate threshold")
	}

	h, _ := New(NameSilence, Params{})
	ev := newEvent([][]float64{{1, 1}}, 1)
	h(ev)
	assertChannel(t, "silence", ev.OutputBuffer.Channels()[0], []float64{0, 0})
}
