package worklet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/port"
	"github.com/skypro1111/reblock-audio-service/internal/protocol"
)

func newTestProcessor(t *testing.T, quantum int) (*Processor, *port.Port) {
	t.Helper()
	render, client := port.NewChannel()
	p, err := New(host.ProcessorOptions{
		NodeOptions: host.NodeOptions{NumberOfInputs: 1, NumberOfOutputs: 1, InputChannelCount: 1, OutputChannelCount: 1},
		SampleRate:  1000,
		QuantumSize: quantum,
		Port:        render,
	})
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}
	return p, client
}

func quantumFrom(start, frames int) [][]float64 {
	ch := make([]float64, frames)
	for i := range ch {
		ch[i] = float64(start + i)
	}
	return [][]float64{ch}
}

func renderAt(p *Processor, index, quantum int, in [][]float64) [][]float64 {
	out := [][]float64{make([]float64, quantum)}
	rc := host.RenderContext{
		CurrentFrame: int64(index * quantum),
		CurrentTime:  float64(index*quantum) / 1000,
		SampleRate:   1000,
	}
	p.Process(rc, in, out)
	return out
}

// echo answers every pending BlockReady with the same samples.
func echo(t *testing.T, client *port.Port) int {
	t.Helper()
	n := 0
	for {
		msg, ok := client.TryReceive()
		if !ok {
			return n
		}
		ready, ok := msg.(protocol.BlockReady)
		if !ok {
			t.Fatalf("Expected BlockReady, got %s", msg.Type())
		}
		if err := client.Post(protocol.BlockProcessed{Output: ready.Input}); err != nil {
			t.Fatalf("Failed to post processed block: %v", err)
		}
		n++
	}
}

func TestProcessorTwoQuantaPerBlock(t *testing.T) {
	const q = 128
	p, client := newTestProcessor(t, q)
	client.Post(protocol.Init{BlockSize: 256, NumInputs: 1, NumOutputs: 1})

	outs := make([][][]float64, 4)
	for i := 0; i < 4; i++ {
		outs[i] = renderAt(p, i, q, quantumFrom(1+i*q, q))
		echo(t, client)
	}

	for i := 0; i < 2; i++ {
		for j, v := range outs[i][0] {
			if v != 0 {
				t.Fatalf("Quantum %d frame %d: expected silence, got %f", i+1, j, v)
			}
		}
	}
	for i := 2; i < 4; i++ {
		for j, v := range outs[i][0] {
			expected := float64(1 + (i-2)*q + j)
			if v != expected {
				t.Fatalf("Quantum %d frame %d: expected %f, got %f", i+1, j, expected, v)
			}
		}
	}

	stats := p.Stats()
	if stats.BlockSize != 256 {
		t.Errorf("Expected block size 256, got %d", stats.BlockSize)
	}
	if stats.BlocksEmitted != 2 {
		t.Errorf("Expected 2 blocks emitted, got %d", stats.BlocksEmitted)
	}
	if stats.BlocksPlayed != 1 {
		t.Errorf("Expected 1 block played, got %d", stats.BlocksPlayed)
	}
}

func TestProcessorBlockTimestamp(t *testing.T) {
	p, client := newTestProcessor(t, 4)
	client.Post(protocol.Init{BlockSize: 8, NumInputs: 1, NumOutputs: 1})

	renderAt(p, 0, 4, quantumFrom(0, 4))
	renderAt(p, 1, 4, quantumFrom(4, 4))

	msg, ok := client.TryReceive()
	if !ok {
		t.Fatal("Expected a BlockReady message")
	}
	ready := msg.(protocol.BlockReady)
	// Quantum starting at 4ms plus one 8ms block at 1 kHz
	if math.Abs(ready.Timestamp-0.012) > 1e-12 {
		t.Errorf("Expected timestamp 0.012, got %f", ready.Timestamp)
	}
	if len(ready.Input) != 1 || len(ready.Input[0]) != 8 || ready.Input[0][7] != 7 {
		t.Errorf("Expected 8 frames ending in 7, got %v", ready.Input)
	}
}

func TestProcessorNoClientMeansSilence(t *testing.T) {
	p, client := newTestProcessor(t, 128)
	client.Post(protocol.Init{BlockSize: 256, NumInputs: 1, NumOutputs: 1})

	for i := 0; i < 10; i++ {
		out := renderAt(p, i, 128, quantumFrom(i*128, 128))
		for j, v := range out[0] {
			if v != 0 {
				t.Fatalf("Quantum %d frame %d: expected silence, got %f", i, j, v)
			}
		}
	}

	stats := p.Stats()
	if stats.BlocksEmitted != 5 {
		t.Errorf("Expected 5 blocks emitted, got %d", stats.BlocksEmitted)
	}
	if stats.Underruns != 0 {
		t.Errorf("Expected no underruns before any block was queued, got %d", stats.Underruns)
	}
	if client.Pending() != 5 {
		t.Errorf("Expected 5 pending messages, got %d", client.Pending())
	}
}

func TestProcessorDefaultsWithoutInit(t *testing.T) {
	p, _ := newTestProcessor(t, 128)
	renderAt(p, 0, 128, quantumFrom(0, 128))

	stats := p.Stats()
	if !stats.Configured {
		t.Fatal("Expected processor to be configured")
	}
	if stats.BlockSize != 1024 || stats.NumInputs != 1 || stats.NumOutputs != 1 {
		t.Errorf("Expected defaults 1024/1/1, got %d/%d/%d", stats.BlockSize, stats.NumInputs, stats.NumOutputs)
	}
}

func TestProcessorIgnoresLateInit(t *testing.T) {
	p, client := newTestProcessor(t, 128)
	client.Post(protocol.Init{BlockSize: 256, NumInputs: 1, NumOutputs: 1})
	renderAt(p, 0, 128, quantumFrom(0, 128))

	client.Post(protocol.Init{BlockSize: 512, NumInputs: 2, NumOutputs: 2})
	client.Post(protocol.BlockReady{Input: [][]float64{{1}}})
	renderAt(p, 1, 128, quantumFrom(128, 128))

	stats := p.Stats()
	if stats.BlockSize != 256 {
		t.Errorf("Expected block size to stay 256, got %d", stats.BlockSize)
	}
	if stats.IgnoredInits != 1 {
		t.Errorf("Expected 1 ignored init, got %d", stats.IgnoredInits)
	}
	if stats.UnexpectedMessages != 1 {
		t.Errorf("Expected 1 unexpected message, got %d", stats.UnexpectedMessages)
	}
}

func TestProcessorPostAfterClose(t *testing.T) {
	p, client := newTestProcessor(t, 4)
	client.Post(protocol.Init{BlockSize: 4, NumInputs: 1, NumOutputs: 1})
	renderAt(p, 0, 4, quantumFrom(0, 4))
	client.Close()

	// Rendering goes on after the client went away
	renderAt(p, 1, 4, quantumFrom(4, 4))

	if p.Stats().PostErrors != 1 {
		t.Errorf("Expected 1 post error, got %d", p.Stats().PostErrors)
	}
}

func TestNewRequiresPort(t *testing.T) {
	if _, err := New(host.ProcessorOptions{SampleRate: 48000}); err == nil {
		t.Error("Expected error without a port")
	}
}

func TestModuleRegistersOnce(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := host.NewEngine(host.Config{}, logger)

	if err := engine.AddModule(context.Background(), Module()); err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	if !engine.HasProcessor(ProcessorName) {
		t.Errorf("Expected %s to be registered", ProcessorName)
	}
	if err := engine.AddModule(context.Background(), Module()); !errors.Is(err, host.ErrProcessorExists) {
		t.Errorf("Expected ErrProcessorExists, got %v", err)
	}
}
