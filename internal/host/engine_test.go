package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skypro1111/reblock-audio-service/internal/port"
	"github.com/skypro1111/reblock-audio-service/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingProcessor copies input to output and records render contexts.
type countingProcessor struct {
	calls    int
	lastTime float64
	stopAt   int
	panicAt  int
}

func (p *countingProcessor) Process(rc RenderContext, inputs, outputs [][]float64) bool {
	p.calls++
	p.lastTime = rc.CurrentTime
	if p.panicAt > 0 && p.calls == p.panicAt {
		outputs[0][0] = 123 // must be discarded
		panic("processor failure")
	}
	for c := range outputs {
		if c < len(inputs) {
			copy(outputs[c], inputs[c])
		}
	}
	return p.stopAt == 0 || p.calls < p.stopAt
}

func registerModule(name string, p *countingProcessor) Module {
	return NewModule("test-module", func(ctx context.Context, r Registrar) error {
		return r.RegisterProcessor(name, func(opts ProcessorOptions) (Processor, error) {
			return p, nil
		})
	})
}

func monoOptions() NodeOptions {
	return NodeOptions{NumberOfInputs: 1, NumberOfOutputs: 1, InputChannelCount: 1, OutputChannelCount: 1}
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(Config{}, testLogger())

	if e.SampleRate() != DefaultSampleRate {
		t.Errorf("Expected sample rate %d, got %d", DefaultSampleRate, e.SampleRate())
	}
	if e.QuantumSize() != DefaultQuantumSize {
		t.Errorf("Expected quantum size %d, got %d", DefaultQuantumSize, e.QuantumSize())
	}
	if e.CurrentTime() != 0 {
		t.Errorf("Expected current time 0, got %f", e.CurrentTime())
	}
}

func TestAddModuleRegistersProcessors(t *testing.T) {
	e := NewEngine(Config{SampleRate: 8000}, testLogger())

	if err := e.AddModule(context.Background(), registerModule("copy", &countingProcessor{})); err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	if !e.HasProcessor("copy") {
		t.Error("Expected processor 'copy' to be registered")
	}

	// Loading the same name again fails and leaves the registry alone
	err := e.AddModule(context.Background(), registerModule("copy", &countingProcessor{}))
	if !errors.Is(err, ErrProcessorExists) {
		t.Errorf("Expected ErrProcessorExists, got %v", err)
	}

	stats := e.GetStats()
	if len(stats.Modules) != 1 {
		t.Errorf("Expected 1 loaded module, got %d", len(stats.Modules))
	}
}

func TestAddModuleFailureIsAtomic(t *testing.T) {
	e := NewEngine(Config{}, testLogger())

	failing := NewModule("broken", func(ctx context.Context, r Registrar) error {
		if err := r.RegisterProcessor("first", func(ProcessorOptions) (Processor, error) {
			return &countingProcessor{}, nil
		}); err != nil {
			return err
		}
		return errors.New("syntax error in module")
	})

	if err := e.AddModule(context.Background(), failing); err == nil {
		t.Fatal("Expected module load to fail")
	}
	if e.HasProcessor("first") {
		t.Error("Expected no registration to survive a failed load")
	}

	invalid := NewModule("invalid", func(ctx context.Context, r Registrar) error {
		r.RegisterProcessor("", nil) // error ignored by the module
		return nil
	})
	if err := e.AddModule(context.Background(), invalid); err == nil {
		t.Error("Expected invalid registration to fail the load")
	}

	if err := e.AddModule(context.Background(), nil); err == nil {
		t.Error("Expected nil module to fail")
	}
}

func TestCreateNodeErrors(t *testing.T) {
	e := NewEngine(Config{}, testLogger())

	if _, err := e.CreateNode("missing", monoOptions()); !errors.Is(err, ErrUnknownProcessor) {
		t.Errorf("Expected ErrUnknownProcessor, got %v", err)
	}

	e.AddModule(context.Background(), registerModule("copy", &countingProcessor{}))
	bad := NodeOptions{NumberOfInputs: 2}
	if _, err := e.CreateNode("copy", bad); err == nil {
		t.Error("Expected error for two input buses")
	}

	e.AddModule(context.Background(), NewModule("failing-factory", func(ctx context.Context, r Registrar) error {
		return r.RegisterProcessor("boom", func(ProcessorOptions) (Processor, error) {
			return nil, errors.New("cannot construct")
		})
	}))
	if _, err := e.CreateNode("boom", monoOptions()); err == nil {
		t.Error("Expected factory error to propagate")
	}

	e.Close()
	if _, err := e.CreateNode("copy", monoOptions()); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
}

func TestRenderQuantumRoutesSourceToSink(t *testing.T) {
	e := NewEngine(Config{SampleRate: 1000, QuantumSize: 4}, testLogger())
	proc := &countingProcessor{}
	e.AddModule(context.Background(), registerModule("copy", proc))

	node, err := e.CreateNode("copy", monoOptions())
	if err != nil {
		t.Fatalf("Failed to create node: %v", err)
	}

	src := NewBlockSource(blockOf(1, 2, 3, 4, 5, 6, 7, 8), false)
	rec := NewRecordSink(1, 100)
	node.Connect(src, rec)

	e.RenderQuantum()
	e.RenderQuantum()
	e.RenderQuantum()

	if proc.calls != 3 {
		t.Errorf("Expected 3 process calls, got %d", proc.calls)
	}
	if proc.lastTime != 0.008 {
		t.Errorf("Expected last quantum at 0.008s, got %f", proc.lastTime)
	}
	if e.CurrentTime() != 0.012 {
		t.Errorf("Expected current time 0.012s, got %f", e.CurrentTime())
	}

	got := rec.Block()
	expected := []float64{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0}
	if got.Frames() != len(expected) {
		t.Fatalf("Expected %d recorded frames, got %d", len(expected), got.Frames())
	}
	for i, v := range expected {
		if got.Channels[0][i] != v {
			t.Errorf("Frame %d: expected %f, got %f", i, v, got.Channels[0][i])
		}
	}
	if !src.Done() {
		t.Error("Expected non-looping source to be done")
	}
}

func TestRenderDeactivatesFinishedProcessor(t *testing.T) {
	e := NewEngine(Config{QuantumSize: 8}, testLogger())
	proc := &countingProcessor{stopAt: 2}
	e.AddModule(context.Background(), registerModule("once", proc))

	node, _ := e.CreateNode("once", monoOptions())
	for i := 0; i < 5; i++ {
		e.RenderQuantum()
	}

	if proc.calls != 2 {
		t.Errorf("Expected processor to stop after 2 calls, got %d", proc.calls)
	}
	if node.Active() {
		t.Error("Expected node to be inactive")
	}
}

func TestRenderRecoversProcessorPanic(t *testing.T) {
	e := NewEngine(Config{QuantumSize: 8}, testLogger())
	proc := &countingProcessor{panicAt: 1}
	e.AddModule(context.Background(), registerModule("fragile", proc))

	node, _ := e.CreateNode("fragile", monoOptions())
	meter := &MeterSink{}
	node.Connect(SilenceSource{}, meter)

	e.RenderQuantum()
	e.RenderQuantum()

	if node.Faults() != 1 {
		t.Errorf("Expected 1 fault, got %d", node.Faults())
	}
	if !node.Active() {
		t.Error("Expected node to stay active after a fault")
	}
	if meter.Peak() != 0 {
		t.Errorf("Expected silent output after a fault, got peak %f", meter.Peak())
	}
}

func TestNodeCloseRemovesFromGraph(t *testing.T) {
	e := NewEngine(Config{}, testLogger())
	proc := &countingProcessor{}
	e.AddModule(context.Background(), registerModule("copy", proc))

	node, _ := e.CreateNode("copy", monoOptions())
	e.RenderQuantum()
	node.Close()
	e.RenderQuantum()

	if proc.calls != 1 {
		t.Errorf("Expected 1 call before close, got %d", proc.calls)
	}
	if e.GetStats().ActiveNodes != 0 {
		t.Errorf("Expected 0 active nodes, got %d", e.GetStats().ActiveNodes)
	}
}

func TestStartRendersInRealTime(t *testing.T) {
	e := NewEngine(Config{SampleRate: 8000, QuantumSize: 80, RenderInterval: 5 * time.Millisecond}, testLogger())
	proc := &countingProcessor{}
	e.AddModule(context.Background(), registerModule("copy", proc))
	e.CreateNode("copy", monoOptions())

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	if err := e.Start(context.Background()); err == nil {
		t.Error("Expected error starting twice")
	}

	time.Sleep(200 * time.Millisecond)
	e.Stop()

	// 80 frames at 8 kHz is 10ms per quantum: about 20 quanta in 200ms
	rendered := e.GetStats().QuantaRendered
	if rendered < 5 || rendered > 30 {
		t.Errorf("Expected roughly 20 quanta rendered, got %d", rendered)
	}

	// Stop is idempotent
	e.Stop()
}

// mailboxProcessor records what its port held on the first quantum.
type mailboxProcessor struct {
	port      *port.Port
	calls     atomic.Int64
	firstSeen atomic.Int64 // messages available on the first quantum
}

func (p *mailboxProcessor) Process(rc RenderContext, inputs, outputs [][]float64) bool {
	if p.calls.Add(1) == 1 {
		for {
			if _, ok := p.port.TryReceive(); !ok {
				break
			}
			p.firstSeen.Add(1)
		}
	}
	return true
}

func TestCreateNodeDeliversInitialMessagesBeforeFirstQuantum(t *testing.T) {
	e := NewEngine(Config{SampleRate: 8000, QuantumSize: 8, RenderInterval: time.Millisecond}, testLogger())
	defer e.Close()

	var procs []*mailboxProcessor
	var mu sync.Mutex
	e.AddModule(context.Background(), NewModule("mailbox", func(ctx context.Context, r Registrar) error {
		return r.RegisterProcessor("mailbox", func(opts ProcessorOptions) (Processor, error) {
			p := &mailboxProcessor{port: opts.Port}
			mu.Lock()
			procs = append(procs, p)
			mu.Unlock()
			return p, nil
		})
	}))

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	// Nodes join a graph that is already rendering
	msg := protocol.Init{BlockSize: 256, NumInputs: 1, NumOutputs: 1}
	for i := 0; i < 20; i++ {
		if _, err := e.CreateNode("mailbox", monoOptions(), msg); err != nil {
			t.Fatalf("Failed to create node %d: %v", i, err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		rendered := 0
		for _, p := range procs {
			if p.calls.Load() > 0 {
				rendered++
			}
		}
		mu.Unlock()
		if rendered == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected all 20 nodes rendered, got %d", rendered)
		}
		time.Sleep(time.Millisecond)
	}
	e.Stop()

	for i, p := range procs {
		if p.firstSeen.Load() != 1 {
			t.Errorf("Node %d: expected the initial message on its first quantum, got %d messages", i, p.firstSeen.Load())
		}
	}
}
