package shim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skypro1111/reblock-audio-service/internal/audio"
	"github.com/skypro1111/reblock-audio-service/internal/bridge"
	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/worklet"
)

// Buffer size bounds of CreateScriptProcessor.
const (
	DefaultBufferSize = audio.DefaultBlockSize
	MaxBufferSize     = 16384
)

// Shim creates script processor nodes on an engine the polyfill is
// installed in.
type Shim struct {
	engine *host.Engine
	logger *slog.Logger
}

// Install loads the polyfill processor into engine. An engine that already
// has the processor registered is reused as is. A load failure is logged and
// returned; the engine is left untouched.
func Install(ctx context.Context, engine *host.Engine, logger *slog.Logger) (*Shim, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if engine.HasProcessor(worklet.ProcessorName) {
		logger.Debug("Script processor polyfill already installed",
			slog.String("processor", worklet.ProcessorName),
		)
		return &Shim{engine: engine, logger: logger}, nil
	}

	if err := engine.AddModule(ctx, worklet.Module()); err != nil {
		logger.Error("Failed to install script processor polyfill",
			slog.String("processor", worklet.ProcessorName),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to install polyfill: %w", err)
	}

	logger.Warn("Script processor polyfill installed, expect additional latency of ~bufferSize/sampleRate seconds",
		slog.Int("sample_rate", engine.SampleRate()),
		slog.Float64("default_latency_seconds", float64(DefaultBufferSize)/float64(engine.SampleRate())),
	)
	return &Shim{engine: engine, logger: logger}, nil
}

// Engine returns the engine the polyfill is installed in.
func (s *Shim) Engine() *host.Engine {
	return s.engine
}

// CreateScriptProcessor creates a node processing blocks of bufferSize frames
// with the given channel counts. A bufferSize of 0 selects the default. The
// returned bridge node is where the handler is installed; the host node is
// where audio is connected.
func (s *Shim) CreateScriptProcessor(bufferSize, numInputChannels, numOutputChannels int) (*bridge.Node, *host.Node, error) {
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}
	if bufferSize < 0 || bufferSize > MaxBufferSize {
		return nil, nil, fmt.Errorf("buffer size must be between 1 and %d, got %d", MaxBufferSize, bufferSize)
	}
	if numInputChannels < 0 || numInputChannels > audio.MaxChannels {
		return nil, nil, fmt.Errorf("input channel count must be between 0 and %d, got %d", audio.MaxChannels, numInputChannels)
	}
	if numOutputChannels < 0 || numOutputChannels > audio.MaxChannels {
		return nil, nil, fmt.Errorf("output channel count must be between 0 and %d, got %d", audio.MaxChannels, numOutputChannels)
	}
	if numInputChannels == 0 && numOutputChannels == 0 {
		return nil, nil, fmt.Errorf("input and output channel counts cannot both be zero")
	}

	opts := host.NodeOptions{
		InputChannelCount:  numInputChannels,
		OutputChannelCount: numOutputChannels,
	}
	if numInputChannels > 0 {
		opts.NumberOfInputs = 1
	}
	if numOutputChannels > 0 {
		opts.NumberOfOutputs = 1
	}

	cfg := audio.SessionConfig{
		BlockSize:  bufferSize,
		NumInputs:  numInputChannels,
		NumOutputs: numOutputChannels,
		SampleRate: s.engine.SampleRate(),
	}

	// Init must reach the processor before its first quantum
	hostNode, err := s.engine.CreateNode(worklet.ProcessorName, opts, bridge.InitMessage(cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create node: %w", err)
	}

	node, err := bridge.NewNode(cfg, hostNode.Port(), s.engine.CurrentTime, s.logger)
	if err != nil {
		hostNode.Close()
		return nil, nil, err
	}

	s.logger.Debug("Script processor created",
		slog.Int("buffer_size", bufferSize),
		slog.Int("quantum_size", s.engine.QuantumSize()),
		slog.Int("input_channels", numInputChannels),
		slog.Int("output_channels", numOutputChannels),
		slog.Float64("latency_seconds", node.Latency()),
	)
	return node, hostNode, nil
}
