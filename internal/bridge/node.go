package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/skypro1111/reblock-audio-service/internal/audio"
	"github.com/skypro1111/reblock-audio-service/internal/port"
	"github.com/skypro1111/reblock-audio-service/internal/protocol"
)

// Stats represents bridge statistics.
type Stats struct {
	BlocksReceived     uint64 `json:"blocks_received"`
	BlocksProcessed    uint64 `json:"blocks_processed"`
	BlocksDropped      uint64 `json:"blocks_dropped"`
	HandlerPanics      uint64 `json:"handler_panics"`
	UnexpectedMessages uint64 `json:"unexpected_messages"`
}

// Node is the client-facing handle of a script processor. The handler slot
// may be set or cleared from any goroutine; blocks are handled one at a time
// on the goroutine running Run.
type Node struct {
	config audio.SessionConfig
	port   *port.Port
	clock  func() float64
	logger *slog.Logger

	handler  atomic.Pointer[HandlerFunc]
	observer atomic.Pointer[func(time.Duration)]

	blocksReceived  atomic.Uint64
	blocksProcessed atomic.Uint64
	blocksDropped   atomic.Uint64
	handlerPanics   atomic.Uint64
	unexpected      atomic.Uint64
}

// NewNode creates the client side of a node configured by cfg, talking over
// p. clock reports the render clock in seconds and is used when a block
// carries no timestamp; it may be nil.
func NewNode(cfg audio.SessionConfig, p *port.Port, clock func() float64, logger *slog.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("node requires a message port")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{config: cfg, port: p, clock: clock, logger: logger}, nil
}

// Config returns the session configuration.
func (n *Node) Config() audio.SessionConfig {
	return n.config
}

// BufferSize returns the block size in frames.
func (n *Node) BufferSize() int {
	return n.config.BlockSize
}

// Latency returns the delay added by block processing in seconds.
func (n *Node) Latency() float64 {
	return n.config.Latency()
}

// Port returns the client side of the message channel.
func (n *Node) Port() *port.Port {
	return n.port
}

// SetOnAudioProcess installs h as the block handler. A nil h clears it;
// blocks arriving without a handler are dropped.
func (n *Node) SetOnAudioProcess(h HandlerFunc) {
	if h == nil {
		n.handler.Store(nil)
		return
	}
	n.handler.Store(&h)
}

// OnAudioProcess returns the installed handler or nil.
func (n *Node) OnAudioProcess() HandlerFunc {
	if h := n.handler.Load(); h != nil {
		return *h
	}
	return nil
}

// SetDurationObserver installs fn to be called with the run time of every
// handler invocation.
func (n *Node) SetDurationObserver(fn func(time.Duration)) {
	if fn == nil {
		n.observer.Store(nil)
		return
	}
	n.observer.Store(&fn)
}

// InitMessage returns the configuration message a render-side processor
// needs before it accumulates its first block for cfg.
func InitMessage(cfg audio.SessionConfig) protocol.Init {
	return protocol.Init{
		BlockSize:  cfg.BlockSize,
		NumInputs:  cfg.NumInputs,
		NumOutputs: cfg.NumOutputs,
	}
}

// HandleMessage processes one message from the render side. Errors are only
// returned when the processed block cannot be posted.
func (n *Node) HandleMessage(msg protocol.Message) error {
	ready, ok := msg.(protocol.BlockReady)
	if !ok {
		n.unexpected.Add(1)
		n.logger.Debug("Ignoring unexpected message", slog.String("type", msg.Type().String()))
		return nil
	}
	n.blocksReceived.Add(1)

	hp := n.handler.Load()
	if hp == nil {
		n.blocksDropped.Add(1)
		return nil
	}

	input, _ := audio.Block{Channels: ready.Input}.Conform(n.config.NumInputs, n.config.BlockSize)
	output := audio.NewBlock(n.config.NumOutputs, n.config.BlockSize)

	playbackTime := ready.Timestamp
	if playbackTime == 0 && n.clock != nil {
		playbackTime = n.clock() + n.Latency()
	}

	ev := &AudioProcessingEvent{
		PlaybackTime: playbackTime,
		InputBuffer:  NewAudioBuffer(input.Channels, n.config.BlockSize, n.config.SampleRate),
		OutputBuffer: NewAudioBuffer(output.Channels, n.config.BlockSize, n.config.SampleRate),
	}
	if !n.invoke(*hp, ev) {
		n.blocksDropped.Add(1)
		return nil
	}

	// The handler may have replaced slices; conform before sending
	result, _ := audio.Block{Channels: ev.OutputBuffer.channels}.Conform(n.config.NumOutputs, n.config.BlockSize)
	if err := n.port.Post(protocol.BlockProcessed{Output: result.Channels}); err != nil {
		n.blocksDropped.Add(1)
		return fmt.Errorf("failed to post processed block: %w", err)
	}
	n.blocksProcessed.Add(1)
	return nil
}

// invoke runs the handler and reports whether it returned normally.
func (n *Node) invoke(h HandlerFunc, ev *AudioProcessingEvent) (ok bool) {
	start := time.Now()
	defer func() {
		if obs := n.observer.Load(); obs != nil {
			(*obs)(time.Since(start))
		}
		if r := recover(); r != nil {
			n.handlerPanics.Add(1)
			n.logger.Error("Audio process handler panicked",
				slog.Any("panic", r),
				slog.Float64("playback_time", ev.PlaybackTime),
			)
			ok = false
		}
	}()
	h(ev)
	return true
}

// Run handles messages until ctx is done or the port is closed. A closed
// port ends Run without error.
func (n *Node) Run(ctx context.Context) error {
	for {
		msg, err := n.port.Receive(ctx)
		if err != nil {
			if errors.Is(err, port.ErrClosed) {
				return nil
			}
			return err
		}

		if err := n.HandleMessage(msg); err != nil {
			if errors.Is(err, port.ErrClosed) {
				return nil
			}
			n.logger.Warn("Failed to handle block", slog.String("error", err.Error()))
		}
	}
}

// Stats returns current bridge statistics.
func (n *Node) Stats() Stats {
	return Stats{
		BlocksReceived:     n.blocksReceived.Load(),
		BlocksProcessed:    n.blocksProcessed.Load(),
		BlocksDropped:      n.blocksDropped.Load(),
		HandlerPanics:      n.handlerPanics.Load(),
		UnexpectedMessages: n.unexpected.Load(),
	}
}
