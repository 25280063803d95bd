package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/reblock-audio-service/internal/port"
	"github.com/skypro1111/reblock-audio-service/internal/protocol"
)

// Defaults of the render engine.
const (
	DefaultSampleRate     = 48000
	DefaultQuantumSize    = 128
	DefaultRenderInterval = 10 * time.Millisecond

	// maxCatchUp bounds how far behind the wall clock the render loop may fall
	// before it skips ahead instead of rendering a burst.
	maxCatchUp = time.Second
)

var (
	// ErrProcessorExists is returned when a processor name is registered twice.
	ErrProcessorExists = errors.New("processor already registered")

	// ErrUnknownProcessor is returned when creating a node for an unregistered name.
	ErrUnknownProcessor = errors.New("processor not registered")

	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("engine closed")
)

// Config contains render engine parameters.
type Config struct {
	SampleRate     int
	QuantumSize    int
	RenderInterval time.Duration
}

// RenderContext describes the quantum being rendered.
type RenderContext struct {
	CurrentFrame int64
	CurrentTime  float64 // seconds
	SampleRate   int
}

// Processor is a quantum-processing unit. Process is called on the render
// goroutine once per quantum with one slice per channel of QuantumSize frames;
// it must not block. Returning false deactivates the node.
type Processor interface {
	Process(rc RenderContext, inputs, outputs [][]float64) bool
}

// ProcessorOptions is handed to a ProcessorFactory when a node is created.
type ProcessorOptions struct {
	NodeOptions
	SampleRate  int
	QuantumSize int
	Port        *port.Port // render side of the node's message channel
}

// ProcessorFactory instantiates a processor for a new node.
type ProcessorFactory func(opts ProcessorOptions) (Processor, error)

// Registrar accepts processor registrations while a module loads.
type Registrar interface {
	RegisterProcessor(name string, factory ProcessorFactory) error
}

// Module is a unit of code delivered into the engine.
type Module interface {
	Name() string
	Load(ctx context.Context, r Registrar) error
}

// EngineStats represents render engine statistics.
type EngineStats struct {
	SampleRate     int      `json:"sample_rate"`
	QuantumSize    int      `json:"quantum_size"`
	CurrentTime    float64  `json:"current_time"`
	QuantaRendered uint64   `json:"quanta_rendered"`
	SkippedQuanta  uint64   `json:"skipped_quanta"`
	ActiveNodes    int      `json:"active_nodes"`
	Processors     []string `json:"processors"`
	Modules        []string `json:"modules"`
}

// Engine drives registered processors at quantum granularity.
type Engine struct {
	config Config
	logger *slog.Logger

	mu        sync.Mutex // guards registry, node list and rendering
	factories map[string]ProcessorFactory
	modules   []string
	nodes     []*Node
	closed    bool

	frame          atomic.Int64
	quantaRendered atomic.Uint64
	skippedQuanta  atomic.Uint64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewEngine creates an engine; zero config fields take the defaults.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.QuantumSize <= 0 {
		cfg.QuantumSize = DefaultQuantumSize
	}
	if cfg.RenderInterval <= 0 {
		cfg.RenderInterval = DefaultRenderInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		config:    cfg,
		logger:    logger,
		factories: make(map[string]ProcessorFactory),
	}
}

// SampleRate returns the engine sample rate.
func (e *Engine) SampleRate() int {
	return e.config.SampleRate
}

// QuantumSize returns the number of frames per render quantum.
func (e *Engine) QuantumSize() int {
	return e.config.QuantumSize
}

// CurrentTime returns the time of the next quantum to render, in seconds.
func (e *Engine) CurrentTime() float64 {
	return float64(e.frame.Load()) / float64(e.config.SampleRate)
}

// AddModule loads m into the engine. Registrations made by the module take
// effect only if the whole load succeeds; on failure the registry is left
// exactly as it was.
func (e *Engine) AddModule(ctx context.Context, m Module) error {
	if m == nil {
		return fmt.Errorf("cannot load nil module")
	}

	staged := &stagingRegistrar{factories: make(map[string]ProcessorFactory)}
	if err := m.Load(ctx, staged); err != nil {
		return fmt.Errorf("failed to load module %s: %w", m.Name(), err)
	}
	if staged.err != nil {
		return fmt.Errorf("failed to load module %s: %w", m.Name(), staged.err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to load module %s: %w", m.Name(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	for name := range staged.factories {
		if _, exists := e.factories[name]; exists {
			return fmt.Errorf("failed to load module %s: %w: %s", m.Name(), ErrProcessorExists, name)
		}
	}
	for name, factory := range staged.factories {
		e.factories[name] = factory
	}
	e.modules = append(e.modules, m.Name())

	e.logger.Info("Module loaded",
		slog.String("module", m.Name()),
		slog.Int("processors", len(staged.factories)),
	)
	return nil
}

// HasProcessor reports whether name is registered.
func (e *Engine) HasProcessor(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.factories[name]
	return ok
}

// CreateNode instantiates the processor registered as name and adds it to
// the render graph. The returned node carries the client side of its port.
// Messages in initial are posted to the processor before the node joins the
// graph, so its first quantum already sees them.
func (e *Engine) CreateNode(name string, opts NodeOptions, initial ...protocol.Message) (*Node, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid node options: %w", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	factory, ok := e.factories[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}

	renderPort, clientPort := port.NewChannel()
	processor, err := factory(ProcessorOptions{
		NodeOptions: opts,
		SampleRate:  e.config.SampleRate,
		QuantumSize: e.config.QuantumSize,
		Port:        renderPort,
	})
	if err != nil {
		renderPort.Close()
		return nil, fmt.Errorf("failed to construct processor %s: %w", name, err)
	}

	for _, msg := range initial {
		if err := clientPort.Post(msg); err != nil {
			renderPort.Close()
			return nil, fmt.Errorf("failed to post initial %s message: %w", msg.Type(), err)
		}
	}

	node := newNode(e, opts, processor, renderPort, clientPort)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		renderPort.Close()
		return nil, ErrEngineClosed
	}
	e.nodes = append(e.nodes, node)
	return node, nil
}

// removeNode drops n from the render graph.
func (e *Engine) removeNode(n *Node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, node := range e.nodes {
		if node == n {
			e.nodes = append(e.nodes[:i], e.nodes[i+1:]...)
			return
		}
	}
}

// RenderQuantum renders one quantum for every active node.
func (e *Engine) RenderQuantum() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.renderLocked()
}

func (e *Engine) renderLocked() {
	frame := e.frame.Load()
	rc := RenderContext{
		CurrentFrame: frame,
		CurrentTime:  float64(frame) / float64(e.config.SampleRate),
		SampleRate:   e.config.SampleRate,
	}

	for _, node := range e.nodes {
		node.render(rc, e.config.QuantumSize)
	}

	e.frame.Add(int64(e.config.QuantumSize))
	e.quantaRendered.Add(1)
}

// Start runs the render loop, pacing quanta against the wall clock.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.running {
		return fmt.Errorf("engine already running")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go e.renderLoop(e.ctx)

	e.logger.Info("Render engine started",
		slog.Int("sample_rate", e.config.SampleRate),
		slog.Int("quantum_size", e.config.QuantumSize),
		slog.Duration("render_interval", e.config.RenderInterval),
	)
	return nil
}

// renderLoop renders every quantum that is due each time the ticker fires.
func (e *Engine) renderLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.RenderInterval)
	defer ticker.Stop()

	start := time.Now()
	startFrame := e.frame.Load()
	quantum := int64(e.config.QuantumSize)
	maxBehind := int64(maxCatchUp.Seconds()*float64(e.config.SampleRate)) / quantum

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		dueFrame := startFrame + int64(time.Since(start).Seconds()*float64(e.config.SampleRate))

		e.mu.Lock()
		behind := (dueFrame - e.frame.Load()) / quantum
		if behind > maxBehind {
			// Too far behind to catch up: drop the backlog
			skip := behind - maxBehind
			e.frame.Add(skip * quantum)
			e.skippedQuanta.Add(uint64(skip))
			e.logger.Warn("Render loop fell behind, skipping quanta",
				slog.Int64("skipped", skip),
			)
		}
		for e.frame.Load()+quantum <= dueFrame {
			e.renderLocked()
		}
		e.mu.Unlock()
	}
}

// Stop stops the render loop. Nodes stay connected.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	e.logger.Info("Render engine stopped",
		slog.Uint64("quanta_rendered", e.quantaRendered.Load()),
		slog.Float64("current_time", e.CurrentTime()),
	)
}

// Close stops rendering and tears down every node.
func (e *Engine) Close() {
	e.Stop()

	e.mu.Lock()
	e.closed = true
	nodes := e.nodes
	e.nodes = nil
	e.mu.Unlock()

	for _, node := range nodes {
		node.closePorts()
	}
}

// GetStats returns current engine statistics.
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	active := 0
	for _, node := range e.nodes {
		if node.Active() {
			active++
		}
	}
	processors := make([]string, 0, len(e.factories))
	for name := range e.factories {
		processors = append(processors, name)
	}
	sort.Strings(processors)

	return EngineStats{
		SampleRate:     e.config.SampleRate,
		QuantumSize:    e.config.QuantumSize,
		CurrentTime:    e.CurrentTime(),
		QuantaRendered: e.quantaRendered.Load(),
		SkippedQuanta:  e.skippedQuanta.Load(),
		ActiveNodes:    active,
		Processors:     processors,
		Modules:        append([]string(nil), e.modules...),
	}
}

// stagingRegistrar collects registrations of a module being loaded.
type stagingRegistrar struct {
	factories map[string]ProcessorFactory
	err       error
}

func (s *stagingRegistrar) RegisterProcessor(name string, factory ProcessorFactory) error {
	var err error
	switch {
	case name == "":
		err = fmt.Errorf("processor name cannot be empty")
	case factory == nil:
		err = fmt.Errorf("processor %s has a nil factory", name)
	default:
		if _, exists := s.factories[name]; exists {
			err = fmt.Errorf("%w: %s", ErrProcessorExists, name)
		}
	}
	if err != nil {
		if s.err == nil {
			s.err = err
		}
		return err
	}
	s.factories[name] = factory
	return nil
}

type moduleFunc struct {
	name string
	load func(ctx context.Context, r Registrar) error
}

// NewModule wraps a load function as a Module.
func NewModule(name string, load func(ctx context.Context, r Registrar) error) Module {
	return moduleFunc{name: name, load: load}
}

func (m moduleFunc) Name() string { return m.name }

func (m moduleFunc) Load(ctx context.Context, r Registrar) error {
	if m.load == nil {
		return fmt.Errorf("module has no load function")
	}
	return m.load(ctx, r)
}
