package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/reblock-audio-service/internal/audio"
	"github.com/skypro1111/reblock-audio-service/internal/bridge"
	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/metrics"
	"github.com/skypro1111/reblock-audio-service/internal/processor"
	"github.com/skypro1111/reblock-audio-service/internal/shim"
	"github.com/skypro1111/reblock-audio-service/internal/worklet"
)

// DefaultMonitorInterval is used when NewManager gets a non-positive interval.
const DefaultMonitorInterval = time.Second

// ErrSessionExists is returned when creating a session under a taken name.
var ErrSessionExists = errors.New("session already exists")

// ErrNoGate is returned when adjusting the gate of a session without one.
var ErrNoGate = errors.New("session has no gate")

// SessionSpec describes a session to create
type SessionSpec struct {
	Name           string
	BufferSize     int
	InputChannels  int
	OutputChannels int

	HandlerName string
	Handler     bridge.HandlerFunc // nil leaves the node without a handler
	Gate        *processor.Gate    // set when Handler is this gate's

	Source host.Source // nil feeds silence
	Sink   host.Sink   // nil discards

	// RecordPath, when set together with Record, receives the recorded
	// output as a WAV file when the session is removed.
	Record     *host.RecordSink
	RecordPath string
}

// Session is one running script processor
type Session struct {
	Name        string
	HandlerName string
	StartTime   time.Time

	node     *bridge.Node
	hostNode *host.Node
	worklet  *worklet.Processor
	meter    *host.MeterSink
	gate     *processor.Gate

	record     *host.RecordSink
	recordPath string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Monitor state, touched only by the monitor routine and removal
	mu       sync.Mutex
	reported metrics.NodeCounters
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	Name           string        `json:"name"`
	Handler        string        `json:"handler"`
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	BufferSize     int           `json:"buffer_size"`
	InputChannels  int           `json:"input_channels"`
	OutputChannels int           `json:"output_channels"`
	LatencySeconds float64       `json:"latency_seconds"`
	Active         bool          `json:"active"`
	Faults         uint64        `json:"faults"`
	MailboxDepth   int           `json:"mailbox_depth"`
	PeakLevel      float64       `json:"peak_level"`
	RecordedFrames int           `json:"recorded_frames"`

	Render worklet.Stats        `json:"render"`
	Bridge bridge.Stats         `json:"bridge"`
	Gate   *processor.GateStats `json:"gate,omitempty"`
}

// Manager manages all script processor sessions
type Manager struct {
	shim     *shim.Shim
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	sessions map[string]*Session
	mu       sync.RWMutex

	// Engine counters already reported to metrics
	reportedQuanta  uint64
	reportedSkipped uint64

	ctx     context.Context
	cancel  context.CancelFunc
	monitor chan struct{}
	stopped sync.Once
}

// NewManager creates a session manager creating nodes through s. m may be
// nil to disable metrics.
func NewManager(s *shim.Shim, logger *slog.Logger, m *metrics.Metrics, monitorInterval time.Duration) *Manager {
	if monitorInterval <= 0 {
		monitorInterval = DefaultMonitorInterval
	}
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		shim:     s,
		logger:   logger,
		metrics:  m,
		interval: monitorInterval,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		monitor:  make(chan struct{}),
	}

	go mgr.startMonitorRoutine()

	return mgr
}

// CreateSession creates a script processor for spec and starts its bridge
func (m *Manager) CreateSession(spec SessionSpec) (*Session, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("session name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("session manager stopped")
	}
	if _, exists := m.sessions[spec.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, spec.Name)
	}

	node, hostNode, err := m.shim.CreateScriptProcessor(spec.BufferSize, spec.InputChannels, spec.OutputChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to create script processor %s: %w", spec.Name, err)
	}

	proc, ok := hostNode.Processor().(*worklet.Processor)
	if !ok {
		hostNode.Close()
		return nil, fmt.Errorf("unexpected processor type %T", hostNode.Processor())
	}

	meter := &host.MeterSink{}
	sink := host.MultiSink{meter}
	if spec.Sink != nil {
		sink = append(sink, spec.Sink)
	}
	hostNode.Connect(spec.Source, sink)

	node.SetOnAudioProcess(spec.Handler)
	if m.metrics != nil {
		name := spec.Name
		node.SetDurationObserver(func(d time.Duration) {
			m.metrics.ObserveHandlerDuration(name, d.Seconds())
		})
	}

	ctx, cancel := context.WithCancel(m.ctx)
	session := &Session{
		Name:        spec.Name,
		HandlerName: spec.HandlerName,
		StartTime:   time.Now(),
		node:        node,
		hostNode:    hostNode,
		worklet:     proc,
		meter:       meter,
		gate:        spec.Gate,
		record:      spec.Record,
		recordPath:  spec.RecordPath,
		cancel:      cancel,
	}

	session.wg.Add(1)
	go func() {
		defer session.wg.Done()
		if err := node.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("Bridge loop failed",
				slog.String("session", session.Name),
				slog.String("error", err.Error()),
			)
		}
	}()

	m.sessions[spec.Name] = session
	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created script processor session",
		slog.String("session", spec.Name),
		slog.String("handler", spec.HandlerName),
		slog.Int("buffer_size", node.BufferSize()),
		slog.Int("input_channels", spec.InputChannels),
		slog.Int("output_channels", spec.OutputChannels),
		slog.Float64("latency_seconds", node.Latency()),
	)

	return session, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[name]
	return session, exists
}

// GetActiveSessionCount returns the number of sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all sessions ordered by name
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Name < sessions[j].Name
	})

	return sessions
}

// RemoveSession stops a session, flushes its recording and drops it
func (m *Manager) RemoveSession(name string) bool {
	m.mu.Lock()
	session, exists := m.sessions[name]
	if exists {
		delete(m.sessions, name)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	m.finalize(session)

	if m.metrics != nil {
		m.metrics.SetActiveSessions(remaining)
	}
	return true
}

// finalize tears a session down: rendering stops, the ports close, the
// bridge goroutine exits and the recording is written out.
func (m *Manager) finalize(s *Session) {
	s.hostNode.Close()
	s.cancel()
	s.wg.Wait()

	m.report(s)

	if s.record != nil && s.recordPath != "" {
		block := s.record.Block()
		if err := audio.WriteWAVFile(s.recordPath, block, s.node.Config().SampleRate); err != nil {
			m.logger.Error("Failed to write session recording",
				slog.String("session", s.Name),
				slog.String("path", s.recordPath),
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.Info("Session recording written",
				slog.String("session", s.Name),
				slog.String("path", s.recordPath),
				slog.Int("frames", block.Frames()),
			)
		}
	}

	duration := time.Since(s.StartTime)
	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(duration.Seconds())
		m.metrics.RemoveNode(s.Name)
	}

	stats := s.worklet.Stats()
	m.logger.Info("Session removed",
		slog.String("session", s.Name),
		slog.Duration("duration", duration),
		slog.Uint64("blocks_emitted", stats.BlocksEmitted),
		slog.Uint64("blocks_played", stats.BlocksPlayed),
		slog.Uint64("underruns", stats.Underruns),
	)
}

// Stop removes every session and stops the monitor routine
func (m *Manager) Stop() {
	m.stopped.Do(func() {
		m.logger.Info("Stopping session manager...")

		m.cancel()
		<-m.monitor

		m.mu.Lock()
		sessions := make([]*Session, 0, len(m.sessions))
		for _, session := range m.sessions {
			sessions = append(sessions, session)
		}
		m.sessions = make(map[string]*Session)
		m.mu.Unlock()

		for _, session := range sessions {
			m.finalize(session)
		}
		if m.metrics != nil {
			m.metrics.SetActiveSessions(0)
		}

		m.logger.Info("Session manager stopped",
			slog.Int("sessions_closed", len(sessions)),
		)
	})
}

// startMonitorRoutine publishes counters until the manager stops
func (m *Manager) startMonitorRoutine() {
	defer close(m.monitor)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Debug("Session monitor routine started",
		slog.Duration("check_interval", m.interval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

// collect reports counter growth of the engine and every session
func (m *Manager) collect() {
	if m.metrics != nil {
		es := m.shim.Engine().GetStats()
		m.metrics.RecordQuanta(es.QuantaRendered-m.reportedQuanta, es.SkippedQuanta-m.reportedSkipped)
		m.reportedQuanta = es.QuantaRendered
		m.reportedSkipped = es.SkippedQuanta
	}

	for _, session := range m.GetAllSessions() {
		m.report(session)
	}
}

// report publishes the counter growth of s since the last report and warns
// when the node underran in between.
func (m *Manager) report(s *Session) {
	rs := s.worklet.Stats()
	bs := s.node.Stats()
	current := metrics.NodeCounters{
		Quanta:            rs.QuantaProcessed,
		BlocksEmitted:     rs.BlocksEmitted,
		BlocksProcessed:   bs.BlocksProcessed,
		BlocksDropped:     bs.BlocksDropped,
		SilentQuanta:      rs.SilentQuanta,
		Underruns:         rs.Underruns,
		ChannelMismatches: rs.ChannelMismatches,
		Faults:            rs.Faults + s.hostNode.Faults(),
		IgnoredInits:      rs.IgnoredInits,
		HandlerPanics:     bs.HandlerPanics,
	}

	s.mu.Lock()
	previous := s.reported
	s.reported = current
	s.mu.Unlock()

	if grown := current.Underruns - previous.Underruns; grown > 0 {
		m.logger.Warn("Script processor underrun, client handler is falling behind",
			slog.String("session", s.Name),
			slog.Uint64("new_underruns", grown),
			slog.Uint64("total_underruns", current.Underruns),
			slog.Int("queue_depth", rs.QueueDepth),
		)
	}
	if grown := current.IgnoredInits - previous.IgnoredInits; grown > 0 {
		m.logger.Warn("Ignored reconfiguration after audio started",
			slog.String("session", s.Name),
			slog.Uint64("ignored", grown),
		)
	}

	if m.metrics == nil {
		return
	}
	m.metrics.RecordNodeCounters(s.Name, metrics.NodeCounters{
		Quanta:            current.Quanta - previous.Quanta,
		BlocksEmitted:     current.BlocksEmitted - previous.BlocksEmitted,
		BlocksProcessed:   current.BlocksProcessed - previous.BlocksProcessed,
		BlocksDropped:     current.BlocksDropped - previous.BlocksDropped,
		SilentQuanta:      current.SilentQuanta - previous.SilentQuanta,
		Underruns:         current.Underruns - previous.Underruns,
		ChannelMismatches: current.ChannelMismatches - previous.ChannelMismatches,
		Faults:            current.Faults - previous.Faults,
		IgnoredInits:      current.IgnoredInits - previous.IgnoredInits,
		HandlerPanics:     current.HandlerPanics - previous.HandlerPanics,
	})
	m.metrics.SetNodeDepths(s.Name, rs.QueueDepth, s.node.Port().Pending())
}

// GetSessionInfo returns session information
func (s *Session) GetSessionInfo() SessionInfo {
	cfg := s.node.Config()
	info := SessionInfo{
		Name:           s.Name,
		Handler:        s.HandlerName,
		StartTime:      s.StartTime,
		Duration:       time.Since(s.StartTime),
		BufferSize:     cfg.BlockSize,
		InputChannels:  cfg.NumInputs,
		OutputChannels: cfg.NumOutputs,
		LatencySeconds: s.node.Latency(),
		Active:         s.hostNode.Active(),
		Faults:         s.hostNode.Faults(),
		MailboxDepth:   s.node.Port().Pending(),
		PeakLevel:      s.meter.Peak(),
		Render:         s.worklet.Stats(),
		Bridge:         s.node.Stats(),
	}
	if s.record != nil {
		info.RecordedFrames = s.record.Recorded()
	}
	if s.gate != nil {
		stats := s.gate.GetStats()
		info.Gate = &stats
	}
	return info
}

// SetGateThreshold changes the RMS threshold of the session's gate
func (s *Session) SetGateThreshold(threshold float64) error {
	if s.gate == nil {
		return fmt.Errorf("%w: %s", ErrNoGate, s.Name)
	}
	return s.gate.UpdateThreshold(threshold)
}

// Node returns the client-side handle of the session
func (s *Session) Node() *bridge.Node {
	return s.node
}

// HostNode returns the render-side node of the session
func (s *Session) HostNode() *host.Node {
	return s.hostNode
}
