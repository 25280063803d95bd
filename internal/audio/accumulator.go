package audio

// AccumulatorStats is a snapshot of the accumulator counters.
type AccumulatorStats struct {
	QuantaProcessed   uint64 `json:"quanta_processed"`
	BlocksEmitted     uint64 `json:"blocks_emitted"`
	BlocksQueued      uint64 `json:"blocks_queued"`
	BlocksPlayed      uint64 `json:"blocks_played"`
	FramesAccumulated uint64 `json:"frames_accumulated"`
	SilentQuanta      uint64 `json:"silent_quanta"`
	PartialQuanta     uint64 `json:"partial_quanta"`
	Underruns         uint64 `json:"underruns"`
	ChannelMismatches uint64 `json:"channel_mismatches"`
	QueueDepth        int    `json:"queue_depth"`
	InputFill         int    `json:"input_fill_frames"`
	ReadOffset        int    `json:"read_offset_frames"`
}

// Accumulator adapts quantum-granularity rendering to block-granularity
// processing. Each call to Process accumulates one input quantum and produces
// one output quantum from previously queued blocks.
//
// An Accumulator is owned by a single render goroutine and is not safe for
// concurrent use.
type Accumulator struct {
	config      SessionConfig
	quantumSize int

	input  *InputBuffer
	queue  *BlockQueue
	output *OutputChunker

	quanta          uint64
	blocksQueued    uint64
	underruns       uint64
	queueMismatches uint64
	outMismatches   uint64
}

// NewAccumulator creates an accumulator for cfg rendering quanta of
// quantumSize frames.
func NewAccumulator(cfg SessionConfig, quantumSize int) *Accumulator {
	if quantumSize < 1 {
		quantumSize = DefaultQuantumSize
	}
	queue := NewBlockQueue()
	return &Accumulator{
		config:      cfg,
		quantumSize: quantumSize,
		input:       NewInputBuffer(cfg.NumInputs, cfg.BlockSize),
		queue:       queue,
		output:      NewOutputChunker(cfg.NumOutputs, cfg.BlockSize, queue),
	}
}

// Config returns the session configuration.
func (a *Accumulator) Config() SessionConfig {
	return a.config
}

// Process consumes one quantum of inputs and writes one quantum into outputs.
// emit is called synchronously for every input block completed by this
// quantum; it must not block. Outputs are silent when no processed block is
// queued.
func (a *Accumulator) Process(inputs, outputs [][]float64, emit func(Block)) {
	a.quanta++

	a.input.Write(inputs, a.quantumSize, emit)

	if len(outputs) != a.config.NumOutputs {
		a.outMismatches++
	}
	served := a.output.Read(outputs, a.quantumSize)
	if !served && a.blocksQueued > 0 && a.config.NumOutputs > 0 {
		// Silence after audio has started means the client fell behind
		a.underruns++
	}
}

// Enqueue appends a processed block to the output queue. Blocks whose shape
// differs from NumOutputs x BlockSize are conformed first.
func (a *Accumulator) Enqueue(b Block) {
	conformed, ok := b.Conform(a.config.NumOutputs, a.config.BlockSize)
	if !ok {
		a.queueMismatches++
	}
	a.queue.Push(conformed)
	a.blocksQueued++
}

// Stats returns a snapshot of the counters.
func (a *Accumulator) Stats() AccumulatorStats {
	return AccumulatorStats{
		QuantaProcessed:   a.quanta,
		BlocksEmitted:     a.input.BlocksEmitted(),
		BlocksQueued:      a.blocksQueued,
		BlocksPlayed:      a.output.BlocksPlayed(),
		FramesAccumulated: a.input.FramesWritten(),
		SilentQuanta:      a.output.SilentQuanta(),
		PartialQuanta:     a.output.PartialQuanta(),
		Underruns:         a.underruns,
		ChannelMismatches: a.input.Mismatches() + a.queueMismatches + a.outMismatches,
		QueueDepth:        a.queue.Len(),
		InputFill:         a.input.Fill(),
		ReadOffset:        a.output.Offset(),
	}
}
