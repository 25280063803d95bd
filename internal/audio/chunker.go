package audio

import "github.com/skypro1111/reblock-audio-service/internal/fifo"

// BlockQueue is the FIFO of processed blocks awaiting playback.
type BlockQueue struct {
	q *fifo.Queue[Block]
}

// NewBlockQueue creates an empty queue.
func NewBlockQueue() *BlockQueue {
	return &BlockQueue{q: fifo.New[Block](16)}
}

// Push appends a block at the back of the queue.
func (q *BlockQueue) Push(b Block) {
	q.q.Push(b)
}

// Pop removes the front block.
func (q *BlockQueue) Pop() (Block, bool) {
	return q.q.Pop()
}

// Len returns the number of queued blocks.
func (q *BlockQueue) Len() int {
	return q.q.Len()
}

// OutputChunker serves queued blocks back as render quanta. It keeps the
// block currently being played and a read offset into it; once the offset
// reaches the end of that block the next one is taken from the queue.
//
// With no output channels a block carries no samples but still spans
// blockSize frames, so playback keeps pace with the input side.
type OutputChunker struct {
	numChannels int
	blockSize   int
	queue       *BlockQueue

	current    Block
	hasCurrent bool
	offset     int

	blocksPlayed  uint64
	silentQuanta  uint64
	partialQuanta uint64
}

// NewOutputChunker creates a chunker reading blocks of blockSize frames from
// queue and producing numChannels channels.
func NewOutputChunker(numChannels, blockSize int, queue *BlockQueue) *OutputChunker {
	return &OutputChunker{
		numChannels: numChannels,
		blockSize:   blockSize,
		queue:       queue,
	}
}

// Read fills frames frames of every channel in dst. Channels of dst beyond the
// configured count, and any frames no queued block can provide, are zeroed.
// It reports whether any audio was served.
func (c *OutputChunker) Read(dst [][]float64, frames int) bool {
	written := 0
	for written < frames {
		if !c.hasCurrent && !c.advance() {
			break
		}

		n := frames - written
		if avail := c.length() - c.offset; n > avail {
			n = avail
		}

		for ch := 0; ch < len(dst); ch++ {
			end := written + n
			if end > len(dst[ch]) {
				end = len(dst[ch])
			}
			if written >= end {
				continue
			}
			if ch < c.numChannels && ch < c.current.NumChannels() {
				copy(dst[ch][written:end], c.current.Channels[ch][c.offset:])
			} else {
				zero(dst[ch][written:end], 0)
			}
		}

		c.offset += n
		written += n

		if c.offset >= c.length() {
			c.current = Block{}
			c.hasCurrent = false
			c.offset = 0
			c.blocksPlayed++
		}
	}

	// Silence for whatever no block could serve
	for ch := range dst {
		zero(dst[ch], written)
	}

	switch {
	case written == 0:
		c.silentQuanta++
	case written < frames:
		c.partialQuanta++
	}
	return written > 0
}

// advance takes the next playable block off the queue.
func (c *OutputChunker) advance() bool {
	for {
		next, ok := c.queue.Pop()
		if !ok {
			return false
		}
		if c.numChannels > 0 && next.Frames() == 0 {
			// Nothing to play; keep looking
			continue
		}
		c.current = next
		c.hasCurrent = true
		c.offset = 0
		return true
	}
}

// length returns the frames the current block occupies on the timeline.
func (c *OutputChunker) length() int {
	if c.numChannels == 0 {
		return c.blockSize
	}
	return c.current.Frames()
}

// Offset returns the read position inside the block being served.
func (c *OutputChunker) Offset() int {
	return c.offset
}

// BlocksPlayed returns the number of blocks fully consumed.
func (c *OutputChunker) BlocksPlayed() uint64 {
	return c.blocksPlayed
}

// SilentQuanta returns the number of reads that served no audio at all.
func (c *OutputChunker) SilentQuanta() uint64 {
	return c.silentQuanta
}

// PartialQuanta returns the number of reads that ran out of queued audio midway.
func (c *OutputChunker) PartialQuanta() uint64 {
	return c.partialQuanta
}

func zero(s []float64, from int) {
	if from < 0 {
		from = 0
	}
	for i := from; i < len(s); i++ {
		s[i] = 0
	}
}
