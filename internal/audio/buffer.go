package audio

// InputBuffer accumulates render quanta until a full block of BlockSize
// frames is available. Storage for the pending block is allocated up front;
// a completed block is handed to the caller and a fresh one takes its place.
type InputBuffer struct {
	numChannels int
	blockSize   int

	pending Block // block being filled
	fill    int   // frames written into pending

	framesWritten uint64
	blocksEmitted uint64
	mismatches    uint64
}

// NewInputBuffer creates an accumulation buffer for numChannels channels and
// blocks of blockSize frames.
func NewInputBuffer(numChannels, blockSize int) *InputBuffer {
	return &InputBuffer{
		numChannels: numChannels,
		blockSize:   blockSize,
		pending:     NewBlock(numChannels, blockSize),
	}
}

// Write copies frames frames of quantum into the buffer and calls onFull once
// for every block completed by this write, in arrival order. Channels missing
// from quantum, and channel slices shorter than frames, are read as silence;
// surplus channels are ignored. Frames that overflow a completed block start
// the next one, so no frame is dropped or duplicated whatever the ratio
// between frames and the block size.
func (b *InputBuffer) Write(quantum [][]float64, frames int, onFull func(Block)) {
	if frames <= 0 {
		return
	}
	if len(quantum) != b.numChannels {
		b.mismatches++
	}

	for off := 0; off < frames; {
		n := frames - off
		if room := b.blockSize - b.fill; n > room {
			n = room
		}

		for c := 0; c < b.numChannels; c++ {
			dst := b.pending.Channels[c][b.fill : b.fill+n]
			copied := 0
			if c < len(quantum) && off < len(quantum[c]) {
				end := off + n
				if end > len(quantum[c]) {
					end = len(quantum[c])
				}
				copied = copy(dst, quantum[c][off:end])
			}
			// Zero whatever the source could not provide
			for i := copied; i < n; i++ {
				dst[i] = 0
			}
		}

		b.fill += n
		off += n
		b.framesWritten += uint64(n)

		if b.fill == b.blockSize {
			full := b.pending
			b.pending = NewBlock(b.numChannels, b.blockSize)
			b.fill = 0
			b.blocksEmitted++
			if onFull != nil {
				onFull(full)
			}
		}
	}
}

// Fill returns the number of frames waiting for the next block.
func (b *InputBuffer) Fill() int {
	return b.fill
}

// BlocksEmitted returns the number of completed blocks.
func (b *InputBuffer) BlocksEmitted() uint64 {
	return b.blocksEmitted
}

// FramesWritten returns the total number of frames accepted.
func (b *InputBuffer) FramesWritten() uint64 {
	return b.framesWritten
}

// Mismatches returns how many writes carried an unexpected channel count.
func (b *InputBuffer) Mismatches() uint64 {
	return b.mismatches
}
