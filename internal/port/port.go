package port

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/reblock-audio-service/internal/fifo"
	"github.com/skypro1111/reblock-audio-service/internal/protocol"
)

// ErrClosed is returned when posting to or receiving from a closed port.
var ErrClosed = errors.New("port closed")

// mailbox is the receive queue of one port. The mutex is held only for a
// single push or pop.
type mailbox struct {
	mu     sync.Mutex
	queue  *fifo.Queue[[]byte]
	closed bool

	notify chan struct{} // capacity 1, signalled on push
	done   chan struct{} // closed on close
}

func newMailbox() *mailbox {
	return &mailbox{
		queue:  fifo.New[[]byte](16),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (m *mailbox) put(data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.queue.Push(data)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) take() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Pop()
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

func (m *mailbox) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

// Port is one end of a message channel.
type Port struct {
	inbox *mailbox
	peer  *mailbox

	posted       atomic.Uint64
	received     atomic.Uint64
	decodeErrors atomic.Uint64
}

// NewChannel returns two entangled ports: whatever is posted on one is
// received on the other.
func NewChannel() (*Port, *Port) {
	a, b := newMailbox(), newMailbox()
	return &Port{inbox: a, peer: b}, &Port{inbox: b, peer: a}
}

// Post encodes msg and appends it to the peer's mailbox. It never blocks.
func (p *Port) Post(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := p.peer.put(data); err != nil {
		return err
	}
	p.posted.Add(1)
	return nil
}

// TryReceive returns the next message if one is waiting. It never blocks.
// Undecodable messages are skipped and counted.
func (p *Port) TryReceive() (protocol.Message, bool) {
	for {
		data, ok := p.inbox.take()
		if !ok {
			return nil, false
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			p.decodeErrors.Add(1)
			continue
		}
		p.received.Add(1)
		return msg, true
	}
}

// Receive blocks until a message arrives, ctx is done or the port is closed.
// Messages already queued are still delivered after Close.
func (p *Port) Receive(ctx context.Context) (protocol.Message, error) {
	for {
		if msg, ok := p.TryReceive(); ok {
			return msg, nil
		}
		if p.inbox.isClosed() {
			return nil, ErrClosed
		}

		select {
		case <-p.inbox.notify:
		case <-p.inbox.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close disentangles both ports. Later posts fail with ErrClosed and
// receivers are woken up once their queue is drained.
func (p *Port) Close() {
	p.inbox.close()
	p.peer.close()
}

// Pending returns the number of messages waiting in this port's mailbox.
func (p *Port) Pending() int {
	return p.inbox.len()
}

// Stats returns posted, received and undecodable message counts.
func (p *Port) Stats() (posted, received, decodeErrors uint64) {
	return p.posted.Load(), p.received.Load(), p.decodeErrors.Load()
}
