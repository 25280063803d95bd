package fifo

const minCapacity = 8

// Queue is an unbounded FIFO ring buffer. It is not safe for concurrent use;
// callers that share a Queue between goroutines must guard it themselves.
type Queue[T any] struct {
	items []T
	head  int
	count int
}

// New returns an empty queue with room for at least capacity items before
// the first reallocation.
func New[T any](capacity int) *Queue[T] {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Queue[T]{items: make([]T, capacity)}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return q.count
}

// Push appends v at the back of the queue.
func (q *Queue[T]) Push(v T) {
	if q.items == nil {
		q.items = make([]T, minCapacity)
	}
	if q.count == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.count)%len(q.items)] = v
	q.count++
}

// Pop removes and returns the front item. ok is false when the queue is empty.
func (q *Queue[T]) Pop() (v T, ok bool) {
	if q.count == 0 {
		return v, false
	}
	var zero T
	v = q.items[q.head]
	q.items[q.head] = zero // release the reference for the GC
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return v, true
}

func (q *Queue[T]) grow() {
	grown := make([]T, len(q.items)*2)
	for i := 0; i < q.count; i++ {
		grown[i] = q.items[(q.head+i)%len(q.items)]
	}
	q.items = grown
	q.head = 0
}
