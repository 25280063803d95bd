// Package fifo provides an unbounded first-in first-out queue backed by a
// growable ring buffer. Push and Pop are O(1) amortized and the queue never
// shifts its contents.
package fifo
