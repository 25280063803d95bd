// Package worklet implements the real-time half of the script processor
// polyfill: a host processor that accumulates render quanta into blocks,
// posts each block to the client side of its port and plays back the
// processed blocks it receives.
package worklet
