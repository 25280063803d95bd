// Package protocol defines the messages exchanged between the real-time
// render side and the client side of a script processor node, and their
// binary encoding. Every message crosses the boundary as an encoded copy so
// the two sides never share sample memory.
package protocol
