// Package port provides an entangled pair of message ports connecting the
// render side and the client side of a node. Messages are encoded on Post
// and decoded on receipt, so each side owns its own copy of every payload.
// Mailboxes are unbounded FIFOs: posting never blocks.
package port
