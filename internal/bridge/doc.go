// Package bridge implements the client side of a script processor node.
// It receives full input blocks from the render side, runs the
// onaudioprocess handler on them and posts the processed blocks back.
package bridge
