// Package processor provides built-in block handlers that can be installed
// on a script processor node: passthrough, gain, mix, gate and silence.
//
// Block arithmetic uses github.com/cwbudde/algo-vecmath.
package processor
