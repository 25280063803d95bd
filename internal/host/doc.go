// Package host implements the quantum host: a render engine that calls every
// connected processor once per fixed-size render quantum on a single render
// goroutine, and the module registry through which processor implementations
// are delivered to it. Sources feed node inputs and sinks receive node outputs.
package host
