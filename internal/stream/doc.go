// Package stream manages script processor sessions: each session owns a
// render node fed by a source, a client-side bridge goroutine running its
// block handler, and the sink receiving its output. A monitor routine
// publishes per-node counters and warns when a node underruns.
package stream
