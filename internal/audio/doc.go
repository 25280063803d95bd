// Package audio implements the re-blocking core of the script processor shim.
// It accumulates fixed-size render quanta into larger processing blocks,
// queues processed blocks and slices them back into quanta for playback, and
// reads and writes WAV files for the file-backed sources and sinks.
package audio
