package stream

import (
	"fmt"

	"github.com/skypro1111/reblock-audio-service/internal/audio"
	"github.com/skypro1111/reblock-audio-service/internal/bridge"
	"github.com/skypro1111/reblock-audio-service/internal/config"
	"github.com/skypro1111/reblock-audio-service/internal/host"
	"github.com/skypro1111/reblock-audio-service/internal/processor"
)

// BuildSpec turns a node configuration into a session spec for an engine
// running at sampleRate. WAV sources must match the engine sample rate.
func BuildSpec(nc config.NodeConfig, sampleRate int) (SessionSpec, error) {
	var (
		handler bridge.HandlerFunc
		gate    *processor.Gate
		err     error
	)
	if nc.Processor == processor.NameGate {
		// Keep the gate itself so its stats and threshold stay reachable
		gate, err = processor.NewGate(nc.GateThreshold)
		if err == nil {
			handler = gate.Handle
		}
	} else {
		handler, err = processor.New(nc.Processor, processor.Params{
			Gain:          nc.Gain,
			GateThreshold: nc.GateThreshold,
		})
	}
	if err != nil {
		return SessionSpec{}, fmt.Errorf("node %s: %w", nc.Name, err)
	}

	handlerName := nc.Processor
	if handlerName == "" {
		handlerName = processor.NamePassthrough
	}

	spec := SessionSpec{
		Name:           nc.Name,
		BufferSize:     nc.BufferSize,
		InputChannels:  nc.InputChannels,
		OutputChannels: nc.OutputChannels,
		HandlerName:    handlerName,
		Handler:        handler,
		Gate:           gate,
	}

	switch nc.Source.Type {
	case "", "silence":
		spec.Source = host.SilenceSource{}
	case "sine":
		spec.Source = host.NewSineSource(nc.Source.Frequency, nc.Source.Amplitude, sampleRate)
	case "wav":
		block, rate, err := audio.ReadWAVFile(nc.Source.Path)
		if err != nil {
			return SessionSpec{}, fmt.Errorf("node %s: failed to load source: %w", nc.Name, err)
		}
		if rate != sampleRate {
			return SessionSpec{}, fmt.Errorf("node %s: source sample rate %d does not match engine sample rate %d",
				nc.Name, rate, sampleRate)
		}
		spec.Source = host.NewBlockSource(block, nc.Source.Loop)
	default:
		return SessionSpec{}, fmt.Errorf("node %s: unknown source type '%s'", nc.Name, nc.Source.Type)
	}

	switch nc.Sink.Type {
	case "", "discard", "meter":
		// Every session meters its output
	case "wav":
		rec := host.NewRecordSink(nc.OutputChannels, nc.Sink.GetMaxFrames(sampleRate))
		spec.Sink = rec
		spec.Record = rec
		spec.RecordPath = nc.Sink.Path
	default:
		return SessionSpec{}, fmt.Errorf("node %s: unknown sink type '%s'", nc.Name, nc.Sink.Type)
	}

	return spec, nil
}
