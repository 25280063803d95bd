package protocol

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeInit(t *testing.T) {
	data, err := Encode(Init{BlockSize: 4096, NumInputs: 2, NumOutputs: 1})
	if err != nil {
		t.Fatalf("Failed to encode init: %v", err)
	}

	if len(data) != HeaderSize+InitPayloadSize {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+InitPayloadSize, len(data))
	}

	header, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("Failed to parse header: %v", err)
	}
	if header.Type != TypeInit {
		t.Errorf("Expected type %s, got %s", TypeInit, header.Type)
	}
	if int(header.Length) != len(data) {
		t.Errorf("Expected length %d, got %d", len(data), header.Length)
	}

	if binary.BigEndian.Uint32(data[5:9]) != 4096 {
		t.Errorf("Expected block size 4096 in payload, got %d", binary.BigEndian.Uint32(data[5:9]))
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode init: %v", err)
	}
	cfg, ok := msg.(Init)
	if !ok {
		t.Fatalf("Expected Init, got %T", msg)
	}
	if cfg.BlockSize != 4096 || cfg.NumInputs != 2 || cfg.NumOutputs != 1 {
		t.Errorf("Unexpected init %+v", cfg)
	}
}

func TestEncodeBlockReady(t *testing.T) {
	input := [][]float64{
		{0.5, -0.25, 1, 0},
		{math.SmallestNonzeroFloat64, -1, 0.125, 3},
	}

	data, err := Encode(BlockReady{Input: input, Timestamp: 1.5})
	if err != nil {
		t.Fatalf("Failed to encode blockReady: %v", err)
	}

	expected := HeaderSize + TimestampSize + BlockHeaderSize + 2*4*SampleSize
	if len(data) != expected {
		t.Fatalf("Expected %d bytes, got %d", expected, len(data))
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode blockReady: %v", err)
	}
	ready := msg.(BlockReady)

	if ready.Timestamp != 1.5 {
		t.Errorf("Expected timestamp 1.5, got %f", ready.Timestamp)
	}
	for c := range input {
		for i := range input[c] {
			if ready.Input[c][i] != input[c][i] {
				t.Errorf("Channel %d frame %d: expected %g, got %g", c, i, input[c][i], ready.Input[c][i])
			}
		}
	}

	// The decoded block must not alias the original
	input[0][0] = 42
	if ready.Input[0][0] == 42 {
		t.Error("Decoded block shares memory with the encoded source")
	}
}

func TestEncodeBlockProcessedWithoutChannels(t *testing.T) {
	data, err := Encode(BlockProcessed{})
	if err != nil {
		t.Fatalf("Failed to encode empty block: %v", err)
	}

	msg, err := Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode empty block: %v", err)
	}
	if out := msg.(BlockProcessed).Output; len(out) != 0 {
		t.Errorf("Expected no channels, got %d", len(out))
	}
}

func TestEncodeInvalidMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"nil message", nil},
		{"zero block size", Init{BlockSize: 0, NumInputs: 1, NumOutputs: 1}},
		{"negative inputs", Init{BlockSize: 256, NumInputs: -1, NumOutputs: 1}},
		{"too many outputs", Init{BlockSize: 256, NumInputs: 1, NumOutputs: MaxChannels + 1}},
		{"ragged block", BlockProcessed{Output: [][]float64{{1, 2}, {1}}}},
		{"nan timestamp", BlockReady{Input: [][]float64{{1}}, Timestamp: math.NaN()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.msg); err == nil {
				t.Error("Expected encode error")
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	valid, err := Encode(BlockProcessed{Output: [][]float64{{1, 2, 3}}})
	if err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}

	unknown := make([]byte, len(valid))
	copy(unknown, valid)
	unknown[0] = 0x7f

	badBlock := make([]byte, len(valid))
	copy(badBlock, valid)
	binary.BigEndian.PutUint32(badBlock[HeaderSize+2:HeaderSize+6], 99) // frames

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x01, 0x00}},
		{"truncated", valid[:len(valid)-1]},
		{"unknown type", unknown},
		{"frame count mismatch", badBlock},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Error("Expected decode error")
			}
		})
	}

	if _, err := Decode(unknown); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestMessageTypeString(t *testing.T) {
	if TypeBlockReady.String() != "blockReady" {
		t.Errorf("Expected 'blockReady', got '%s'", TypeBlockReady.String())
	}
	if MessageType(0x42).String() != "unknown(0x42)" {
		t.Errorf("Expected 'unknown(0x42)', got '%s'", MessageType(0x42).String())
	}
}
