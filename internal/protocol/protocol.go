package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MessageType identifies the payload carried by a message.
type MessageType uint8

// Message types
const (
	TypeInit           MessageType = 0x01 // client -> render, once before audio flows
	TypeBlockReady     MessageType = 0x02 // render -> client, a full input block
	TypeBlockProcessed MessageType = 0x03 // client -> render, a processed output block
)

// Encoding sizes. A message is [Type:1][Length:4] followed by its payload:
// init is [BlockSize:4][NumInputs:2][NumOutputs:2], a block is
// [Channels:2][Frames:4] followed by each channel's float64 samples, and
// blockReady prefixes its block with an 8-byte timestamp.
const (
	HeaderSize      = 5
	InitPayloadSize = 8
	BlockHeaderSize = 6
	TimestampSize   = 8
	SampleSize      = 8
	MaxChannels     = 32
	MaxFrames       = 1 << 20

	maxMessageSize = HeaderSize + TimestampSize + BlockHeaderSize + MaxChannels*MaxFrames*SampleSize
)

// ErrUnknownType is returned when a message carries an unknown type byte.
var ErrUnknownType = errors.New("unknown message type")

// String returns a short name of the type.
func (t MessageType) String() string {
	switch t {
	case TypeInit:
		return "init"
	case TypeBlockReady:
		return "blockReady"
	case TypeBlockProcessed:
		return "blockProcessed"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Message is implemented by every message shape.
type Message interface {
	Type() MessageType
	Validate() error
}

// Header is the fixed prefix of every encoded message.
// Layout: [Type:1][Length:4], Length being the total encoded size.
type Header struct {
	Type   MessageType
	Length uint32
}

// Init carries the session configuration of a node.
type Init struct {
	BlockSize  int
	NumInputs  int
	NumOutputs int
}

// BlockReady carries one full input block and its estimated playback time in seconds.
type BlockReady struct {
	Input     [][]float64
	Timestamp float64
}

// BlockProcessed carries one output block produced by the client.
type BlockProcessed struct {
	Output [][]float64
}

// Type implements Message.
func (Init) Type() MessageType { return TypeInit }

// Type implements Message.
func (BlockReady) Type() MessageType { return TypeBlockReady }

// Type implements Message.
func (BlockProcessed) Type() MessageType { return TypeBlockProcessed }

// Validate checks the configuration bounds.
func (m Init) Validate() error {
	if m.BlockSize < 1 || m.BlockSize > MaxFrames {
		return fmt.Errorf("block size must be between 1 and %d, got %d", MaxFrames, m.BlockSize)
	}
	if m.NumInputs < 0 || m.NumInputs > MaxChannels {
		return fmt.Errorf("input channels must be between 0 and %d, got %d", MaxChannels, m.NumInputs)
	}
	if m.NumOutputs < 0 || m.NumOutputs > MaxChannels {
		return fmt.Errorf("output channels must be between 0 and %d, got %d", MaxChannels, m.NumOutputs)
	}
	return nil
}

// Validate checks the block shape and the timestamp.
func (m BlockReady) Validate() error {
	if math.IsNaN(m.Timestamp) || math.IsInf(m.Timestamp, 0) {
		return fmt.Errorf("timestamp must be finite, got %f", m.Timestamp)
	}
	if _, err := blockFrames(m.Input); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	return nil
}

// Validate checks the block shape.
func (m BlockProcessed) Validate() error {
	if _, err := blockFrames(m.Output); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// blockFrames returns the common channel length of a block.
func blockFrames(channels [][]float64) (int, error) {
	if len(channels) > MaxChannels {
		return 0, fmt.Errorf("too many channels: %d (max %d)", len(channels), MaxChannels)
	}
	if len(channels) == 0 {
		return 0, nil
	}
	frames := len(channels[0])
	if frames > MaxFrames {
		return 0, fmt.Errorf("too many frames: %d (max %d)", frames, MaxFrames)
	}
	for c, ch := range channels {
		if len(ch) != frames {
			return 0, fmt.Errorf("channel %d has %d frames, expected %d", c, len(ch), frames)
		}
	}
	return frames, nil
}

// Encode validates msg and returns its binary encoding.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("cannot encode nil message")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", msg.Type(), err)
	}

	switch m := msg.(type) {
	case Init:
		data := make([]byte, HeaderSize+InitPayloadSize)
		putHeader(data, TypeInit)
		binary.BigEndian.PutUint32(data[5:9], uint32(m.BlockSize))
		binary.BigEndian.PutUint16(data[9:11], uint16(m.NumInputs))
		binary.BigEndian.PutUint16(data[11:13], uint16(m.NumOutputs))
		return data, nil

	case BlockReady:
		frames, _ := blockFrames(m.Input)
		data := make([]byte, HeaderSize+TimestampSize+blockSize(len(m.Input), frames))
		putHeader(data, TypeBlockReady)
		binary.BigEndian.PutUint64(data[5:13], math.Float64bits(m.Timestamp))
		putBlock(data[HeaderSize+TimestampSize:], m.Input, frames)
		return data, nil

	case BlockProcessed:
		frames, _ := blockFrames(m.Output)
		data := make([]byte, HeaderSize+blockSize(len(m.Output), frames))
		putHeader(data, TypeBlockProcessed)
		putBlock(data[HeaderSize:], m.Output, frames)
		return data, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type())
	}
}

// ParseHeader parses the 5-byte message header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	return &Header{
		Type:   MessageType(data[0]),
		Length: binary.BigEndian.Uint32(data[1:5]),
	}, nil
}

// ValidateHeader validates the header fields.
func ValidateHeader(header *Header) error {
	switch header.Type {
	case TypeInit, TypeBlockReady, TypeBlockProcessed:
	default:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, uint8(header.Type))
	}

	if header.Length < HeaderSize {
		return fmt.Errorf("message length %d is shorter than the header", header.Length)
	}
	if header.Length > maxMessageSize {
		return fmt.Errorf("message length %d exceeds maximum %d", header.Length, maxMessageSize)
	}
	return nil
}

// Decode parses a complete encoded message.
func Decode(data []byte) (Message, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	if int(header.Length) != len(data) {
		return nil, fmt.Errorf("message length mismatch: header says %d bytes, got %d bytes",
			header.Length, len(data))
	}

	payload := data[HeaderSize:]

	switch header.Type {
	case TypeInit:
		if len(payload) != InitPayloadSize {
			return nil, fmt.Errorf("init payload must be %d bytes, got %d", InitPayloadSize, len(payload))
		}
		msg := Init{
			BlockSize:  int(binary.BigEndian.Uint32(payload[0:4])),
			NumInputs:  int(binary.BigEndian.Uint16(payload[4:6])),
			NumOutputs: int(binary.BigEndian.Uint16(payload[6:8])),
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid init message: %w", err)
		}
		return msg, nil

	case TypeBlockReady:
		if len(payload) < TimestampSize {
			return nil, fmt.Errorf("blockReady payload too short: %d bytes", len(payload))
		}
		input, err := parseBlock(payload[TimestampSize:])
		if err != nil {
			return nil, fmt.Errorf("failed to parse blockReady input: %w", err)
		}
		msg := BlockReady{
			Input:     input,
			Timestamp: math.Float64frombits(binary.BigEndian.Uint64(payload[0:TimestampSize])),
		}
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid blockReady message: %w", err)
		}
		return msg, nil

	default:
		output, err := parseBlock(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to parse blockProcessed output: %w", err)
		}
		return BlockProcessed{Output: output}, nil
	}
}

func putHeader(data []byte, t MessageType) {
	data[0] = byte(t)
	binary.BigEndian.PutUint32(data[1:5], uint32(len(data)))
}

func blockSize(numChannels, frames int) int {
	return BlockHeaderSize + numChannels*frames*SampleSize
}

// putBlock writes [Channels:2][Frames:4] followed by each channel's samples.
func putBlock(data []byte, channels [][]float64, frames int) {
	binary.BigEndian.PutUint16(data[0:2], uint16(len(channels)))
	binary.BigEndian.PutUint32(data[2:6], uint32(frames))
	off := BlockHeaderSize
	for _, ch := range channels {
		for _, v := range ch {
			binary.BigEndian.PutUint64(data[off:off+SampleSize], math.Float64bits(v))
			off += SampleSize
		}
	}
}

func parseBlock(data []byte) ([][]float64, error) {
	if len(data) < BlockHeaderSize {
		return nil, fmt.Errorf("block header too short: expected %d bytes, got %d", BlockHeaderSize, len(data))
	}

	numChannels := int(binary.BigEndian.Uint16(data[0:2]))
	frames := int(binary.BigEndian.Uint32(data[2:6]))
	if numChannels > MaxChannels {
		return nil, fmt.Errorf("too many channels: %d (max %d)", numChannels, MaxChannels)
	}
	if frames > MaxFrames {
		return nil, fmt.Errorf("too many frames: %d (max %d)", frames, MaxFrames)
	}
	if expected := blockSize(numChannels, frames); len(data) != expected {
		return nil, fmt.Errorf("block size mismatch: expected %d bytes, got %d", expected, len(data))
	}

	channels := make([][]float64, numChannels)
	off := BlockHeaderSize
	for c := range channels {
		channels[c] = make([]float64, frames)
		for i := range channels[c] {
			channels[c][i] = math.Float64frombits(binary.BigEndian.Uint64(data[off : off+SampleSize]))
			off += SampleSize
		}
	}
	return channels, nil
}
