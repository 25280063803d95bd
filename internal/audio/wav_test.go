package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadWAVFile(t *testing.T) {
	sampleRate := 8000
	frequency := 440.0
	frames := 800

	block := NewBlock(2, frames)
	for i := 0; i < frames; i++ {
		ts := float64(i) / float64(sampleRate)
		block.Channels[0][i] = 0.5 * math.Sin(2*math.Pi*frequency*ts)
		block.Channels[1][i] = -block.Channels[0][i]
	}

	path := filepath.Join(t.TempDir(), "tone.wav")
	if err := WriteWAVFile(path, block, sampleRate); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	decoded, decodedRate, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}

	if decodedRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedRate)
	}
	if decoded.NumChannels() != 2 {
		t.Fatalf("Expected 2 channels, got %d", decoded.NumChannels())
	}
	if decoded.Frames() != frames {
		t.Fatalf("Expected %d frames, got %d", frames, decoded.Frames())
	}

	// 16-bit quantization error stays within one step
	tolerance := 2.0 / 32767
	for c := 0; c < 2; c++ {
		for i := 0; i < frames; i++ {
			if diff := math.Abs(decoded.Channels[c][i] - block.Channels[c][i]); diff > tolerance {
				t.Fatalf("Channel %d frame %d: expected %f, got %f", c, i, block.Channels[c][i], decoded.Channels[c][i])
			}
		}
	}
}

func TestWriteWAVClipsOutOfRange(t *testing.T) {
	block := NewBlock(1, 3)
	block.Channels[0][0] = 2.0
	block.Channels[0][1] = -3.0
	block.Channels[0][2] = 0.25

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := WriteWAVFile(path, block, 48000); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	decoded, _, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile failed: %v", err)
	}

	if decoded.Channels[0][0] < 0.999 {
		t.Errorf("Expected positive clip near 1.0, got %f", decoded.Channels[0][0])
	}
	if decoded.Channels[0][1] > -0.999 {
		t.Errorf("Expected negative clip near -1.0, got %f", decoded.Channels[0][1])
	}
}

func TestWriteWAVInvalidInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")

	if err := WriteWAVFile(path, Block{}, 48000); err == nil {
		t.Error("Expected error for block without channels")
	}

	if err := WriteWAVFile(path, NewBlock(1, 10), 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestReadWAVInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav file"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	if _, _, err := ReadWAVFile(path); err == nil {
		t.Error("Expected error for invalid WAV file")
	}

	if _, _, err := ReadWAVFile(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}
