package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth    = 16
	wavFormatPCM   = 1
	pcm16FullScale = 32767
)

// ReadWAV decodes a PCM WAV stream into a block of samples in [-1, 1] and
// returns it together with the stream's sample rate.
func ReadWAV(r io.ReadSeeker) (Block, int, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return Block{}, 0, fmt.Errorf("invalid WAV stream")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Block{}, 0, fmt.Errorf("failed to decode WAV data: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return Block{}, 0, fmt.Errorf("WAV stream has no channels")
	}

	bitDepth := int(decoder.BitDepth)
	if bitDepth <= 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return Block{}, 0, fmt.Errorf("unsupported WAV bit depth %d", bitDepth)
	}

	numChannels := buf.Format.NumChannels
	frames := len(buf.Data) / numChannels
	scale := math.Exp2(float64(bitDepth - 1))
	if bitDepth == 8 {
		// 8-bit PCM is unsigned
		scale = 128
	}

	block := NewBlock(numChannels, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			v := float64(buf.Data[i*numChannels+c])
			if bitDepth == 8 {
				v -= 128
			}
			block.Channels[c][i] = v / scale
		}
	}

	return block, int(decoder.SampleRate), nil
}

// WriteWAV encodes b as 16-bit PCM. Samples outside [-1, 1] are clipped.
func WriteWAV(w io.WriteSeeker, b Block, sampleRate int) error {
	if b.NumChannels() == 0 {
		return fmt.Errorf("cannot encode a block without channels")
	}
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := b.NumChannels()
	frames := b.Frames()
	data := make([]int, frames*numChannels)
	for i := 0; i < frames; i++ {
		for c := 0; c < numChannels; c++ {
			var v float64
			if i < len(b.Channels[c]) {
				v = b.Channels[c][i]
			}
			data[i*numChannels+c] = toPCM16(v)
		}
	}

	encoder := wav.NewEncoder(w, sampleRate, wavBitDepth, numChannels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: numChannels,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV stream: %w", err)
	}
	return nil
}

// ReadWAVFile reads a WAV file from disk.
func ReadWAVFile(path string) (Block, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return Block{}, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	block, sampleRate, err := ReadWAV(f)
	if err != nil {
		return Block{}, 0, fmt.Errorf("%s: %w", path, err)
	}
	return block, sampleRate, nil
}

// WriteWAVFile writes b to path, replacing any existing file.
func WriteWAVFile(path string, b Block, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := WriteWAV(f, b, sampleRate); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func toPCM16(v float64) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(math.Round(v * pcm16FullScale))
}
