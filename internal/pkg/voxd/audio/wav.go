package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	gowav "github.com/go-audio/wav"
	"github.com/rs/zerolog/log"
)

const (
	numChannels   = 1
	bitsPerSample = 16
)

// Format is an output container format requested by a client.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatWebM Format = "webm"
)

// Valid reports whether f is one of the accepted request formats.
func (f Format) Valid() bool {
	switch f {
	case FormatWAV, FormatMP3, FormatWebM:
		return true
	}
	return false
}

// ContentType maps a format to its HTTP media type.
func (f Format) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatWebM:
		return "audio/webm"
	}
	return "application/octet-stream"
}

// Encode serializes a as a single-chunk mono 16-bit WAV container. MP3 and
// WebM are not implemented; requesting them degrades to WAV with a warning
// so that clients asking for an unsupported container still get audio.
func Encode(a *Audio, format Format) []byte {
	if format != FormatWAV {
		log.Warn().Str("format", string(format)).Msg("Format encoding not implemented, using WAV")
	}
	return encodeWAV(a)
}

func encodeWAV(a *Audio) []byte {
	dataSize := len(a.Samples) * numChannels * (bitsPerSample / 8)
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataSize))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(a.SampleRate))
	byteRate := a.SampleRate * numChannels * (bitsPerSample / 8)
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	blockAlign := numChannels * (bitsPerSample / 8)
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	for _, sample := range a.Samples {
		clamped := sample
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}
		binary.Write(buf, binary.LittleEndian, int16(math.Round(float64(clamped)*32767)))
	}

	return buf.Bytes()
}

// DecodeFile reads a WAV file into mono float32 samples. Multi-channel input
// is downmixed by averaging across channels.
func DecodeFile(path string) (*Audio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	dec := gowav.NewDecoder(f)
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV: %w", err)
	}
	if pcm.Format == nil || pcm.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid WAV format")
	}

	channels := pcm.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	scale := 1.0 / float64(int(1)<<(uint(dec.BitDepth)-1))
	frames := len(pcm.Data) / channels

	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(pcm.Data[i*channels+c]) * scale
		}
		samples[i] = float32(sum / float64(channels))
	}

	return New(samples, pcm.Format.SampleRate), nil
}
