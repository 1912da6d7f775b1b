package audio_test

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"voxd/internal/pkg/voxd/audio"
)

func sine(n int, freq float64, rate int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestDuration(t *testing.T) {
	a := audio.New(make([]float32, 22050), 22050)
	if got := a.Duration(); got != 1.0 {
		t.Errorf("Duration() = %v, want 1.0", got)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	a := audio.New(sine(100, 440, 22050), 22050)
	data := audio.Encode(a, audio.FormatWAV)

	if len(data) != 44+200 {
		t.Fatalf("encoded size = %d, want %d", len(data), 44+200)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if ch := binary.LittleEndian.Uint16(data[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 22050 {
		t.Errorf("sample rate = %d, want 22050", rate)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d, want 16", bits)
	}
	if size := binary.LittleEndian.Uint32(data[40:44]); size != 200 {
		t.Errorf("data chunk size = %d, want 200", size)
	}
}

func TestEncodeUnsupportedFormatDegradesToWAV(t *testing.T) {
	a := audio.New(sine(10, 440, 22050), 22050)
	for _, f := range []audio.Format{audio.FormatMP3, audio.FormatWebM} {
		data := audio.Encode(a, f)
		if string(data[0:4]) != "RIFF" {
			t.Errorf("Encode(%q) did not produce WAV", f)
		}
	}
}

func TestWAVRoundTrip(t *testing.T) {
	orig := audio.New(sine(2000, 440, 22050), 22050)
	path := filepath.Join(t.TempDir(), "roundtrip.wav")
	if err := os.WriteFile(path, audio.Encode(orig, audio.FormatWAV), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := audio.DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v", err)
	}
	if got.SampleRate != orig.SampleRate {
		t.Errorf("sample rate = %d, want %d", got.SampleRate, orig.SampleRate)
	}
	if len(got.Samples) != len(orig.Samples) {
		t.Fatalf("sample count = %d, want %d", len(got.Samples), len(orig.Samples))
	}

	// 16-bit quantization allows roughly 1/32767 of error per sample.
	const tolerance = 2.0 / 32767
	for i := range got.Samples {
		if diff := math.Abs(float64(got.Samples[i] - orig.Samples[i])); diff > tolerance {
			t.Fatalf("sample %d differs by %v (tolerance %v)", i, diff, tolerance)
		}
	}
}

func TestDecodeFileMissing(t *testing.T) {
	if _, err := audio.DecodeFile(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Error("DecodeFile() on missing file = nil error")
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		format      audio.Format
		valid       bool
		contentType string
	}{
		{audio.FormatWAV, true, "audio/wav"},
		{audio.FormatMP3, true, "audio/mpeg"},
		{audio.FormatWebM, true, "audio/webm"},
		{audio.Format("flac"), false, "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := tt.format.Valid(); got != tt.valid {
			t.Errorf("Format(%q).Valid() = %v, want %v", tt.format, got, tt.valid)
		}
		if got := tt.format.ContentType(); got != tt.contentType {
			t.Errorf("Format(%q).ContentType() = %q, want %q", tt.format, got, tt.contentType)
		}
	}
}

func TestResampleLength(t *testing.T) {
	a := audio.New(sine(1000, 440, 22050), 22050)

	for _, n := range []int{500, 1000, 1500, 1} {
		out := audio.Resample(a, n)
		if len(out.Samples) != n {
			t.Errorf("Resample(_, %d) produced %d samples", n, len(out.Samples))
		}
		if out.SampleRate != a.SampleRate {
			t.Errorf("Resample changed sample rate to %d", out.SampleRate)
		}
	}

	if out := audio.Resample(a, 0); len(out.Samples) != 0 {
		t.Errorf("Resample(_, 0) produced %d samples", len(out.Samples))
	}
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	in := make([]float32, 100)
	for i := range in {
		in[i] = 0.25
	}
	out := audio.Resample(audio.New(in, 22050), 73)
	for i, s := range out.Samples {
		if math.Abs(float64(s-0.25)) > 1e-6 {
			t.Fatalf("sample %d = %v, want 0.25", i, s)
		}
	}
}

func TestResampleSpeedRatio(t *testing.T) {
	// Speed 2.0 halves the duration, speed 0.5 doubles it.
	a := audio.New(sine(1000, 440, 22050), 22050)
	fast := audio.Resample(a, int(math.Round(float64(len(a.Samples))/2.0)))
	slow := audio.Resample(a, int(math.Round(float64(len(a.Samples))/0.5)))

	if got := fast.Duration(); math.Abs(got-a.Duration()/2) > 0.001 {
		t.Errorf("fast duration = %v, want %v", got, a.Duration()/2)
	}
	if got := slow.Duration(); math.Abs(got-a.Duration()*2) > 0.001 {
		t.Errorf("slow duration = %v, want %v", got, a.Duration()*2)
	}
}
