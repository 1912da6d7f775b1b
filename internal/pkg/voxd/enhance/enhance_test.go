package enhance_test

import (
	"math"
	"testing"

	"voxd/internal/pkg/voxd/audio"
	"voxd/internal/pkg/voxd/enhance"
)

func sine(n int, freq float64, rate int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestProcessPreservesShape(t *testing.T) {
	in := audio.New(sine(2000, 440, 22050, 0.3), 22050)
	out := enhance.Process(in)

	if len(out.Samples) != len(in.Samples) {
		t.Errorf("output length = %d, want %d", len(out.Samples), len(in.Samples))
	}
	if out.SampleRate != in.SampleRate {
		t.Errorf("output rate = %d, want %d", out.SampleRate, in.SampleRate)
	}
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	in := audio.New(sine(500, 440, 22050, 0.3), 22050)
	before := make([]float32, len(in.Samples))
	copy(before, in.Samples)

	enhance.Process(in)

	for i := range before {
		if in.Samples[i] != before[i] {
			t.Fatalf("input sample %d mutated", i)
		}
	}
}

func TestProcessBoundsOutput(t *testing.T) {
	// A hot signal must come out within the limiter bound regardless of
	// the stage interactions.
	in := audio.New(sine(2000, 440, 22050, 1.8), 22050)
	out := enhance.Process(in)

	for i, s := range out.Samples {
		if s > 0.95 || s < -0.95 {
			t.Fatalf("sample %d = %v, outside limiter bound", i, s)
		}
	}
}

func TestProcessQuietSignalGainsLevel(t *testing.T) {
	in := audio.New(sine(2000, 440, 22050, 0.05), 22050)
	out := enhance.Process(in)

	var peak float64
	for _, s := range out.Samples {
		if abs := math.Abs(float64(s)); abs > peak {
			peak = abs
		}
	}
	if peak < 0.3 {
		t.Errorf("output peak = %v, expected normalization to raise quiet input", peak)
	}
}

func TestProcessSilentInputStaysSilent(t *testing.T) {
	in := audio.New(make([]float32, 1000), 22050)
	out := enhance.Process(in)

	for i, s := range out.Samples {
		if s != 0 {
			t.Fatalf("sample %d = %v, want 0 for silent input", i, s)
		}
	}
}

func TestProcessEmptyInput(t *testing.T) {
	out := enhance.Process(audio.New(nil, 22050))
	if len(out.Samples) != 0 {
		t.Errorf("output length = %d, want 0", len(out.Samples))
	}
}
