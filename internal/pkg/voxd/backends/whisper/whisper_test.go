package whisper

import (
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: make([]float32, 1600), want: 0},
		{name: "constant", samples: []float32{0.5, 0.5, 0.5, 0.5}, want: 0.5},
		{name: "alternating", samples: []float32{0.5, -0.5, 0.5, -0.5}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rms(tt.samples)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("rms() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSilenceThreshold(t *testing.T) {
	quiet := make([]float32, 16000)
	for i := range quiet {
		quiet[i] = float32(math.Sin(float64(i)/80)) * 0.002
	}
	if rms(quiet) >= silenceRMS {
		t.Errorf("quiet signal rms %v should fall below threshold %v", rms(quiet), silenceRMS)
	}

	speech := make([]float32, 16000)
	for i := range speech {
		speech[i] = float32(math.Sin(float64(i)/80)) * 0.1
	}
	if rms(speech) < silenceRMS {
		t.Errorf("speech-level signal rms %v should exceed threshold %v", rms(speech), silenceRMS)
	}
}
