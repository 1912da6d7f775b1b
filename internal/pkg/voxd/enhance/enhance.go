// Package enhance applies an optional signal-conditioning pass to synthesized
// audio before encoding. The chain is deterministic and identical for every
// engine: peak normalization, first-order high-pass smoothing, hard limiting,
// then soft-knee compression.
package enhance

import (
	"math"

	"github.com/rs/zerolog/log"

	"voxd/internal/pkg/voxd/audio"
)

const (
	targetPeak     = 0.85
	highpassAlpha  = 0.95
	limitThreshold = 0.95
	compressorKnee = 0.7
	compressRatio  = 3.0
)

// Process returns a conditioned copy of a. Enhancement is best-effort: any
// panic inside the chain is recovered and the original audio is returned
// unmodified.
func Process(a *audio.Audio) (out *audio.Audio) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("reason", r).Msg("Audio enhancement failed, using raw audio")
			out = a
		}
	}()

	samples := make([]float32, len(a.Samples))
	copy(samples, a.Samples)

	normalizePeak(samples)
	highpass(samples)
	limit(samples)
	compress(samples)

	return audio.New(samples, a.SampleRate)
}

// normalizePeak scales so the maximum absolute sample equals targetPeak.
// Silent input (max == 0) is left untouched.
func normalizePeak(samples []float32) {
	var max float32
	for _, s := range samples {
		if abs := float32(math.Abs(float64(s))); abs > max {
			max = abs
		}
	}
	if max == 0 {
		return
	}
	gain := targetPeak / max
	for i := range samples {
		samples[i] *= gain
	}
}

// highpass runs a first-order difference filter over the full sequence:
// filtered[i] = α·filtered[i-1] + α·(x[i] - x[i-1]).
func highpass(samples []float32) {
	if len(samples) < 2 {
		return
	}
	prevIn := samples[0]
	prevOut := samples[0]
	for i := 1; i < len(samples); i++ {
		in := samples[i]
		out := highpassAlpha*prevOut + highpassAlpha*(in-prevIn)
		samples[i] = out
		prevIn = in
		prevOut = out
	}
}

func limit(samples []float32) {
	for i, s := range samples {
		if s > limitThreshold {
			samples[i] = limitThreshold
		} else if s < -limitThreshold {
			samples[i] = -limitThreshold
		}
	}
}

// compress applies sample-wise soft-knee 3:1 compression above the knee,
// preserving sign.
func compress(samples []float32) {
	for i, s := range samples {
		abs := float32(math.Abs(float64(s)))
		if abs <= compressorKnee {
			continue
		}
		excess := (abs - compressorKnee) / compressRatio
		if s < 0 {
			samples[i] = -(compressorKnee + excess)
		} else {
			samples[i] = compressorKnee + excess
		}
	}
}
