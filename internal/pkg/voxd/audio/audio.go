// Package audio holds the PCM sample type shared by every engine and the
// WAV codec used to ship it over the wire.
package audio

// Audio is a finite, ordered sequence of mono float32 PCM samples nominally
// in [-1, 1]. Samples are not hard-clipped until encoding.
type Audio struct {
	Samples    []float32
	SampleRate int
}

func New(samples []float32, sampleRate int) *Audio {
	return &Audio{
		Samples:    samples,
		SampleRate: sampleRate,
	}
}

// Duration returns the playback length in seconds.
func (a *Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}
