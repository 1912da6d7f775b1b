package audio

// Resample stretches or squeezes a to exactly n samples using linear
// interpolation, preserving pitch. Used as speed control for engines without
// a native rate mechanism: n = round(len/speed).
func Resample(a *Audio, n int) *Audio {
	in := a.Samples
	if n <= 0 || len(in) == 0 {
		return New(nil, a.SampleRate)
	}
	if n == len(in) {
		out := make([]float32, n)
		copy(out, in)
		return New(out, a.SampleRate)
	}

	out := make([]float32, n)
	ratio := float64(len(in)-1) / float64(n-1)
	if n == 1 {
		ratio = 0
	}
	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := in[srcIdx]
		s1 := s0
		if srcIdx+1 < len(in) {
			s1 = in[srcIdx+1]
		}
		out[i] = s0 + float32(frac)*(s1-s0)
	}

	return New(out, a.SampleRate)
}
