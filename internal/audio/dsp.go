package audio

import "math"

// dcBlockCutoffHz is the corner of the DC blocking high-pass.
const dcBlockCutoffHz = 20.0

// Hook is a post-processing step over a sample buffer. Hooks may modify the
// buffer in place.
type Hook func(samples []float32) []float32

func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// Levels returns the absolute peak and the RMS of samples.
func Levels(samples []float32) (peak, rms float64) {
	if len(samples) == 0 {
		return 0, 0
	}

	var sum float64
	for _, s := range samples {
		v := float64(s)
		peak = math.Max(peak, math.Abs(v))
		sum += v * v
	}

	return peak, math.Sqrt(sum / float64(len(samples)))
}

// PeakNormalize scales samples in place so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		peak = max(peak, float32(math.Abs(float64(s))))
	}

	if peak == 0 {
		return samples
	}

	gain := 1 / peak
	for i := range samples {
		samples[i] *= gain
	}

	return samples
}

// DCBlock removes DC offset in place with a one-pole high-pass:
// y[n] = x[n] - x[n-1] + r*y[n-1].
func DCBlock(samples []float32, sampleRate int) []float32 {
	if sampleRate < 1 || len(samples) == 0 {
		return samples
	}

	r := math.Exp(-2 * math.Pi * dcBlockCutoffHz / float64(sampleRate))

	var prevX, prevY float64
	for i, s := range samples {
		x := float64(s)
		y := x - prevX + r*prevY
		prevX, prevY = x, y
		samples[i] = float32(y)
	}

	return samples
}

// fadeLength converts ms to a sample count, clamped to n.
func fadeLength(n, sampleRate int, ms float64) int {
	if ms <= 0 || sampleRate < 1 {
		return 0
	}

	return min(n, int(ms/1000*float64(sampleRate)))
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeLength(len(samples), sampleRate, ms)
	for i := range n {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in milliseconds.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeLength(len(samples), sampleRate, ms)
	last := len(samples) - 1
	for i := range n {
		samples[last-i] *= float32(i) / float32(n)
	}

	return samples
}
