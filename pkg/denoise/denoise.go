// Package denoise reduces stationary background noise in recorded segments.
//
// The recorder picks a strength in [0, 1] from the segment's noise tier and
// hands the segment to a [Denoiser]. [SpectralGate] is the production
// implementation; [Passthrough] disables noise reduction.
package denoise

import "slices"

// Denoiser removes background noise from mono 16-bit PCM.
//
// Implementations must be deterministic: the same samples, rate, and strength
// always produce the same output. The returned slice has the same length as
// samples and never aliases it.
type Denoiser interface {
	Reduce(samples []int16, sampleRate int, strength float64) ([]int16, error)
}

// Passthrough is a [Denoiser] that returns its input unchanged.
type Passthrough struct{}

// Reduce returns a copy of samples.
func (Passthrough) Reduce(samples []int16, _ int, _ float64) ([]int16, error) {
	return slices.Clone(samples), nil
}

var _ Denoiser = Passthrough{}
