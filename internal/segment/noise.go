package segment

import (
	"fmt"

	"github.com/MrWong99/tara/pkg/audio"
)

// NoiseTier is the background-noise class of a segment.
type NoiseTier int

const (
	TierMild NoiseTier = iota
	TierMedium
	TierAggressive
)

// String returns the lowercase tier name.
func (t NoiseTier) String() string {
	switch t {
	case TierMild:
		return "mild"
	case TierMedium:
		return "medium"
	case TierAggressive:
		return "aggressive"
	default:
		return fmt.Sprintf("NoiseTier(%d)", int(t))
	}
}

// NoiseConfig maps segment loudness to a tier and each tier to a noise
// reduction strength.
type NoiseConfig struct {
	// MildBelow is the RMS under which a segment is TierMild.
	MildBelow float64

	// MediumBelow is the RMS under which a segment is TierMedium; anything
	// louder is TierAggressive.
	MediumBelow float64

	MildStrength       float64
	MediumStrength     float64
	AggressiveStrength float64
}

// DefaultNoiseConfig returns the stock thresholds and strengths.
func DefaultNoiseConfig() NoiseConfig {
	return NoiseConfig{
		MildBelow:          0.01,
		MediumBelow:        0.03,
		MildStrength:       0.4,
		MediumStrength:     0.7,
		AggressiveStrength: 1.0,
	}
}

// Classify returns the tier for rms. A value equal to a threshold falls in the
// tier above it.
func (c NoiseConfig) Classify(rms float64) NoiseTier {
	switch {
	case rms < c.MildBelow:
		return TierMild
	case rms < c.MediumBelow:
		return TierMedium
	default:
		return TierAggressive
	}
}

// Strength returns the reduction strength for t.
func (c NoiseConfig) Strength(t NoiseTier) float64 {
	switch t {
	case TierMild:
		return c.MildStrength
	case TierMedium:
		return c.MediumStrength
	default:
		return c.AggressiveStrength
	}
}

// Profile measures the first second of samples (or all of them, if shorter)
// and returns its normalized RMS and tier.
func (c NoiseConfig) Profile(samples []int16, sampleRate int) (float64, NoiseTier) {
	window := samples
	if sampleRate > 0 && len(window) > sampleRate {
		window = window[:sampleRate]
	}
	rms := audio.RMS(window)
	return rms, c.Classify(rms)
}
