package segment

import (
	"testing"

	"github.com/MrWong99/tara/pkg/audio"
)

func TestClassify_Boundaries(t *testing.T) {
	c := DefaultNoiseConfig()
	tests := []struct {
		rms  float64
		want NoiseTier
	}{
		{0, TierMild},
		{0.005, TierMild},
		{0.0099, TierMild},
		{0.01, TierMedium},
		{0.02, TierMedium},
		{0.0299, TierMedium},
		{0.03, TierAggressive},
		{0.05, TierAggressive},
		{0.9, TierAggressive},
	}
	for _, tc := range tests {
		if got := c.Classify(tc.rms); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.rms, got, tc.want)
		}
	}
}

func TestStrength(t *testing.T) {
	c := DefaultNoiseConfig()
	for tier, want := range map[NoiseTier]float64{TierMild: 0.4, TierMedium: 0.7, TierAggressive: 1.0} {
		if got := c.Strength(tier); got != want {
			t.Errorf("Strength(%v) = %v, want %v", tier, got, want)
		}
	}
}

func TestProfile_UsesFirstSecondOnly(t *testing.T) {
	c := DefaultNoiseConfig()
	// One quiet second followed by a loud one.
	samples := make([]int16, 32000)
	for i := 16000; i < len(samples); i++ {
		samples[i] = 20000
	}
	rms, tier := c.Profile(samples, 16000)
	if rms != 0 || tier != TierMild {
		t.Errorf("Profile = %v, %v; want 0, mild", rms, tier)
	}
}

func TestProfile_ShortSegmentUsesWhole(t *testing.T) {
	c := DefaultNoiseConfig()
	samples := make([]int16, 8000)
	for i := range samples {
		samples[i] = 1000 // ≈ 0.0305 normalized
	}
	rms, tier := c.Profile(samples, 16000)
	if tier != TierAggressive {
		t.Errorf("tier = %v (rms %v), want aggressive", tier, rms)
	}
	if rms != audio.RMS(samples) {
		t.Errorf("rms = %v, want %v", rms, audio.RMS(samples))
	}
}

func TestNoiseTier_String(t *testing.T) {
	if TierMedium.String() != "medium" || NoiseTier(9).String() != "NoiseTier(9)" {
		t.Error("unexpected tier names")
	}
}
