package denoise

import (
	"errors"
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// DefaultWindow is the STFT window length in samples.
	DefaultWindow = 512

	// DefaultThresholdStd is how many standard deviations a bin must rise
	// above its noise mean to count as signal.
	DefaultThresholdStd = 1.5

	// noiseQuantile selects the quietest share of frames as the noise
	// estimate.
	noiseQuantile = 0.5

	fullScale = 32768.0
	epsilon   = 1e-10
)

// SpectralGate is a stationary spectral-gating noise reducer.
//
// It takes a short-time Fourier transform (sqrt-Hann window, 50 % overlap),
// estimates a per-bin noise threshold from the quietest frames as mean plus
// ThresholdStd standard deviations of the dB magnitude, attenuates bins below
// the threshold by the requested strength, smooths the resulting mask across
// neighbouring bins and frames, and resynthesises by overlap-add.
//
// The zero value uses [DefaultWindow] and [DefaultThresholdStd].
type SpectralGate struct {
	// Window is the FFT length; must be even. Zero means DefaultWindow.
	Window int

	// ThresholdStd is the noise threshold in standard deviations. Zero means
	// DefaultThresholdStd.
	ThresholdStd float64
}

var _ Denoiser = (*SpectralGate)(nil)

// Reduce implements [Denoiser]. strength is clamped to [0, 1]; 0 returns the
// input unchanged and 1 silences every bin classified as noise.
func (g *SpectralGate) Reduce(samples []int16, sampleRate int, strength float64) ([]int16, error) {
	if sampleRate <= 0 {
		return nil, errors.New("denoise: sample rate must be positive")
	}
	strength = min(max(strength, 0), 1)
	if len(samples) == 0 || strength == 0 {
		return slices.Clone(samples), nil
	}

	n := g.Window
	if n == 0 {
		n = DefaultWindow
	}
	if n%2 != 0 || n < 4 {
		return nil, errors.New("denoise: window must be even and at least 4")
	}
	k := g.ThresholdStd
	if k == 0 {
		k = DefaultThresholdStd
	}
	hop := n / 2

	// Pad so every real sample is covered by exactly two frames.
	padded := hop + len(samples) + hop
	if rem := padded % hop; rem != 0 {
		padded += hop - rem
	}
	x := make([]float64, padded)
	for i, s := range samples {
		x[hop+i] = float64(s) / fullScale
	}
	frames := (padded-n)/hop + 1
	bins := n/2 + 1

	win := sqrtHann(n)
	fft := fourier.NewFFT(n)

	spec := make([][]complex128, frames)
	db := make([][]float64, frames)
	energy := make([]float64, frames)
	buf := make([]float64, n)
	for f := range frames {
		off := f * hop
		for i := range n {
			buf[i] = x[off+i] * win[i]
		}
		spec[f] = fft.Coefficients(nil, buf)
		db[f] = make([]float64, bins)
		for b, c := range spec[f] {
			m := cmplx.Abs(c)
			energy[f] += m * m
			db[f][b] = 20 * math.Log10(m+epsilon)
		}
	}

	thresh := noiseThreshold(db, energy, k)

	mask := make([][]float64, frames)
	for f := range frames {
		mask[f] = make([]float64, bins)
		for b := range bins {
			if db[f][b] > thresh[b] {
				mask[f][b] = 1
			}
		}
	}
	mask = smooth(mask)

	out := make([]float64, padded)
	seq := make([]float64, n)
	floor := 1 - strength
	for f := range frames {
		for b := range bins {
			gain := floor + (1-floor)*mask[f][b]
			spec[f][b] *= complex(gain, 0)
		}
		fft.Sequence(seq, spec[f])
		off := f * hop
		for i := range n {
			// gonum's inverse is unnormalised.
			out[off+i] += seq[i] / float64(n) * win[i]
		}
	}

	res := make([]int16, len(samples))
	for i := range res {
		v := math.Round(out[hop+i] * fullScale)
		res[i] = int16(min(max(v, math.MinInt16), math.MaxInt16))
	}
	return res, nil
}

// sqrtHann returns the square root of a periodic Hann window, so analysis
// times synthesis sums to one at 50 % overlap.
func sqrtHann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = math.Sqrt(0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// noiseThreshold returns mean + k·std of the dB magnitude per bin, computed
// over the quietest frames.
func noiseThreshold(db [][]float64, energy []float64, k float64) []float64 {
	sorted := slices.Clone(energy)
	slices.Sort(sorted)
	cut := sorted[int(float64(len(sorted)-1)*noiseQuantile)]

	bins := len(db[0])
	sum := make([]float64, bins)
	sumSq := make([]float64, bins)
	count := 0
	for f, e := range energy {
		if e > cut {
			continue
		}
		count++
		for b, v := range db[f] {
			sum[b] += v
			sumSq[b] += v * v
		}
	}

	thresh := make([]float64, bins)
	for b := range bins {
		mean := sum[b] / float64(count)
		variance := max(sumSq[b]/float64(count)-mean*mean, 0)
		thresh[b] = mean + k*math.Sqrt(variance)
	}
	return thresh
}

// smooth applies a 3×3 box filter over (frame, bin).
func smooth(mask [][]float64) [][]float64 {
	frames, bins := len(mask), len(mask[0])
	out := make([][]float64, frames)
	for f := range frames {
		out[f] = make([]float64, bins)
		for b := range bins {
			var sum float64
			var n int
			for df := -1; df <= 1; df++ {
				for db := -1; db <= 1; db++ {
					ff, bb := f+df, b+db
					if ff < 0 || ff >= frames || bb < 0 || bb >= bins {
						continue
					}
					sum += mask[ff][bb]
					n++
				}
			}
			out[f][b] = sum / float64(n)
		}
	}
	return out
}
