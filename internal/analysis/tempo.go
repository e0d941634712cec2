/*
 * Copyright (c) 2025 Hardiyanto Y -Ebiet.
 * This software is part of the HDX (Hardix Audio) project.
 * This code is provided "as is", without warranty of any kind.
 */

package analysis

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	MinBPM = 60.0
	MaxBPM = 180.0
)

// EstimateTempo guesses the tempo of an energy envelope sampled at rate
// values per second. It autocorrelates the onset strength and picks the
// strongest lag inside [MinBPM, MaxBPM]. Zero means no usable pulse.
func EstimateTempo(env []float64, rate float64) float64 {
	if rate <= 0 || len(env) < 2 {
		return 0
	}

	// onset strength: rises in energy only
	onset := make([]float64, len(env)-1)
	var mean float64
	for i := 1; i < len(env); i++ {
		if d := env[i] - env[i-1]; d > 0 {
			onset[i-1] = d
		}
		mean += onset[i-1]
	}
	mean /= float64(len(onset))
	for i := range onset {
		onset[i] -= mean
	}

	minLag := int(math.Ceil(rate * 60 / MaxBPM))
	maxLag := int(math.Floor(rate * 60 / MinBPM))
	if minLag < 1 {
		minLag = 1
	}
	if len(onset) < 2*maxLag {
		return 0
	}

	ac := autocorrelate(onset)
	if ac[0] <= 0 {
		return 0
	}

	best := -1
	for lag := minLag; lag <= maxLag; lag++ {
		if best < 0 || ac[lag] > ac[best] {
			best = lag
		}
	}
	if ac[best] <= 0 {
		return 0
	}

	lag := float64(best)
	if best > minLag && best < maxLag {
		a, b, c := ac[best-1], ac[best], ac[best+1]
		if den := a - 2*b + c; den != 0 {
			lag += 0.5 * (a - c) / den
		}
	}
	return 60 * rate / lag
}

// autocorrelate returns the linear autocorrelation of x for lags
// 0..len(x)-1, computed through the power spectrum.
func autocorrelate(x []float64) []float64 {
	n := 1
	for n < 2*len(x) {
		n <<= 1
	}
	padded := make([]float64, n)
	copy(padded, x)

	freq := fft.FFTReal(padded)
	for i, v := range freq {
		m := cmplx.Abs(v)
		freq[i] = complex(m*m, 0)
	}
	back := fft.IFFT(freq)

	out := make([]float64, len(x))
	for i := range out {
		out[i] = real(back[i])
	}
	return out
}
