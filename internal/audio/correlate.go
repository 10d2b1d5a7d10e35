package audio

import (
	"math"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"

	"playback-observer/internal/metrics"
)

// Match is the result of locating a reference segment inside a subject
// signal.
type Match struct {
	// Offset is the sample offset of the segment start within the subject.
	Offset int
	// Confidence is the normalized correlation peak in [0, 1]. Values
	// below ~0.5 mean the segment is probably not present at all.
	Confidence float64
}

// Locate finds the most likely position of segment within subject using
// FFT cross-correlation. Runs in O(n log n) of the padded length, which is
// what makes scanning minutes of 48kHz audio practical.
func Locate(subject, segment []float64) Match {
	start := time.Now()
	defer func() {
		metrics.AudioCorrelationDuration.Observe(time.Since(start).Seconds())
	}()

	if len(subject) == 0 || len(segment) == 0 || len(segment) > len(subject) {
		return Match{Offset: -1}
	}

	n := nextPow2(len(subject) + len(segment) - 1)
	a := pad(subject, n)
	b := pad(segment, n)

	fa := fft.FFTReal(a)
	fb := fft.FFTReal(b)
	for i := range fa {
		fa[i] *= cmplx.Conj(fb[i])
	}
	corr := fft.IFFT(fa)

	bestIdx, bestVal := 0, 0.0
	limit := len(subject) - len(segment) + 1
	for i := 0; i < limit; i++ {
		v := cmplx.Abs(corr[i])
		if v > bestVal {
			bestVal = v
			bestIdx = i
		}
	}

	return Match{
		Offset:     bestIdx,
		Confidence: normalizedPeak(subject, segment, bestIdx, bestVal),
	}
}

// normalizedPeak scales the raw correlation peak by the energy of the
// segment and the aligned subject window, giving a comparable score across
// signals of any amplitude.
func normalizedPeak(subject, segment []float64, offset int, peak float64) float64 {
	var segEnergy, winEnergy float64
	for i, s := range segment {
		segEnergy += s * s
		w := subject[offset+i]
		winEnergy += w * w
	}
	denom := math.Sqrt(segEnergy * winEnergy)
	if denom == 0 {
		return 0
	}
	c := peak / denom
	if c > 1 {
		c = 1
	}
	return c
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func pad(s []float64, n int) []float64 {
	out := make([]float64, n)
	copy(out, s)
	return out
}
