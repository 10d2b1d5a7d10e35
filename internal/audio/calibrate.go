package audio

import (
	"fmt"
	"image"
	"math"
	"time"
)

// CalibrationResult is the measured offset between the camera's video and
// audio timelines, from a recording of the flash-and-beep calibration clip.
type CalibrationResult struct {
	Flashes    []float64
	Beeps      []float64
	MeanOffset time.Duration
	MaxOffset  time.Duration
}

// ROIIntensity returns the mean luma of a window centered at the given
// frame ratios. The calibration clip flashes the whole screen, so a small
// central window is enough and cheap.
func ROIIntensity(g *image.Gray, xRatio, yRatio float64, window int) float64 {
	b := g.Bounds()
	cx := b.Min.X + int(float64(b.Dx())*xRatio)
	cy := b.Min.Y + int(float64(b.Dy())*yRatio)
	half := window / 2

	var sum, count int64
	for y := cy - half; y <= cy+half; y++ {
		for x := cx - half; x <= cx+half; x++ {
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
				continue
			}
			sum += int64(g.GrayAt(x, y).Y)
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// DetectFlashes returns the start time in seconds of every screen flash in
// a per-frame intensity series. A new flash only starts after the
// intensity has stayed below the threshold for fadeOutFrames, so display
// afterglow does not double-count.
func DetectFlashes(intensity []float64, fps, threshold float64, fadeOutFrames int) []float64 {
	var flashes []float64
	below := fadeOutFrames
	for i, v := range intensity {
		if v > threshold {
			if below >= fadeOutFrames {
				flashes = append(flashes, float64(i)/fps)
			}
			below = 0
		} else {
			below++
		}
	}
	return flashes
}

// DetectBeeps returns the start time in seconds of every beep in the clip.
// Bursts separated by less than minSilence are merged into one beep.
func DetectBeeps(c *Clip, threshold, minSilence float64) []float64 {
	minGap := int(minSilence * float64(c.SampleRate))

	var beeps []float64
	lastLoud := -minGap - 1
	for i, s := range c.Samples {
		if math.Abs(s) > threshold {
			if i-lastLoud > minGap {
				beeps = append(beeps, float64(i)/float64(c.SampleRate))
			}
			lastLoud = i
		}
	}
	return beeps
}

// Offset pairs the first count flashes with the first count beeps and
// reports the mean and worst flash-minus-beep offset. A positive offset
// means the camera records video later than audio.
func Offset(flashes, beeps []float64, count int) (*CalibrationResult, error) {
	if len(flashes) < count || len(beeps) < count {
		return nil, fmt.Errorf("expected %d flash and beep events, got %d flashes and %d beeps",
			count, len(flashes), len(beeps))
	}

	var sum, worst float64
	for i := 0; i < count; i++ {
		d := flashes[i] - beeps[i]
		sum += d
		if math.Abs(d) > math.Abs(worst) {
			worst = d
		}
	}
	mean := sum / float64(count)

	return &CalibrationResult{
		Flashes:    flashes[:count],
		Beeps:      beeps[:count],
		MeanOffset: time.Duration(mean * float64(time.Second)),
		MaxOffset:  time.Duration(worst * float64(time.Second)),
	}, nil
}
