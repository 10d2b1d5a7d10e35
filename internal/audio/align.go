package audio

import (
	"fmt"
	"math"
	"time"

	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
)

// MinConfidence is the correlation floor below which a located segment is
// treated as not present.
const MinConfidence = 0.5

// Segment is one mezzanine slice located (or not) in the recording.
type Segment struct {
	// MediaTime is the segment's start within the mezzanine, in ms.
	MediaTime float64
	// Offset is the sample offset within the recording, -1 when the
	// segment was not found with sufficient confidence.
	Offset     int
	Confidence float64
}

// Found reports whether the segment was located.
func (s Segment) Found() bool { return s.Offset >= 0 }

// Alignment maps the mezzanine timeline onto the recording.
type Alignment struct {
	// OffsetSamples is where mezzanine time zero sits in the recording.
	OffsetSamples int
	// Checks are the probe segments used to establish the alignment.
	Checks []Segment
}

// Align establishes where the mezzanine signal starts within the
// recording. checkCount probe segments of segmentDur are spread evenly
// through the mezzanine and located independently; the alignment is
// accepted once at least two probes agree on the same offset. A single
// probe can lock onto a PN repeat, two agreeing ones practically cannot.
func Align(recording, mezzanine *Clip, segmentDur time.Duration, checkCount int) (*Alignment, error) {
	if recording.SampleRate != mezzanine.SampleRate {
		return nil, fmt.Errorf("sample rate mismatch: recording %d, mezzanine %d",
			recording.SampleRate, mezzanine.SampleRate)
	}
	rate := recording.SampleRate
	segLen := int(segmentDur.Seconds() * float64(rate))
	if segLen <= 0 || segLen > len(mezzanine.Samples) {
		return nil, fmt.Errorf("segment duration %s does not fit the mezzanine", segmentDur)
	}
	if checkCount < 2 {
		checkCount = 2
	}

	span := len(mezzanine.Samples) - segLen
	checks := make([]Segment, 0, checkCount)
	diffs := make([]int, 0, checkCount)

	for k := 0; k < checkCount; k++ {
		pos := span * k / (checkCount - 1)
		segment := mezzanine.Samples[pos : pos+segLen]
		m := Locate(recording.Samples, segment)

		seg := Segment{
			MediaTime:  float64(pos) / float64(rate) * 1000,
			Offset:     -1,
			Confidence: m.Confidence,
		}
		if m.Offset >= 0 && m.Confidence >= MinConfidence {
			seg.Offset = m.Offset
			diffs = append(diffs, m.Offset-pos)
		}
		checks = append(checks, seg)
	}

	// agreementTolerance allows for camera clock drift between probes.
	agreementTolerance := rate / 100 // 10ms

	offset, agreeing := bestAgreement(diffs, agreementTolerance)
	if agreeing < 2 {
		metrics.AudioSegmentsAlignedTotal.WithLabelValues("unaligned").Add(float64(len(checks)))
		return nil, fmt.Errorf("audio alignment failed: %d of %d probes found, no two agree",
			len(diffs), checkCount)
	}
	metrics.AudioSegmentsAlignedTotal.WithLabelValues("aligned").Add(float64(agreeing))

	logging.Debug("Audio aligned at sample offset %d (%d of %d probes agreeing)",
		offset, agreeing, checkCount)
	return &Alignment{OffsetSamples: offset, Checks: checks}, nil
}

// bestAgreement finds the offset supported by the most probes, within
// tolerance, and returns the mean of the supporting values.
func bestAgreement(diffs []int, tolerance int) (int, int) {
	bestOffset, bestCount := 0, 0
	for _, candidate := range diffs {
		sum, count := 0, 0
		for _, d := range diffs {
			if abs(d-candidate) <= tolerance {
				sum += d
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			bestOffset = int(math.Round(float64(sum) / float64(count)))
		}
	}
	return bestOffset, bestCount
}

// ScanSegments locates every consecutive mezzanine segment of segmentDur
// in the recording. With the alignment known, each segment is searched
// only within a neighborhood window around its expected position, keeping
// the scan linear in content length.
func ScanSegments(recording, mezzanine *Clip, align *Alignment, segmentDur, neighborhood time.Duration) []Segment {
	rate := recording.SampleRate
	segLen := int(segmentDur.Seconds() * float64(rate))
	if segLen <= 0 {
		return nil
	}
	hood := int(neighborhood.Seconds() * float64(rate))

	count := len(mezzanine.Samples) / segLen
	segments := make([]Segment, 0, count)

	for k := 0; k < count; k++ {
		pos := k * segLen
		segment := mezzanine.Samples[pos : pos+segLen]
		expected := align.OffsetSamples + pos

		lo := max(0, expected-hood)
		hi := min(len(recording.Samples), expected+segLen+hood)

		seg := Segment{
			MediaTime: float64(pos) / float64(rate) * 1000,
			Offset:    -1,
		}
		if hi-lo >= segLen {
			m := Locate(recording.Samples[lo:hi], segment)
			seg.Confidence = m.Confidence
			if m.Offset >= 0 && m.Confidence >= MinConfidence {
				seg.Offset = lo + m.Offset
			}
		}
		segments = append(segments, seg)
	}
	return segments
}

// ObservedTimeMs converts a located segment offset to the recording
// timeline in milliseconds.
func ObservedTimeMs(seg Segment, align *Alignment, rate int) float64 {
	return float64(seg.Offset-align.OffsetSamples) / float64(rate) * 1000
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
