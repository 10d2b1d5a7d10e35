package observe

import (
	"fmt"
	"math"
	"strings"

	"playback-observer/internal/audio"
	"playback-observer/internal/qr"
)

// AudioInput is the aligned audio evidence for one test. Nil when the test
// content has no audio or alignment failed; audio observations then report
// NOT_RUN.
type AudioInput struct {
	Segments   []audio.Segment
	Alignment  *audio.Alignment
	SampleRate int
}

func checkAudioEverySampleRendered(in *Input) Result {
	r := Result{
		Kind:    AudioEverySampleRendered,
		Name:    "[OF] Every audio sample shall be rendered and the samples shall be rendered in increasing presentation time order.",
		Verdict: NotRun,
	}
	if in.Audio == nil || in.Audio.Alignment == nil {
		r.Message = "Audio could not be aligned against the mezzanine; observation not run."
		return r
	}

	var missing []float64
	for _, seg := range in.Audio.Segments {
		if !seg.Found() {
			missing = append(missing, seg.MediaTime)
		}
	}

	if len(missing) == 0 {
		r.Verdict = Pass
		r.Message = fmt.Sprintf("All %d audio segments located.", len(in.Audio.Segments))
		return r
	}

	r.Verdict = Fail
	limit := len(missing)
	if limit > reportFailureLimit {
		limit = reportFailureLimit
	}
	r.Message = fmt.Sprintf("%d of %d audio segments missing. Missing segment media times (ms):",
		len(missing), len(in.Audio.Segments))
	for _, t := range missing[:limit] {
		r.Message += fmt.Sprintf(" %.1f", t)
	}
	return r
}

func checkAudioDurationMatchesTrack(in *Input) Result {
	r := Result{
		Kind:    AudioDurationMatchesTrack,
		Name:    "[OF] The audio playback duration matches the duration of the CMAF Track.",
		Verdict: NotRun,
	}
	if in.Audio == nil || in.Audio.Alignment == nil {
		r.Message = "Audio could not be aligned against the mezzanine; observation not run."
		return r
	}
	p := in.Params

	var first, last *audio.Segment
	for i := range in.Audio.Segments {
		seg := &in.Audio.Segments[i]
		if !seg.Found() {
			continue
		}
		if first == nil {
			first = seg
		}
		last = seg
	}
	if first == nil {
		r.Verdict = Fail
		r.Message = "No audio segment was located in the recording."
		return r
	}

	measured := float64(last.Offset-first.Offset)/float64(in.Audio.SampleRate)*1000 +
		segmentLengthMs(in.Audio.Segments)
	expected := p.ExpectedAudioTrackDurationMs
	if expected == 0 {
		expected = p.ExpectedTrackDurationMs
	}
	tolerance := p.DurationToleranceMs

	r.Message = fmt.Sprintf("Expected audio track duration is %.2fms, detected audio "+
		"duration is %.2fms. Allowed tolerance is %.2fms.", expected, measured, tolerance)
	if math.Abs(measured-expected) <= tolerance {
		r.Verdict = Pass
	} else {
		r.Verdict = Fail
	}
	return r
}

func checkAudioStartUpDelay(in *Input) Result {
	r := Result{
		Kind:    AudioStartUpDelay,
		Name:    "[OF] The audio start-up delay should be sufficiently low.",
		Verdict: NotRun,
	}
	if in.Audio == nil || in.Audio.Alignment == nil {
		r.Message = "Audio could not be aligned against the mezzanine; observation not run."
		return r
	}
	p := in.Params

	eventFound, eventCt := findEvent("play", in.Status, p.CameraFrameDurationMs)
	if !eventFound {
		r.Verdict = Fail
		r.Message = "A test status QR code with first 'play' last_action " +
			"followed by a further test status QR code was not found."
		return r
	}

	for _, seg := range in.Audio.Segments {
		if !seg.Found() {
			continue
		}
		observedMs := float64(seg.Offset) / float64(in.Audio.SampleRate) * 1000
		delay := observedMs - eventCt
		r.Message = fmt.Sprintf("Maximum permitted startup delay is %.0fms. "+
			"The audio start up delay is %.4fms.", p.TsMaxMs, delay)
		if delay < p.TsMaxMs {
			r.Verdict = Pass
		} else {
			r.Verdict = Fail
		}
		return r
	}

	r.Verdict = Fail
	r.Message = "No audio segment was located in the recording."
	return r
}

func checkAudioSampleMatchesCurrentTime(in *Input) Result {
	r := Result{
		Kind: AudioSampleMatchesCurrentTime,
		Name: "[OF] The audio sample being played matches the one reported by the " +
			"currentTime value within the tolerance of the sample duration.",
		Verdict: NotRun,
	}
	if in.Audio == nil || in.Audio.Alignment == nil {
		r.Message = "Audio could not be aligned against the mezzanine; observation not run."
		return r
	}
	p := in.Params
	tolerance := p.ToleranceMs + segmentLengthMs(in.Audio.Segments)

	playSeen := false
	failures := 0
	checked := 0
	var failMsg strings.Builder

	for _, s := range in.Status {
		if !playSeen {
			if s.LastAction == "play" {
				playSeen = true
			}
			continue
		}
		if s.CurrentTime == nil || s.Delay == nil {
			continue
		}
		eventMs := float64(s.CameraFrameIndex)*p.CameraFrameDurationMs - *s.Delay
		mediaAt, found := audioMediaTimeAt(in.Audio, eventMs)
		if !found {
			continue
		}
		checked++

		if diff := math.Abs(mediaAt - *s.CurrentTime*1000); diff > tolerance {
			failures++
			if failures <= reportFailureLimit {
				fmt.Fprintf(&failMsg, " currentTime %.3fs audio media time differs by %.4fms.",
					*s.CurrentTime, diff)
			}
		}
	}

	if checked == 0 {
		r.Verdict = Fail
		r.Message = "No usable currentTime status reports found after playback start."
		return r
	}
	if failures == 0 {
		r.Verdict = Pass
		r.Message = fmt.Sprintf("%d currentTime reports checked against the audio track.", checked)
	} else {
		r.Verdict = Fail
		r.Message = fmt.Sprintf("%d of %d currentTime reports did not match the rendered audio.%s",
			failures, checked, failMsg.String())
	}
	return r
}

func checkAudioUnexpectedSampleNotRendered(in *Input) Result {
	r := Result{
		Kind: AudioUnexpectedSampleNotRendered,
		Name: "[OF] No audio sample earlier than the random access point or from an " +
			"unserved period shall be rendered.",
		Verdict: NotRun,
	}
	if in.Audio == nil || in.Audio.Alignment == nil {
		r.Message = "Audio could not be aligned against the mezzanine; observation not run."
		return r
	}
	p := in.Params

	var lo, hi float64
	switch in.Type {
	case RandomAccess:
		hi = p.RandomAccessTimeMs
		if p.RandomAccessFragment > 0 && p.FragmentDurationMs > 0 {
			hi = float64(p.RandomAccessFragment-1) * p.FragmentDurationMs
		}
	case Gaps:
		if len(p.PeriodDurationsMs) >= 2 {
			lo = p.PeriodDurationsMs[0]
			hi = lo + p.PeriodDurationsMs[1]
		}
	}

	var unexpected []float64
	for _, seg := range in.Audio.Segments {
		if seg.Found() && seg.MediaTime >= lo && seg.MediaTime < hi {
			unexpected = append(unexpected, seg.MediaTime)
		}
	}

	if len(unexpected) == 0 {
		r.Verdict = Pass
		r.Message = fmt.Sprintf("No audio from the excluded range [%.0fms, %.0fms) was rendered.", lo, hi)
		return r
	}
	r.Verdict = Fail
	limit := len(unexpected)
	if limit > reportFailureLimit {
		limit = reportFailureLimit
	}
	r.Message = fmt.Sprintf("Following %d audio segments from the excluded range "+
		"[%.0fms, %.0fms) were rendered. Segment media times (ms):", len(unexpected), lo, hi)
	for _, t := range unexpected[:limit] {
		r.Message += fmt.Sprintf(" %.1f", t)
	}
	return r
}

func checkAudioVideoSynchronization(in *Input) Result {
	r := Result{
		Kind:    AudioVideoSynchronization,
		Name:    "[OF] The audio and video playback shall be synchronized.",
		Verdict: NotRun,
	}
	if in.Audio == nil || in.Audio.Alignment == nil {
		r.Message = "Audio could not be aligned against the mezzanine; observation not run."
		return r
	}
	p := in.Params
	tolerance := p.AVSyncToleranceMs
	if tolerance == 0 {
		tolerance = p.ToleranceMs
	}

	// Pair every located audio segment with the video sighting carrying the
	// nearest media time, then compare their recording-timeline positions.
	var sum float64
	var count int
	for _, seg := range in.Audio.Segments {
		if !seg.Found() {
			continue
		}
		m := nearestSighting(in, seg.MediaTime)
		if m == nil {
			continue
		}
		videoMs := float64(m.CameraFrameIndex) * p.CameraFrameDurationMs
		audioMs := float64(seg.Offset) / float64(in.Audio.SampleRate) * 1000
		sum += videoMs - audioMs - p.CalibrationOffsetMs
		count++
	}

	if count == 0 {
		r.Verdict = Fail
		r.Message = "No audio segment could be paired with a rendered video sample."
		return r
	}

	mean := sum / float64(count)
	r.Message = fmt.Sprintf("Mean audio to video offset is %.4fms over %d pairs, "+
		"allowed tolerance is %.2fms (camera calibration offset %.2fms applied).",
		mean, count, tolerance, p.CalibrationOffsetMs)
	if math.Abs(mean) <= tolerance {
		r.Verdict = Pass
	} else {
		r.Verdict = Fail
	}
	return r
}

// segmentLengthMs is the media time one segment covers, read off the
// spacing of the segmentation rather than configured separately.
func segmentLengthMs(segments []audio.Segment) float64 {
	if len(segments) < 2 {
		return 0
	}
	return segments[1].MediaTime - segments[0].MediaTime
}

// audioMediaTimeAt interpolates the audio media time playing at a point on
// the recording timeline, anchored on the nearest located segment.
func audioMediaTimeAt(a *AudioInput, recordingMs float64) (float64, bool) {
	bestDiff := math.MaxFloat64
	best := -1
	for i, seg := range a.Segments {
		if !seg.Found() {
			continue
		}
		observedMs := float64(seg.Offset) / float64(a.SampleRate) * 1000
		if d := math.Abs(observedMs - recordingMs); d < bestDiff {
			bestDiff = d
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	seg := a.Segments[best]
	observedMs := float64(seg.Offset) / float64(a.SampleRate) * 1000
	return seg.MediaTime + (recordingMs - observedMs), true
}

func nearestSighting(in *Input, mediaTimeMs float64) (best *qr.Mezzanine) {
	bestDiff := math.MaxFloat64
	for _, m := range in.Video {
		if d := math.Abs(m.MediaTime - mediaTimeMs); d < bestDiff {
			bestDiff = d
			best = m
		}
	}
	// A pair further apart than one video frame is not the same moment.
	if best != nil && bestDiff > 1000/best.FrameRate {
		return nil
	}
	return best
}
