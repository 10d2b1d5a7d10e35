package observe

import (
	"fmt"
	"math"
	"strings"

	"playback-observer/internal/qr"
)

// reportFailureLimit caps how many individual failures one observation
// message lists.
const reportFailureLimit = 50

// cameraFrameAdjustment accounts for the possibility that a QR code became
// discernible between two camera captures. Fixed at half a camera frame by
// the recording setup.
const cameraFrameAdjustment = 0.5

func checkEverySampleRendered(in *Input) Result {
	r := Result{
		Kind: EverySampleRendered,
		Name: "[OF] Every sample S[k,s] shall be rendered and the samples shall be " +
			"rendered in increasing presentation time order.",
		Verdict: NotRun,
	}
	video, p := in.Video, in.Params

	if len(video) < 2 {
		r.Verdict = Fail
		r.Message = fmt.Sprintf("Too few mezzanine QR codes detected (%d).", len(video))
		return r
	}

	st := &renderedState{p: p}
	firstOK := st.checkFirstFrame(p.FirstFrameNum, video[0])
	lastOK := st.checkLastFrame(p.LastFrameNum, video[len(video)-1])

	var midOK bool
	switch in.Type {
	case Switching, Splicing:
		midOK = st.checkSwitching(in)
	case Truncated:
		midOK = st.checkByContentBlocks(video)
	case Gaps:
		midOK = st.checkAroundGap(video, p.GapFromFrame, p.GapToFrame)
	default:
		midOK = st.checkEveryFrame(video, 0)
	}

	r.Message = st.msg.String()
	if st.terminate {
		r.Verdict = Fail
		r.Terminate = true
		return r
	}
	if firstOK && lastOK && midOK {
		r.Verdict = Pass
	} else {
		r.Verdict = Fail
	}
	return r
}

type renderedState struct {
	p          *Params
	missing    int
	midMissing int
	outOfOrder int
	terminate  bool
	msg        strings.Builder
}

func (st *renderedState) checkFirstFrame(firstFrameNum int, first *qr.Mezzanine) bool {
	tolerance := st.p.Tolerances.StartFrameNum
	missing := abs(first.FrameNumber - firstFrameNum)
	st.missing += missing
	if missing != 0 {
		fmt.Fprintf(&st.msg, " First frame found is %d, expected to start from %d."+
			" First frame number tolerance is %d.", first.FrameNumber, firstFrameNum, tolerance)
	}
	return missing <= tolerance
}

func (st *renderedState) checkLastFrame(lastFrameNum int, last *qr.Mezzanine) bool {
	tolerance := st.p.Tolerances.EndFrameNum
	missing := abs(lastFrameNum - last.FrameNumber)
	st.missing += missing
	if missing != 0 {
		fmt.Fprintf(&st.msg, " Last frame found is %d, expected to end at %d."+
			" Last frame number tolerance is %d.", last.FrameNumber, lastFrameNum, tolerance)
	}
	return missing <= tolerance
}

// checkEveryFrame verifies that a block of sightings is contiguous and in
// increasing order. Out-of-order frames are reported separately and never
// double-counted as missing.
func (st *renderedState) checkEveryFrame(video []*qr.Mezzanine, playoutNo int) bool {
	ok := true
	tolerance := st.p.Tolerances.MidFrameNum
	if !strings.Contains(st.msg.String(), "Mid frame number tolerance") {
		fmt.Fprintf(&st.msg, " Mid frame number tolerance is %d.", tolerance)
	}

	var missing, outOfOrder []int
	for i := 1; i < len(video); i++ {
		prev, cur := video[i-1].FrameNumber, video[i].FrameNumber
		if prev+1 == cur {
			continue
		}
		ok = false
		if st.p.MissingFrameThreshold != 0 && st.missing > st.p.MissingFrameThreshold {
			continue
		}
		if prev > cur {
			fmt.Fprintf(&st.msg, " Frames out of order %d, %d.", prev, cur)
			outOfOrder = append(outOfOrder, prev, cur)
		} else {
			for f := prev + 1; f < cur; f++ {
				missing = append(missing, f)
			}
		}
	}

	missing = removeAll(missing, outOfOrder)
	st.midMissing += len(missing)
	st.missing += len(missing)
	st.outOfOrder += len(outOfOrder)

	if len(missing) > 0 {
		if playoutNo > 0 {
			fmt.Fprintf(&st.msg, " Following frames are missing in playout %d:", playoutNo)
		} else {
			st.msg.WriteString(" Following frames are missing:")
		}
		limit := len(missing)
		if st.p.MissingFrameThreshold != 0 && limit > st.p.MissingFrameThreshold {
			limit = st.p.MissingFrameThreshold
		}
		for _, f := range missing[:limit] {
			fmt.Fprintf(&st.msg, " %d", f)
		}
	}

	if st.p.MissingFrameThreshold != 0 && st.missing > st.p.MissingFrameThreshold {
		fmt.Fprintf(&st.msg, "... too many missing frames, reporting truncated. "+
			"Total of missing frames is %d. The remaining tests of this session "+
			"are not observed.", st.missing)
		st.terminate = true
		return false
	}

	if st.outOfOrder == 0 && st.midMissing <= tolerance {
		ok = true
	}
	return ok
}

// checkByContentBlocks runs the contiguity check once per content block.
func (st *renderedState) checkByContentBlocks(video []*qr.Mezzanine) bool {
	positions := contentChangePositions(video)
	ok := true
	for i, start := range positions {
		end := len(video)
		if i+1 < len(positions) {
			end = positions[i+1]
		}
		ok = st.checkEveryFrame(video[start:end], 0) && ok
	}
	return ok
}

// checkSwitching verifies block contiguity plus the exact frame numbers on
// either side of every switch point.
func (st *renderedState) checkSwitching(in *Input) bool {
	video, p := in.Video, in.Params
	positions := switchingPositions(p.Playout, p.FragmentDurationsMs)
	changes := playbackChangePositions(video)

	if len(changes) != len(positions) {
		fmt.Fprintf(&st.msg, " Number of switches does not match. Test is configured "+
			"to switch %d times. Actual number of switches is %d.",
			len(positions), len(changes))
		return false
	}

	sequence := playoutSequence(p.Playout)
	ok := true
	for i, start := range changes {
		end := len(video)
		if i+1 < len(changes) {
			end = changes[i+1]
		}
		playoutNo := 0
		if i < len(sequence) {
			playoutNo = sequence[i]
		}
		ok = st.checkEveryFrame(video[start:end], playoutNo) && ok
	}

	endTolerance, startTolerance := 0, 0
	if in.Type == Splicing {
		endTolerance = p.Tolerances.SpliceEndFrameNum
		startTolerance = p.Tolerances.SpliceStartFrameNum
	}

	for i, start := range changes {
		if i == 0 {
			continue
		}
		outgoing := video[start-1]
		incoming := video[start]

		expectedEnding := frameAtTime(positions[i], outgoing.FrameRate)
		if diff := abs(outgoing.FrameNumber - expectedEnding); diff > endTolerance {
			ok = false
			fmt.Fprintf(&st.msg, " Playout %d ending frame found is %d, expected to end with %d.",
				sequence[i-1], outgoing.FrameNumber, expectedEnding)
		}

		expectedStarting := frameAtTime(positions[i], incoming.FrameRate) + 1
		if diff := abs(incoming.FrameNumber - expectedStarting); diff > startTolerance {
			ok = false
			fmt.Fprintf(&st.msg, " Playout %d starting frame found is %d, expected to start from %d.",
				sequence[i], incoming.FrameNumber, expectedStarting)
		}
	}
	return ok
}

// checkAroundGap splits the sightings at the jump over the unserved period
// and checks each side for contiguity.
func (st *renderedState) checkAroundGap(video []*qr.Mezzanine, gapFrom, gapTo int) bool {
	split := len(video)
	for i, m := range video {
		if m.FrameNumber >= gapTo {
			split = i
			break
		}
	}
	ok := st.checkEveryFrame(video[:split], 0)
	if split < len(video) {
		ok = st.checkEveryFrame(video[split:], 0) && ok
	}
	return ok
}

func checkDurationMatchesTrack(in *Input) Result {
	r := Result{
		Kind: DurationMatchesTrack,
		Name: "[OF] The playback duration of the playback matches the duration of the " +
			"CMAF Track, i.e. TR [k, S] = TR [k, 1] + td[k].",
		Verdict: NotRun,
	}
	video, status, p := in.Video, in.Status, in.Params

	if len(video) < 2 {
		r.Verdict = Fail
		r.Message = fmt.Sprintf("Too few mezzanine QR codes detected (%d).", len(video))
		return r
	}

	first := video[firstIndexAfterPlay(video, status, p.CameraFrameDurationMs)]
	last := video[len(video)-1]
	lastFrameDurMs := 1000 / last.FrameRate

	measured := float64(last.LastCameraFrameIndex-first.CameraFrameIndex)*p.CameraFrameDurationMs + lastFrameDurMs

	if in.Type == Truncated || in.Type == RandomAccess {
		// Frames missing at the edges still played as far as the device is
		// concerned; put their time back before comparing.
		startMissing := float64(video[0].FrameNumber - p.FirstFrameNum)
		endMissing := float64(p.LastFrameNum - last.FrameNumber)
		measured += (startMissing + endMissing) * lastFrameDurMs
	}

	minGap, maxGap := waitingDurations(status, p.CameraFrameDurationMs)
	expected := p.ExpectedTrackDurationMs
	tolerance := p.DurationToleranceMs + float64(p.DurationFrameTolerance)*lastFrameDurMs

	// The waiting time is only known as a range, so the comparison passes
	// when any waiting value inside it brings the duration within tolerance.
	diffLow := measured - maxGap - expected
	diffHigh := measured - minGap - expected

	r.Message = fmt.Sprintf("Expected track duration is %.2fms, detected duration is %.2fms "+
		"with %.2fms to %.2fms of waiting. Allowed tolerance is %.2fms.",
		expected, measured, minGap, maxGap, tolerance)

	if diffLow <= tolerance && diffHigh >= -tolerance {
		r.Verdict = Pass
	} else {
		r.Verdict = Fail
	}
	return r
}

func checkStartUpDelay(in *Input) Result {
	name := "[OF] The start-up delay should be sufficiently low, i.e., TR [k, 1] - Ti < TSMax."
	if in.Type == Truncated {
		name = strings.Replace(name, "The start-up delay",
			"The start-up delay for second presentation", 1)
	}
	r := Result{Kind: StartUpDelay, Name: name, Verdict: NotRun}
	video, status, p := in.Video, in.Status, in.Params

	if len(video) < 2 {
		r.Verdict = Fail
		r.Message = fmt.Sprintf("Too few mezzanine QR codes detected (%d).", len(video))
		return r
	}

	event := "play"
	if in.Type == Truncated {
		changes := contentChangePositions(video)
		if len(changes) != 2 {
			r.Verdict = Fail
			r.Message = fmt.Sprintf("Truncated test should change presentation once. "+
				"Actual presentation change is %d.", len(changes))
			return r
		}
		video = video[changes[1]:]
		event = "representation_change"
	}

	eventFound, eventCt := findEvent(event, status, p.CameraFrameDurationMs)

	var frameCt float64
	frameChangeFound := false
	for _, m := range video {
		frameCt = float64(m.CameraFrameIndex) * p.CameraFrameDurationMs
		if frameCt > eventCt {
			frameChangeFound = true
			break
		}
	}

	switch {
	case !eventFound:
		r.Verdict = Fail
		r.Message = fmt.Sprintf("A test status QR code with first '%s' last_action "+
			"followed by a further test status QR code was not found.", event)
	case !frameChangeFound:
		r.Verdict = Fail
		r.Message = fmt.Sprintf("No frame change detected after '%s'.", event)
	default:
		delay := frameCt - eventCt
		r.Message = fmt.Sprintf("Maximum permitted startup delay is %.0fms. "+
			"The presentation start up delay is %.4fms.", p.TsMaxMs, delay)
		if delay < p.TsMaxMs {
			r.Verdict = Pass
		} else {
			r.Verdict = Fail
		}
	}
	return r
}

func checkSampleMatchesCurrentTime(in *Input) Result {
	r := Result{
		Kind: SampleMatchesCurrentTime,
		Name: "[OF] The presented sample matches the one reported by the currentTime " +
			"value within the tolerance of the sample duration.",
		Verdict: NotRun,
	}
	video, status, p := in.Video, in.Status, in.Params

	if len(video) < 2 {
		r.Verdict = Fail
		r.Message = fmt.Sprintf("Too few mezzanine QR codes detected (%d).", len(video))
		return r
	}

	playSeen := false
	failures := 0
	checked := 0
	var failMsg strings.Builder

	for _, s := range status {
		if !playSeen {
			if s.LastAction == "play" {
				playSeen = true
			}
			continue
		}
		if s.CurrentTime == nil || s.Delay == nil {
			continue
		}
		checked++

		firstPossible, lastPossible := targetCameraFrames(s, video, p)
		found, diff := diffWithinTolerance(video, s, firstPossible, lastPossible, p)

		currentTimeMs := *s.CurrentTime * 1000
		r.TimeDiffs = append(r.TimeDiffs, TimeDiff{CurrentTimeMs: currentTimeMs, DiffMs: diff})

		if !found {
			failures++
			if failures <= reportFailureLimit {
				fmt.Fprintf(&failMsg, " currentTime %.3fs closest media time differs by %.4fms.",
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
		r.Message = fmt.Sprintf("%d currentTime reports checked.", checked)
	} else {
		r.Verdict = Fail
		r.Message = fmt.Sprintf("%d of %d currentTime reports did not match a rendered sample.%s",
			failures, checked, failMsg.String())
	}
	return r
}

// targetCameraFrames computes the camera frame window in which the sample
// reported by a currentTime event could have been captured.
func targetCameraFrames(s *qr.Status, video []*qr.Mezzanine, p *Params) (float64, float64) {
	target := float64(s.CameraFrameIndex) - *s.Delay/p.CameraFrameDurationMs

	mezzRate := video[0].FrameRate
	for i := range video {
		if float64(video[i].CameraFrameIndex) > target {
			if i > 0 {
				mezzRate = video[i-1].FrameRate
			}
			break
		}
	}

	sampleToleranceInRecording := float64(p.FrameTolerance) * p.CameraFrameRate / mezzRate
	first := target - cameraFrameAdjustment - sampleToleranceInRecording
	last := target + cameraFrameAdjustment + sampleToleranceInRecording
	return first, last
}

// diffWithinTolerance looks for a sighting overlapping the target window
// whose media time matches the reported currentTime within the allowed
// tolerance plus one sample duration per tolerated frame.
func diffWithinTolerance(video []*qr.Mezzanine, s *qr.Status, firstPossible, lastPossible float64, p *Params) (bool, float64) {
	currentTimeMs := *s.CurrentTime * 1000
	timeDiff := math.MaxFloat64

	for _, m := range video {
		appearFrom := float64(m.CameraFrameIndex) - cameraFrameAdjustment
		appearTill := float64(m.LastCameraFrameIndex) + cameraFrameAdjustment
		if firstPossible > appearTill || lastPossible < appearFrom {
			continue
		}
		if d := math.Abs(m.MediaTime - currentTimeMs); d < timeDiff {
			timeDiff = d
		}
		if timeDiff <= p.ToleranceMs+float64(p.FrameTolerance)*1000/m.FrameRate {
			return true, timeDiff
		}
	}
	return false, timeDiff
}

func checkUnexpectedSampleNotRendered(in *Input) Result {
	r := Result{
		Kind:    UnexpectedSampleNotRendered,
		Name:    "[OF] No sample earlier than random access point or from an unserved period shall be rendered.",
		Verdict: NotRun,
	}
	p := in.Params

	lo, hi := p.GapFromFrame, p.GapToFrame
	if in.Type == RandomAccess {
		lo, hi = 0, p.FirstFrameNum
	}

	var unexpected []int
	for _, m := range in.Video {
		if m.FrameNumber > lo && m.FrameNumber < hi {
			unexpected = append(unexpected, m.FrameNumber)
		}
	}

	if len(unexpected) == 0 {
		r.Verdict = Pass
		r.Message = fmt.Sprintf("No frames in the excluded range (%d, %d) were rendered.", lo, hi)
		return r
	}
	r.Verdict = Fail
	limit := len(unexpected)
	if limit > reportFailureLimit {
		limit = reportFailureLimit
	}
	r.Message = fmt.Sprintf("Following %d frames from the excluded range (%d, %d) were rendered:",
		len(unexpected), lo, hi)
	for _, f := range unexpected[:limit] {
		r.Message += fmt.Sprintf(" %d", f)
	}
	return r
}

func checkEarliestSampleSamePresentationTime(in *Input) Result {
	r := Result{
		Kind:    EarliestSampleSamePresentationTime,
		Name:    "[OF] The earliest rendered sample has the same presentation time as the requested random access point.",
		Verdict: NotRun,
	}
	video, p := in.Video, in.Params

	if len(video) == 0 {
		r.Verdict = Fail
		r.Message = "No mezzanine QR codes detected."
		return r
	}

	rate := video[0].FrameRate
	expectedMs := float64(p.FirstFrameNum-1) / rate * 1000
	toleranceMs := float64(p.FrameTolerance) * 1000 / rate
	diff := math.Abs(video[0].MediaTime - expectedMs)

	r.Message = fmt.Sprintf("Earliest sample presentation time is %.2fms, expected %.2fms, "+
		"tolerance %.2fms.", video[0].MediaTime, expectedMs, toleranceMs)
	if diff <= toleranceMs {
		r.Verdict = Pass
	} else {
		r.Verdict = Fail
	}
	return r
}

// firstIndexAfterPlay returns the index of the first sighting rendered at
// or after the play event.
func firstIndexAfterPlay(video []*qr.Mezzanine, status []*qr.Status, cameraFrameDurMs float64) int {
	found, playCt := findEvent("play", status, cameraFrameDurMs)
	if !found {
		return 0
	}
	for i, m := range video {
		if float64(m.CameraFrameIndex)*cameraFrameDurMs >= playCt {
			return i
		}
	}
	return 0
}

// waitingDurations sums the stall time reported through waiting/playing
// status transitions. The exact moment of each transition is only known to
// within one camera frame, hence the min and max.
func waitingDurations(status []*qr.Status, cameraFrameDurMs float64) (float64, float64) {
	var minGap, maxGap float64
	var waitingStart float64
	state := ""

	for i, s := range status {
		switch {
		case state == "" && s.Status == "playing":
			state = "playing"
		case state == "playing" && s.Status == "waiting":
			if i+1 < len(status) && status[i+1].Delay != nil {
				waitingStart = float64(s.CameraFrameIndex)*cameraFrameDurMs - *status[i+1].Delay
				state = "waiting"
			}
		case state == "waiting" && s.Status == "playing":
			if i+1 < len(status) && status[i+1].Delay != nil {
				playingStart := float64(s.CameraFrameIndex)*cameraFrameDurMs - *status[i+1].Delay
				minGap += playingStart - waitingStart - cameraFrameDurMs
				maxGap += playingStart - waitingStart + cameraFrameDurMs
				state = "playing"
			}
		}
	}
	return minGap, maxGap
}

func removeAll(from, drop []int) []int {
	if len(drop) == 0 {
		return from
	}
	set := make(map[int]bool, len(drop))
	for _, d := range drop {
		set[d] = true
	}
	out := from[:0]
	for _, f := range from {
		if !set[f] {
			out = append(out, f)
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// frameAtTime converts a media time in ms to the frame number rendered at
// that time, rounding at half a frame.
func frameAtTime(timeMs, frameRate float64) int {
	halfFrame := (1000 / frameRate) / 2
	return int(math.Floor((timeMs + halfFrame) / 1000 * frameRate))
}
