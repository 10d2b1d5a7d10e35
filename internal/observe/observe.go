package observe

import (
	"playback-observer/internal/qr"
)

// Verdict is the outcome of a single observation.
type Verdict string

const (
	Pass   Verdict = "PASS"
	Fail   Verdict = "FAIL"
	NotRun Verdict = "NOT_RUN"
	Error  Verdict = "ERROR"
)

// Kind names one observation. The set is closed; a test is described by
// the kinds it requires plus its parameters, not by subclassing.
type Kind string

const (
	EverySampleRendered                Kind = "every_sample_rendered"
	DurationMatchesTrack               Kind = "duration_matches_cmaf_track"
	StartUpDelay                       Kind = "start_up_delay"
	SampleMatchesCurrentTime           Kind = "sample_matches_current_time"
	UnexpectedSampleNotRendered        Kind = "unexpected_sample_not_rendered"
	EarliestSampleSamePresentationTime Kind = "earliest_sample_same_presentation_time"
	AudioEverySampleRendered           Kind = "audio_every_sample_rendered"
	AudioDurationMatchesTrack          Kind = "audio_duration_matches_cmaf_track"
	AudioStartUpDelay                  Kind = "audio_start_up_delay"
	AudioSampleMatchesCurrentTime      Kind = "audio_sample_matches_current_time"
	AudioUnexpectedSampleNotRendered   Kind = "audio_unexpected_sample_not_rendered"
	AudioVideoSynchronization          Kind = "audio_video_synchronization"
)

// TimeDiff is one currentTime comparison, kept for the per-session CSV.
type TimeDiff struct {
	CurrentTimeMs float64
	DiffMs        float64
}

// Result is the outcome of one observation on one test.
type Result struct {
	Kind    Kind
	Name    string
	Verdict Verdict
	Message string
	// Terminate is set when the observation saw damage severe enough
	// that observing the rest of the session is pointless.
	Terminate bool
	// TimeDiffs is only populated by SampleMatchesCurrentTime.
	TimeDiffs []TimeDiff
}

// Type is the playback shape of a test, which drives how expected frame
// ranges are derived.
type Type int

const (
	Sequential Type = iota
	Switching
	Splicing
	Gaps
	Truncated
	RandomAccess
	LowLatency
)

// Input is everything an observation may need about one test.
type Input struct {
	Type   Type
	Video  []*qr.Mezzanine
	Status []*qr.Status
	Audio  *AudioInput
	Params *Params
}

// findEvent returns the wall-clock media time of the first status report
// with the given last_action, compensated by the QR generation delay read
// from the following report.
func findEvent(event string, status []*qr.Status, cameraFrameDurMs float64) (bool, float64) {
	for i, s := range status {
		if s.LastAction != event {
			continue
		}
		if i+1 < len(status) && status[i+1].Delay != nil {
			ct := float64(s.CameraFrameIndex)*cameraFrameDurMs - *status[i+1].Delay
			return true, ct
		}
		break
	}
	return false, 0
}

// playbackChangePositions returns the indexes at which the content id or
// frame rate changes, starting with 0. Switching between representations
// of the same content changes the rate, switching content changes the id.
func playbackChangePositions(video []*qr.Mezzanine) []int {
	if len(video) == 0 {
		return nil
	}
	positions := []int{0}
	for i := 1; i < len(video); i++ {
		if video[i].ContentID != video[i-1].ContentID || video[i].FrameRate != video[i-1].FrameRate {
			positions = append(positions, i)
		}
	}
	return positions
}

// contentChangePositions is like playbackChangePositions but only counts
// content id changes.
func contentChangePositions(video []*qr.Mezzanine) []int {
	if len(video) == 0 {
		return nil
	}
	positions := []int{0}
	for i := 1; i < len(video); i++ {
		if video[i].ContentID != video[i-1].ContentID {
			positions = append(positions, i)
		}
	}
	return positions
}
