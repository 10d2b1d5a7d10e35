package observe

import (
	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
)

// Descriptor describes how to observe one test family: its playback
// shape, the observations it requires, and the configuration parameters
// those observations read.
type Descriptor struct {
	Type              Type
	Kinds             []Kind
	Parameters        []string
	ContentParameters []string
}

var sequentialKinds = []Kind{
	EverySampleRendered,
	DurationMatchesTrack,
	StartUpDelay,
	SampleMatchesCurrentTime,
}

var sequentialParams = []string{
	"ts_max",
	"tolerance",
	"frame_tolerance",
	"duration_tolerance",
	"duration_frame_tolerance",
}

// descriptors maps test codes from tests.json to their observation
// recipes. Several codes share the sequential recipe; they differ only in
// how the test page drives playback, not in what the camera should see.
var descriptors = map[string]Descriptor{
	"sequential-track-playback.html": {
		Type:              Sequential,
		Kinds:             sequentialKinds,
		Parameters:        sequentialParams,
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"regular-playback-of-chunked-content.html": {
		Type:              LowLatency,
		Kinds:             sequentialKinds,
		Parameters:        sequentialParams,
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"regular-playback-of-chunked-content-non-aligned-append.html": {
		Type:              LowLatency,
		Kinds:             sequentialKinds,
		Parameters:        sequentialParams,
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"out-of-order-loading.html": {
		Type:              Sequential,
		Kinds:             sequentialKinds,
		Parameters:        sequentialParams,
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"playback-of-encrypted-content.html": {
		Type:              Sequential,
		Kinds:             sequentialKinds,
		Parameters:        sequentialParams,
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"fullscreen-playback-of-switching-sets.html": {
		Type:              Sequential,
		Kinds:             sequentialKinds,
		Parameters:        sequentialParams,
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"switching-set-playback.html": {
		Type:              Switching,
		Kinds:             sequentialKinds,
		Parameters:        append(sequentialParams, "playout"),
		ContentParameters: []string{"fragment_duration_list"},
	},
	"playback-over-wave-baseline-splice-constraints.html": {
		Type:              Splicing,
		Kinds:             sequentialKinds,
		Parameters:        append(sequentialParams, "playout"),
		ContentParameters: []string{"period_duration", "fragment_duration_list"},
	},
	"splicing-of-wave-program-with-baseline-constraints.html": {
		Type:              Splicing,
		Kinds:             sequentialKinds,
		Parameters:        append(sequentialParams, "playout"),
		ContentParameters: []string{"period_duration", "fragment_duration_list"},
	},
	"random-access-to-fragment.html": {
		Type: RandomAccess,
		Kinds: append([]Kind{
			EarliestSampleSamePresentationTime,
			UnexpectedSampleNotRendered,
		}, sequentialKinds...),
		Parameters:        append(sequentialParams, "random_access_fragment"),
		ContentParameters: []string{"cmaf_track_duration", "fragment_duration"},
	},
	"random-access-to-time.html": {
		Type: RandomAccess,
		Kinds: append([]Kind{
			EarliestSampleSamePresentationTime,
			UnexpectedSampleNotRendered,
		}, sequentialKinds...),
		Parameters:        append(sequentialParams, "random_access_time"),
		ContentParameters: []string{"cmaf_track_duration"},
	},
	"truncated-playback-and-restart.html": {
		Type:              Truncated,
		Kinds:             sequentialKinds,
		Parameters:        append(sequentialParams, "playout"),
		ContentParameters: []string{"period_duration", "fragment_duration_list"},
	},
	"low-latency-playback-over-gaps.html": {
		Type: Gaps,
		Kinds: append([]Kind{
			UnexpectedSampleNotRendered,
		}, sequentialKinds...),
		Parameters:        append(sequentialParams, "min_buffer_duration"),
		ContentParameters: []string{"period_duration", "cmaf_track_duration"},
	},
}

// Lookup returns the descriptor for a test code. Unknown codes fall back
// to the sequential recipe, which holds for any plain start-to-end
// playback test.
func Lookup(code string) Descriptor {
	if d, ok := descriptors[code]; ok {
		return d
	}
	logging.Warn("Unknown test code %q, observing as sequential playback", code)
	return descriptors["sequential-track-playback.html"]
}

// WithAudio extends a descriptor with the audio observations. Applied when
// the test content carries the pseudo-noise audio track.
func WithAudio(d Descriptor) Descriptor {
	kinds := append(append([]Kind{}, d.Kinds...),
		AudioEverySampleRendered,
		AudioDurationMatchesTrack,
		AudioStartUpDelay,
		AudioSampleMatchesCurrentTime,
	)
	if d.Type == RandomAccess || d.Type == Gaps {
		kinds = append(kinds, AudioUnexpectedSampleNotRendered)
	}
	d.Kinds = append(kinds, AudioVideoSynchronization)
	return d
}

// Evaluate runs every observation of the descriptor against the input.
// Observations are pure over their input; re-evaluating the same input
// yields the same results.
func Evaluate(desc Descriptor, in *Input) []Result {
	in.Type = desc.Type

	results := make([]Result, 0, len(desc.Kinds))
	for _, kind := range desc.Kinds {
		var r Result
		switch kind {
		case EverySampleRendered:
			r = checkEverySampleRendered(in)
		case DurationMatchesTrack:
			r = checkDurationMatchesTrack(in)
		case StartUpDelay:
			r = checkStartUpDelay(in)
		case SampleMatchesCurrentTime:
			r = checkSampleMatchesCurrentTime(in)
		case UnexpectedSampleNotRendered:
			r = checkUnexpectedSampleNotRendered(in)
		case EarliestSampleSamePresentationTime:
			r = checkEarliestSampleSamePresentationTime(in)
		case AudioEverySampleRendered:
			r = checkAudioEverySampleRendered(in)
		case AudioDurationMatchesTrack:
			r = checkAudioDurationMatchesTrack(in)
		case AudioStartUpDelay:
			r = checkAudioStartUpDelay(in)
		case AudioSampleMatchesCurrentTime:
			r = checkAudioSampleMatchesCurrentTime(in)
		case AudioUnexpectedSampleNotRendered:
			r = checkAudioUnexpectedSampleNotRendered(in)
		case AudioVideoSynchronization:
			r = checkAudioVideoSynchronization(in)
		default:
			r = Result{Kind: kind, Name: string(kind), Verdict: Error,
				Message: "observation kind not implemented"}
		}
		logging.Info("[%s] %s", r.Verdict, r.Name)
		if r.Message != "" {
			logging.Debug("  %s", r.Message)
		}
		metrics.ObservationsTotal.WithLabelValues(string(r.Kind), string(r.Verdict)).Inc()
		results = append(results, r)
	}
	return results
}
