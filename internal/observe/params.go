package observe

import (
	"encoding/json"
	"fmt"
	"math"

	"playback-observer/internal/catalog"
	"playback-observer/internal/startup"
)

// Params carries every tolerance and content property the observations
// read. Test-runner parameters are in milliseconds unless named otherwise.
type Params struct {
	TsMaxMs                float64
	ToleranceMs            float64
	FrameTolerance         int
	DurationToleranceMs    float64
	DurationFrameTolerance int
	MinBufferDurationMs    float64
	RandomAccessTimeMs     float64
	RandomAccessFragment   int
	Playout                []int

	FragmentDurationMs           float64
	FragmentDurationsMs          map[int]float64
	PeriodDurationsMs            []float64
	CmafTrackDurationMs          float64
	ExpectedAudioTrackDurationMs float64

	CameraFrameRate       float64
	CameraFrameDurationMs float64
	Tolerances            startup.Tolerances
	MissingFrameThreshold int
	AVSyncToleranceMs     float64
	CalibrationOffsetMs   float64

	// Derived once the mezzanine frame rate of the recording is known.
	FirstFrameNum           int
	LastFrameNum            int
	GapFromFrame            int
	GapToFrame              int
	ExpectedTrackDurationMs float64
}

// LoadParams resolves the parameters a descriptor asks for against the
// test-runner configuration.
func LoadParams(cat *catalog.Catalog, entry catalog.Entry, desc Descriptor, cameraFPS float64) (*Params, error) {
	p := &Params{
		CameraFrameRate:       cameraFPS,
		CameraFrameDurationMs: 1000 / cameraFPS,
	}

	for _, name := range desc.Parameters {
		if err := p.loadParameter(cat, entry, name); err != nil {
			return nil, err
		}
	}
	for _, name := range desc.ContentParameters {
		if err := p.loadContentParameter(entry, name); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Params) loadParameter(cat *catalog.Catalog, entry catalog.Entry, name string) error {
	path, code := entry.Path, entry.Code

	switch name {
	case "playout":
		raw, err := cat.Parameter(path, code, name)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &p.Playout); err != nil {
			return fmt.Errorf("parameter playout for test %q is not an integer list: %w", path, err)
		}
		return nil
	}

	v, err := cat.FloatParameter(path, code, name)
	if err != nil {
		return err
	}
	switch name {
	case "ts_max":
		p.TsMaxMs = v
	case "tolerance":
		p.ToleranceMs = v
	case "frame_tolerance":
		p.FrameTolerance = int(v)
	case "duration_tolerance":
		p.DurationToleranceMs = v
	case "duration_frame_tolerance":
		p.DurationFrameTolerance = int(v)
	case "min_buffer_duration":
		p.MinBufferDurationMs = v
	case "random_access_time":
		p.RandomAccessTimeMs = v * 1000
	case "random_access_fragment":
		p.RandomAccessFragment = int(v)
	case "av_sync_tolerance":
		p.AVSyncToleranceMs = v
	default:
		return fmt.Errorf("unknown test parameter %q", name)
	}
	return nil
}

func (p *Params) loadContentParameter(entry catalog.Entry, name string) error {
	if entry.Content == nil {
		return fmt.Errorf("test %q has no content configuration", entry.Path)
	}
	switch name {
	case "cmaf_track_duration":
		v, err := entry.Content.DurationMs(name)
		if err != nil {
			return err
		}
		p.CmafTrackDurationMs = v
	case "expected_audio_track_duration":
		v, err := entry.Content.DurationMs(name)
		if err != nil {
			return err
		}
		p.ExpectedAudioTrackDurationMs = v
	case "fragment_duration":
		v, err := entry.Content.FragmentDurationMs()
		if err != nil {
			return err
		}
		p.FragmentDurationMs = v
	case "fragment_duration_list":
		v, err := entry.Content.FragmentDurationListMs()
		if err != nil {
			return err
		}
		p.FragmentDurationsMs = v
	case "period_duration":
		p.PeriodDurationsMs = entry.Content.PeriodDurationsMs()
	default:
		return fmt.Errorf("unknown content parameter %q", name)
	}
	return nil
}

// Derive fills the expected frame range and track duration once the
// mezzanine frame rate observed in the recording is known.
func (p *Params) Derive(t Type, frameRate float64) error {
	if frameRate <= 0 {
		return fmt.Errorf("invalid mezzanine frame rate %v", frameRate)
	}
	halfFrameMs := (1000 / frameRate) / 2

	lastFrameOf := func(durationMs float64) int {
		return int(math.Floor((durationMs + halfFrameMs) / 1000 * frameRate))
	}

	switch t {
	case Switching:
		if len(p.Playout) == 0 || p.FragmentDurationsMs == nil {
			return fmt.Errorf("switching test needs playout and fragment durations")
		}
		var total float64
		for _, track := range p.Playout {
			d, ok := p.FragmentDurationsMs[track]
			if !ok {
				return fmt.Errorf("playout refers to unknown representation %d", track)
			}
			total += d
		}
		p.FirstFrameNum = 1
		p.ExpectedTrackDurationMs = total
		p.LastFrameNum = lastFrameOf(total)

	case Splicing:
		var total float64
		for _, d := range p.PeriodDurationsMs {
			total += d
		}
		p.FirstFrameNum = 1
		p.ExpectedTrackDurationMs = total
		p.LastFrameNum = lastFrameOf(total)

	case Gaps:
		if len(p.PeriodDurationsMs) < 2 {
			return fmt.Errorf("gap test needs at least two periods")
		}
		// The second period is not served; its frames must never render.
		p.GapFromFrame = lastFrameOf(p.PeriodDurationsMs[0])
		p.GapToFrame = lastFrameOf(p.PeriodDurationsMs[0]+p.PeriodDurationsMs[1]) + 1
		var total float64
		for _, d := range p.PeriodDurationsMs {
			total += d
		}
		p.FirstFrameNum = 1
		p.ExpectedTrackDurationMs = total - p.PeriodDurationsMs[1]
		p.LastFrameNum = lastFrameOf(total)

	case RandomAccess:
		accessMs := p.RandomAccessTimeMs
		if p.RandomAccessFragment > 0 && p.FragmentDurationMs > 0 {
			accessMs = float64(p.RandomAccessFragment-1) * p.FragmentDurationMs
		}
		p.FirstFrameNum = int(math.Floor(accessMs/1000*frameRate)) + 1
		p.ExpectedTrackDurationMs = p.CmafTrackDurationMs - accessMs
		p.LastFrameNum = lastFrameOf(p.CmafTrackDurationMs)

	default:
		p.FirstFrameNum = 1
		p.ExpectedTrackDurationMs = p.CmafTrackDurationMs
		p.LastFrameNum = lastFrameOf(p.CmafTrackDurationMs)
	}
	return nil
}

// playoutSequence collapses consecutive repeats of the same track, giving
// the order representations are actually played in.
func playoutSequence(playout []int) []int {
	var seq []int
	for i, track := range playout {
		if i == 0 || track != playout[i-1] {
			seq = append(seq, track)
		}
	}
	return seq
}

// switchingPositions returns the media times (ms) at which the playout
// switches tracks, starting with 0.
func switchingPositions(playout []int, fragmentDurations map[int]float64) []float64 {
	positions := []float64{0}
	var pos float64
	for i := 1; i < len(playout); i++ {
		pos += fragmentDurations[playout[i-1]]
		if playout[i] != playout[i-1] {
			positions = append(positions, pos)
		}
	}
	return positions
}
