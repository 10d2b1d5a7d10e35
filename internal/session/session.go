package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"playback-observer/internal/audio"
	"playback-observer/internal/catalog"
	"playback-observer/internal/frames"
	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
	"playback-observer/internal/observe"
	"playback-observer/internal/qr"
	"playback-observer/internal/report"
	"playback-observer/internal/startup"
	"playback-observer/internal/store"
	"playback-observer/internal/timeline"
)

// audioSampleRate is the rate audio tracks are extracted and correlated
// at. Matches the mezzanine pseudo-noise references.
const audioSampleRate = 48000

// Analyzer runs the full pipeline for one recording: decode, scan,
// assemble, observe, report.
type Analyzer struct {
	cfg      *startup.Config
	cat      *catalog.Catalog
	store    *store.Store
	reporter *report.Handler
}

// NewAnalyzer wires an analyzer from its dependencies. store may be nil
// when result persistence is disabled.
func NewAnalyzer(cfg *startup.Config, cat *catalog.Catalog, st *store.Store, reporter *report.Handler) *Analyzer {
	return &Analyzer{cfg: cfg, cat: cat, store: st, reporter: reporter}
}

// Analyze processes the recording at input, which is a single file or a
// directory holding one session split across files.
func (a *Analyzer) Analyze(ctx context.Context, input string) error {
	started := time.Now()
	defer func() {
		metrics.SessionDuration.Observe(time.Since(started).Seconds())
	}()

	paths, err := frames.ListRecordings(input, a.cfg.SortInputFilesBy)
	if err != nil {
		return err
	}
	logging.Info("Analyzing %d recording file(s) from %s", len(paths), input)

	src, err := frames.NewSource(ctx, paths, a.cfg.IgnoreCorrupted)
	if err != nil {
		return err
	}
	defer src.Close()

	fps := src.FPS()
	logging.Info("Recording: %dx%d @ %.3f fps, ~%d frames",
		src.Width(), src.Height(), fps, src.TotalFrames())

	var trace *timeline.Trace
	if logging.IsDebugEnabled() {
		tracePath := filepath.Join(a.cfg.LogDir, sessionBaseName(input)+"_trace.csv")
		trace, err = timeline.NewTrace(tracePath)
		if err != nil {
			logging.Warn("Could not open trace file: %v", err)
		}
	}

	asm := timeline.New(timeline.Config{
		CameraFPS:                fps,
		DuplicateWindow:          a.cfg.DuplicatedQrCheckCount,
		ConsecutiveNoQrThreshold: a.cfg.ConsecutiveNoQrThreshold,
		EndOfSessionTimeout:      a.cfg.EndOfSessionTimeout,
		NoQrCodeTimeout:          a.cfg.NoQrCodeTimeout,
	}, trace)

	mode := qr.ModeGeneral
	if a.cfg.IntensiveScan {
		mode = qr.ModeIntensive
	}
	loc := qr.NewLocator(a.cfg.QrAreaMargin)
	searchLimit := int(a.cfg.SearchQrAreaTo.Seconds() * fps)

	scanErr := scanFrames(ctx, src, asm, loc, mode, searchLimit)
	tests, finishErr := asm.Finish()
	if scanErr != nil {
		metrics.SessionsTotal.WithLabelValues("aborted").Inc()
		a.recordSession(ctx, tests, input, fps, "aborted")
		return scanErr
	}
	if finishErr != nil {
		metrics.SessionsTotal.WithLabelValues("aborted").Inc()
		return finishErr
	}

	token := tests[0].SessionToken
	if err := logging.RedirectToFile(filepath.Join(a.cfg.LogDir, token+".log")); err != nil {
		logging.Warn("Could not open session log: %v", err)
	}
	defer logging.CloseFile()

	logging.Info("Session %s: %d test(s) recorded", token, len(tests))

	sessionID := a.recordSession(ctx, tests, input, fps, "processing")

	err = a.observeTests(ctx, tests, paths, fps, sessionID)

	state := "completed"
	if err != nil {
		state = "error"
	}
	metrics.SessionsTotal.WithLabelValues(state).Inc()
	if a.store != nil && sessionID > 0 {
		if dbErr := a.store.FinishSession(ctx, sessionID, state); dbErr != nil {
			logging.Warn("Could not update session state: %v", dbErr)
		}
	}
	return err
}

// observeTests evaluates and reports every assembled test. Results for
// repeated runs of the same test path are merged, worst verdict wins, and
// posted once per path.
func (a *Analyzer) observeTests(ctx context.Context, tests []*timeline.Test, paths []string, fps float64, sessionID int64) error {
	recordingAudio := a.loadRecordingAudio(ctx, paths)

	merged := make(map[string][]observe.Result)
	order := []string{}
	terminated := false

	for _, test := range tests {
		entry, err := a.cat.Resolve(test.TestID)
		if err != nil {
			logging.Error("Skipping test %s: %v", test.TestID, err)
			a.accumulate(merged, &order, test.TestID, errorResults(err))
			continue
		}

		if terminated {
			a.accumulate(merged, &order, entry.Path, notObservedResults())
			continue
		}

		results, terminate := a.observeTest(ctx, test, entry, recordingAudio, fps)
		terminated = terminated || terminate
		a.accumulate(merged, &order, entry.Path, results)

		if a.store != nil && sessionID > 0 {
			if err := a.store.SaveResults(ctx, sessionID, test.TestID, entry.Path, results); err != nil {
				logging.Warn("Could not persist results for %s: %v", entry.Path, err)
			}
		}
	}

	var firstErr error
	token := tests[0].SessionToken
	for _, path := range order {
		countVerdicts(merged[path])
		if err := a.reporter.Post(ctx, token, path, merged[path]); err != nil {
			logging.Error("Failed to post results for %s: %v", path, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// observeTest runs the observations of a single test occurrence.
func (a *Analyzer) observeTest(ctx context.Context, test *timeline.Test, entry catalog.Entry, recordingAudio *audio.Clip, fps float64) ([]observe.Result, bool) {
	logging.Info("Observing %s (test id %s)", entry.Path, test.TestID)

	desc := observe.Lookup(entry.Code)
	hasAudio := contentHasAudio(entry) && recordingAudio != nil
	if hasAudio {
		desc = observe.WithAudio(desc)
	}

	params, err := observe.LoadParams(a.cat, entry, desc, fps)
	if err != nil {
		logging.Error("Configuration error for %s: %v", entry.Path, err)
		return errorResults(err), false
	}
	params.Tolerances = a.cfg.Tolerances
	params.MissingFrameThreshold = a.cfg.MissingFrameThreshold
	params.CalibrationOffsetMs = a.cfg.Calibration.Offset.Seconds() * 1000

	if len(test.Video) == 0 {
		err := fmt.Errorf("no mezzanine QR codes detected for test %s", entry.Path)
		logging.Error("%v", err)
		return errorResults(err), false
	}

	rate := test.Video[len(test.Video)-1].FrameRate
	if err := params.Derive(desc.Type, rate); err != nil {
		logging.Error("Cannot derive expected playback for %s: %v", entry.Path, err)
		return errorResults(err), false
	}

	in := &observe.Input{
		Video:  test.Video,
		Status: test.Status,
		Params: params,
	}
	if hasAudio {
		in.Audio = a.alignAudio(recordingAudio, test.Video[0].ContentID)
	}

	results := observe.Evaluate(desc, in)

	for _, r := range results {
		if r.Kind == observe.SampleMatchesCurrentTime && len(r.TimeDiffs) > 0 && logging.IsDebugEnabled() {
			path := filepath.Join(a.cfg.LogDir, test.SessionToken+"_time_diff.csv")
			if err := report.WriteTimeDiffs(path, r.TimeDiffs); err != nil {
				logging.Warn("Could not write time differences: %v", err)
			}
		}
	}

	terminate := false
	for _, r := range results {
		if r.Terminate {
			terminate = true
			logging.Error("Observation requested session termination after %s", entry.Path)
		}
	}
	return results, terminate
}

// loadRecordingAudio extracts and loads the session's audio track once.
// Returns nil when the recording has no usable audio.
func (a *Analyzer) loadRecordingAudio(ctx context.Context, paths []string) *audio.Clip {
	wavPath := filepath.Join(a.cfg.ResultsDir, sessionBaseName(paths[0])+".wav")
	defer os.Remove(wavPath)

	// Only the first file's audio is used; sessions split across files
	// carry their audio tests in the first recording.
	if err := frames.ExtractAudio(ctx, paths[0], wavPath, audioSampleRate); err != nil {
		logging.Debug("No audio track extracted: %v", err)
		return nil
	}
	clip, err := audio.ReadWav(wavPath)
	if err != nil {
		logging.Warn("Could not read extracted audio: %v", err)
		return nil
	}
	logging.Info("Extracted %.1fs of audio at %dHz", clip.Duration(), clip.SampleRate)
	return clip
}

// alignAudio aligns the recording against the content's pseudo-noise
// mezzanine. A nil result makes the audio observations report NOT_RUN.
func (a *Analyzer) alignAudio(recording *audio.Clip, contentID string) *observe.AudioInput {
	mezz, err := audio.LoadMezzanine(a.cfg.AudioMezzanineDir, contentID)
	if err != nil {
		logging.Warn("Audio mezzanine unavailable for %s: %v", contentID, err)
		return nil
	}

	alignment, err := audio.Align(recording, mezz, a.cfg.AudioSampleLength, a.cfg.AudioAlignmentCheckCount)
	if err != nil {
		logging.Warn("Audio alignment failed for %s: %v", contentID, err)
		return &observe.AudioInput{SampleRate: recording.SampleRate}
	}

	segments := audio.ScanSegments(recording, mezz, alignment,
		a.cfg.AudioSampleLength, a.cfg.AudioObservationNeighborhood)

	return &observe.AudioInput{
		Segments:   segments,
		Alignment:  alignment,
		SampleRate: recording.SampleRate,
	}
}

func (a *Analyzer) accumulate(merged map[string][]observe.Result, order *[]string, path string, results []observe.Result) {
	if _, seen := merged[path]; !seen {
		*order = append(*order, path)
	}
	merged[path] = report.Merge(merged[path], results)
}

func (a *Analyzer) recordSession(ctx context.Context, tests []*timeline.Test, input string, fps float64, state string) int64 {
	if a.store == nil {
		return 0
	}
	token := ""
	if len(tests) > 0 {
		token = tests[0].SessionToken
	}
	id, err := a.store.CreateSession(ctx, token, state, input, fps)
	if err != nil {
		logging.Warn("Could not record session: %v", err)
		return 0
	}
	return id
}

func contentHasAudio(entry catalog.Entry) bool {
	if entry.Content == nil {
		return false
	}
	for _, rep := range entry.Content.Representations {
		if rep.Type == "audio" {
			return true
		}
	}
	return false
}

func errorResults(err error) []observe.Result {
	return []observe.Result{{
		Kind:    "session",
		Name:    "[OF] Observation framework error.",
		Verdict: observe.Error,
		Message: err.Error(),
	}}
}

func notObservedResults() []observe.Result {
	return []observe.Result{{
		Kind:    "session",
		Name:    "[OF] Observation framework error.",
		Verdict: observe.Error,
		Message: "Test not observed: an earlier test exceeded the missing frame threshold.",
	}}
}

func countVerdicts(results []observe.Result) {
	worst := observe.Pass
	for _, r := range results {
		switch r.Verdict {
		case observe.Error:
			worst = observe.Error
		case observe.Fail:
			if worst != observe.Error {
				worst = observe.Fail
			}
		case observe.NotRun:
			if worst == observe.Pass {
				worst = observe.NotRun
			}
		}
	}
	label := map[observe.Verdict]string{
		observe.Pass:   "pass",
		observe.Fail:   "fail",
		observe.NotRun: "not_run",
		observe.Error:  "error",
	}[worst]
	metrics.TestsObservedTotal.WithLabelValues(label).Inc()
}

func sessionBaseName(input string) string {
	base := filepath.Base(input)
	if ext := filepath.Ext(base); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	return base
}
