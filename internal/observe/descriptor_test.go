package observe

import (
	"strings"
	"testing"

	"playback-observer/internal/audio"
	"playback-observer/internal/qr"
)

func TestLookupKnownCodes(t *testing.T) {
	tests := []struct {
		code     string
		wantType Type
	}{
		{"sequential-track-playback.html", Sequential},
		{"switching-set-playback.html", Switching},
		{"splicing-of-wave-program-with-baseline-constraints.html", Splicing},
		{"random-access-to-time.html", RandomAccess},
		{"truncated-playback-and-restart.html", Truncated},
		{"low-latency-playback-over-gaps.html", Gaps},
		{"regular-playback-of-chunked-content.html", LowLatency},
	}
	for _, tt := range tests {
		d := Lookup(tt.code)
		if d.Type != tt.wantType {
			t.Errorf("Lookup(%q).Type = %v, want %v", tt.code, d.Type, tt.wantType)
		}
		if len(d.Kinds) == 0 {
			t.Errorf("Lookup(%q) has no observations", tt.code)
		}
	}
}

func TestLookupUnknownCodeFallsBack(t *testing.T) {
	d := Lookup("some-new-test.html")
	if d.Type != Sequential {
		t.Errorf("unknown code Type = %v, want Sequential", d.Type)
	}
	if len(d.Kinds) != len(sequentialKinds) {
		t.Errorf("unknown code has %d observations, want %d", len(d.Kinds), len(sequentialKinds))
	}
}

func TestWithAudio(t *testing.T) {
	base := Lookup("sequential-track-playback.html")
	d := WithAudio(base)

	if len(d.Kinds) != len(base.Kinds)+5 {
		t.Fatalf("WithAudio added %d kinds, want 5", len(d.Kinds)-len(base.Kinds))
	}
	if len(base.Kinds) != len(sequentialKinds) {
		t.Error("WithAudio modified the base descriptor")
	}
	last := d.Kinds[len(d.Kinds)-1]
	if last != AudioVideoSynchronization {
		t.Errorf("last kind = %s, want %s", last, AudioVideoSynchronization)
	}
	for _, kind := range d.Kinds {
		if kind == AudioUnexpectedSampleNotRendered {
			t.Error("sequential playback has no excluded range to observe")
		}
	}

	gaps := WithAudio(Lookup("low-latency-playback-over-gaps.html"))
	found := false
	for _, kind := range gaps.Kinds {
		if kind == AudioUnexpectedSampleNotRendered {
			found = true
		}
	}
	if !found {
		t.Error("gap playback should observe the unserved audio range")
	}
}

func TestEvaluateRunsAllKinds(t *testing.T) {
	desc := Lookup("sequential-track-playback.html")
	in := &Input{
		Video:  mkVideo("A", 1, 30, 0, testMezzRate),
		Status: []*qr.Status{{Status: "playing", LastAction: "play", CameraFrameIndex: 0}},
		Params: seqParams(30),
	}

	results := Evaluate(desc, in)
	if len(results) != len(desc.Kinds) {
		t.Fatalf("got %d results, want %d", len(results), len(desc.Kinds))
	}
	for i, r := range results {
		if r.Kind != desc.Kinds[i] {
			t.Errorf("result %d kind = %s, want %s", i, r.Kind, desc.Kinds[i])
		}
		if r.Verdict == NotRun {
			t.Errorf("observation %s never concluded", r.Kind)
		}
	}
	if in.Type != Sequential {
		t.Errorf("Evaluate did not set the input type")
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	desc := Lookup("sequential-track-playback.html")
	mk := func() *Input {
		return &Input{
			Video: mkVideo("A", 1, 30, 0, testMezzRate),
			Status: []*qr.Status{
				{Status: "playing", LastAction: "play", CameraFrameIndex: 0},
				{Status: "playing", CameraFrameIndex: 4, CurrentTime: f64(0.033), Delay: f64(0)},
			},
			Params: seqParams(30),
		}
	}

	first := Evaluate(desc, mk())
	second := Evaluate(desc, mk())
	for i := range first {
		if first[i].Verdict != second[i].Verdict || first[i].Message != second[i].Message {
			t.Errorf("observation %s not deterministic: %s vs %s",
				first[i].Kind, first[i].Verdict, second[i].Verdict)
		}
	}
}

func TestAudioObservationsNotRunWithoutAudio(t *testing.T) {
	in := &Input{
		Video:  mkVideo("A", 1, 30, 0, testMezzRate),
		Params: seqParams(30),
	}
	for _, check := range []func(*Input) Result{
		checkAudioEverySampleRendered,
		checkAudioDurationMatchesTrack,
		checkAudioStartUpDelay,
		checkAudioSampleMatchesCurrentTime,
		checkAudioUnexpectedSampleNotRendered,
		checkAudioVideoSynchronization,
	} {
		if r := check(in); r.Verdict != NotRun {
			t.Errorf("%s verdict = %s without audio, want NOT_RUN", r.Kind, r.Verdict)
		}
	}
}

func audioInput(rate int, segments []audio.Segment) *AudioInput {
	return &AudioInput{
		Segments:   segments,
		Alignment:  &audio.Alignment{},
		SampleRate: rate,
	}
}

func TestAudioEverySampleRendered(t *testing.T) {
	in := &Input{
		Params: seqParams(30),
		Audio: audioInput(48000, []audio.Segment{
			{MediaTime: 0, Offset: 4800},
			{MediaTime: 20, Offset: 5760},
		}),
	}
	if r := checkAudioEverySampleRendered(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS: %s", r.Verdict, r.Message)
	}

	in.Audio.Segments = append(in.Audio.Segments, audio.Segment{MediaTime: 40, Offset: -1})
	r := checkAudioEverySampleRendered(in)
	if r.Verdict != Fail {
		t.Errorf("Verdict = %s, want FAIL with a missing segment", r.Verdict)
	}
}

// mkSegments builds n located 20ms segments playing back to back from
// recording time zero at 48kHz.
func mkSegments(n int) []audio.Segment {
	out := make([]audio.Segment, n)
	for i := range out {
		out[i] = audio.Segment{MediaTime: float64(i) * 20, Offset: i * 960}
	}
	return out
}

func TestAudioDurationMatchesTrack(t *testing.T) {
	p := seqParams(30)
	p.DurationToleranceMs = 50

	// 50 segments of 20ms cover the full 1000ms track.
	in := &Input{Params: p, Audio: audioInput(48000, mkSegments(50))}
	if r := checkAudioDurationMatchesTrack(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS: %s", r.Verdict, r.Message)
	}

	// Playback that stopped halfway misses the expected duration.
	in.Audio = audioInput(48000, mkSegments(25))
	if r := checkAudioDurationMatchesTrack(in); r.Verdict != Fail {
		t.Errorf("Verdict = %s, want FAIL: %s", r.Verdict, r.Message)
	}
}

func TestAudioSampleMatchesCurrentTime(t *testing.T) {
	p := seqParams(30)
	audio48 := audioInput(48000, mkSegments(50))

	// currentTime 0.4s reported at camera frame 48 (400ms) while the audio
	// at 400ms on the recording timeline carries media time 400ms.
	in := &Input{
		Params: p,
		Audio:  audio48,
		Status: []*qr.Status{
			{Status: "playing", LastAction: "play", CameraFrameIndex: 0},
			{Status: "playing", CameraFrameIndex: 48, CurrentTime: f64(0.4), Delay: f64(0)},
		},
	}
	if r := checkAudioSampleMatchesCurrentTime(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS: %s", r.Verdict, r.Message)
	}

	in.Status[1].CurrentTime = f64(2.0)
	if r := checkAudioSampleMatchesCurrentTime(in); r.Verdict != Fail {
		t.Errorf("Verdict = %s, want FAIL: %s", r.Verdict, r.Message)
	}
}

func TestAudioUnexpectedSampleNotRendered(t *testing.T) {
	p := seqParams(30)
	p.PeriodDurationsMs = []float64{500, 500, 500}

	// All located audio sits in the first period, before the unserved one.
	in := &Input{Type: Gaps, Params: p, Audio: audioInput(48000, mkSegments(25))}
	if r := checkAudioUnexpectedSampleNotRendered(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS: %s", r.Verdict, r.Message)
	}

	// A segment from the unserved period was rendered.
	in.Audio.Segments = append(in.Audio.Segments, audio.Segment{MediaTime: 600, Offset: 28800})
	r := checkAudioUnexpectedSampleNotRendered(in)
	if r.Verdict != Fail {
		t.Fatalf("Verdict = %s, want FAIL: %s", r.Verdict, r.Message)
	}
	if !strings.Contains(r.Message, "600.0") {
		t.Errorf("Message = %q, want the unserved segment reported", r.Message)
	}

	// Random access: audio from before the access point is unexpected.
	ra := seqParams(30)
	ra.RandomAccessTimeMs = 400
	in = &Input{Type: RandomAccess, Params: ra, Audio: audioInput(48000, mkSegments(25))}
	if r := checkAudioUnexpectedSampleNotRendered(in); r.Verdict != Fail {
		t.Errorf("Verdict = %s, want FAIL for audio before the access point: %s", r.Verdict, r.Message)
	}
}

func TestAudioStartUpDelay(t *testing.T) {
	p := seqParams(30)
	p.TsMaxMs = 120

	status := []*qr.Status{
		{Status: "playing", LastAction: "play", CameraFrameIndex: 12},
		{Status: "playing", CameraFrameIndex: 16, Delay: f64(0)},
	}

	// Play at 100ms, first audio at 150ms: 50ms delay.
	in := &Input{
		Status: status,
		Params: p,
		Audio:  audioInput(48000, []audio.Segment{{MediaTime: 0, Offset: 7200}}),
	}
	if r := checkAudioStartUpDelay(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS: %s", r.Verdict, r.Message)
	}

	// First audio at 300ms: 200ms delay, over the limit.
	in.Audio = audioInput(48000, []audio.Segment{{MediaTime: 0, Offset: 14400}})
	if r := checkAudioStartUpDelay(in); r.Verdict != Fail {
		t.Errorf("Verdict = %s, want FAIL: %s", r.Verdict, r.Message)
	}
}

func TestAudioVideoSynchronization(t *testing.T) {
	p := seqParams(30)
	p.AVSyncToleranceMs = 40
	video := mkVideo("A", 1, 30, 0, testMezzRate)

	// Audio segment at media time 0 plays at sample 0 while the matching
	// video frame shows at camera frame 0: perfectly in sync.
	in := &Input{
		Video:  video,
		Params: p,
		Audio:  audioInput(48000, []audio.Segment{{MediaTime: 0, Offset: 0}}),
	}
	if r := checkAudioVideoSynchronization(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS: %s", r.Verdict, r.Message)
	}

	// Audio leads video by 100ms.
	in.Audio = audioInput(48000, []audio.Segment{{MediaTime: 100, Offset: 0}})
	if r := checkAudioVideoSynchronization(in); r.Verdict != Fail {
		t.Errorf("Verdict = %s, want FAIL: %s", r.Verdict, r.Message)
	}
}

func TestAudioVideoSynchronizationCalibration(t *testing.T) {
	p := seqParams(30)
	p.AVSyncToleranceMs = 40
	p.CalibrationOffsetMs = 100
	video := mkVideo("A", 1, 30, 0, testMezzRate)

	// The same 100ms skew passes once the camera calibration explains it.
	in := &Input{
		Video:  video,
		Params: p,
		Audio:  audioInput(48000, []audio.Segment{{MediaTime: 100, Offset: 0}}),
	}
	if r := checkAudioVideoSynchronization(in); r.Verdict != Pass {
		t.Errorf("Verdict = %s, want PASS with calibration offset: %s", r.Verdict, r.Message)
	}
}
