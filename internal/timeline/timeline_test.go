package timeline

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"playback-observer/internal/qr"
)

func preTestDet(token, testID string, frame int) qr.Detection {
	return qr.Detection{
		Kind: qr.KindPreTest,
		PreTest: &qr.PreTest{
			SessionToken:     token,
			TestID:           testID,
			CameraFrameIndex: frame,
		},
	}
}

func mezzDet(contentID string, frameNum, cameraFrame int) qr.Detection {
	return qr.Detection{
		Kind: qr.KindMezzanine,
		Mezzanine: &qr.Mezzanine{
			ContentID:            contentID,
			FrameNumber:          frameNum,
			MediaTime:            float64(frameNum-1) / 30 * 1000,
			FrameRate:            30,
			CameraFrameIndex:     cameraFrame,
			LastCameraFrameIndex: cameraFrame,
		},
	}
}

func statusDet(status, action string, cameraFrame int) qr.Detection {
	return qr.Detection{
		Kind: qr.KindStatus,
		Status: &qr.Status{
			Status:           status,
			LastAction:       action,
			CameraFrameIndex: cameraFrame,
		},
	}
}

func testConfig() Config {
	return Config{
		CameraFPS:           120,
		DuplicateWindow:     3,
		EndOfSessionTimeout: 10 * time.Second,
		NoQrCodeTimeout:     5 * time.Second,
	}
}

func TestAssembleSingleTest(t *testing.T) {
	a := New(testConfig(), nil)

	push := func(frame int, dets ...qr.Detection) {
		t.Helper()
		if err := a.Push(frame, dets); err != nil {
			t.Fatalf("Push(%d) failed: %v", frame, err)
		}
	}

	push(0, preTestDet("tok", "1", 0))
	push(1, mezzDet("clip_A1", 1, 1), statusDet("playing", "play", 1))
	push(2, mezzDet("clip_A1", 1, 2))
	push(3, mezzDet("clip_A1", 2, 3))
	push(4, statusDet("ended", "", 4))

	tests, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if len(tests) != 1 {
		t.Fatalf("got %d tests, want 1", len(tests))
	}

	test := tests[0]
	if test.TestID != "1" || test.SessionToken != "tok" {
		t.Errorf("test identity = %q/%q, want 1/tok", test.TestID, test.SessionToken)
	}
	if len(test.Video) != 2 {
		t.Fatalf("got %d video entries, want 2 (duplicate folded)", len(test.Video))
	}
	if test.Video[0].LastCameraFrameIndex != 2 {
		t.Errorf("duplicate sighting did not advance LastCameraFrameIndex, got %d",
			test.Video[0].LastCameraFrameIndex)
	}
	if len(test.Status) != 2 {
		t.Errorf("got %d status entries, want 2", len(test.Status))
	}
	if !test.Ended() || test.EndedFrame != 4 {
		t.Errorf("EndedFrame = %d, want 4", test.EndedFrame)
	}
}

func TestDuplicateWindowLimitsLookBack(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicateWindow = 3
	a := New(cfg, nil)

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}

	// Looped content re-shows frame 1 after frames 2, 3, 4: outside the
	// window of 3, so it must append, not fold.
	frames := []int{1, 2, 3, 4, 1}
	for i, n := range frames {
		if err := a.Push(i+1, []qr.Detection{mezzDet("clip_A1", n, i+1)}); err != nil {
			t.Fatal(err)
		}
	}

	tests, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(tests[0].Video); got != 5 {
		t.Errorf("got %d video entries, want 5", got)
	}
}

func TestDuplicateWindowFoldsWithinWindow(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicateWindow = 4
	a := New(cfg, nil)

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	frames := []int{1, 2, 3, 4, 1}
	for i, n := range frames {
		if err := a.Push(i+1, []qr.Detection{mezzDet("clip_A1", n, i+1)}); err != nil {
			t.Fatal(err)
		}
	}

	tests, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(tests[0].Video); got != 4 {
		t.Errorf("got %d video entries, want 4 (repeat folded)", got)
	}
	if tests[0].Video[0].LastCameraFrameIndex != 5 {
		t.Errorf("folded repeat should advance LastCameraFrameIndex to 5, got %d",
			tests[0].Video[0].LastCameraFrameIndex)
	}
}

func TestDuplicateRequiresSameContent(t *testing.T) {
	a := New(testConfig(), nil)

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(1, []qr.Detection{mezzDet("clip_A1", 1, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(2, []qr.Detection{mezzDet("clip_B1", 1, 2)}); err != nil {
		t.Fatal(err)
	}

	tests, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if got := len(tests[0].Video); got != 2 {
		t.Errorf("same frame number in different content folded, got %d entries, want 2", got)
	}
}

func TestSameCameraFrameSortedByFrameNumber(t *testing.T) {
	a := New(testConfig(), nil)

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	// A camera frame straddling a content frame change can decode both
	// codes, and the decoder does not promise screen order.
	if err := a.Push(1, []qr.Detection{mezzDet("clip_A1", 2, 1), mezzDet("clip_A1", 1, 1)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(2, []qr.Detection{mezzDet("clip_A1", 3, 2)}); err != nil {
		t.Fatal(err)
	}

	tests, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	video := tests[0].Video
	if len(video) != 3 {
		t.Fatalf("got %d video entries, want 3", len(video))
	}
	for i, want := range []int{1, 2, 3} {
		if video[i].FrameNumber != want {
			t.Errorf("Video[%d].FrameNumber = %d, want %d", i, video[i].FrameNumber, want)
		}
	}
}

func TestRepeatedStatusFoldedToOne(t *testing.T) {
	a := New(testConfig(), nil)

	playing := func(ct, delay float64, frame int) qr.Detection {
		return qr.Detection{
			Kind: qr.KindStatus,
			Status: &qr.Status{
				Status:           "playing",
				LastAction:       "play",
				CurrentTime:      &ct,
				Delay:            &delay,
				CameraFrameIndex: frame,
			},
		}
	}

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	// The same on-screen code photographed on three camera frames, then a
	// genuinely new report.
	for i, det := range []qr.Detection{
		playing(0.5, 30, 1),
		playing(0.5, 30, 2),
		playing(0.5, 30, 3),
		playing(1.0, 32, 4),
	} {
		if err := a.Push(i+1, []qr.Detection{det}); err != nil {
			t.Fatal(err)
		}
	}

	tests, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	status := tests[0].Status
	if len(status) != 2 {
		t.Fatalf("got %d status entries, want 2 (repeats folded)", len(status))
	}
	if status[0].CameraFrameIndex != 1 {
		t.Errorf("kept status CameraFrameIndex = %d, want the first sighting at 1",
			status[0].CameraFrameIndex)
	}
	if *status[1].CurrentTime != 1.0 {
		t.Errorf("second status CurrentTime = %v, want 1.0", *status[1].CurrentTime)
	}
}

func TestMultipleTests(t *testing.T) {
	a := New(testConfig(), nil)

	steps := []struct {
		frame int
		dets  []qr.Detection
	}{
		{0, []qr.Detection{preTestDet("tok", "1", 0)}},
		{1, []qr.Detection{mezzDet("clip_A1", 1, 1)}},
		{2, []qr.Detection{statusDet("ended", "", 2)}},
		{3, []qr.Detection{preTestDet("tok", "2", 3)}},
		{4, []qr.Detection{mezzDet("clip_A1", 1, 4)}},
		{5, []qr.Detection{statusDet("ended", "", 5)}},
	}
	for _, st := range steps {
		if err := a.Push(st.frame, st.dets); err != nil {
			t.Fatalf("Push(%d) failed: %v", st.frame, err)
		}
	}

	tests, err := a.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if len(tests) != 2 {
		t.Fatalf("got %d tests, want 2", len(tests))
	}
	if tests[0].TestID != "1" || tests[1].TestID != "2" {
		t.Errorf("test ids = %q, %q, want 1, 2", tests[0].TestID, tests[1].TestID)
	}
	if len(tests[0].Video) != 1 || len(tests[1].Video) != 1 {
		t.Errorf("video split across tests = %d/%d, want 1/1",
			len(tests[0].Video), len(tests[1].Video))
	}
}

func TestOutOfOrderPushIsFatal(t *testing.T) {
	a := New(testConfig(), nil)
	if err := a.Push(5, nil); err != nil {
		t.Fatal(err)
	}
	err := a.Push(5, nil)
	var fatal *SessionFatal
	if !errors.As(err, &fatal) {
		t.Fatalf("expected *SessionFatal, got %v", err)
	}
	if fatal.Reason != ReasonQrStreamInterrupted {
		t.Errorf("Reason = %s, want %s", fatal.Reason, ReasonQrStreamInterrupted)
	}
}

func TestNoQrCodeTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CameraFPS = 30
	cfg.NoQrCodeTimeout = 1 * time.Second
	a := New(cfg, nil)

	for i := 0; i < 30; i++ {
		if err := a.Push(i, nil); err != nil {
			t.Fatalf("Push(%d) failed before the timeout: %v", i, err)
		}
	}
	err := a.Push(30, nil)
	var fatal *SessionFatal
	if !errors.As(err, &fatal) || fatal.Reason != ReasonNoQrCodes {
		t.Fatalf("expected no_qr_codes fatal at the timeout, got %v", err)
	}
}

func TestQrStreamInterruptedMidTest(t *testing.T) {
	cfg := testConfig()
	cfg.CameraFPS = 30
	cfg.ConsecutiveNoQrThreshold = 2
	a := New(cfg, nil)

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(1, []qr.Detection{mezzDet("clip_A1", 1, 1)}); err != nil {
		t.Fatal(err)
	}

	// The mezzanine runs at 30fps like the camera, so the scaled threshold
	// is 2 camera frames: one empty frame is tolerated, the second is fatal.
	if err := a.Push(2, nil); err != nil {
		t.Fatalf("first empty frame should not abort, got %v", err)
	}
	err := a.Push(3, nil)
	var fatal *SessionFatal
	if !errors.As(err, &fatal) || fatal.Reason != ReasonQrStreamInterrupted {
		t.Fatalf("expected qr_stream_interrupted fatal, got %v", err)
	}
	if fatal.CameraFrameIndex != 3 {
		t.Errorf("fatal at frame %d, want 3", fatal.CameraFrameIndex)
	}
}

func TestEndOfSessionTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.CameraFPS = 30
	cfg.EndOfSessionTimeout = 1 * time.Second
	a := New(cfg, nil)

	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(1, []qr.Detection{statusDet("ended", "", 1)}); err != nil {
		t.Fatal(err)
	}

	for i := 2; i < 40; i++ {
		if err := a.Push(i, nil); err != nil {
			t.Fatalf("Push(%d) failed: %v", i, err)
		}
		if a.State() == Ended {
			if i < 32 {
				t.Fatalf("session ended too early at frame %d", i)
			}
			return
		}
	}
	t.Fatal("session never reached Ended state")
}

func TestFinishWithoutAnyQr(t *testing.T) {
	a := New(testConfig(), nil)
	for i := 0; i < 10; i++ {
		if err := a.Push(i, nil); err != nil {
			t.Fatal(err)
		}
	}
	_, err := a.Finish()
	var fatal *SessionFatal
	if !errors.As(err, &fatal) || fatal.Reason != ReasonNoQrCodes {
		t.Fatalf("expected no_qr_codes fatal, got %v", err)
	}
}

func TestFinishWithoutSessionAnnouncement(t *testing.T) {
	a := New(testConfig(), nil)
	if err := a.Push(0, []qr.Detection{mezzDet("clip_A1", 1, 0)}); err != nil {
		t.Fatal(err)
	}
	_, err := a.Finish()
	var fatal *SessionFatal
	if !errors.As(err, &fatal) || fatal.Reason != ReasonNoSession {
		t.Fatalf("expected no_session fatal, got %v", err)
	}
}

func TestSessionTokenMismatchIsFatal(t *testing.T) {
	a := New(testConfig(), nil)
	if err := a.Push(0, []qr.Detection{preTestDet("tok", "1", 0)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Push(1, []qr.Detection{statusDet("ended", "", 1)}); err != nil {
		t.Fatal(err)
	}

	err := a.Push(2, []qr.Detection{preTestDet("other", "2", 2)})
	var fatal *SessionFatal
	if !errors.As(err, &fatal) || fatal.Reason != ReasonTokenMismatch {
		t.Fatalf("expected session_token_mismatch fatal, got %v", err)
	}
}

func TestSessionFatalMessage(t *testing.T) {
	err := &SessionFatal{Reason: ReasonNoQrCodes, CameraFrameIndex: 12, Message: "m"}
	want := fmt.Sprintf("session aborted at camera frame 12: m (%s)", ReasonNoQrCodes)
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
