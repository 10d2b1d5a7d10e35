package timeline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
	"playback-observer/internal/qr"
)

// Reason classifies why a session cannot produce verdicts.
type Reason string

const (
	// ReasonNoQrCodes means no QR code was ever detected within the
	// startup timeout. Usually the camera is not pointed at the screen.
	ReasonNoQrCodes Reason = "no_qr_codes"
	// ReasonQrStreamInterrupted means mezzanine codes stopped appearing
	// mid-test for longer than the configured threshold.
	ReasonQrStreamInterrupted Reason = "qr_stream_interrupted"
	// ReasonNoSession means the recording contained QR codes but never a
	// session announcement.
	ReasonNoSession Reason = "no_session"
	// ReasonTokenMismatch means the recording mixes announcements from two
	// different sessions. One recording must hold exactly one session.
	ReasonTokenMismatch Reason = "session_token_mismatch"
)

// SessionFatal is an error value that aborts analysis of the whole
// recording. Per-test problems never use it; they become ERROR or NOT_RUN
// verdicts instead.
type SessionFatal struct {
	Reason           Reason
	CameraFrameIndex int
	Message          string
}

func (e *SessionFatal) Error() string {
	return fmt.Sprintf("session aborted at camera frame %d: %s (%s)",
		e.CameraFrameIndex, e.Message, e.Reason)
}

// State is the assembler's lifecycle position.
type State int

const (
	// AwaitingStart means no session announcement has been seen yet.
	AwaitingStart State = iota
	// Collecting means a test is in progress.
	Collecting
	// Ended means the end-of-session timeout elapsed after the last test.
	Ended
)

// Test is the assembled recording of a single test: the session
// announcement that started it, every mezzanine sighting in camera order,
// and the status reports from the test page.
type Test struct {
	TestID       string
	SessionToken string
	PreTest      qr.PreTest
	Video        []*qr.Mezzanine
	Status       []*qr.Status

	// EndedFrame is the camera frame of the "ended" status report, or -1.
	EndedFrame int
}

// Ended reports whether the test page announced playback completion.
func (t *Test) Ended() bool { return t.EndedFrame >= 0 }

// Config holds the assembler thresholds. Timeouts are wall-clock durations
// converted to camera frame gaps using the recording frame rate.
type Config struct {
	CameraFPS                float64
	DuplicateWindow          int
	ConsecutiveNoQrThreshold int
	EndOfSessionTimeout      time.Duration
	NoQrCodeTimeout          time.Duration
}

// Assembler folds per-frame scan results, arriving in camera order, into
// per-test timelines. It owns the duplicate filter and the session-level
// timeouts.
type Assembler struct {
	cfg   Config
	trace *Trace

	state      State
	tests      []*Test
	current    *Test
	lastQrSeen int
	lastFrame  int
	sawAnyQr   bool

	noQrRun      int
	lastMezzRate float64
}

// New returns an assembler. trace may be nil.
func New(cfg Config, trace *Trace) *Assembler {
	if cfg.DuplicateWindow < 1 {
		cfg.DuplicateWindow = 1
	}
	return &Assembler{cfg: cfg, trace: trace, lastQrSeen: -1, lastFrame: -1}
}

// State returns the current lifecycle state.
func (a *Assembler) State() State { return a.state }

// Tests returns the assembled tests so far.
func (a *Assembler) Tests() []*Test { return a.tests }

// Push folds the detections of one camera frame. Frames must arrive in
// strictly increasing index order, including frames with no detections.
// The returned error, when not nil, is always a *SessionFatal.
func (a *Assembler) Push(frameIndex int, dets []qr.Detection) error {
	if frameIndex <= a.lastFrame {
		return &SessionFatal{
			Reason:           ReasonQrStreamInterrupted,
			CameraFrameIndex: frameIndex,
			Message:          fmt.Sprintf("frame %d pushed after frame %d", frameIndex, a.lastFrame),
		}
	}
	a.lastFrame = frameIndex

	if a.state == Ended {
		return nil
	}

	var mezz []*qr.Mezzanine
	for _, det := range dets {
		if a.trace != nil {
			a.trace.Add(frameIndex, det)
		}
		switch det.Kind {
		case qr.KindPreTest:
			if err := a.startTest(det.PreTest); err != nil {
				return err
			}
		case qr.KindMezzanine:
			mezz = append(mezz, det.Mezzanine)
		case qr.KindStatus:
			a.addStatus(frameIndex, det.Status)
		default:
			logging.Debug("Ignoring unrecognized QR payload at frame %d: %q", frameIndex, det.Raw)
		}
	}

	// The decoder reports codes in scan order, not screen order. A camera
	// frame straddling a content frame change can carry both codes; fold
	// them in frame number order so they do not read as a backwards jump.
	sort.SliceStable(mezz, func(i, j int) bool {
		return mezz[i].FrameNumber < mezz[j].FrameNumber
	})
	for _, m := range mezz {
		a.lastMezzRate = m.FrameRate
		a.addMezzanine(m)
	}
	sawMezzanine := len(mezz) > 0

	if len(dets) > 0 {
		a.sawAnyQr = true
		a.lastQrSeen = frameIndex
	}

	return a.checkTimeouts(frameIndex, sawMezzanine)
}

// Finish closes out the assembly once the recording is exhausted and
// returns the assembled tests.
func (a *Assembler) Finish() ([]*Test, error) {
	if a.trace != nil {
		a.trace.Close()
	}
	if len(a.tests) == 0 {
		reason := ReasonNoSession
		msg := "QR codes detected but no session announcement"
		if !a.sawAnyQr {
			reason = ReasonNoQrCodes
			msg = "no QR codes detected in the recording"
		}
		return nil, &SessionFatal{Reason: reason, CameraFrameIndex: a.lastFrame, Message: msg}
	}
	return a.tests, nil
}

func (a *Assembler) startTest(pt *qr.PreTest) error {
	if len(a.tests) > 0 && a.tests[0].SessionToken != pt.SessionToken {
		return &SessionFatal{
			Reason:           ReasonTokenMismatch,
			CameraFrameIndex: pt.CameraFrameIndex,
			Message: fmt.Sprintf("session %s announced while recording session %s",
				pt.SessionToken, a.tests[0].SessionToken),
		}
	}
	if a.current != nil && !a.current.Ended() {
		logging.Warn("Test %s never reported ended before next test started", a.current.TestID)
	}
	t := &Test{
		TestID:       pt.TestID,
		SessionToken: pt.SessionToken,
		PreTest:      *pt,
		EndedFrame:   -1,
	}
	a.tests = append(a.tests, t)
	a.current = t
	a.state = Collecting
	a.noQrRun = 0
	logging.Info("Test %s started at camera frame %d (session %s)",
		pt.TestID, pt.CameraFrameIndex, pt.SessionToken)
	return nil
}

// addMezzanine appends a sighting unless it repeats one of the most recent
// entries, in which case only that entry's last-seen frame advances. The
// camera typically runs faster than the content, so every content frame is
// photographed several times.
func (a *Assembler) addMezzanine(m *qr.Mezzanine) {
	if a.current == nil {
		logging.Debug("Mezzanine code before any session announcement, frame %d", m.CameraFrameIndex)
		return
	}
	video := a.current.Video
	for i := len(video) - 1; i >= 0 && i >= len(video)-a.cfg.DuplicateWindow; i-- {
		prev := video[i]
		if prev.FrameNumber == m.FrameNumber && prev.ContentID == m.ContentID {
			prev.LastCameraFrameIndex = m.CameraFrameIndex
			metrics.DuplicateFramesTotal.Inc()
			return
		}
	}
	a.current.Video = append(a.current.Video, m)
}

// addStatus appends a status report unless it repeats the previous one.
// The test page keeps a code on screen until the next event, so the same
// report is photographed on several camera frames; a repeat carries no new
// information and its stale delay would skew the event timings.
func (a *Assembler) addStatus(frameIndex int, s *qr.Status) {
	if a.current == nil {
		logging.Debug("Status report before any session announcement, frame %d", frameIndex)
		return
	}
	if n := len(a.current.Status); n > 0 && sameStatus(a.current.Status[n-1], s) {
		metrics.DuplicateFramesTotal.Inc()
		return
	}
	a.current.Status = append(a.current.Status, s)
	if s.Status == "ended" && a.current.EndedFrame < 0 {
		a.current.EndedFrame = frameIndex
		logging.Info("Test %s reported ended at camera frame %d", a.current.TestID, frameIndex)
	}
}

// sameStatus reports whether two status codes carry the same payload. The
// camera frame indexes are ignored; a later sighting of the same code is
// the same code.
func sameStatus(a, b *qr.Status) bool {
	return a.Status == b.Status &&
		a.LastAction == b.LastAction &&
		equalFloatPtr(a.CurrentTime, b.CurrentTime) &&
		equalFloatPtr(a.Delay, b.Delay)
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (a *Assembler) checkTimeouts(frameIndex int, sawMezzanine bool) error {
	fps := a.cfg.CameraFPS

	switch a.state {
	case AwaitingStart:
		if !a.sawAnyQr && a.cfg.NoQrCodeTimeout > 0 {
			limit := int(a.cfg.NoQrCodeTimeout.Seconds() * fps)
			if frameIndex >= limit {
				return &SessionFatal{
					Reason:           ReasonNoQrCodes,
					CameraFrameIndex: frameIndex,
					Message: fmt.Sprintf("no QR code detected within %s of recording start",
						a.cfg.NoQrCodeTimeout),
				}
			}
		}

	case Collecting:
		if a.current != nil && a.current.Ended() {
			// Between tests: wait for either the next announcement or
			// the end-of-session timeout.
			gap := frameIndex - a.lastQrSeen
			if a.cfg.EndOfSessionTimeout > 0 && float64(gap) > a.cfg.EndOfSessionTimeout.Seconds()*fps {
				a.state = Ended
				logging.Info("Session ended: no QR activity for %s after last test", a.cfg.EndOfSessionTimeout)
			}
			return nil
		}

		if sawMezzanine {
			a.noQrRun = 0
			return nil
		}
		a.noQrRun++
		if a.cfg.ConsecutiveNoQrThreshold > 0 && a.lastMezzRate > 0 {
			// A mezzanine frame is photographed fps/mezzRate times, so the
			// threshold counts content frames, not camera frames.
			scaled := int(math.Ceil(float64(a.cfg.ConsecutiveNoQrThreshold) * fps / a.lastMezzRate))
			if a.noQrRun >= scaled {
				return &SessionFatal{
					Reason:           ReasonQrStreamInterrupted,
					CameraFrameIndex: frameIndex,
					Message: fmt.Sprintf("%d consecutive camera frames without a mezzanine code during %s",
						a.noQrRun, a.current.TestID),
				}
			}
		}
	}
	return nil
}
