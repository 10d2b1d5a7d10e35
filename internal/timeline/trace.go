package timeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"playback-observer/internal/logging"
	"playback-observer/internal/qr"
)

// Trace writes one CSV row per decoded QR code. Only opened in debug mode;
// the file is the first thing to look at when a verdict seems wrong.
type Trace struct {
	f *os.File
	w *csv.Writer
}

var traceHeader = []string{
	"camera_frame_index", "kind", "content_id", "media_time_ms",
	"frame_number", "frame_rate", "status", "last_action",
	"current_time", "delay", "session_token", "test_id",
}

// NewTrace opens the trace file and writes the header row.
func NewTrace(path string) (*Trace, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(traceHeader); err != nil {
		f.Close()
		return nil, err
	}
	return &Trace{f: f, w: w}, nil
}

// Add records one detection.
func (t *Trace) Add(frameIndex int, det qr.Detection) {
	row := make([]string, len(traceHeader))
	row[0] = strconv.Itoa(frameIndex)
	row[1] = det.Kind.String()

	switch det.Kind {
	case qr.KindMezzanine:
		m := det.Mezzanine
		row[2] = m.ContentID
		row[3] = strconv.FormatFloat(m.MediaTime, 'f', 3, 64)
		row[4] = strconv.Itoa(m.FrameNumber)
		row[5] = strconv.FormatFloat(m.FrameRate, 'f', -1, 64)
	case qr.KindStatus:
		s := det.Status
		row[6] = s.Status
		row[7] = s.LastAction
		if s.CurrentTime != nil {
			row[8] = strconv.FormatFloat(*s.CurrentTime, 'f', 3, 64)
		}
		if s.Delay != nil {
			row[9] = strconv.FormatFloat(*s.Delay, 'f', 3, 64)
		}
	case qr.KindPreTest:
		row[10] = det.PreTest.SessionToken
		row[11] = det.PreTest.TestID
	}

	if err := t.w.Write(row); err != nil {
		logging.Warn("Trace write failed: %v", err)
	}
}

// Close flushes and closes the trace file.
func (t *Trace) Close() {
	t.w.Flush()
	if err := t.w.Error(); err != nil {
		logging.Warn("Trace flush failed: %v", err)
	}
	if err := t.f.Close(); err != nil {
		logging.Warn("Trace close failed: %v", err)
	}
}
