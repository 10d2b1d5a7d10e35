package frames

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"time"

	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
)

// ErrCorruptedFrame is returned when a recording ends mid-frame and
// corrupted reads were not explicitly allowed.
var ErrCorruptedFrame = errors.New("corrupted frame read")

// Frame is a single grayscale camera frame. Index is zero-based and
// continuous across all files of the session.
type Frame struct {
	Index int
	File  string
	Gray  *image.Gray
}

// Source decodes camera frames from an ordered list of recording files as a
// single continuous sequence. Frames are produced as 8-bit grayscale, which
// is all the QR scanner needs.
//
// Source is not safe for concurrent use; one goroutine reads frames and
// hands them to the scan pool.
type Source struct {
	infos           []*Info
	ignoreCorrupted bool

	ctx     context.Context
	fileIdx int
	cmd     *exec.Cmd
	reader  *bufio.Reader
	stderr  bytes.Buffer

	nextIndex int
	closed    bool
}

// NewSource probes every file up front so that dimension or frame-rate
// mismatches surface before any decoding starts.
func NewSource(ctx context.Context, paths []string, ignoreCorrupted bool) (*Source, error) {
	if len(paths) == 0 {
		return nil, errors.New("no recording files")
	}

	infos := make([]*Info, len(paths))
	for i, p := range paths {
		info, err := Probe(ctx, p)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}

	first := infos[0]
	for _, info := range infos[1:] {
		if info.Width != first.Width || info.Height != first.Height {
			return nil, fmt.Errorf("recording %s is %dx%d, expected %dx%d",
				info.Path, info.Width, info.Height, first.Width, first.Height)
		}
		if info.FPS != first.FPS {
			return nil, fmt.Errorf("recording %s has frame rate %.3f, expected %.3f",
				info.Path, info.FPS, first.FPS)
		}
	}

	return &Source{
		infos:           infos,
		ignoreCorrupted: ignoreCorrupted,
		ctx:             ctx,
		fileIdx:         -1,
	}, nil
}

// FPS returns the camera frame rate of the session.
func (s *Source) FPS() float64 { return s.infos[0].FPS }

// Width returns the frame width in pixels.
func (s *Source) Width() int { return s.infos[0].Width }

// Height returns the frame height in pixels.
func (s *Source) Height() int { return s.infos[0].Height }

// TotalFrames returns the probed frame count summed over all files.
func (s *Source) TotalFrames() int {
	total := 0
	for _, info := range s.infos {
		total += info.FrameCount
	}
	return total
}

// Next returns the next frame of the session, or io.EOF when all files are
// exhausted. A file that ends mid-frame returns ErrCorruptedFrame unless
// corrupted reads were allowed, in which case the partial frame is dropped
// and decoding continues with the next file.
func (s *Source) Next() (*Frame, error) {
	if s.closed {
		return nil, errors.New("source is closed")
	}

	for {
		if s.cmd == nil {
			if !s.openNext() {
				return nil, io.EOF
			}
		}

		start := time.Now()
		info := s.infos[s.fileIdx]
		frameSize := info.Width * info.Height
		buf := make([]byte, frameSize)

		_, err := io.ReadFull(s.reader, buf)
		switch {
		case err == nil:
			metrics.FramesReadTotal.WithLabelValues("ok").Inc()
			metrics.FrameReadDuration.Observe(time.Since(start).Seconds())
			frame := &Frame{
				Index: s.nextIndex,
				File:  info.Path,
				Gray: &image.Gray{
					Pix:    buf,
					Stride: info.Width,
					Rect:   image.Rect(0, 0, info.Width, info.Height),
				},
			}
			s.nextIndex++
			return frame, nil

		case err == io.EOF:
			s.finishFile()

		case err == io.ErrUnexpectedEOF:
			metrics.FramesReadTotal.WithLabelValues("corrupted").Inc()
			s.finishFile()
			if !s.ignoreCorrupted {
				return nil, fmt.Errorf("%w in %s at frame %d", ErrCorruptedFrame, info.Path, s.nextIndex)
			}
			logging.Warn("Dropping corrupted trailing frame %d in %s", s.nextIndex, info.Path)

		default:
			s.finishFile()
			return nil, fmt.Errorf("frame read error in %s: %w", info.Path, err)
		}
	}
}

// Close releases the decoder process. Safe to call more than once.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd != nil {
		s.cmd.Process.Kill()
		s.cmd.Wait()
		s.cmd = nil
		s.reader = nil
	}
	return nil
}

func (s *Source) openNext() bool {
	s.fileIdx++
	if s.fileIdx >= len(s.infos) {
		return false
	}
	info := s.infos[s.fileIdx]

	s.stderr.Reset()
	cmd := exec.CommandContext(s.ctx, "ffmpeg",
		"-v", "error",
		"-i", info.Path,
		"-f", "rawvideo",
		"-pix_fmt", "gray",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logging.Error("Failed to create decoder pipe for %s: %v", info.Path, err)
		return s.openNext()
	}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		logging.Error("Failed to start decoder for %s: %v", info.Path, err)
		return s.openNext()
	}

	logging.Debug("Decoding %s (%dx%d @ %.3f fps, ~%d frames)",
		info.Path, info.Width, info.Height, info.FPS, info.FrameCount)

	s.cmd = cmd
	s.reader = bufio.NewReaderSize(stdout, 1<<20)
	metrics.RecordingsProcessedTotal.Inc()
	return true
}

func (s *Source) finishFile() {
	if s.cmd == nil {
		return
	}
	if err := s.cmd.Wait(); err != nil && s.stderr.Len() > 0 {
		logging.Warn("Decoder for %s exited with: %v - %s",
			s.infos[s.fileIdx].Path, err, s.stderr.String())
	}
	s.cmd = nil
	s.reader = nil
}
