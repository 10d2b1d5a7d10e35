package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"playback-observer/internal/audio"
	"playback-observer/internal/frames"
	"playback-observer/internal/logging"
	"playback-observer/internal/startup"
)

// Calibrate measures the camera's video-to-audio offset from a recording
// of the flash-and-beep calibration clip. The measured mean offset is what
// CALIBRATION_OFFSET should be set to for subsequent observations.
func Calibrate(ctx context.Context, cfg *startup.Config, input string) error {
	paths, err := frames.ListRecordings(input, cfg.SortInputFilesBy)
	if err != nil {
		return err
	}

	src, err := frames.NewSource(ctx, paths, cfg.IgnoreCorrupted)
	if err != nil {
		return err
	}
	defer src.Close()

	cal := cfg.Calibration
	logging.Info("Calibrating from %s (%.3f fps)", input, src.FPS())

	var intensity []float64
	for {
		frame, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		intensity = append(intensity, audio.ROIIntensity(frame.Gray, cal.XRatio, cal.YRatio, cal.WindowSize))
	}

	wavPath := filepath.Join(cfg.ResultsDir, sessionBaseName(input)+"_calibration.wav")
	defer os.Remove(wavPath)
	if err := frames.ExtractAudio(ctx, paths[0], wavPath, audioSampleRate); err != nil {
		return fmt.Errorf("calibration recording has no audio track: %w", err)
	}
	clip, err := audio.ReadWav(wavPath)
	if err != nil {
		return err
	}

	flashes := audio.DetectFlashes(intensity, src.FPS(), cal.FlashThreshold, cal.FadeOutFrames)
	beeps := audio.DetectBeeps(clip, cal.BeepThreshold, cal.MinSilenceDuration)
	logging.Info("Detected %d flashes and %d beeps", len(flashes), len(beeps))

	result, err := audio.Offset(flashes, beeps, cal.FlashAndBeepCount)
	if err != nil {
		return err
	}

	logging.Info("Camera offset: mean %s, worst %s", result.MeanOffset, result.MaxOffset)
	switch {
	case absDuration(result.MaxOffset) > cal.MaxAllowedOffset:
		logging.Error("Offset exceeds %s, the camera is not suitable for observations", cal.MaxAllowedOffset)
	case absDuration(result.MeanOffset) > cal.AllowedOffset:
		logging.Warn("Offset exceeds %s, set CALIBRATION_OFFSET=%s to compensate",
			cal.AllowedOffset, result.MeanOffset.Round(time.Millisecond))
	default:
		logging.Info("Camera offset within %s, no compensation needed", cal.AllowedOffset)
	}

	return writeCalibrationFile(cfg.ResultsDir, input, result)
}

func writeCalibrationFile(resultsDir, input string, result *audio.CalibrationResult) error {
	path := filepath.Join(resultsDir, sessionBaseName(input)+"_calibration.json")
	payload := map[string]interface{}{
		"recording":      input,
		"mean_offset_ms": float64(result.MeanOffset) / float64(time.Millisecond),
		"max_offset_ms":  float64(result.MaxOffset) / float64(time.Millisecond),
		"flashes":        result.Flashes,
		"beeps":          result.Beeps,
	}
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write calibration file %s: %w", path, err)
	}
	logging.Info("Saved calibration report to %s", path)
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
