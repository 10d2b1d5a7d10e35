package frames

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExtractAudio writes the audio track of a recording to a mono 16-bit PCM
// WAV file at the given sample rate. The observed channel is the left one,
// which carries the white-noise signal in a two-channel recording setup.
func ExtractAudio(ctx context.Context, videoPath, wavPath string, sampleRate int) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-v", "error",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-af", "pan=mono|c0=FL",
		wavPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio extraction failed for %s: %w - %s", videoPath, err, stderr.String())
	}
	return nil
}
