package audio

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"

	"playback-observer/internal/logging"
)

// Clip is a mono PCM signal with its sample rate. Samples are normalized
// to [-1, 1].
type Clip struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadWav loads a WAV file as a mono clip. Multi-channel files keep only
// the first channel, which carries the observed signal in the two-channel
// recording setup.
func ReadWav(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate == 0 {
		return nil, fmt.Errorf("missing format information in %s", path)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := float64(int64(1) << 15)
	if dec.BitDepth > 0 {
		scale = float64(int64(1) << (dec.BitDepth - 1))
	}

	n := len(buf.Data) / channels
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = float64(buf.Data[i*channels]) / scale
	}

	return &Clip{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// LoadMezzanine reads the pseudo-noise reference for a content id from the
// mezzanine directory, verifying the .md5 sidecar when one exists. A stale
// reference produces alignment results that look like device failures.
func LoadMezzanine(dir, contentID string) (*Clip, error) {
	path := filepath.Join(dir, contentID+".wav")

	if sum, err := os.ReadFile(path + ".md5"); err == nil {
		fields := strings.Fields(string(sum))
		if len(fields) == 0 {
			return nil, fmt.Errorf("mezzanine sidecar %s.md5 is empty", path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		actual := md5.Sum(data)
		if hex.EncodeToString(actual[:]) != fields[0] {
			return nil, fmt.Errorf("mezzanine %s does not match its md5 sidecar", path)
		}
		logging.Debug("Verified mezzanine checksum for %s", contentID)
	}

	return ReadWav(path)
}
