package qr

import (
	"encoding/json"
	"image"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies which of the on-screen QR codes a payload came from.
type Kind int

const (
	// KindUnrecognized is a decoded payload matching no known grammar.
	KindUnrecognized Kind = iota
	// KindMezzanine is a content-embedded frame marker.
	KindMezzanine
	// KindStatus is a test-runner playback status report.
	KindStatus
	// KindPreTest is the session announcement shown before playback.
	KindPreTest
)

func (k Kind) String() string {
	switch k {
	case KindMezzanine:
		return "mezzanine"
	case KindStatus:
		return "status"
	case KindPreTest:
		return "pre_test"
	default:
		return "unrecognized"
	}
}

// Mezzanine payload: "<content-id>;<HH:MM:SS.mmm>;<NNNNNNN>;<frame-rate>".
// Minutes and seconds are allowed up to 69 to tolerate leap-second encodings
// in older mezzanine releases.
var mezzanineRe = regexp.MustCompile(`^(.+);(\d{2}:[0-6][0-9]:[0-6][0-9]\.\d{3});(\d{7});([0-9.]+)$`)

// Mezzanine is a decoded content frame marker.
type Mezzanine struct {
	ContentID string
	// MediaTime is the presentation time in milliseconds.
	MediaTime float64
	// FrameNumber is the one-based mezzanine frame number.
	FrameNumber int
	// FrameRate is the mezzanine frame rate, normalized to its exact
	// rational value for NTSC-style rates.
	FrameRate float64
	// CameraFrameIndex is the camera frame the code was first seen on.
	CameraFrameIndex int
	// LastCameraFrameIndex is the camera frame the code was last seen on.
	// The duplicate filter advances it for every repeated sighting.
	LastCameraFrameIndex int
	Location             image.Rectangle
}

// Status is a decoded playback status report from the test page.
type Status struct {
	Status     string
	LastAction string
	// CurrentTime is the reported media time in seconds; nil when absent.
	CurrentTime *float64
	// Delay is the measured display delay in milliseconds; nil when absent.
	Delay            *float64
	CameraFrameIndex int
}

// PreTest is the session announcement shown before a test starts.
type PreTest struct {
	SessionToken     string
	TestID           string
	CameraFrameIndex int
}

// Detection is one decoded QR code attributed to a camera frame.
type Detection struct {
	Kind      Kind
	Mezzanine *Mezzanine
	Status    *Status
	PreTest   *PreTest
	// Raw is the decoded payload text, kept for the trace log.
	Raw      string
	Location image.Rectangle
}

type statusPayload struct {
	Status      string   `json:"s"`
	Action      string   `json:"a"`
	CurrentTime *float64 `json:"ct"`
	Delay       *float64 `json:"d"`
}

type preTestPayload struct {
	SessionToken string `json:"session_token"`
	TestID       string `json:"test_id"`
}

// Parse classifies a decoded payload and extracts its fields. Payloads that
// match no grammar come back as KindUnrecognized rather than an error; a
// camera can pick up unrelated codes in the background.
func Parse(text string, cameraFrameIndex int, loc image.Rectangle) Detection {
	det := Detection{Kind: KindUnrecognized, Raw: text, Location: loc}

	if m := mezzanineRe.FindStringSubmatch(text); m != nil {
		frameNum, err := strconv.Atoi(m[3])
		if err != nil {
			return det
		}
		rate, err := strconv.ParseFloat(m[4], 64)
		if err != nil || rate <= 0 {
			return det
		}
		mediaTime, ok := mediaTimeToMs(m[2])
		if !ok {
			return det
		}
		det.Kind = KindMezzanine
		det.Mezzanine = &Mezzanine{
			ContentID:            m[1],
			MediaTime:            mediaTime,
			FrameNumber:          frameNum,
			FrameRate:            NormalizeFrameRate(rate),
			CameraFrameIndex:     cameraFrameIndex,
			LastCameraFrameIndex: cameraFrameIndex,
			Location:             loc,
		}
		return det
	}

	if strings.HasPrefix(text, "{") {
		var sp statusPayload
		if err := json.Unmarshal([]byte(text), &sp); err == nil && sp.Status != "" {
			det.Kind = KindStatus
			det.Status = &Status{
				Status:           sp.Status,
				LastAction:       sp.Action,
				CurrentTime:      sp.CurrentTime,
				Delay:            sp.Delay,
				CameraFrameIndex: cameraFrameIndex,
			}
			return det
		}

		var pp preTestPayload
		if err := json.Unmarshal([]byte(text), &pp); err == nil && pp.SessionToken != "" && pp.TestID != "" {
			det.Kind = KindPreTest
			det.PreTest = &PreTest{
				SessionToken:     pp.SessionToken,
				TestID:           pp.TestID,
				CameraFrameIndex: cameraFrameIndex,
			}
			return det
		}
	}

	return det
}

// mediaTimeToMs converts "HH:MM:SS.mmm" to milliseconds.
func mediaTimeToMs(s string) (float64, bool) {
	var h, m, sec, ms int
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	secParts := strings.Split(parts[2], ".")
	if len(secParts) != 2 {
		return 0, false
	}
	var err error
	if h, err = strconv.Atoi(parts[0]); err != nil {
		return 0, false
	}
	if m, err = strconv.Atoi(parts[1]); err != nil {
		return 0, false
	}
	if sec, err = strconv.Atoi(secParts[0]); err != nil {
		return 0, false
	}
	if ms, err = strconv.Atoi(secParts[1]); err != nil {
		return 0, false
	}
	total := ((h*60+m)*60+sec)*1000 + ms
	return float64(total), true
}

// ntscRates maps rounded NTSC frame rates to their exact rational values.
// Mezzanine content encodes e.g. 29.97 in the QR payload while the actual
// rate is 30000/1001.
var ntscRates = map[float64]float64{
	23.98: 24000.0 / 1001.0,
	24.98: 25000.0 / 1001.0,
	29.97: 30000.0 / 1001.0,
	59.94: 60000.0 / 1001.0,
}

// NormalizeFrameRate replaces a rounded NTSC rate with its exact value.
// Integer rates pass through unchanged.
func NormalizeFrameRate(rate float64) float64 {
	rounded := math.Round(rate*100) / 100
	if exact, ok := ntscRates[rounded]; ok {
		return exact
	}
	return rate
}
