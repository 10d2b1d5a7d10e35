package qr

import (
	"image"
	"math"
	"testing"
)

func TestParseMezzanine(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		wantContentID string
		wantMediaTime float64
		wantFrameNum  int
		wantRate      float64
	}{
		{
			name:          "Basic payload",
			text:          "croatia_J1;00:00:05.208;0000126;25",
			wantContentID: "croatia_J1",
			wantMediaTime: 5208,
			wantFrameNum:  126,
			wantRate:      25,
		},
		{
			name:          "Fractional frame rate",
			text:          "tos_A1;00:01:00.000;0001800;29.97",
			wantContentID: "tos_A1",
			wantMediaTime: 60000,
			wantFrameNum:  1800,
			wantRate:      30000.0 / 1001.0,
		},
		{
			name:          "Content id with semicolons",
			text:          "set;one;00:00:00.040;0000002;50",
			wantContentID: "set;one",
			wantMediaTime: 40,
			wantFrameNum:  2,
			wantRate:      50,
		},
		{
			name:          "Leap second timestamp",
			text:          "clip_B2;01:09:69.999;0009999;30",
			wantContentID: "clip_B2",
			wantMediaTime: (1*3600+9*60+69)*1000 + 999,
			wantFrameNum:  9999,
			wantRate:      30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Parse(tt.text, 42, image.Rect(0, 0, 10, 10))
			if det.Kind != KindMezzanine {
				t.Fatalf("Parse(%q).Kind = %v, want mezzanine", tt.text, det.Kind)
			}
			m := det.Mezzanine
			if m.ContentID != tt.wantContentID {
				t.Errorf("ContentID = %q, want %q", m.ContentID, tt.wantContentID)
			}
			if m.MediaTime != tt.wantMediaTime {
				t.Errorf("MediaTime = %v, want %v", m.MediaTime, tt.wantMediaTime)
			}
			if m.FrameNumber != tt.wantFrameNum {
				t.Errorf("FrameNumber = %d, want %d", m.FrameNumber, tt.wantFrameNum)
			}
			if math.Abs(m.FrameRate-tt.wantRate) > 1e-9 {
				t.Errorf("FrameRate = %v, want %v", m.FrameRate, tt.wantRate)
			}
			if m.CameraFrameIndex != 42 || m.LastCameraFrameIndex != 42 {
				t.Errorf("Camera frame indexes = %d/%d, want 42/42",
					m.CameraFrameIndex, m.LastCameraFrameIndex)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	det := Parse(`{"s":"playing","a":"play","ct":5.2,"d":120}`, 7, image.Rectangle{})
	if det.Kind != KindStatus {
		t.Fatalf("Kind = %v, want status", det.Kind)
	}
	s := det.Status
	if s.Status != "playing" || s.LastAction != "play" {
		t.Errorf("Status/LastAction = %q/%q, want playing/play", s.Status, s.LastAction)
	}
	if s.CurrentTime == nil || *s.CurrentTime != 5.2 {
		t.Errorf("CurrentTime = %v, want 5.2", s.CurrentTime)
	}
	if s.Delay == nil || *s.Delay != 120 {
		t.Errorf("Delay = %v, want 120", s.Delay)
	}
	if s.CameraFrameIndex != 7 {
		t.Errorf("CameraFrameIndex = %d, want 7", s.CameraFrameIndex)
	}
}

func TestParseStatusOptionalFields(t *testing.T) {
	det := Parse(`{"s":"waiting"}`, 0, image.Rectangle{})
	if det.Kind != KindStatus {
		t.Fatalf("Kind = %v, want status", det.Kind)
	}
	if det.Status.CurrentTime != nil || det.Status.Delay != nil {
		t.Errorf("Expected nil CurrentTime and Delay, got %v and %v",
			det.Status.CurrentTime, det.Status.Delay)
	}
}

func TestParsePreTest(t *testing.T) {
	det := Parse(`{"session_token":"abc-123","test_id":"42"}`, 3, image.Rectangle{})
	if det.Kind != KindPreTest {
		t.Fatalf("Kind = %v, want pre_test", det.Kind)
	}
	if det.PreTest.SessionToken != "abc-123" || det.PreTest.TestID != "42" {
		t.Errorf("PreTest = %+v, want token abc-123, test id 42", det.PreTest)
	}
}

func TestParseUnrecognized(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"Random text", "https://example.com/menu"},
		{"Malformed timestamp", "clip;0:0:0.0;0000001;30"},
		{"Short frame number", "clip;00:00:00.000;001;30"},
		{"Zero frame rate", "clip;00:00:00.000;0000001;0"},
		{"JSON without known keys", `{"foo":"bar"}`},
		{"Pre-test missing token", `{"test_id":"42"}`},
		{"Empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Parse(tt.text, 0, image.Rectangle{})
			if det.Kind != KindUnrecognized {
				t.Errorf("Parse(%q).Kind = %v, want unrecognized", tt.text, det.Kind)
			}
			if det.Raw != tt.text {
				t.Errorf("Raw = %q, want %q", det.Raw, tt.text)
			}
		})
	}
}

func TestNormalizeFrameRate(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{23.98, 24000.0 / 1001.0},
		{24.98, 25000.0 / 1001.0},
		{29.97, 30000.0 / 1001.0},
		{59.94, 60000.0 / 1001.0},
		{24, 24},
		{25, 25},
		{30, 30},
		{50, 50},
		{60, 60},
	}
	for _, tt := range tests {
		if got := NormalizeFrameRate(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalizeFrameRate(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindMezzanine.String() != "mezzanine" {
		t.Errorf("KindMezzanine.String() = %q", KindMezzanine.String())
	}
	if Kind(99).String() != "unrecognized" {
		t.Errorf("Kind(99).String() = %q", Kind(99).String())
	}
}
