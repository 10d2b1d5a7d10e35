package catalog

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testsJSON = `{
	"tests": {
		"1": {
			"path": "avc/sequential-track-playback__stream__.html",
			"code": "sequential-track-playback.html",
			"config": {
				"representations": {
					"1": {"type": "video", "fragment_duration": 2},
					"2": {"type": "video", "fragment_duration": 1.92},
					"3": {"type": "audio"}
				},
				"cmaf_track_duration": "PT1M0.5S"
			}
		},
		"2": {
			"path": "avc/switching-set-playback__stream__.html",
			"code": "switching-set-playback.html",
			"config": {
				"representations": {
					"1": {"type": "video", "fragment_duration": 2}
				}
			}
		}
	}
}`

const configJSON = `{
	"all": {
		"tolerance": 100,
		"frame_tolerance": 0
	},
	"sequential-track-playback.html": {
		"ts_max": 120,
		"frame_tolerance": 2
	},
	"avc/sequential-track-playback__stream__.html": {
		"ts_max": 250
	}
}`

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New([]byte(testsJSON), []byte(configJSON))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestResolve(t *testing.T) {
	c := newTestCatalog(t)

	e, err := c.Resolve("1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if e.Path != "avc/sequential-track-playback__stream__.html" {
		t.Errorf("Path = %q", e.Path)
	}
	if e.Code != "sequential-track-playback.html" {
		t.Errorf("Code = %q", e.Code)
	}
	if e.Content == nil || len(e.Content.Representations) != 3 {
		t.Errorf("Content = %+v, want 3 representations", e.Content)
	}

	if _, err := c.Resolve("99"); err == nil {
		t.Error("Resolve of unknown test id should fail")
	}
}

func TestParameterLookupOrder(t *testing.T) {
	c := newTestCatalog(t)
	path := "avc/sequential-track-playback__stream__.html"
	code := "sequential-track-playback.html"

	tests := []struct {
		name  string
		param string
		want  float64
	}{
		{"Path section wins", "ts_max", 250},
		{"Code section next", "frame_tolerance", 2},
		{"All section last", "tolerance", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.FloatParameter(path, code, tt.param)
			if err != nil {
				t.Fatalf("FloatParameter(%q) failed: %v", tt.param, err)
			}
			if got != tt.want {
				t.Errorf("FloatParameter(%q) = %v, want %v", tt.param, got, tt.want)
			}
		})
	}

	if _, err := c.FloatParameter(path, code, "nonexistent"); err == nil {
		t.Error("lookup of missing parameter should fail")
	}
}

func TestFragmentDurations(t *testing.T) {
	c := newTestCatalog(t)
	e, _ := c.Resolve("1")

	ms, err := e.Content.FragmentDurationMs()
	if err != nil {
		t.Fatalf("FragmentDurationMs failed: %v", err)
	}
	if ms != 2000 {
		t.Errorf("FragmentDurationMs = %v, want 2000", ms)
	}

	list, err := e.Content.FragmentDurationListMs()
	if err != nil {
		t.Fatalf("FragmentDurationListMs failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("got %d entries, want 2 (audio representation skipped)", len(list))
	}
	if list[1] != 2000 || list[2] != 1920 {
		t.Errorf("list = %v, want 1:2000, 2:1920", list)
	}
}

func TestContentDuration(t *testing.T) {
	c := newTestCatalog(t)
	e, _ := c.Resolve("1")

	ms, err := e.Content.DurationMs("cmaf_track_duration")
	if err != nil {
		t.Fatalf("DurationMs failed: %v", err)
	}
	if ms != 60500 {
		t.Errorf("DurationMs = %v, want 60500", ms)
	}

	if _, err := e.Content.DurationMs("missing"); err == nil {
		t.Error("DurationMs of missing parameter should fail")
	}
}

func TestParseISODurationMs(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"PT30S", 30000, false},
		{"PT0.033333S", 33.333, false},
		{"PT1M0.5S", 60500, false},
		{"PT2H", 7200000, false},
		{"P1DT1H1M1S", 90061000, false},
		{"PT", 0, true},
		{"P", 0, true},
		{"30", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseISODurationMs(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseISODurationMs(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseISODurationMs(%q) failed: %v", tt.in, err)
			continue
		}
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("ParseISODurationMs(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPeriodDurations(t *testing.T) {
	c := newTestCatalog(t)
	e, _ := c.Resolve("1")
	periods := e.Content.PeriodDurationsMs()
	if len(periods) != 3 {
		t.Fatalf("got %d periods, want 3", len(periods))
	}
	for _, p := range periods {
		if p != 20000 {
			t.Errorf("period = %v, want 20000", p)
		}
	}
}

func TestLoadLocal(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tests.json"), []byte(testsJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "test-config.json"), []byte(configJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadLocal(dir)
	if err != nil {
		t.Fatalf("LoadLocal failed: %v", err)
	}
	if _, err := c.Resolve("1"); err != nil {
		t.Errorf("Resolve after LoadLocal failed: %v", err)
	}

	if _, err := LoadLocal(t.TempDir()); err == nil {
		t.Error("LoadLocal of empty directory should fail")
	}
}
