package timeline

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
)

func TestTraceWritesStructuredRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	tr, err := NewTrace(path)
	if err != nil {
		t.Fatalf("NewTrace failed: %v", err)
	}

	tr.Add(0, preTestDet("tok", "1", 0))
	tr.Add(4, mezzDet("clip_A1", 2, 4))
	tr.Add(5, statusDet("playing", "play", 5))
	tr.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("trace file is not valid CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}

	header := rows[0]
	if header[0] != "camera_frame_index" || header[len(header)-1] != "test_id" {
		t.Errorf("unexpected header %v", header)
	}

	pretest := rows[1]
	if pretest[10] != "tok" || pretest[11] != "1" {
		t.Errorf("pre-test row = %v", pretest)
	}

	mezz := rows[2]
	if mezz[0] != "4" || mezz[2] != "clip_A1" || mezz[4] != "2" || mezz[5] != "30" {
		t.Errorf("mezzanine row = %v", mezz)
	}

	status := rows[3]
	if status[6] != "playing" || status[7] != "play" {
		t.Errorf("status row = %v", status)
	}
}
