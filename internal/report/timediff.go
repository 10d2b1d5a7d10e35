package report

import (
	"encoding/csv"
	"fmt"
	"os"

	"playback-observer/internal/observe"
)

// WriteTimeDiffs appends the currentTime comparison data of one test to a
// CSV file. The file makes drifting clocks visible at a glance when a
// sample-matches-current-time observation fails.
func WriteTimeDiffs(path string, diffs []observe.TimeDiff) error {
	if len(diffs) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open time difference file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Current Time", "Time Difference"}); err != nil {
		return err
	}
	for _, d := range diffs {
		if err := w.Write([]string{
			fmt.Sprintf("%.1f", d.CurrentTimeMs),
			fmt.Sprintf("%.4f", d.DiffMs),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
