package catalog

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Parameter resolves an observation parameter for a test. Lookup order is
// the test's runner path, then its test code, then the "all" defaults.
func (c *Catalog) Parameter(path, code, name string) (json.RawMessage, error) {
	for _, section := range []string{path, code, "all"} {
		if params, ok := c.config[section]; ok {
			if v, ok := params[name]; ok {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("parameter %q not configured for test %q", name, path)
}

// FloatParameter resolves a numeric observation parameter.
func (c *Catalog) FloatParameter(path, code, name string) (float64, error) {
	raw, err := c.Parameter(path, code, name)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("parameter %q for test %q is not a number: %w", name, path, err)
	}
	return v, nil
}

// IntParameter resolves an integer observation parameter.
func (c *Catalog) IntParameter(path, code, name string) (int, error) {
	v, err := c.FloatParameter(path, code, name)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// FragmentDurationMs returns the fragment duration of the first video
// representation, in milliseconds. Used by single-representation tests.
func (c *ContentConfig) FragmentDurationMs() (float64, error) {
	for _, key := range sortedKeys(c.Representations) {
		rep := c.Representations[key]
		if rep.Type != "video" {
			continue
		}
		if rep.FragmentDuration == nil {
			return 0, fmt.Errorf("video representation %q has no fragment duration", key)
		}
		return *rep.FragmentDuration * 1000, nil
	}
	return 0, fmt.Errorf("content has no video representation")
}

// FragmentDurationListMs returns the fragment duration of every video
// representation keyed by its one-based position. Switching tests need the
// whole list to find the switch points.
func (c *ContentConfig) FragmentDurationListMs() (map[int]float64, error) {
	out := make(map[int]float64)
	counter := 1
	for _, key := range sortedKeys(c.Representations) {
		rep := c.Representations[key]
		if rep.Type != "video" {
			continue
		}
		if rep.FragmentDuration == nil {
			return nil, fmt.Errorf("video representation %q has no fragment duration", key)
		}
		out[counter] = *rep.FragmentDuration * 1000
		counter++
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("content has no video representation")
	}
	return out, nil
}

// PeriodDurationsMs returns the period durations for multi-period content.
// Not yet published by the test runner, so fixed at three 20s periods.
func (c *ContentConfig) PeriodDurationsMs() []float64 {
	return []float64{20000, 20000, 20000}
}

// DurationMs resolves an ISO-8601 duration parameter from the content
// config, in milliseconds.
func (c *ContentConfig) DurationMs(name string) (float64, error) {
	raw, ok := c.raw[name]
	if !ok {
		return 0, fmt.Errorf("content parameter %q not present", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("content parameter %q is not a duration string: %w", name, err)
	}
	return ParseISODurationMs(s)
}

var isoDurationRe = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODurationMs converts an ISO-8601 duration like "PT1M0.5S" to
// milliseconds.
func ParseISODurationMs(s string) (float64, error) {
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "" && m[4] == "") {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	var ms float64
	for i, scale := range []float64{86400000, 3600000, 60000, 1000} {
		if m[i+1] == "" {
			continue
		}
		v, err := strconv.ParseFloat(m[i+1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
		}
		ms += v * scale
	}
	return ms, nil
}

func sortedKeys(m map[string]Representation) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
