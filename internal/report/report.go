package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"playback-observer/internal/logging"
	"playback-observer/internal/metrics"
	"playback-observer/internal/observe"
)

// resultPrefix marks subtest entries owned by the observation framework so
// stale entries from a previous run can be replaced.
const resultPrefix = "[OF]"

// Subtest is the wire format of one observation in a test-runner result
// file.
type Subtest struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handler submits observation results to the test runner, or to local
// files in debug mode.
type Handler struct {
	resultURL  string
	resultsDir string
	debugMode  bool
	client     *http.Client
}

// NewHandler returns a result handler. With debugMode set, results only go
// to files under resultsDir.
func NewHandler(testRunnerURL, resultsDir string, debugMode bool) *Handler {
	return &Handler{
		resultURL:  testRunnerURL + "/_wave/api/results/",
		resultsDir: resultsDir,
		debugMode:  debugMode,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Merge folds new results into existing ones by observation name. A
// repeated test keeps its worst outcome: a non-PASS verdict is never
// overwritten by a later PASS.
func Merge(existing, incoming []observe.Result) []observe.Result {
	byName := make(map[string]int, len(existing))
	out := append([]observe.Result{}, existing...)
	for i, r := range out {
		byName[r.Name] = i
	}
	for _, r := range incoming {
		i, ok := byName[r.Name]
		if !ok {
			byName[r.Name] = len(out)
			out = append(out, r)
			continue
		}
		if out[i].Verdict == observe.Pass && r.Verdict != observe.Pass {
			out[i] = r
		}
	}
	return out
}

// Post submits the observation results for one test. In debug mode they
// are written to a local file; otherwise the runner's current result file
// is downloaded, its observation subtests replaced, and the file posted
// back.
func (h *Handler) Post(ctx context.Context, sessionToken, testPath string, results []observe.Result) error {
	if sessionToken == "" || testPath == "" || len(results) == 0 {
		return nil
	}

	subtests := make([]Subtest, len(results))
	for i, r := range results {
		subtests[i] = Subtest{Name: r.Name, Status: string(r.Verdict), Message: r.Message}
	}

	var err error
	if h.debugMode {
		err = h.saveDebugFile(sessionToken, testPath, subtests)
	} else {
		err = h.postToRunner(ctx, sessionToken, testPath, subtests)
	}

	if err != nil {
		metrics.ResultPostTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ResultPostTotal.WithLabelValues("success").Inc()
	return nil
}

func (h *Handler) saveDebugFile(sessionToken, testPath string, subtests []Subtest) error {
	name := strings.ReplaceAll(strings.TrimSuffix(testPath, ".html"), "/", "-") + "_debug.json"
	path := filepath.Join(h.resultsDir, sessionToken, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}

	payload := map[string]interface{}{
		"meta": map[string]interface{}{
			"datetime_observation": time.Now().UTC().Format("2006-01-02 15:04:05"),
		},
		"results": subtests,
	}
	data, err := json.MarshalIndent(payload, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result file %s: %w", path, err)
	}
	logging.Info("Saved observation results to %s", path)
	return nil
}

func (h *Handler) postToRunner(ctx context.Context, sessionToken, testPath string, subtests []Subtest) error {
	apiName := strings.SplitN(testPath, "/", 2)[0]
	url := h.resultURL + sessionToken + "/" + apiName + "/json"

	current, err := h.download(ctx, url)
	if err != nil {
		return err
	}

	updated, err := updateResultFile(current, testPath, subtests)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(updated))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post result to test runner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to post result to test runner: status %d", resp.StatusCode)
	}

	logging.Info("Posted observation results for %s to test runner", testPath)
	return nil
}

func (h *Handler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get session result from test runner: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get session result from test runner: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// updateResultFile replaces the observation subtests of the matching test
// inside a runner result document, leaving everything else untouched.
func updateResultFile(data []byte, testPath string, subtests []Subtest) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode runner result file: %w", err)
	}

	var results []map[string]json.RawMessage
	if err := json.Unmarshal(doc["results"], &results); err != nil {
		return nil, fmt.Errorf("unable to decode results section: %w", err)
	}

	found := false
	for _, entry := range results {
		var test string
		if err := json.Unmarshal(entry["test"], &test); err != nil {
			continue
		}
		if test != "/"+testPath {
			continue
		}

		var existing []map[string]json.RawMessage
		if raw, ok := entry["subtests"]; ok {
			json.Unmarshal(raw, &existing)
		}
		kept := existing[:0]
		for _, st := range existing {
			var name string
			json.Unmarshal(st["name"], &name)
			if !strings.Contains(name, resultPrefix) {
				kept = append(kept, st)
			}
		}
		for _, st := range subtests {
			raw, err := marshalSubtest(st)
			if err != nil {
				return nil, err
			}
			kept = append(kept, raw)
		}

		merged, err := json.Marshal(kept)
		if err != nil {
			return nil, err
		}
		entry["subtests"] = merged
		found = true
		break
	}

	if !found {
		return nil, fmt.Errorf("no matching test /%s in runner result file", testPath)
	}

	meta := map[string]interface{}{
		"datetime_observation": time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
	if raw, ok := doc["meta"]; ok {
		var existing map[string]interface{}
		if err := json.Unmarshal(raw, &existing); err == nil {
			existing["datetime_observation"] = meta["datetime_observation"]
			meta = existing
		}
	}
	metaRaw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	doc["meta"] = metaRaw

	resultsRaw, err := json.Marshal(results)
	if err != nil {
		return nil, err
	}
	doc["results"] = resultsRaw

	return json.MarshalIndent(doc, "", "    ")
}

func marshalSubtest(st Subtest) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
