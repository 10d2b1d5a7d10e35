package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"playback-observer/internal/logging"
)

// Representation is one encoded variant of the test content.
type Representation struct {
	Type string `json:"type"`
	// FragmentDuration is in seconds; nil when the variant has none.
	FragmentDuration *float64 `json:"fragment_duration"`
}

// ContentConfig is the per-test content description carried inside
// tests.json. Duration-typed parameters stay as raw ISO-8601 strings until
// a parameter lookup asks for them.
type ContentConfig struct {
	Representations map[string]Representation `json:"representations"`

	raw map[string]json.RawMessage
}

// UnmarshalJSON keeps both the typed representations and the raw parameter
// map around.
func (c *ContentConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.raw = raw
	if reps, ok := raw["representations"]; ok {
		if err := json.Unmarshal(reps, &c.Representations); err != nil {
			return err
		}
	}
	return nil
}

// Entry resolves a pre-test QR test id to the test's runner path, its test
// code (the template the test was generated from) and its content config.
type Entry struct {
	Path    string         `json:"path"`
	Code    string         `json:"code"`
	Content *ContentConfig `json:"config"`
}

type testsFile struct {
	Tests map[string]Entry `json:"tests"`
}

// Catalog holds the test-runner configuration files needed to interpret a
// session: tests.json and test-config.json.
type Catalog struct {
	tests  map[string]Entry
	config map[string]map[string]json.RawMessage
}

// New builds a catalog from the raw file contents.
func New(testsJSON, configJSON []byte) (*Catalog, error) {
	var tf testsFile
	if err := json.Unmarshal(testsJSON, &tf); err != nil {
		return nil, fmt.Errorf("invalid tests.json: %w", err)
	}
	var cfg map[string]map[string]json.RawMessage
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("invalid test-config.json: %w", err)
	}
	return &Catalog{tests: tf.Tests, config: cfg}, nil
}

// Fetch downloads tests.json and test-config.json from the test runner.
func Fetch(ctx context.Context, baseURL string) (*Catalog, error) {
	client := &http.Client{Timeout: 30 * time.Second}

	testsJSON, err := fetchFile(ctx, client, baseURL+"/tests.json")
	if err != nil {
		return nil, err
	}
	configJSON, err := fetchFile(ctx, client, baseURL+"/test-config.json")
	if err != nil {
		return nil, err
	}
	logging.Info("Loaded test configuration from %s", baseURL)
	return New(testsJSON, configJSON)
}

// LoadLocal reads the configuration files from a local directory. Debug
// mode only; lets analysis run without a reachable test runner.
func LoadLocal(dir string) (*Catalog, error) {
	testsJSON, err := os.ReadFile(filepath.Join(dir, "tests.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read local tests.json: %w", err)
	}
	configJSON, err := os.ReadFile(filepath.Join(dir, "test-config.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read local test-config.json: %w", err)
	}
	logging.Info("Loaded test configuration from local directory %s", dir)
	return New(testsJSON, configJSON)
}

// Resolve looks up a test id announced in a pre-test QR code.
func (c *Catalog) Resolve(testID string) (Entry, error) {
	e, ok := c.tests[testID]
	if !ok {
		return Entry{}, fmt.Errorf("test id %q is not defined in tests.json", testID)
	}
	return e, nil
}

func fetchFile(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return buf, nil
}
