package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"playback-observer/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Tolerances holds the per-boundary frame-number tolerances applied by the
// observation engine. All values are in mezzanine frames.
type Tolerances struct {
	StartFrameNum       int
	EndFrameNum         int
	MidFrameNum         int
	SpliceStartFrameNum int
	SpliceEndFrameNum   int
}

// Calibration holds camera AV-sync calibration parameters.
type Calibration struct {
	XRatio             float64
	YRatio             float64
	WindowSize         int
	FlashThreshold     float64
	FadeOutFrames      int
	BeepThreshold      float64
	MinSilenceDuration float64
	FlashAndBeepCount  int
	AllowedOffset      time.Duration
	MaxAllowedOffset   time.Duration

	// Offset is the measured video-minus-audio camera offset, applied
	// when checking audio/video synchronization.
	Offset time.Duration
}

// Config holds all application configuration
type Config struct {
	LogDir        string
	ResultsDir    string
	TestRunnerURL string
	MetricsPort   string

	SortInputFilesBy string // "filename" or "timestamp"

	MissingFrameThreshold    int
	ConsecutiveNoQrThreshold int
	EndOfSessionTimeout      time.Duration
	NoQrCodeTimeout          time.Duration
	SearchQrAreaTo           time.Duration
	QrAreaMargin             int
	DuplicatedQrCheckCount   int

	Tolerances  Tolerances
	Calibration Calibration

	AudioMezzanineDir            string
	AudioSampleLength            time.Duration
	AudioObservationNeighborhood time.Duration
	AudioAlignmentCheckCount     int

	SessionLogThreshold int
	MetricsEnabled      bool

	// Set from command-line flags, not the environment.
	IntensiveScan   bool
	IgnoreCorrupted bool
	SystemMode      string

	// Derived paths
	DatabasePath string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	logDir := getEnv("LOG_DIR", "logs")
	resultsDir := getEnv("RESULTS_DIR", "results")
	testRunnerURL := getEnv("TEST_RUNNER_URL", "http://web-platform.test:8000")
	metricsPort := getEnv("METRICS_PORT", "9090")
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)
	sortInputFilesBy := getEnv("SORT_INPUT_FILES_BY", "timestamp")

	cfg := &Config{
		LogDir:        logDir,
		ResultsDir:    resultsDir,
		TestRunnerURL: testRunnerURL,
		MetricsPort:   metricsPort,

		SortInputFilesBy: sortInputFilesBy,

		MissingFrameThreshold:    getEnvInt("MISSING_FRAME_THRESHOLD", 0),
		ConsecutiveNoQrThreshold: getEnvInt("CONSECUTIVE_NO_QR_THRESHOLD", 0),
		EndOfSessionTimeout:      getEnvDuration("END_OF_SESSION_TIMEOUT", 10*time.Second),
		NoQrCodeTimeout:          getEnvDuration("NO_QR_CODE_TIMEOUT", 5*time.Second),
		SearchQrAreaTo:           getEnvDuration("SEARCH_QR_AREA_TO", 60*time.Second),
		QrAreaMargin:             getEnvInt("QR_AREA_MARGIN", 50),
		DuplicatedQrCheckCount:   getEnvInt("DUPLICATED_QR_CHECK_COUNT", 3),

		Tolerances: Tolerances{
			StartFrameNum:       getEnvInt("START_FRAME_NUM_TOLERANCE", 0),
			EndFrameNum:         getEnvInt("END_FRAME_NUM_TOLERANCE", 0),
			MidFrameNum:         getEnvInt("MID_FRAME_NUM_TOLERANCE", 0),
			SpliceStartFrameNum: getEnvInt("SPLICE_START_FRAME_NUM_TOLERANCE", 0),
			SpliceEndFrameNum:   getEnvInt("SPLICE_END_FRAME_NUM_TOLERANCE", 0),
		},

		Calibration: Calibration{
			XRatio:             0.5,
			YRatio:             0.25,
			WindowSize:         50,
			FlashThreshold:     150,
			FadeOutFrames:      5,
			BeepThreshold:      0.5,
			MinSilenceDuration: 0.5,
			FlashAndBeepCount:  60,
			AllowedOffset:      getEnvDuration("CALIBRATION_ALLOWED_OFFSET", 80*time.Millisecond),
			MaxAllowedOffset:   getEnvDuration("CALIBRATION_MAX_ALLOWED_OFFSET", 200*time.Millisecond),
			Offset:             getEnvDuration("CALIBRATION_OFFSET", 0),
		},

		AudioMezzanineDir:            getEnv("AUDIO_MEZZANINE_DIR", "audio_mezzanine"),
		AudioSampleLength:            getEnvDuration("AUDIO_SAMPLE_LENGTH", 20*time.Millisecond),
		AudioObservationNeighborhood: getEnvDuration("AUDIO_OBSERVATION_NEIGHBORHOOD", 500*time.Millisecond),
		AudioAlignmentCheckCount:     getEnvInt("AUDIO_ALIGNMENT_CHECK_COUNT", 10),

		SessionLogThreshold: getEnvInt("SESSION_LOG_THRESHOLD", 100),
		MetricsEnabled:      metricsEnabled,
	}

	logging.Info("  LOG_DIR:                     %s", cfg.LogDir)
	logging.Info("  RESULTS_DIR:                 %s", cfg.ResultsDir)
	logging.Info("  TEST_RUNNER_URL:             %s", cfg.TestRunnerURL)
	logging.Info("  METRICS_PORT:                %s", cfg.MetricsPort)
	logging.Info("  METRICS_ENABLED:             %v", cfg.MetricsEnabled)
	logging.Info("  SORT_INPUT_FILES_BY:         %s", cfg.SortInputFilesBy)
	logging.Info("  MISSING_FRAME_THRESHOLD:     %d", cfg.MissingFrameThreshold)
	logging.Info("  CONSECUTIVE_NO_QR_THRESHOLD: %d", cfg.ConsecutiveNoQrThreshold)
	logging.Info("  END_OF_SESSION_TIMEOUT:      %s", cfg.EndOfSessionTimeout)
	logging.Info("  NO_QR_CODE_TIMEOUT:          %s", cfg.NoQrCodeTimeout)
	logging.Info("  SEARCH_QR_AREA_TO:           %s", cfg.SearchQrAreaTo)
	logging.Info("  QR_AREA_MARGIN:              %d", cfg.QrAreaMargin)
	logging.Info("  LOG_LEVEL:                   %s", logging.GetLevel())

	if cfg.SortInputFilesBy != "filename" && cfg.SortInputFilesBy != "timestamp" {
		return nil, fmt.Errorf("invalid SORT_INPUT_FILES_BY %q: must be \"filename\" or \"timestamp\"", cfg.SortInputFilesBy)
	}
	if cfg.QrAreaMargin < 0 {
		return nil, fmt.Errorf("QR_AREA_MARGIN must not be negative")
	}
	if cfg.DuplicatedQrCheckCount < 1 {
		return nil, fmt.Errorf("DUPLICATED_QR_CHECK_COUNT must be at least 1")
	}

	for _, dir := range []string{cfg.LogDir, cfg.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	cfg.DatabasePath = filepath.Join(cfg.ResultsDir, "sessions.db")

	return cfg, nil
}

// CameraFrameDuration returns the duration of one camera frame at the given
// recording frame rate, in milliseconds.
func CameraFrameDuration(fps float64) float64 {
	return 1000 / fps
}

// LogFatal logs a fatal configuration error and exits.
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	info := GetBuildInfo()
	logging.Info("============================================================")
	logging.Info("playback-observer %s (%s, %s, %s/%s)",
		info.Version, info.Commit, info.GoVersion, info.OS, info.Arch)
	logging.Info("============================================================")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		logging.Warn("  Invalid %s value %q, using default: %v", key, v, fallback)
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.Warn("  Invalid %s value %q, using default: %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Accept a bare number of seconds as well
		if secs, serr := strconv.Atoi(v); serr == nil {
			return time.Duration(secs) * time.Second
		}
		logging.Warn("  Invalid %s value %q, using default: %s", key, v, fallback)
		return fallback
	}
	return d
}
