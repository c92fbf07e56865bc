package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Quality presets for downloads
type QualityPreset string

const (
	QualityBest   QualityPreset = "best"
	QualityMedium QualityPreset = "medium"
	QualityAudio  QualityPreset = "audio"
)

// Format returns the yt-dlp format selector of the preset
func (p QualityPreset) Format() string {
	switch p {
	case QualityMedium:
		return "bestvideo[height<=720]+bestaudio/best[height<=720]"
	case QualityAudio:
		return "bestaudio/best"
	default:
		return "bestvideo*+bestaudio/best"
	}
}

// Valid reports whether p is a known preset
func (p QualityPreset) Valid() bool {
	return p == QualityBest || p == QualityMedium || p == QualityAudio
}

// Backend names
const (
	BackendEmbedded    = "embedded"
	BackendDistributed = "distributed"
)

// Default values
const (
	DefaultAppEnv           = "development"
	DefaultLogLevel         = "info"
	DefaultHTTPAddr         = ":8000"
	DefaultAllowedOrigins   = "http://localhost:5173,http://localhost:5174,http://127.0.0.1:5173,http://127.0.0.1:5174"
	DefaultDownloadRoot     = "./downloads"
	DefaultLibraryDir       = "./library"
	DefaultCookiesPath      = "./cookies"
	DefaultQualityPreset    = QualityBest
	DefaultOutputTemplate   = "%(title)s.%(ext)s"
	DefaultMergeFormat      = "mp4"
	DefaultBackend          = BackendEmbedded
	DefaultEtcdEndpoints    = "localhost:2379"
	DefaultEtcdDialTimeout  = 5 * time.Second
	DefaultControlTTL       = 24 * time.Hour
	DefaultConcurrency      = 2
	DefaultPollInterval     = 2 * time.Second
	DefaultSoftTimeLimit    = 50 * time.Minute
	DefaultHardTimeLimit    = time.Hour
	DefaultMaxTasksPerChild = 50
	DefaultMaxRetries       = 3
	DefaultRetryBackoff     = 30 * time.Second
	DefaultSweepMaxAge      = 24 * time.Hour
)

// Config is the process configuration read from the environment
type Config struct {
	AppEnv         string
	LogLevel       string
	HTTPAddr       string
	AllowedOrigins []string

	DownloadRoot   string
	LibraryDir     string
	CookiesPath    string
	QualityPreset  QualityPreset
	OutputTemplate string
	MergeFormat    string

	Backend          string
	WorkspaceOnError string
	PauseQueued      bool
	DatabaseURL      string
	EtcdEndpoints    []string
	EtcdDialTimeout  time.Duration
	ControlTTL       time.Duration

	WorkerConcurrency int
	PollInterval      time.Duration
	SoftTimeLimit     time.Duration
	HardTimeLimit     time.Duration
	MaxTasksPerChild  int
	MaxRetries        int
	RetryBackoff      time.Duration

	FinalizeEnabled bool
	SweepMaxAge     time.Duration
}

// Load reads .env files when present and then the environment
func Load() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	c := &Config{
		AppEnv:         getEnv("APP_ENV", DefaultAppEnv),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", DefaultLogLevel)),
		HTTPAddr:       getEnv("HTTP_ADDR", DefaultHTTPAddr),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", DefaultAllowedOrigins),

		DownloadRoot:   getEnv("DOWNLOAD_ROOT", DefaultDownloadRoot),
		LibraryDir:     getEnv("LIBRARY_DIR", DefaultLibraryDir),
		CookiesPath:    getEnv("COOKIES_PATH", DefaultCookiesPath),
		QualityPreset:  QualityPreset(strings.ToLower(getEnv("QUALITY_PRESET", string(DefaultQualityPreset)))),
		OutputTemplate: getEnv("OUTPUT_TEMPLATE", DefaultOutputTemplate),
		MergeFormat:    getEnv("MERGE_OUTPUT_FORMAT", DefaultMergeFormat),

		Backend:          strings.ToLower(getEnv("JOB_BACKEND", DefaultBackend)),
		WorkspaceOnError: getEnv("WORKSPACE_ON_ERROR", ""),
		PauseQueued:      getEnvBool("PAUSE_QUEUED", false),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		EtcdEndpoints:    getEnvList("ETCD_ENDPOINTS", DefaultEtcdEndpoints),
		EtcdDialTimeout:  getEnvDuration("ETCD_DIAL_TIMEOUT", DefaultEtcdDialTimeout),
		ControlTTL:       getEnvDuration("CONTROL_TTL", DefaultControlTTL),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", DefaultConcurrency),
		PollInterval:      getEnvDuration("WORKER_POLL_INTERVAL", DefaultPollInterval),
		SoftTimeLimit:     getEnvDuration("TASK_SOFT_TIME_LIMIT", DefaultSoftTimeLimit),
		HardTimeLimit:     getEnvDuration("TASK_HARD_TIME_LIMIT", DefaultHardTimeLimit),
		MaxTasksPerChild:  getEnvInt("WORKER_MAX_TASKS_PER_CHILD", DefaultMaxTasksPerChild),
		MaxRetries:        getEnvInt("TASK_MAX_RETRIES", DefaultMaxRetries),
		RetryBackoff:      getEnvDuration("TASK_RETRY_BACKOFF", DefaultRetryBackoff),

		FinalizeEnabled: getEnvBool("FINALIZE_ENABLED", true),
		SweepMaxAge:     getEnvDuration("SWEEP_MAX_AGE", DefaultSweepMaxAge),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the combination of settings
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendEmbedded:
	case BackendDistributed:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the distributed backend"))
		}
		if len(c.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("ETCD_ENDPOINTS is required for the distributed backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("JOB_BACKEND must be %q or %q, got %q", BackendEmbedded, BackendDistributed, c.Backend))
	}
	if !c.QualityPreset.Valid() {
		errs = append(errs, fmt.Errorf("unknown QUALITY_PRESET %q", c.QualityPreset))
	}
	switch strings.ToLower(c.WorkspaceOnError) {
	case "", "retain", "remove":
	default:
		errs = append(errs, fmt.Errorf("WORKSPACE_ON_ERROR must be retain or remove, got %q", c.WorkspaceOnError))
	}
	if c.DownloadRoot == "" {
		errs = append(errs, errors.New("DOWNLOAD_ROOT must not be empty"))
	}
	if c.WorkerConcurrency < 1 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be at least 1"))
	}
	if c.SoftTimeLimit > c.HardTimeLimit {
		errs = append(errs, errors.New("TASK_SOFT_TIME_LIMIT must not exceed TASK_HARD_TIME_LIMIT"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("TASK_MAX_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// DefaultFormat returns the format selector used when a request names none
func (c *Config) DefaultFormat() string {
	return c.QualityPreset.Format()
}

// IsDevelopment reports whether the process runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == DefaultAppEnv
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	v, err := strconv.Atoi(getEnv(k, ""))
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(getEnv(k, ""))
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration accepts Go durations ("90s") and plain seconds ("90")
func getEnvDuration(k string, def time.Duration) time.Duration {
	raw := getEnv(k, "")
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getEnvList(k, def string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(k, def), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
