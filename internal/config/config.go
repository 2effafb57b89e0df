package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// View variants understood by the presentation layer.
const (
	ViewCompact  = "compact"
	ViewExpanded = "expanded"
)

// Config holds application configuration.
type Config struct {
	// BackendURL is the base URL of the analysis backend (no trailing slash).
	BackendURL string `json:"backend_url,omitempty"`

	// Language is the default analysis/UI language ("ar" or "en").
	// A language chosen at runtime is persisted in the database and wins over this.
	Language string `json:"language,omitempty"`

	// UploadTimeoutSeconds bounds the upload phase of a submission.
	UploadTimeoutSeconds int `json:"upload_timeout_seconds,omitempty"`

	// AnalyzeTimeoutSeconds bounds the analyze phase of a submission.
	// On expiry the workspace moves to Failed with the image still staged.
	AnalyzeTimeoutSeconds int `json:"analyze_timeout_seconds,omitempty"`

	// FeedTimeoutSeconds bounds every third-party feed refresh (news, holidays).
	FeedTimeoutSeconds int `json:"feed_timeout_seconds,omitempty"`

	NewsTTLSeconds    int `json:"news_ttl_seconds,omitempty"`
	HolidayTTLSeconds int `json:"holiday_ttl_seconds,omitempty"`

	// HolidayCountry is the ISO 3166-1 alpha-2 code used for market holidays.
	HolidayCountry string `json:"holiday_country,omitempty"`

	// HolidayURL is a template with {year} and {country} placeholders.
	HolidayURL string `json:"holiday_url,omitempty"`

	// NewsURLs maps language to RSS feed URL.
	NewsURLs map[string]string `json:"news_urls,omitempty"`

	// TierViews maps a subscription tier to a view variant ("compact" or "expanded").
	// Tiers not listed render the compact view.
	TierViews map[string]string `json:"tier_views,omitempty"`

	// MaxImageBytes caps the size of a staged chart image.
	MaxImageBytes int64 `json:"max_image_bytes,omitempty"`

	// AllowedPaths is an allowlist of directories charts may be staged from
	// through the MCP server. ~/.kaia/charts is always allowed.
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for staging from a path.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	LogLevel string `json:"log_level,omitempty"`
	LogFile  string `json:"log_file,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BackendURL:            "http://127.0.0.1:8000",
		Language:              "ar",
		UploadTimeoutSeconds:  30,
		AnalyzeTimeoutSeconds: 60,
		FeedTimeoutSeconds:    5,
		NewsTTLSeconds:        600,
		HolidayTTLSeconds:     86400,
		HolidayCountry:        "US",
		HolidayURL:            "https://date.nager.at/api/v3/PublicHolidays/{year}/{country}",
		NewsURLs: map[string]string{
			"en": "https://www.investing.com/rss/news_285.rss",
			"ar": "https://sa.investing.com/rss/news_1.rss",
		},
		TierViews: map[string]string{
			"Platinum": ViewExpanded,
		},
		MaxImageBytes: 10 * 1024 * 1024,
		LogLevel:      "info",
		LogFile:       "logs/kaia.log",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.kaia) and repo (.kaia) directories,
// then applies KAIA_* environment overrides.
// Repo config takes precedence for scalar values; arrays are merged and maps overlaid.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment when present.
// A missing file is not an error.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}
}

// ApplyEnv overrides fields from KAIA_* environment variables.
func ApplyEnv(cfg *Config) {
	cfg.BackendURL = getEnvOrDefault("KAIA_BACKEND_URL", cfg.BackendURL)
	cfg.Language = getEnvOrDefault("KAIA_LANGUAGE", cfg.Language)
	cfg.UploadTimeoutSeconds = getEnvIntOrDefault("KAIA_UPLOAD_TIMEOUT_SECONDS", cfg.UploadTimeoutSeconds)
	cfg.AnalyzeTimeoutSeconds = getEnvIntOrDefault("KAIA_ANALYZE_TIMEOUT_SECONDS", cfg.AnalyzeTimeoutSeconds)
	cfg.FeedTimeoutSeconds = getEnvIntOrDefault("KAIA_FEED_TIMEOUT_SECONDS", cfg.FeedTimeoutSeconds)
	cfg.HolidayCountry = getEnvOrDefault("KAIA_HOLIDAY_COUNTRY", cfg.HolidayCountry)
	cfg.LogLevel = getEnvOrDefault("KAIA_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnvOrDefault("KAIA_LOG_FILE", cfg.LogFile)
	cfg.AllowUnsafePaths = getEnvBoolOrDefault("KAIA_ALLOW_UNSAFE_PATHS", cfg.AllowUnsafePaths)
}

// FindRepoConfig walks upward from startDir to find the nearest .kaia/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".kaia", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// UploadTimeout returns the upload phase deadline.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSeconds) * time.Second
}

// AnalyzeTimeout returns the analyze phase deadline.
func (c *Config) AnalyzeTimeout() time.Duration {
	return time.Duration(c.AnalyzeTimeoutSeconds) * time.Second
}

// FeedTimeout returns the deadline for third-party feed refreshes.
func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.FeedTimeoutSeconds) * time.Second
}

// NewsTTL returns how long cached news stays fresh.
func (c *Config) NewsTTL() time.Duration {
	return time.Duration(c.NewsTTLSeconds) * time.Second
}

// HolidayTTL returns how long a cached holiday list stays fresh.
func (c *Config) HolidayTTL() time.Duration {
	return time.Duration(c.HolidayTTLSeconds) * time.Second
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist.
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated;
// map entries from overlay replace entries with the same key.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.BackendURL = firstString(overlay.BackendURL, base.BackendURL)
	result.BackendURL = strings.TrimRight(result.BackendURL, "/")
	result.Language = firstString(overlay.Language, base.Language)
	result.HolidayCountry = firstString(overlay.HolidayCountry, base.HolidayCountry)
	result.HolidayURL = firstString(overlay.HolidayURL, base.HolidayURL)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.LogFile = firstString(overlay.LogFile, base.LogFile)

	result.UploadTimeoutSeconds = firstInt(overlay.UploadTimeoutSeconds, base.UploadTimeoutSeconds)
	result.AnalyzeTimeoutSeconds = firstInt(overlay.AnalyzeTimeoutSeconds, base.AnalyzeTimeoutSeconds)
	result.FeedTimeoutSeconds = firstInt(overlay.FeedTimeoutSeconds, base.FeedTimeoutSeconds)
	result.NewsTTLSeconds = firstInt(overlay.NewsTTLSeconds, base.NewsTTLSeconds)
	result.HolidayTTLSeconds = firstInt(overlay.HolidayTTLSeconds, base.HolidayTTLSeconds)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.MaxImageBytes = overlay.MaxImageBytes
	if result.MaxImageBytes == 0 {
		result.MaxImageBytes = base.MaxImageBytes
	}

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	result.NewsURLs = mergeStringMap(base.NewsURLs, overlay.NewsURLs)
	result.TierViews = mergeStringMap(base.TierViews, overlay.TierViews)

	return result
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstInt(a, b int) int {
	if a != 0 {
		return a
	}
	return b
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

func mergeStringMap(a, b map[string]string) map[string]string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	result := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		result[k] = v
	}
	for k, v := range b {
		result[k] = v
	}
	return result
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
