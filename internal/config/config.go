package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultDatabasePath = "./var/agenda.db"
	defaultColor        = "#4F46E5"
	defaultMaxPerTask   = 5000
	defaultMaxRangeDays = 1100
	defaultReminderCron = "* * * * *"
	defaultImportCache  = "./var/import-cache"
)

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// TelegramConfig enables reminder delivery to a Telegram chat.
type TelegramConfig struct {
	Token  string `yaml:"token" json:"token"`
	ChatID int64  `yaml:"chat_id" json:"chat_id"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	// Level is one of "debug", "info", "error".
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone every task time is interpreted in. Naive
	// times are wall-clock times here; "until" dates end at 23:59:59 here.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DatabasePath is the SQLite file.
	DatabasePath string `yaml:"database_path" json:"database_path"`

	// DefaultColor paints events whose first tag is missing or unknown.
	DefaultColor string `yaml:"default_color" json:"default_color"`

	// MaxOccurrencesPerTask caps how many instances one series may
	// produce per request.
	MaxOccurrencesPerTask int `yaml:"max_occurrences_per_task" json:"max_occurrences_per_task"`

	// MaxRangeDays bounds the width of a requested view range.
	MaxRangeDays int `yaml:"max_range_days" json:"max_range_days"`

	// ReminderCron is a standard 5-field cron schedule for due checks.
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// ImportCacheDir keeps the last body of every imported calendar URL.
	ImportCacheDir string `yaml:"import_cache_dir" json:"import_cache_dir"`

	Log LogConfig `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Telegram *TelegramConfig `yaml:"telegram,omitempty" json:"telegram,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                defaultListen,
		Timezone:              defaultTimezone,
		DatabasePath:          defaultDatabasePath,
		DefaultColor:          defaultColor,
		MaxOccurrencesPerTask: defaultMaxPerTask,
		MaxRangeDays:          defaultMaxRangeDays,
		ReminderCron:          defaultReminderCron,
		ImportCacheDir:        defaultImportCache,
		Log:                   LogConfig{Level: "info", Format: "text"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}
	if c.DefaultColor == "" {
		c.DefaultColor = defaultColor
	}
	// Negative limits are left for Validate to reject.
	if c.MaxOccurrencesPerTask == 0 {
		c.MaxOccurrencesPerTask = defaultMaxPerTask
	}
	if c.MaxRangeDays == 0 {
		c.MaxRangeDays = defaultMaxRangeDays
	}
	if c.ReminderCron == "" {
		c.ReminderCron = defaultReminderCron
	}
	if c.ImportCacheDir == "" {
		c.ImportCacheDir = defaultImportCache
	}
	switch c.Log.Level {
	case "debug", "info", "error":
	default:
		c.Log.Level = "info"
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		c.Log.Format = "text"
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
	if c.Telegram != nil && c.Telegram.Token == "" {
		c.Telegram = nil
	}
}

// Validate reports settings that would make the service misbehave.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if !hexColor.MatchString(c.DefaultColor) {
		errs = append(errs, fmt.Errorf("default_color %q is not a hex colour", c.DefaultColor))
	}
	if c.MaxOccurrencesPerTask < 1 {
		errs = append(errs, fmt.Errorf("max_occurrences_per_task must be positive, got %d", c.MaxOccurrencesPerTask))
	}
	if c.MaxRangeDays < 1 {
		errs = append(errs, fmt.Errorf("max_range_days must be positive, got %d", c.MaxRangeDays))
	}
	if _, err := cron.ParseStandard(c.ReminderCron); err != nil {
		errs = append(errs, fmt.Errorf("reminder_cron %q: %w", c.ReminderCron, err))
	}
	if c.Telegram != nil && c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required when telegram.token is set"))
	}
	return errors.Join(errs...)
}

// Location returns the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ApplyEnv overrides file settings with AGENDA_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("AGENDA_LISTEN", &c.Listen)
	str("AGENDA_TIMEZONE", &c.Timezone)
	str("AGENDA_DATABASE_PATH", &c.DatabasePath)
	str("AGENDA_DEFAULT_COLOR", &c.DefaultColor)
	str("AGENDA_REMINDER_CRON", &c.ReminderCron)
	str("AGENDA_IMPORT_CACHE_DIR", &c.ImportCacheDir)
	str("AGENDA_LOG_LEVEL", &c.Log.Level)
	str("AGENDA_LOG_FORMAT", &c.Log.Format)

	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a number: %w", key, err)
		}
		*dst = n
		return nil
	}
	if err := num("AGENDA_MAX_OCCURRENCES_PER_TASK", &c.MaxOccurrencesPerTask); err != nil {
		return err
	}
	if err := num("AGENDA_MAX_RANGE_DAYS", &c.MaxRangeDays); err != nil {
		return err
	}

	user, _ := lookup("AGENDA_BASIC_AUTH_USER")
	pass, _ := lookup("AGENDA_BASIC_AUTH_PASSWORD")
	if user != "" || pass != "" {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}

	if token, ok := lookup("AGENDA_TELEGRAM_TOKEN"); ok && token != "" {
		if c.Telegram == nil {
			c.Telegram = &TelegramConfig{}
		}
		c.Telegram.Token = token
	}
	if v, ok := lookup("AGENDA_TELEGRAM_CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("AGENDA_TELEGRAM_CHAT_ID must be a number: %w", err)
		}
		if c.Telegram == nil {
			c.Telegram = &TelegramConfig{}
		}
		c.Telegram.ChatID = id
	}

	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agenda-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
