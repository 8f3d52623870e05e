package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultMaxThreads is used when nthreads is blank.
const DefaultMaxThreads = 10

// Keys of the user-editable settings block. They double as the names of
// the named ranges in the spreadsheet.
const (
	KeyMaxThreads   = "nthreads"
	KeyMinSize      = "thresize"
	KeyBackupFolder = "backupfol"
	KeyAfter        = "after"
	KeyBefore       = "before"
)

const (
	QueueDB     = "db"
	QueueSheets = "sheets"

	StorageDrive = "drive"
	StorageGCS   = "gcs"
	StorageS3    = "s3"
	StorageLocal = "local"
)

var SettingKeys = []string{KeyMaxThreads, KeyMinSize, KeyBackupFolder, KeyAfter, KeyBefore}

// Settings is the search and backup block the operator edits.
// Zero After/Before mean no bound.
type Settings struct {
	MaxThreads   int       `json:"nthreads"`
	MinSize      string    `json:"thresize"`
	BackupFolder string    `json:"backupfol"`
	After        time.Time `json:"after"`
	Before       time.Time `json:"before"`
}

type Database struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Queue struct {
	// Backend is "db" or "sheets".
	Backend       string `mapstructure:"backend"`
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	Sheet         string `mapstructure:"sheet"`
	// NamedRanges makes the spreadsheet's named ranges override the
	// settings read from the file.
	NamedRanges bool `mapstructure:"named_ranges"`
}

type Storage struct {
	// Backend is one of "drive", "gcs", "s3" or "local".
	Backend   string `mapstructure:"backend"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Dir       string `mapstructure:"dir"`
}

type App struct {
	Settings Settings
	Database Database
	Queue    Queue
	Storage  Storage
}

func defaultApp() *App {
	return &App{
		Settings: Settings{MaxThreads: DefaultMaxThreads},
		Database: Database{Driver: "sqlite", DSN: "detach.db"},
		Queue:    Queue{Backend: QueueDB, Sheet: "Emails"},
		Storage:  Storage{Backend: StorageDrive},
	}
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (*App, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "detach.db")
	v.SetDefault("queue.backend", QueueDB)
	v.SetDefault("queue.sheet", "Emails")
	v.SetDefault("storage.backend", StorageDrive)

	if err := v.ReadInConfig(); err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return defaultApp(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultApp(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultApp()
	if err := v.UnmarshalKey("database", &cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database section of %s: %w", path, err)
	}
	if err := v.UnmarshalKey("queue", &cfg.Queue); err != nil {
		return nil, fmt.Errorf("parsing queue section of %s: %w", path, err)
	}
	if err := v.UnmarshalKey("storage", &cfg.Storage); err != nil {
		return nil, fmt.Errorf("parsing storage section of %s: %w", path, err)
	}

	// Settings go through FromValues so the file and the spreadsheet share
	// one parser.
	values := make(map[string]string, len(SettingKeys))
	for _, key := range SettingKeys {
		values[key] = v.GetString(key)
	}
	settings, err := FromValues(values)
	if err != nil {
		return nil, fmt.Errorf("parsing settings in %s: %w", path, err)
	}
	cfg.Settings = settings

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// FromValues builds Settings from raw text values keyed by SettingKeys.
// Blank values mean unset.
func FromValues(values map[string]string) (Settings, error) {
	s := Settings{MaxThreads: DefaultMaxThreads}

	if raw := strings.TrimSpace(values[KeyMaxThreads]); raw != "" {
		n, err := parseCount(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", KeyMaxThreads, err)
		}
		if n > 0 {
			s.MaxThreads = n
		}
	}
	s.MinSize = strings.TrimSpace(values[KeyMinSize])
	s.BackupFolder = strings.TrimSpace(values[KeyBackupFolder])

	var err error
	if s.After, err = parseDate(values[KeyAfter]); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyAfter, err)
	}
	if s.Before, err = parseDate(values[KeyBefore]); err != nil {
		return Settings{}, fmt.Errorf("%s: %w", KeyBefore, err)
	}
	return s, nil
}

func (a *App) Validate() error {
	switch a.Queue.Backend {
	case QueueDB:
		if a.Database.Driver == "" {
			return errors.New("database.driver is required")
		}
	case QueueSheets:
		if a.Queue.SpreadsheetID == "" {
			return errors.New("queue.spreadsheet_id is required for the sheets backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", a.Queue.Backend)
	}

	switch a.Storage.Backend {
	case StorageDrive:
	case StorageGCS, StorageS3:
		if a.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the %s backend", a.Storage.Backend)
		}
	case StorageLocal:
		if a.Storage.Dir == "" {
			return errors.New("storage.dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", a.Storage.Backend)
	}
	return a.Settings.Validate()
}

func (s Settings) Validate() error {
	if s.MaxThreads < 0 {
		return fmt.Errorf("%s must not be negative", KeyMaxThreads)
	}
	if !s.After.IsZero() && !s.Before.IsZero() && !s.After.Before(s.Before) {
		slog.Warn("Search window is empty, no message will match",
			KeyAfter, FormatDate(s.After), KeyBefore, FormatDate(s.Before))
	}
	return nil
}

// Threads is the search budget, never below one.
func (s Settings) Threads() int {
	if s.MaxThreads <= 0 {
		return DefaultMaxThreads
	}
	return s.MaxThreads
}

// FormatDate renders t as YYYY-MM-DD in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func parseCount(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	// Spreadsheet cells hand numbers back as floats.
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return int(f), nil
}

// parseDate accepts anything that starts with YYYY-MM-DD: a bare date,
// RFC 3339, or the String() form of a time.Time that YAML decoding hands
// back through viper.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if len(raw) < len(time.DateOnly) {
		return time.Time{}, fmt.Errorf("not a date: %q", raw)
	}
	t, err := time.Parse(time.DateOnly, raw[:len(time.DateOnly)])
	if err != nil {
		return time.Time{}, fmt.Errorf("not a date: %q", raw)
	}
	return t, nil
}
