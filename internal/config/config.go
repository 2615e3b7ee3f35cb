// Package config provides configuration loading and defaults for the jamibus
// daemon.
//
// Configuration is loaded from a TOML file in the user's data directory. It
// covers the bus connection, the event channel, file transfer handling, the
// metrics endpoint, the interactive console and logging.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"tools.zach/dev/jamibus/internal/atomicfile"
	"tools.zach/dev/jamibus/internal/bus"
	"tools.zach/dev/jamibus/internal/logger"
	"tools.zach/dev/jamibus/internal/migrate"
	"tools.zach/dev/jamibus/internal/paths"
)

// CurrentVersion is the config schema version written by this build.
const CurrentVersion = 2

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Bus holds the D-Bus connection settings.
	Bus BusConfig `toml:"bus"`
	// Events holds event channel settings.
	Events EventsConfig `toml:"events"`
	// Transfers holds file transfer settings.
	Transfers TransfersConfig `toml:"transfers"`
	// Metrics holds the Prometheus endpoint settings.
	Metrics MetricsConfig `toml:"metrics"`
	// Console holds interactive console settings.
	Console ConsoleConfig `toml:"console"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// BusConfig holds the D-Bus connection settings.
type BusConfig struct {
	// Address is "session", "system" or an explicit D-Bus address.
	Address string `toml:"address" validate:"required"`
	// Destination is the well-known name of the daemon.
	Destination string `toml:"destination" validate:"required"`
	// Path is the object path of the configuration manager.
	Path string `toml:"path" validate:"required,startswith=/"`
	// CallTimeoutMS bounds every remote call.
	CallTimeoutMS int `toml:"call_timeout_ms" validate:"min=100,max=120000"`
}

// EventsConfig holds event channel settings.
type EventsConfig struct {
	// Capacity is the number of events buffered before producers defer.
	Capacity int `toml:"capacity" validate:"min=1,max=65536"`
	// PollIntervalMS is how often the listener checks the stop flag.
	PollIntervalMS int `toml:"poll_interval_ms" validate:"min=1,max=1000"`
}

// TransfersConfig holds file transfer settings.
type TransfersConfig struct {
	// DownloadDir receives accepted files. Empty means the data directory's
	// downloads folder; relative paths resolve against the data directory.
	DownloadDir string `toml:"download_dir"`
	// AutoAccept lists glob patterns matched against the offered file name.
	AutoAccept []string `toml:"auto_accept"`
	// AutoAcceptMIME lists glob patterns matched against the offered MIME type.
	AutoAcceptMIME []string `toml:"auto_accept_mime"`
	// MaxAutoAcceptMB caps the size of automatically accepted files (0 = no cap).
	MaxAutoAcceptMB int `toml:"max_auto_accept_mb" validate:"min=0"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Enabled starts the HTTP listener.
	Enabled bool `toml:"enabled"`
	// Listen is the host:port the endpoint binds to.
	Listen string `toml:"listen" validate:"omitempty,hostname_port"`
}

// ConsoleConfig holds interactive console settings.
type ConsoleConfig struct {
	// Enabled attaches the console when stdin is a terminal.
	Enabled bool `toml:"enabled"`
	// HistoryLimit caps the number of lines kept in the history file.
	HistoryLimit int `toml:"history_limit" validate:"min=0,max=100000"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb" validate:"min=1"`
	// Stderr mirrors log output to standard error.
	Stderr bool `toml:"stderr"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Bus: BusConfig{
			Address:       "session",
			Destination:   bus.DefaultDestination,
			Path:          bus.DefaultPath,
			CallTimeoutMS: int(bus.DefaultCallTimeout / time.Millisecond),
		},
		Events: EventsConfig{
			Capacity:       64,
			PollIntervalMS: 10,
		},
		Transfers: TransfersConfig{
			AutoAccept:      []string{},
			AutoAcceptMIME:  []string{},
			MaxAutoAcceptMB: 20,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Console: ConsoleConfig{
			Enabled:      true,
			HistoryLimit: 1024,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// Derived Settings
// ///////////////////////////////////////////////

// BusOptions converts the bus section into dial options.
func (c *Config) BusOptions() bus.Config {
	return bus.Config{
		Address:     c.Bus.Address,
		Destination: c.Bus.Destination,
		Path:        c.Bus.Path,
		CallTimeout: time.Duration(c.Bus.CallTimeoutMS) * time.Millisecond,
	}
}

// PollInterval returns the listener's stop flag poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Events.PollIntervalMS) * time.Millisecond
}

// MaxAutoAcceptBytes returns the auto-accept size cap in bytes, 0 for none.
func (c *Config) MaxAutoAcceptBytes() int64 {
	return int64(c.Transfers.MaxAutoAcceptMB) << 20
}

// ///////////////////////////////////////////////
// Migrations
// ///////////////////////////////////////////////

// migrations upgrades older config files to [CurrentVersion].
var migrations = newMigrations()

func newMigrations() *migrate.Registry {
	r := migrate.NewRegistry(CurrentVersion)
	r.Register(migrate.Migration{
		Version:     2,
		Description: "bus.call_timeout_seconds becomes bus.call_timeout_ms",
		Upgrade: func(doc migrate.Document) error {
			b, ok := doc.Table("bus", false)
			if !ok {
				return nil
			}
			v, ok := b["call_timeout_seconds"]
			if !ok {
				return nil
			}
			secs, ok := v.(int64)
			if !ok {
				return fmt.Errorf("bus.call_timeout_seconds: want integer, got %T", v)
			}
			delete(b, "call_timeout_seconds")
			b["call_timeout_ms"] = secs * 1000
			return nil
		},
	})
	return r
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if v := migrate.PeekVersion(data); v > CurrentVersion {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", v, CurrentVersion)
	}

	migrated := migrations.NeedsMigration(data)
	if migrated {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		if data, err = migrations.Run(data); err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}
	return cfg, nil
}

// Parse decodes current-version TOML over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// FieldError reports one invalid setting by its TOML path.
type FieldError struct {
	Field   string
	Message string
	Value   any
}

func (e FieldError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Message)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []FieldError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// validate checks struct tags, reporting fields by their TOML names.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return err
		}
		for _, fe := range ves {
			errs = append(errs, FieldError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
				Message: describe(fe),
				Value:   fe.Value(),
			})
		}
	}

	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, FieldError{"log.level", "must be trace, debug, info, warn, or error", c.Log.Level})
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, FieldError{"metrics.listen", "required when metrics are enabled", `""`})
	}
	for _, p := range c.Transfers.AutoAccept {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, FieldError{"transfers.auto_accept", "not a valid glob pattern", p})
		}
	}
	for _, p := range c.Transfers.AutoAcceptMIME {
		if !doublestar.ValidatePattern(p) {
			errs = append(errs, FieldError{"transfers.auto_accept_mime", "not a valid glob pattern", p})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// describe converts a validator failure to a human-readable message.
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must be set"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	case "hostname_port":
		return "must be host:port"
	default:
		return "failed " + fe.Tag()
	}
}
