// Package config loads the presence daemon settings: YAML over built-in
// defaults, then AURAPHONE_PRESENCE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/auraphone-presence/ble"
	"github.com/user/auraphone-presence/logger"
	"github.com/user/auraphone-presence/permission"
	"github.com/user/auraphone-presence/util"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "AURAPHONE_PRESENCE_"

const (
	TransportSim   = "sim"
	TransportRadio = "radio"
)

type Config struct {
	Platform    string            `yaml:"platform"`
	Transport   string            `yaml:"transport"`
	DeviceName  string            `yaml:"device_name"`
	EventBuffer int               `yaml:"event_buffer"` // per-kind event queue depth
	Log         LogConfig         `yaml:"log"`
	Scan        ScanConfig        `yaml:"scan"`
	Advertise   AdvertiseConfig   `yaml:"advertise"`
	Timeouts    TimeoutConfig     `yaml:"timeouts"`
	Alerts      AlertConfig       `yaml:"alerts"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type ScanConfig struct {
	Identifiers []string `yaml:"identifiers"`
}

type AdvertiseConfig struct {
	Identifier string `yaml:"identifier"`
}

type TimeoutConfig struct {
	Permission time.Duration `yaml:"permission"`
	Advertise  time.Duration `yaml:"advertise"`
}

type AlertConfig struct {
	Listen string     `yaml:"listen"` // WebSocket address, empty disables
	Text   TextConfig `yaml:"text"`
}

// TextConfig overrides individual alert strings
type TextConfig struct {
	MatchTitle            string `yaml:"match_title"`
	MatchMessage          string `yaml:"match_message"`
	TransportErrorTitle   string `yaml:"transport_error_title"`
	TransportErrorMessage string `yaml:"transport_error_message"`
	AdvertiseErrorTitle   string `yaml:"advertise_error_title"`
	AdvertiseErrorMessage string `yaml:"advertise_error_message"`
}

type SimulationConfig struct {
	ScanInterval   time.Duration `yaml:"scan_interval"`
	AdvertiseDelay time.Duration `yaml:"advertise_delay"`
	RSSI           int           `yaml:"rssi"`
}

// AttendanceConfig controls the on-disk record of matched identifiers
type AttendanceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"` // defaults to the data directory
}

// PermissionsConfig drives the simulated permission dialog
type PermissionsConfig struct {
	Deny []string `yaml:"deny"`
}

// Default returns the built-in settings
func Default() *Config {
	text := ble.DefaultAlertText
	return &Config{
		Platform:    string(permission.CurrentPlatform()),
		Transport:   TransportSim,
		DeviceName:  "Auraphone",
		EventBuffer: 64,
		Log: LogConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Timeouts: TimeoutConfig{
			Permission: 30 * time.Second,
			Advertise:  10 * time.Second,
		},
		Alerts: AlertConfig{
			Text: TextConfig{
				MatchTitle:            text.MatchTitle,
				MatchMessage:          text.MatchMessage,
				TransportErrorTitle:   text.TransportErrorTitle,
				TransportErrorMessage: text.TransportErrorMessage,
				AdvertiseErrorTitle:   text.AdvertiseErrorTitle,
				AdvertiseErrorMessage: text.AdvertiseErrorMessage,
			},
		},
		Simulation: SimulationConfig{
			ScanInterval:   time.Second,
			AdvertiseDelay: 50 * time.Millisecond,
			RSSI:           -45,
		},
		Attendance: AttendanceConfig{
			Enabled: true,
		},
	}
}

// Load reads path over the defaults, applies env overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Empty variables count as unset
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PLATFORM":             &c.Platform,
		"TRANSPORT":            &c.Transport,
		"DEVICE_NAME":          &c.DeviceName,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FILE":             &c.Log.File,
		"ADVERTISE_IDENTIFIER": &c.Advertise.Identifier,
		"ALERTS_LISTEN":        &c.Alerts.Listen,
		"ATTENDANCE_DIR":       &c.Attendance.Dir,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	lists := map[string]*[]string{
		"SCAN_IDENTIFIERS": &c.Scan.Identifiers,
		"PERMISSIONS_DENY": &c.Permissions.Deny,
	}
	for key, dst := range lists {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = splitList(v)
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUTS_PERMISSION": &c.Timeouts.Permission,
		"TIMEOUTS_ADVERTISE":  &c.Timeouts.Advertise,
	}
	for key, dst := range durations {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

// Validate reports every problem in one joined error
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportSim, TransportRadio:
	default:
		errs = append(errs, fmt.Errorf("transport must be %q or %q, got %q", TransportSim, TransportRadio, c.Transport))
	}

	switch permission.Platform(c.Platform) {
	case permission.PlatformAndroid, permission.PlatformIOS, permission.PlatformLinux,
		permission.PlatformDarwin, permission.PlatformWindows:
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", c.Platform))
	}

	switch strings.ToUpper(c.Log.Level) {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}

	if len(c.Scan.Identifiers) > 0 {
		if _, err := ble.EncodeIdentifiers(c.Scan.Identifiers); err != nil {
			errs = append(errs, fmt.Errorf("scan.identifiers: %w", err))
		}
	}

	if c.EventBuffer < 0 {
		errs = append(errs, errors.New("event_buffer must not be negative"))
	}
	if c.Timeouts.Permission < 0 || c.Timeouts.Advertise < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.Transport == TransportSim && c.Simulation.ScanInterval <= 0 {
		errs = append(errs, errors.New("simulation.scan_interval must be positive"))
	}

	for _, p := range c.DeniedPermissions() {
		if !known(p) {
			errs = append(errs, fmt.Errorf("permissions.deny: unknown permission %q", p))
		}
	}

	return errors.Join(errs...)
}

// AlertText returns the configured alert copy
func (c *Config) AlertText() ble.AlertText {
	t := c.Alerts.Text
	return ble.AlertText{
		MatchTitle:            t.MatchTitle,
		MatchMessage:          t.MatchMessage,
		TransportErrorTitle:   t.TransportErrorTitle,
		TransportErrorMessage: t.TransportErrorMessage,
		AdvertiseErrorTitle:   t.AdvertiseErrorTitle,
		AdvertiseErrorMessage: t.AdvertiseErrorMessage,
	}
}

// DeniedPermissions expands short names like BLUETOOTH_SCAN
func (c *Config) DeniedPermissions() []permission.Permission {
	out := make([]permission.Permission, 0, len(c.Permissions.Deny))
	for _, name := range c.Permissions.Deny {
		if !strings.Contains(name, ".") {
			name = "android.permission." + strings.ToUpper(name)
		}
		out = append(out, permission.Permission(name))
	}
	return out
}

// LogFile returns the absolute log file path, or "" when file logging is off.
// Relative paths live in the data directory's logs folder.
func (c *Config) LogFile() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(util.GetLogDir(), c.Log.File)
}

// AttendanceDir returns the directory holding the attendance database
func (c *Config) AttendanceDir() string {
	if c.Attendance.Dir != "" {
		return c.Attendance.Dir
	}
	return util.GetDataDir()
}

// LogOptions returns the rotation settings for logger.EnableFile
func (c *Config) LogOptions() logger.FileOptions {
	return logger.FileOptions{
		Path:       c.LogFile(),
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

func known(p permission.Permission) bool {
	for _, set := range permission.CapabilitySets {
		for _, q := range set {
			if p == q {
				return true
			}
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
