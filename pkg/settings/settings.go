// Package settings resolves SDK-wide configuration for rangekit apps.
// Settings come from an optional YAML file merged with environment
// variables; the environment always wins so operators can override a
// deployed settings file per invocation.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by the SDK.
const (
	EnvConfig   = "RANGEKIT_CONFIG"
	EnvBaseDir  = "RANGEKIT_BASE_DIR"
	EnvLogFile  = "RANGEKIT_LOG_FILE"
	EnvLogLevel = "RANGEKIT_LOG_LEVEL"
	EnvLedger   = "RANGEKIT_LEDGER"
	EnvMMBase   = "RANGEKIT_MM_BASE"
)

// DefaultConfigPath is consulted when RANGEKIT_CONFIG is unset.
const DefaultConfigPath = "/etc/rangekit/rangekit.yml"

// Settings holds the resolved SDK configuration.
type Settings struct {
	// BaseDir is the root directory for experiment state.
	BaseDir string `yaml:"base_dir"`

	// LogFile, when set, switches logging from colored stderr output to
	// JSON entries appended to this file.
	LogFile string `yaml:"log_file"`

	// LogLevel is one of debug/info/warn/error (case-insensitive).
	LogLevel string `yaml:"log_level"`

	// Ledger controls the run ledger: "on" (default) or "off".
	Ledger string `yaml:"ledger"`

	// MMBase is the orchestrator's base directory containing the control
	// socket (<MMBase>/minimega).
	MMBase string `yaml:"mm_base"`
}

// Defaults returns the built-in settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		BaseDir:  "/phenix",
		LogLevel: "info",
		Ledger:   "on",
		MMBase:   "/tmp/minimega",
	}
}

// Load resolves settings from the YAML file (if present) and the
// environment. A missing settings file is not an error.
func Load() (Settings, error) {
	s := Defaults()

	path := os.Getenv(EnvConfig)
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No settings file; defaults plus environment apply.
	default:
		return s, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	s.applyEnvOverrides()

	if err := s.validate(); err != nil {
		return s, err
	}
	return s, nil
}

// applyEnvOverrides layers environment variables over file/default values.
func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv(EnvBaseDir); v != "" {
		s.BaseDir = v
	}
	if v := os.Getenv(EnvLogFile); v != "" {
		s.LogFile = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv(EnvLedger); v != "" {
		s.Ledger = v
	}
	if v := os.Getenv(EnvMMBase); v != "" {
		s.MMBase = v
	}
}

func (s *Settings) validate() error {
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", s.LogLevel)
	}
	switch strings.ToLower(s.Ledger) {
	case "on", "off":
	default:
		return fmt.Errorf("invalid ledger setting %q (want on or off)", s.Ledger)
	}
	return nil
}

// LedgerEnabled reports whether stage executions should be recorded.
func (s Settings) LedgerEnabled() bool {
	return strings.EqualFold(s.Ledger, "on")
}

// LedgerPath is the sqlite database holding the run ledger.
func (s Settings) LedgerPath() string {
	return filepath.Join(s.BaseDir, "ledger.db")
}

// ExpDir is the state directory for a named experiment.
func (s Settings) ExpDir(exp string) string {
	return filepath.Join(s.BaseDir, "experiments", exp)
}

// AppDir is the per-app directory inside an experiment.
func (s Settings) AppDir(exp, app string) string {
	return filepath.Join(s.ExpDir(exp), app)
}

// FilesDir holds files an app generates for the experiment's hosts.
func (s Settings) FilesDir(exp, app string) string {
	return filepath.Join(s.AppDir(exp, app), "files")
}

// TemplatesDir holds operator-provided template overrides for an app.
func (s Settings) TemplatesDir(exp, app string) string {
	return filepath.Join(s.AppDir(exp, app), "templates")
}

// MMSocket is the orchestrator control socket path.
func (s Settings) MMSocket() string {
	return filepath.Join(s.MMBase, "minimega")
}
