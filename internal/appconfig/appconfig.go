// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.yml"
	// EnvPrefix is prepended to environment overrides, e.g. VOXEVAL_JOBS.
	EnvPrefix = "VOXEVAL"

	defaultDatasetsDir = "datasets"
	defaultWorkDir     = "profiles"
	defaultResultsDir  = "results"
	defaultStateDir    = ".voxeval"
	defaultEngine      = "voice2json"
	// defaultGracePeriod is how long an engine process gets between SIGTERM and SIGKILL.
	defaultGracePeriod = 5 * time.Second
)

// Fingerprint modes.
const (
	FingerprintHash  = "hash"
	FingerprintMtime = "mtime"
)

// Intent strictness levels.
const (
	StrictnessTolerant = "tolerant"
	StrictnessStrict   = "strict"
)

// Config represents the top-level application configuration.
type Config struct {
	DatasetsDir   string       `json:"datasetsDir" mapstructure:"datasetsDir"`
	WorkDir       string       `json:"workDir" mapstructure:"workDir"`
	ResultsDir    string       `json:"resultsDir" mapstructure:"resultsDir"`
	StateDir      string       `json:"stateDir" mapstructure:"stateDir"`
	Jobs          int          `json:"jobs" mapstructure:"jobs" validate:"gte=0"`
	Fingerprint   string       `json:"fingerprint" mapstructure:"fingerprint" validate:"omitempty,oneof=hash mtime"`
	Strictness    string       `json:"strictness" mapstructure:"strictness" validate:"omitempty,oneof=tolerant strict"`
	CaseSensitive bool         `json:"caseSensitive" mapstructure:"caseSensitive"`
	Datasets      []string     `json:"datasets,omitempty" mapstructure:"datasets"`
	Profiles      []string     `json:"profiles,omitempty" mapstructure:"profiles"`
	Engine        EngineConfig `json:"engine" mapstructure:"engine"`
	Debug         bool         `json:"debug" mapstructure:"debug"`
	Progress      bool         `json:"progress" mapstructure:"progress"`
	LogFile       string       `json:"logFile,omitempty" mapstructure:"logFile"`
	LogLevel      string       `json:"logLevel,omitempty" mapstructure:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`
	ConfigPath    string       `json:"-" mapstructure:"-"`
}

// EngineConfig describes the default recognition engine invocation.
type EngineConfig struct {
	Binary             string   `json:"binary" mapstructure:"binary"`
	Args               []string `json:"args,omitempty" mapstructure:"args"`
	TimeoutSeconds     int      `json:"timeout,omitempty" mapstructure:"timeout" validate:"gte=0"`
	GracePeriodSeconds int      `json:"gracePeriod,omitempty" mapstructure:"gracePeriod" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// JobCount returns the worker pool size, defaulting to the number of CPUs.
func (c Config) JobCount() int {
	if c.Jobs <= 0 {
		return runtime.NumCPU()
	}
	return c.Jobs
}

// FingerprintMode returns the configured fingerprint mode, defaulting to content hashes.
func (c Config) FingerprintMode() string {
	if c.Fingerprint == FingerprintMtime {
		return FingerprintMtime
	}
	return FingerprintHash
}

// StrictnessLevel returns the intent strictness, defaulting to tolerant.
func (c Config) StrictnessLevel() string {
	if c.Strictness == StrictnessStrict {
		return StrictnessStrict
	}
	return StrictnessTolerant
}

// DatasetsPath returns the datasets root.
func (c Config) DatasetsPath() string { return orDefault(c.DatasetsDir, defaultDatasetsDir) }

// WorkPath returns the directory where profiles are staged and trained.
func (c Config) WorkPath() string { return orDefault(c.WorkDir, defaultWorkDir) }

// ResultsPath returns the results directory.
func (c Config) ResultsPath() string { return orDefault(c.ResultsDir, defaultResultsDir) }

// StatePath returns the directory holding the fingerprint store.
func (c Config) StatePath() string { return orDefault(c.StateDir, defaultStateDir) }

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	return orDefault(c.LogFile, filepath.Join(c.StatePath(), "voxeval.log"))
}

// LogLevelName returns the log level, honoring the debug switch.
func (c Config) LogLevelName() string {
	if c.Debug {
		return "debug"
	}
	return orDefault(c.LogLevel, "info")
}

// EngineBinary returns the default engine executable.
func (c Config) EngineBinary() string { return orDefault(c.Engine.Binary, defaultEngine) }

// EngineTimeout returns the per-invocation timeout; zero means none.
func (c Config) EngineTimeout() time.Duration {
	if c.Engine.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// GracePeriod returns the SIGTERM-to-SIGKILL delay for engine processes.
func (c Config) GracePeriod() time.Duration {
	if c.Engine.GracePeriodSeconds <= 0 {
		return defaultGracePeriod
	}
	return time.Duration(c.Engine.GracePeriodSeconds) * time.Second
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("datasetsDir", defaultDatasetsDir)
	v.SetDefault("workDir", defaultWorkDir)
	v.SetDefault("resultsDir", defaultResultsDir)
	v.SetDefault("stateDir", defaultStateDir)
	v.SetDefault("fingerprint", FingerprintHash)
	v.SetDefault("strictness", StrictnessTolerant)
	v.SetDefault("jobs", 0)
	v.SetDefault("caseSensitive", false)
	v.SetDefault("debug", false)
	v.SetDefault("progress", false)
	v.SetDefault("logFile", "")
	v.SetDefault("logLevel", "")
	v.SetDefault("engine.binary", defaultEngine)
	v.SetDefault("engine.timeout", 0)
	v.SetDefault("engine.gracePeriod", 0)
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load env file %q: %w", path, err)
	}
	return nil
}

// Load reads the application configuration from path (YAML or JSON), applying
// defaults and VOXEVAL_* environment overrides. An empty path that does not
// exist yields the defaults.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load on a caller-supplied viper instance. Flags bound to v with
// BindPFlag take precedence over the file and the environment.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), errors.Is(err, os.ErrNotExist):
			if explicit {
				return Config{}, fmt.Errorf("no configuration file found at %q", path)
			}
			path = ""
		default:
			return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.ConfigPath = path
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
