package appconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad verifies that a YAML config is read, defaults fill the gaps, and the
// accessor methods resolve the effective values.
func TestLoad(t *testing.T) {
	path := writeConfig(t, "config.yml", `
datasetsDir: data/sets
jobs: 3
strictness: strict
engine:
  binary: /opt/voice2json/bin/voice2json
  args: ["--debug"]
  timeout: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() with valid config failed: %v", err)
	}
	if cfg.ConfigPath != path {
		t.Fatalf("expected config path %s, got %s", path, cfg.ConfigPath)
	}
	if cfg.DatasetsPath() != "data/sets" {
		t.Fatalf("expected datasets dir from file, got %s", cfg.DatasetsPath())
	}
	if cfg.ResultsPath() != "results" {
		t.Fatalf("expected default results dir, got %s", cfg.ResultsPath())
	}
	if cfg.JobCount() != 3 {
		t.Fatalf("expected 3 jobs, got %d", cfg.JobCount())
	}
	if cfg.StrictnessLevel() != StrictnessStrict {
		t.Fatalf("expected strict, got %s", cfg.StrictnessLevel())
	}
	if cfg.FingerprintMode() != FingerprintHash {
		t.Fatalf("expected default hash fingerprints, got %s", cfg.FingerprintMode())
	}
	if cfg.EngineTimeout() != 30*time.Second {
		t.Fatalf("expected 30s engine timeout, got %v", cfg.EngineTimeout())
	}
	if cfg.GracePeriod() != defaultGracePeriod {
		t.Fatalf("expected default grace period, got %v", cfg.GracePeriod())
	}
	if len(cfg.Engine.Args) != 1 || cfg.Engine.Args[0] != "--debug" {
		t.Fatalf("expected engine args from file, got %v", cfg.Engine.Args)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"fingerprint": "mtime", "resultsDir": "out"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() with JSON config failed: %v", err)
	}
	if cfg.FingerprintMode() != FingerprintMtime {
		t.Fatalf("expected mtime, got %s", cfg.FingerprintMode())
	}
	if cfg.ResultsPath() != "out" {
		t.Fatalf("expected results dir out, got %s", cfg.ResultsPath())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "config.yml", "fingerprint: sha1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with unknown fingerprint mode should have failed")
	}

	path = writeConfig(t, "config.yml", "jobs: -2\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with negative jobs should have failed")
	}

	path = writeConfig(t, "config.yml", "jobs: [\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() with malformed YAML should have failed")
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml")); err == nil {
		t.Fatal("Load() with nonexistent file should have failed")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "config.yml", "jobs: 2\n")
	t.Setenv("VOXEVAL_JOBS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.JobCount() != 7 {
		t.Fatalf("expected env override of 7 jobs, got %d", cfg.JobCount())
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if cfg.JobCount() != runtime.NumCPU() {
		t.Fatalf("expected NumCPU jobs, got %d", cfg.JobCount())
	}
	if cfg.EngineBinary() != "voice2json" {
		t.Fatalf("expected voice2json default engine, got %s", cfg.EngineBinary())
	}
	if cfg.LogFilePath() != filepath.Join(".voxeval", "voxeval.log") {
		t.Fatalf("unexpected default log path %s", cfg.LogFilePath())
	}
	cfg.Debug = true
	if cfg.LogLevelName() != "debug" {
		t.Fatalf("expected debug level when debug is set, got %s", cfg.LogLevelName())
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}

	path := writeConfig(t, ".env", "VOXEVAL_TEST_ENV_FILE=loaded\n")
	t.Setenv("VOXEVAL_TEST_ENV_FILE", "")
	os.Unsetenv("VOXEVAL_TEST_ENV_FILE")
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}
	if got := os.Getenv("VOXEVAL_TEST_ENV_FILE"); got != "loaded" {
		t.Fatalf("expected env var from file, got %q", got)
	}
}

func TestLoadFromOverridesFile(t *testing.T) {
	path := writeConfig(t, "config.yml", "jobs: 3\nstrictness: strict\n")
	v := viper.New()
	v.Set("jobs", 7)
	cfg, err := LoadFrom(v, path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.JobCount() != 7 || cfg.StrictnessLevel() != StrictnessStrict {
		t.Fatalf("expected override to win and file values to remain, got %+v", cfg)
	}
}

func TestShowConfig(t *testing.T) {
	var out bytes.Buffer
	ShowConfig(&out, &Config{Jobs: 4})
	text := out.String()
	if !strings.Contains(text, "No config file loaded") {
		t.Fatalf("expected defaults banner, got: %s", text)
	}
	if !strings.Contains(text, "Jobs:          4") {
		t.Fatalf("expected jobs line, got: %s", text)
	}

	out.Reset()
	ShowConfig(&out, nil)
	if !strings.Contains(out.String(), "not initialized") {
		t.Fatalf("expected nil config message, got: %s", out.String())
	}
}
