package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Paths.ModelDir != "models/musicgen-small" {
		t.Errorf("ModelDir = %q; want %q", cfg.Paths.ModelDir, "models/musicgen-small")
	}

	if cfg.Paths.TokenizerFile != "" {
		t.Errorf("TokenizerFile = %q; want empty for auto-detection", cfg.Paths.TokenizerFile)
	}

	if cfg.Generation.GuidanceScale != 3.0 {
		t.Errorf("GuidanceScale = %v; want 3.0", cfg.Generation.GuidanceScale)
	}

	if cfg.Generation.TopK != 50 {
		t.Errorf("TopK = %d; want 50", cfg.Generation.TopK)
	}

	if cfg.Server.Workers != 1 {
		t.Errorf("Server.Workers = %d; want 1", cfg.Server.Workers)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want info", cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	tests := []struct {
		flag string
		want string
	}{
		{"model-dir", "models/musicgen-small"},
		{"guidance-scale", "3"},
		{"top-k", "50"},
		{"listen-addr", ":8080"},
		{"log-level", "info"},
	}

	for _, tt := range tests {
		f := fs.Lookup(tt.flag)
		if f == nil {
			t.Errorf("flag --%s not registered", tt.flag)
			continue
		}

		if f.DefValue != tt.want {
			t.Errorf("--%s default = %q; want %q", tt.flag, f.DefValue, tt.want)
		}
	}

	for _, fk := range flagKeys {
		if fs.Lookup(fk.flag) == nil {
			t.Errorf("flagKeys entry %q has no registered flag", fk.flag)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !reflect.DeepEqual(cfg.Generation, defaults.Generation) {
		t.Errorf("Generation = %+v; want %+v", cfg.Generation, defaults.Generation)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q; want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	t.Chdir(t.TempDir())

	defaults := DefaultConfig()
	binder := newFlagBinder(defaults)

	err := binder.fs.Parse([]string{
		"--model-dir=/models/musicgen-medium",
		"--guidance-scale=4.5",
		"--top-k=250",
		"--seed=42",
		"--model-dirs=/a,/b",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: binder, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.ModelDir != "/models/musicgen-medium" {
		t.Errorf("ModelDir = %q", cfg.Paths.ModelDir)
	}

	if cfg.Generation.GuidanceScale != 4.5 {
		t.Errorf("GuidanceScale = %v; want 4.5", cfg.Generation.GuidanceScale)
	}

	if cfg.Generation.TopK != 250 {
		t.Errorf("TopK = %d; want 250", cfg.Generation.TopK)
	}

	if cfg.Generation.Seed != 42 {
		t.Errorf("Seed = %d; want 42", cfg.Generation.Seed)
	}

	if !reflect.DeepEqual(cfg.Paths.ModelDirs, []string{"/a", "/b"}) {
		t.Errorf("ModelDirs = %v", cfg.Paths.ModelDirs)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want debug", cfg.LogLevel)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("POING_LOG_LEVEL", "warn")
	t.Setenv("POING_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("POING_ORT_LIB", "/opt/ort/libonnxruntime.so")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want warn", cfg.LogLevel)
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q; want :9999", cfg.Server.ListenAddr)
	}

	if cfg.Runtime.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q", cfg.Runtime.ORTLibraryPath)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "poing.yaml")

	content := `
log_level: error
paths:
  model_dir: /srv/musicgen
generation:
  top_k: 100
  bpm: 128
server:
  workers: 2
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want error", cfg.LogLevel)
	}

	if cfg.Paths.ModelDir != "/srv/musicgen" {
		t.Errorf("ModelDir = %q; want /srv/musicgen", cfg.Paths.ModelDir)
	}

	if cfg.Generation.TopK != 100 || cfg.Generation.BPM != 128 {
		t.Errorf("Generation = %+v", cfg.Generation)
	}

	if cfg.Generation.GuidanceScale != 3.0 {
		t.Errorf("unset key should keep default, got GuidanceScale=%v", cfg.Generation.GuidanceScale)
	}

	if cfg.Server.Workers != 2 {
		t.Errorf("Workers = %d; want 2", cfg.Server.Workers)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "poing.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{ConfigFile: cfgFile, Defaults: DefaultConfig()})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: filepath.Join(t.TempDir(), "missing.yaml"),
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model dir", func(c *Config) { c.Paths.ModelDir = " " }},
		{"zero guidance", func(c *Config) { c.Generation.GuidanceScale = 0 }},
		{"negative top-k", func(c *Config) { c.Generation.TopK = -1 }},
		{"negative duration", func(c *Config) { c.Generation.Duration = -2 }},
		{"no workers", func(c *Config) { c.Server.Workers = 0 }},
		{"negative ort threads", func(c *Config) { c.Runtime.IntraOpThreads = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil; want error")
			}
		})
	}
}

func TestKnownModelDirs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paths.ModelDirs = []string{"/b", cfg.Paths.ModelDir, "", "/c", "/b"}

	got := cfg.KnownModelDirs()
	want := []string{"models/musicgen-small", "/b", "/c"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("KnownModelDirs() = %v; want %v", got, want)
	}
}
