package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths      PathsConfig      `mapstructure:"paths"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Generation GenerationConfig `mapstructure:"generation"`
	Server     ServerConfig     `mapstructure:"server"`
	LogLevel   string           `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelDir      string   `mapstructure:"model_dir"`
	ModelDirs     []string `mapstructure:"model_dirs"`
	TokenizerFile string   `mapstructure:"tokenizer_file"`
}

type RuntimeConfig struct {
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
	APIVersion     uint32 `mapstructure:"api_version"`
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
}

// GenerationConfig holds per-request defaults. Zero Duration means the
// model's own maximum length; zero Seed means a time-derived seed.
type GenerationConfig struct {
	GuidanceScale float64 `mapstructure:"guidance_scale"`
	TopK          int     `mapstructure:"top_k"`
	Duration      float64 `mapstructure:"duration"`
	Seed          uint64  `mapstructure:"seed"`
	BPM           float64 `mapstructure:"bpm"`
	Bars          float64 `mapstructure:"bars"`
	BeatsPerBar   float64 `mapstructure:"beats_per_bar"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
	MaxPromptBytes  int    `mapstructure:"max_prompt_bytes"`
	Workers         int    `mapstructure:"workers"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir: "models/musicgen-small",
		},
		Runtime: RuntimeConfig{
			APIVersion: 23,
		},
		Generation: GenerationConfig{
			GuidanceScale: 3.0,
			TopK:          50,
			BeatsPerBar:   4,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			RequestTimeout:  600,
			ShutdownTimeout: 30,
			MaxPromptBytes:  1024,
			Workers:         1,
		},
		LogLevel: "info",
	}
}

// flagKeys maps CLI flag names onto their viper keys.
var flagKeys = []struct {
	flag string
	key  string
}{
	{"model-dir", "paths.model_dir"},
	{"model-dirs", "paths.model_dirs"},
	{"tokenizer-file", "paths.tokenizer_file"},
	{"ort-lib", "runtime.ort_library_path"},
	{"ort-version", "runtime.ort_version"},
	{"ort-api-version", "runtime.api_version"},
	{"ort-threads", "runtime.intra_op_threads"},
	{"guidance-scale", "generation.guidance_scale"},
	{"top-k", "generation.top_k"},
	{"duration", "generation.duration"},
	{"seed", "generation.seed"},
	{"bpm", "generation.bpm"},
	{"bars", "generation.bars"},
	{"beats-per-bar", "generation.beats_per_bar"},
	{"listen-addr", "server.listen_addr"},
	{"request-timeout", "server.request_timeout"},
	{"shutdown-timeout", "server.shutdown_timeout"},
	{"max-prompt-bytes", "server.max_prompt_bytes"},
	{"workers", "server.workers"},
	{"log-level", "log_level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("model-dir", defaults.Paths.ModelDir, "MusicGen ONNX model directory")
	fs.StringSlice("model-dirs", defaults.Paths.ModelDirs, "Known model directories (for `models` and GET /models)")
	fs.String("tokenizer-file", defaults.Paths.TokenizerFile, "Tokenizer file inside the model directory (default: tokenizer.json, then spiece.model)")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.Uint32("ort-api-version", defaults.Runtime.APIVersion, "ONNX Runtime C API version")
	fs.Int("ort-threads", defaults.Runtime.IntraOpThreads, "ONNX Runtime intra-op threads per graph (0 = ORT default)")
	fs.Float64("guidance-scale", defaults.Generation.GuidanceScale, "Classifier-free guidance scale (>0)")
	fs.Int("top-k", defaults.Generation.TopK, "Top-k sampling cutoff (>0)")
	fs.Float64("duration", defaults.Generation.Duration, "Target duration in seconds (0 = model maximum, capped at 30)")
	fs.Uint64("seed", defaults.Generation.Seed, "Sampling seed (0 = random)")
	fs.Float64("bpm", defaults.Generation.BPM, "Tempo hint prepended to the prompt (0 = none)")
	fs.Float64("bars", defaults.Generation.Bars, "Derive duration from this many bars at --bpm")
	fs.Float64("beats-per-bar", defaults.Generation.BeatsPerBar, "Beats per bar used with --bars")
	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request generation timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Int("max-prompt-bytes", defaults.Server.MaxPromptBytes, "Maximum prompt size accepted by POST /generate")
	fs.Int("workers", defaults.Server.Workers, "Concurrent generation slots")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("POING")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	if err := v.BindEnv("runtime.ort_library_path", "POING_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("poing")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate rejects settings no generation request could succeed with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.ModelDir) == "" {
		return errors.New("paths.model_dir is required")
	}
	if c.Generation.GuidanceScale <= 0 {
		return fmt.Errorf("generation.guidance_scale must be > 0, got %v", c.Generation.GuidanceScale)
	}
	if c.Generation.TopK <= 0 {
		return fmt.Errorf("generation.top_k must be > 0, got %d", c.Generation.TopK)
	}
	if c.Generation.Duration < 0 {
		return fmt.Errorf("generation.duration must be >= 0, got %v", c.Generation.Duration)
	}
	if c.Runtime.IntraOpThreads < 0 {
		return fmt.Errorf("runtime.intra_op_threads must be >= 0, got %d", c.Runtime.IntraOpThreads)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("server.workers must be >= 1, got %d", c.Server.Workers)
	}
	return nil
}

// KnownModelDirs returns ModelDir followed by ModelDirs, without duplicates.
func (c Config) KnownModelDirs() []string {
	seen := make(map[string]bool, len(c.Paths.ModelDirs)+1)
	out := make([]string, 0, len(c.Paths.ModelDirs)+1)
	for _, d := range append([]string{c.Paths.ModelDir}, c.Paths.ModelDirs...) {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", fk.flag, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.model_dirs", c.Paths.ModelDirs)
	v.SetDefault("paths.tokenizer_file", c.Paths.TokenizerFile)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("runtime.api_version", c.Runtime.APIVersion)
	v.SetDefault("runtime.intra_op_threads", c.Runtime.IntraOpThreads)
	v.SetDefault("generation.guidance_scale", c.Generation.GuidanceScale)
	v.SetDefault("generation.top_k", c.Generation.TopK)
	v.SetDefault("generation.duration", c.Generation.Duration)
	v.SetDefault("generation.seed", c.Generation.Seed)
	v.SetDefault("generation.bpm", c.Generation.BPM)
	v.SetDefault("generation.bars", c.Generation.Bars)
	v.SetDefault("generation.beats_per_bar", c.Generation.BeatsPerBar)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("server.max_prompt_bytes", c.Server.MaxPromptBytes)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("log_level", c.LogLevel)
}
