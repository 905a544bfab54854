package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// OutputPath is the directory where transcoded files are written.
	// If empty, outputs go in the same directory as the source.
	OutputPath string `yaml:"output_path"`

	// FFmpegPath is the path to the ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to the ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// DBPath is where job history is persisted (default: config dir + transcoded.db)
	DBPath string `yaml:"db_path"`

	// HardwareEncoder enables hardware-accelerated command profiles where
	// a mode declares a hardware variant.
	HardwareEncoder bool `yaml:"hardware_encoder"`

	// Threads is the thread count hint passed to the encoder (0 = ffmpeg default)
	Threads int `yaml:"threads"`

	// ProbeTimeoutSecs bounds the duration probe before a job starts (default 8)
	ProbeTimeoutSecs int `yaml:"probe_timeout_secs"`

	// StallTimeoutSecs fails a running job that emits no telemetry for this
	// long (default 45, 0 disables the watchdog)
	StallTimeoutSecs int `yaml:"stall_timeout_secs"`

	// LogLevel controls log verbosity: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputPath:       "", // same directory as source
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		DBPath:           "",
		ProbeTimeoutSecs: 8,
		StallTimeoutSecs: 45,
		LogLevel:         "info",
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Apply defaults for empty values
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.ProbeTimeoutSecs <= 0 {
		cfg.ProbeTimeoutSecs = 8
	}
	if cfg.StallTimeoutSecs < 0 {
		cfg.StallTimeoutSecs = 0
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ProbeTimeout returns the probe ceiling as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSecs) * time.Second
}

// StallTimeout returns the telemetry stall window as a duration.
// Zero means the watchdog is disabled.
func (c *Config) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutSecs) * time.Second
}

// OutputDir returns the directory for transcoded outputs.
// If OutputPath is set, returns that; otherwise the directory of the source file.
func (c *Config) OutputDir(sourcePath string) string {
	if c.OutputPath != "" {
		return c.OutputPath
	}
	return filepath.Dir(sourcePath)
}
