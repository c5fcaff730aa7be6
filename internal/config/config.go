package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
		Mode string `yaml:"mode"` // development | production
	} `yaml:"server"`

	Whisper struct {
		Model       string `yaml:"model"`
		Device      string `yaml:"device"`
		ComputeType string `yaml:"compute_type"`
		Threads     int    `yaml:"threads"`
		NumWorkers  int    `yaml:"num_workers"`
		Python      string `yaml:"python"`
		Normalize   bool   `yaml:"normalize"`
	} `yaml:"whisper"`

	Storage struct {
		TempDir string `yaml:"temp_dir"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	Limits struct {
		MaxFileSizeMB           int `yaml:"max_file_size_mb"`
		MaxTranscriptionSeconds int `yaml:"max_transcription_seconds"`
		ModelLoadTimeoutMinutes int `yaml:"model_load_timeout_minutes"`
	} `yaml:"limits"`
}

// KnownModels are the faster-whisper model identifiers accepted by name.
// Anything else must be a path to a converted model directory.
var KnownModels = []string{
	"tiny", "tiny.en", "base", "base.en", "small", "small.en",
	"medium", "medium.en", "large-v1", "large-v2", "large-v3", "large",
	"distil-small.en", "distil-medium.en", "distil-large-v2", "distil-large-v3",
	"large-v3-turbo", "turbo",
}

// Default returns the configuration used when no file is present
func Default() *Config {
	var c Config
	c.Server.Port = 8001
	c.Server.Host = "0.0.0.0"
	c.Server.Mode = "development"
	c.Whisper.Model = "base"
	c.Whisper.Device = "cpu"
	c.Whisper.ComputeType = "int8"
	c.Whisper.Threads = 4
	c.Whisper.NumWorkers = 1
	c.Whisper.Python = "python3"
	c.Storage.TempDir = "temp"
	c.Cleanup.IntervalMinutes = 30
	c.Cleanup.MaxAgeHours = 1
	c.Limits.MaxFileSizeMB = 100
	c.Limits.MaxTranscriptionSeconds = 600
	c.Limits.ModelLoadTimeoutMinutes = 30
	return &c
}

// Load reads the YAML file at path (if it exists) over the defaults, then
// applies environment overrides. A .env file in the working directory is
// loaded first without overriding variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	config := Default()

	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	setString("WHISPER_MODEL", &c.Whisper.Model)
	setString("WHISPER_DEVICE", &c.Whisper.Device)
	setString("WHISPER_COMPUTE_TYPE", &c.Whisper.ComputeType)
	setString("WHISPER_PYTHON", &c.Whisper.Python)
	setString("SERVER_MODE", &c.Server.Mode)
	if err := setInt("PORT", &c.Server.Port); err != nil {
		return err
	}
	return setInt("MAX_TRANSCRIPTION_SECONDS", &c.Limits.MaxTranscriptionSeconds)
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	if !isKnownModel(c.Whisper.Model) {
		if fi, err := os.Stat(c.Whisper.Model); err != nil || !fi.IsDir() {
			return fmt.Errorf("unknown whisper model %q", c.Whisper.Model)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Limits.MaxTranscriptionSeconds <= 0 {
		return errors.New("limits.max_transcription_seconds must be positive")
	}
	if c.Limits.MaxFileSizeMB <= 0 {
		return errors.New("limits.max_file_size_mb must be positive")
	}
	if c.Whisper.Threads < 0 || c.Whisper.NumWorkers < 0 {
		return errors.New("whisper thread and worker counts cannot be negative")
	}
	if c.Storage.TempDir == "" {
		return errors.New("storage.temp_dir is required")
	}
	return nil
}

// MaxTranscriptionTime bounds how long a caller waits for one transcription
func (c *Config) MaxTranscriptionTime() time.Duration {
	return time.Duration(c.Limits.MaxTranscriptionSeconds) * time.Second
}

// ModelLoadTimeout bounds the startup model download and load
func (c *Config) ModelLoadTimeout() time.Duration {
	if c.Limits.ModelLoadTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Limits.ModelLoadTimeoutMinutes) * time.Minute
}

// Addr is the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func isKnownModel(name string) bool {
	for _, m := range KnownModels {
		if m == name {
			return true
		}
	}
	return false
}
