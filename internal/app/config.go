package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all the configuration an App needs to run.
type Config struct {
	// SourcePath is a source file, or a directory searched for .c and .cu
	// files.
	SourcePath string
	// OutputPath receives the synthesized source of a single source file.
	// Empty derives it from each source path with DefaultOutputPath.
	OutputPath string
	// ResultsPath receives the YAML results log. Empty keeps results in
	// memory.
	ResultsPath string
	// SessionPath is the session file the configuration was loaded from,
	// if any.
	SessionPath string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	Workers        int
	RunConcurrency int
	Repetitions    int
	Timeout        time.Duration
	WorkDir        string
	KeepWorkDirs   bool
	Baseline       bool

	// BuildCommand is used by regions that declare no build command.
	BuildCommand string
	RunCommand   string

	// DryRun synthesizes the first point of every region without building
	// anything.
	DryRun bool
}

// OutputPrefix starts the name of default output files. Directory searches
// skip files named with it.
const OutputPrefix = "_"

// NewConfig validates cfg and fills in derived defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.SourcePath == "" {
		return nil, errors.New("SourcePath is a required configuration field and cannot be empty")
	}
	if cfg.OutputPath != "" && filepath.Clean(cfg.OutputPath) == filepath.Clean(cfg.SourcePath) {
		return nil, fmt.Errorf("output path %s would overwrite the source", cfg.OutputPath)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", cfg.Workers)
	}
	if cfg.RunConcurrency < 0 {
		return nil, fmt.Errorf("run concurrency must not be negative, got %d", cfg.RunConcurrency)
	}
	if cfg.Repetitions < 0 {
		return nil, fmt.Errorf("repetitions must not be negative, got %d", cfg.Repetitions)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	return &cfg, nil
}

// DefaultOutputPath names the synthesized file after the source, with
// OutputPrefix, in the same directory.
func DefaultOutputPath(src string) string {
	dir, base := filepath.Split(src)
	return filepath.Join(dir, OutputPrefix+base)
}
