package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// EngineConfig holds engine configuration options
type EngineConfig struct {
	// PageCacheSize caps the pager's page cache. Zero means unbounded,
	// which is safe because the engine is read-only.
	PageCacheSize int    `yaml:"page_cache_size"`
	LogLevel      string `yaml:"log_level"`
	Output        string `yaml:"output"`
}

// DefaultEngineConfig returns the default configuration
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		PageCacheSize: 0,
		LogLevel:      "warning",
		Output:        "console",
	}
}

// LoadEngineConfig reads a YAML config file over the defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewDatabaseError("load_config", err, map[string]interface{}{
			"path": path,
		})
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewDatabaseError("parse_config", err, map[string]interface{}{
			"path": path,
		})
	}
	return cfg, nil
}

// ParseLogLevel maps the config's log_level string onto a logrus level.
func (cfg *EngineConfig) ParseLogLevel() (logrus.Level, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return logrus.WarnLevel, fmt.Errorf("invalid log_level %q: %w", cfg.LogLevel, err)
	}
	return level, nil
}

// EngineOption represents a functional option for engine configuration
type EngineOption func(*EngineConfig)

// WithPageCacheSize caps the page cache at size entries
func WithPageCacheSize(size int) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.PageCacheSize = size
	}
}

// WithLogLevel sets the logging level
func WithLogLevel(level string) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.LogLevel = level
	}
}

// WithOutput selects the output format ("console" or "json")
func WithOutput(output string) EngineOption {
	return func(cfg *EngineConfig) {
		cfg.Output = output
	}
}

// Resource Management

// ResourceManager handles cleanup of multiple resources
type ResourceManager struct {
	resources []io.Closer
	cleaners  []func() error
}

// NewResourceManager creates a new resource manager
func NewResourceManager() *ResourceManager {
	return &ResourceManager{}
}

// Add adds a closeable resource to be managed
func (rm *ResourceManager) Add(resource io.Closer) {
	rm.resources = append(rm.resources, resource)
}

// AddCleaner adds a custom cleanup function
func (rm *ResourceManager) AddCleaner(cleaner func() error) {
	rm.cleaners = append(rm.cleaners, cleaner)
}

// Close closes all managed resources in reverse order (LIFO)
func (rm *ResourceManager) Close() error {
	var lastErr error

	for i := len(rm.cleaners) - 1; i >= 0; i-- {
		if err := rm.cleaners[i](); err != nil {
			lastErr = err
		}
	}
	for i := len(rm.resources) - 1; i >= 0; i-- {
		if err := rm.resources[i].Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}
