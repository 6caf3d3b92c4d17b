package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	projectConfigName = "rootstock.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the declarative startup config shape for the runtime daemon.
type Config struct {
	InstanceID   string    `yaml:"instance_id,omitempty"`
	Primary      bool      `yaml:"primary"`
	Listen       string    `yaml:"listen,omitempty"`
	SQLitePath   string    `yaml:"sqlite_path,omitempty"`
	OTLPEndpoint string    `yaml:"otlp_endpoint,omitempty"`
	Bus          BusConfig `yaml:"bus,omitempty"`
}

// BusConfig holds per-bus tuning defaults applied at construction time.
type BusConfig struct {
	QueueSize     int `yaml:"queue_size,omitempty"`
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
}

// DefaultConfig returns the config used when no file is found.
func DefaultConfig() Config {
	return Config{
		Primary: true,
		Listen:  "127.0.0.1:8724",
	}
}

// DiscoverConfigPath resolves the config location with first-match semantics.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".rootstock", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// If explicit path is set, not found is an error.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads and validates a YAML config file, filling defaults for
// unset fields.
func LoadConfig(path string) (Config, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return Config{}, errors.New("daemon: config path is empty")
	}
	data, err := os.ReadFile(clean)
	if err != nil {
		return Config{}, fmt.Errorf("read config %q: %w", clean, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", clean, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", clean, err)
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen address is empty")
	}
	if c.Bus.QueueSize < 0 {
		return fmt.Errorf("bus queue_size must be >= 0, got %d", c.Bus.QueueSize)
	}
	if c.Bus.MaxConcurrent < 0 {
		return fmt.Errorf("bus max_concurrent must be >= 0, got %d", c.Bus.MaxConcurrent)
	}
	return nil
}
