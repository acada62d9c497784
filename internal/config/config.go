package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultFileName   = ".ec2spectre.yaml"
	alternateFileName = ".ec2spectre.yml"
)

// Config holds persistent defaults loaded from a config file.
type Config struct {
	Profile             string   `yaml:"profile"`
	Region              string   `yaml:"region"`
	Regions             []string `yaml:"regions"`
	RoleName            string   `yaml:"role_name"`
	ManagementAccountID string   `yaml:"management_account_id"`
	ExcludeAccounts     []string `yaml:"exclude_accounts"`
	LongStoppedDays     int      `yaml:"long_stopped_days"`
	IncludeVolumes      bool     `yaml:"include_volumes"`
	Bucket              string   `yaml:"bucket"`
	Prefix              string   `yaml:"prefix"`
	Format              string   `yaml:"format"`
	Concurrency         int      `yaml:"concurrency"`
	Timeout             string   `yaml:"timeout"`
	CallTimeout         string   `yaml:"call_timeout"`
}

// AllRegions reports whether the regions list selects every enabled region.
func (c *Config) AllRegions() bool {
	return len(c.Regions) == 1 && strings.EqualFold(c.Regions[0], "all")
}

// TimeoutDuration parses the Timeout field as a Go duration.
// Returns 0 if empty or unparseable.
func (c *Config) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout)
}

// CallTimeoutDuration parses CallTimeout the same way.
func (c *Config) CallTimeoutDuration() time.Duration {
	return parseDuration(c.CallTimeout)
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Load searches for a config file in the given directory and the user's home
// directory. Returns a zero-value Config if no file is found.
func Load(dir string) (Config, error) {
	paths := searchPaths(dir)
	for _, p := range paths {
		cfg, found, err := loadPath(p)
		if err != nil {
			return Config{}, err
		}
		if found {
			return cfg, nil
		}
	}
	return Config{}, nil
}

func searchPaths(dir string) []string {
	var paths []string
	if dir != "" {
		paths = append(paths, filepath.Join(dir, defaultFileName))
		paths = append(paths, filepath.Join(dir, alternateFileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, defaultFileName))
		paths = append(paths, filepath.Join(home, alternateFileName))
	}
	return paths
}

func loadPath(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, err
	}
	return cfg, true, nil
}
