// Package config loads ~/.qvhd/config.yaml. Every key except cr3_patterns has
// a flag of the same meaning on the CLI; flags win.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/qvhd/internal/target"
)

// Config holds qvhd settings persisted in ~/.qvhd/config.yaml.
type Config struct {
	GdbPath string `yaml:"gdb_path,omitempty"` // backend executable
	Target  string `yaml:"target,omitempty"`   // host:port of the gdbstub
	Timeout string `yaml:"timeout,omitempty"`  // default request deadline, e.g. "5s"
	LogFile string `yaml:"log_file,omitempty"`
	Debug   bool   `yaml:"debug,omitempty"`

	// CR3Patterns are tried before the built-in ones against monitor output;
	// the first submatch must capture the hex value. An escape hatch for QEMU
	// versions with yet another "info cr3" format.
	CR3Patterns []string `yaml:"cr3_patterns,omitempty"`
}

// Default returns the settings used when no file and no flags are present.
func Default() Config {
	return Config{
		GdbPath: "gdb",
		Target:  "localhost:1234",
		Timeout: "5s",
	}
}

// Dir returns the qvhd config directory (~/.qvhd).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".qvhd"), nil
}

// Load reads the config file if it exists and fills the rest from Default.
func Load() (Config, error) {
	dir, err := Dir()
	if err != nil {
		return Default(), err
	}
	return loadFile(filepath.Join(dir, "config.yaml"))
}

func loadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, err
	}
	cfg.merge(file)
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.GdbPath != "" {
		c.GdbPath = o.GdbPath
	}
	if o.Target != "" {
		c.Target = o.Target
	}
	if o.Timeout != "" {
		c.Timeout = o.Timeout
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.Debug {
		c.Debug = true
	}
	if len(o.CR3Patterns) > 0 {
		c.CR3Patterns = o.CR3Patterns
	}
}

// RequestTimeout parses Timeout, falling back to 5s on junk.
func (c Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// CompiledCR3Patterns prepends the user patterns to the built-in list.
// Invalid patterns are reported, not silently dropped.
func (c Config) CompiledCR3Patterns() ([]*regexp.Regexp, error) {
	if len(c.CR3Patterns) == 0 {
		return nil, nil // adapter default applies
	}
	out := make([]*regexp.Regexp, 0, len(c.CR3Patterns)+len(target.DefaultCR3Patterns))
	for _, p := range c.CR3Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return append(out, target.DefaultCR3Patterns...), nil
}
