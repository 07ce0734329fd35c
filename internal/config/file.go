// Package config handles domready CLI configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Watch   WatchConfig   `yaml:"watch"`
	Output  OutputConfig  `yaml:"output"`
	DB      string        `yaml:"db"`
	Checks  []CheckConfig `yaml:"checks"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          *bool         `yaml:"stealth"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
}

// WatchConfig controls the readiness watcher.
type WatchConfig struct {
	FrameInterval  time.Duration `yaml:"frame_interval"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// OutputConfig selects where and how results are written.
type OutputConfig struct {
	Format  string `yaml:"format"` // html | text | markdown | sanitized
	Webhook string `yaml:"webhook"`
}

// CheckConfig is one readiness check: a page and the selectors to wait for.
type CheckConfig struct {
	ID              string        `yaml:"id"`
	URL             string        `yaml:"url"`
	File            string        `yaml:"file"`
	Selectors       []string      `yaml:"selectors"`
	StopOnDOMReady  *bool         `yaml:"stop_on_dom_ready"`
	WaitForChildren *bool         `yaml:"wait_for_children"`
	Timeout         time.Duration `yaml:"timeout"`
	Observe         bool          `yaml:"observe"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize applies defaults and validates. Parse calls it; callers that
// build a Config in code, such as from flags, call it themselves.
func (c *Config) Finalize() error {
	c.applyDefaults()
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == nil {
		c.Browser.Stealth = boolPtr(true)
	}
	if c.Browser.NavigateTimeout <= 0 {
		c.Browser.NavigateTimeout = 30 * time.Second
	}
	if c.Watch.FrameInterval <= 0 {
		c.Watch.FrameInterval = 16 * time.Millisecond
	}
	if c.Watch.DefaultTimeout <= 0 {
		c.Watch.DefaultTimeout = 30 * time.Second
	}
	if c.Output.Format == "" {
		c.Output.Format = "html"
	}
	for i := range c.Checks {
		ch := &c.Checks[i]
		if ch.ID == "" {
			ch.ID = fmt.Sprintf("check-%d", i+1)
		}
		if ch.StopOnDOMReady == nil {
			ch.StopOnDOMReady = boolPtr(true)
		}
		if ch.WaitForChildren == nil {
			ch.WaitForChildren = boolPtr(true)
		}
		if ch.Timeout <= 0 {
			ch.Timeout = c.Watch.DefaultTimeout
		}
	}
}

func (c *Config) validate() error {
	switch c.Output.Format {
	case "html", "text", "markdown", "sanitized":
	default:
		return fmt.Errorf("config: unknown output format %q", c.Output.Format)
	}
	for _, ch := range c.Checks {
		if (ch.URL == "") == (ch.File == "") {
			return fmt.Errorf("config: check %s: exactly one of url and file is required", ch.ID)
		}
		if len(nonBlank(ch.Selectors)) == 0 {
			return fmt.Errorf("config: check %s: no selectors", ch.ID)
		}
	}
	return nil
}

func nonBlank(ss []string) []string {
	var out []string
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func boolPtr(v bool) *bool { return &v }
