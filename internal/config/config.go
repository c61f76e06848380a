package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"netmon/internal/models"
)

const defaultDataset = "default"

// Config holds all configuration for the network monitor. It is resolved once
// at startup and treated as read-only afterwards.
type Config struct {
	ProbeIntervalSeconds float64 `yaml:"probe_interval_seconds" json:"probe_interval_seconds" env:"NETMON_PROBE_INTERVAL_SECONDS" env-description:"seconds between probe cycles"`
	ProbeTimeoutSeconds  float64 `yaml:"probe_timeout_seconds" json:"probe_timeout_seconds" env:"NETMON_PROBE_TIMEOUT_SECONDS" env-description:"per-check timeout in seconds"`
	ProbeMethod          string  `yaml:"probe_method" json:"probe_method" env:"NETMON_PROBE_METHOD" env-description:"exec (system ping) or icmp (raw socket)"`

	ThroughputEnabled         bool    `yaml:"throughput_enabled" json:"throughput_enabled" env:"NETMON_THROUGHPUT_ENABLED" env-description:"run periodic speed tests"`
	ThroughputIntervalSeconds float64 `yaml:"throughput_interval_seconds" json:"throughput_interval_seconds" env:"NETMON_THROUGHPUT_INTERVAL_SECONDS" env-description:"seconds between speed tests"`
	ThroughputTimeoutSeconds  float64 `yaml:"throughput_timeout_seconds" json:"throughput_timeout_seconds" env:"NETMON_THROUGHPUT_TIMEOUT_SECONDS" env-description:"speed test timeout in seconds"`
	ThroughputServerID        string  `yaml:"throughput_server_id" json:"throughput_server_id" env:"NETMON_THROUGHPUT_SERVER_ID" env-description:"force a speed test server id"`
	ThroughputDataset         string  `yaml:"throughput_dataset" json:"throughput_dataset" env:"NETMON_THROUGHPUT_DATASET" env-description:"dataset speed tests are recorded under"`
	ThroughputInterface       string  `yaml:"throughput_interface" json:"throughput_interface" env:"NETMON_THROUGHPUT_INTERFACE" env-description:"interface speed tests are bound to"`

	DatabasePath     string   `yaml:"db_path" json:"db_path" env:"NETMON_DB_PATH" env-description:"SQLite database path"`
	StoreMaxAttempts int      `yaml:"store_max_attempts" json:"store_max_attempts" env:"NETMON_STORE_MAX_ATTEMPTS" env-description:"attempts per record before it is dropped"`
	StoreRetryDelay  Duration `yaml:"store_retry_delay" json:"store_retry_delay" env:"NETMON_STORE_RETRY_DELAY" env-description:"initial delay between store retries"`

	LogPath   string `yaml:"log_path" json:"log_path" env:"NETMON_LOG_PATH" env-description:"log file path, empty for stdout only"`
	LogLevel  string `yaml:"log_level" json:"log_level" env:"NETMON_LOG_LEVEL" env-description:"debug, info, warn or error"`
	LogFormat string `yaml:"log_format" json:"log_format" env:"NETMON_LOG_FORMAT" env-description:"text or json"`

	ExportPath     string   `yaml:"export_path" json:"export_path" env:"NETMON_EXPORT_PATH" env-description:"dashboard snapshot output path"`
	ExportInterval Duration `yaml:"export_interval" json:"export_interval" env:"NETMON_EXPORT_INTERVAL" env-description:"snapshot regeneration interval, 0 disables"`

	WebEnabled bool   `yaml:"web_enabled" json:"web_enabled" env:"NETMON_WEB_ENABLED" env-description:"serve the HTTP API"`
	Port       int    `yaml:"web_port" json:"web_port" env:"NETMON_WEB_PORT" env-description:"HTTP API port"`
	StaticDir  string `yaml:"web_static_dir" json:"web_static_dir" env:"NETMON_WEB_STATIC_DIR" env-description:"directory with dashboard files"`

	Datasets []models.Dataset `yaml:"datasets" json:"datasets"`
	Targets  []models.Target  `yaml:"targets" json:"targets"`
}

// DefaultConfig returns the settings used for every key the file leaves out.
func DefaultConfig() Config {
	return Config{
		ProbeIntervalSeconds:      30,
		ProbeTimeoutSeconds:       3,
		ProbeMethod:               "exec",
		ThroughputEnabled:         true,
		ThroughputIntervalSeconds: 1800,
		ThroughputTimeoutSeconds:  90,
		DatabasePath:              "data/monitor.db",
		StoreMaxAttempts:          3,
		StoreRetryDelay:           Duration(200 * time.Millisecond),
		LogPath:                   "logs/monitor.log",
		LogLevel:                  "info",
		LogFormat:                 "text",
		ExportPath:                "data/snapshot.json",
		ExportInterval:            Duration(5 * time.Minute),
		WebEnabled:                true,
		Port:                      8080,
	}
}

// Load reads a YAML or JSON configuration file (chosen by extension) on top of
// the defaults and applies NETMON_* environment overrides.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Usage returns a description of the supported environment overrides.
func Usage() string {
	cfg := DefaultConfig()
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}

func (c *Config) normalize() {
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Name == "" {
			t.Name = t.Host
		}
		if t.Dataset == "" {
			t.Dataset = t.Interface
		}
		if t.Dataset == "" {
			t.Dataset = defaultDataset
		}
	}
	if c.ThroughputDataset == "" && len(c.Targets) > 0 {
		c.ThroughputDataset = c.Targets[0].Dataset
	}
	if c.ThroughputInterface == "" {
		for _, t := range c.Targets {
			if t.Dataset == c.ThroughputDataset && t.Interface != "" {
				c.ThroughputInterface = t.Interface
				break
			}
		}
	}
	if c.ThroughputDataset == "" {
		c.ThroughputDataset = defaultDataset
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target must be specified")
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for i, t := range c.Targets {
		if t.Host == "" {
			return fmt.Errorf("target %d has no host", i)
		}
		key := t.Name + "\x00" + t.Interface
		if _, dup := seen[key]; dup {
			return fmt.Errorf("target %q on %s is configured twice", t.Name, t.InterfaceLabel())
		}
		seen[key] = struct{}{}
	}
	if c.ProbeIntervalSeconds <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if c.ProbeTimeoutSeconds <= 0 {
		return fmt.Errorf("probe timeout must be positive")
	}
	switch c.ProbeMethod {
	case "exec", "icmp":
	default:
		return fmt.Errorf("unknown probe method %q", c.ProbeMethod)
	}
	if c.ThroughputEnabled {
		if c.ThroughputIntervalSeconds <= 0 {
			return fmt.Errorf("throughput interval must be positive")
		}
		if c.ThroughputTimeoutSeconds <= 0 {
			return fmt.Errorf("throughput timeout must be positive")
		}
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.StoreMaxAttempts <= 0 {
		return fmt.Errorf("store max attempts must be positive")
	}
	if c.ExportInterval < 0 {
		return fmt.Errorf("export interval cannot be negative")
	}
	if c.WebEnabled && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// Interval is the probe cycle period.
func (c *Config) Interval() time.Duration {
	return seconds(c.ProbeIntervalSeconds)
}

// Timeout is the per-check probe timeout.
func (c *Config) Timeout() time.Duration {
	return seconds(c.ProbeTimeoutSeconds)
}

// ThroughputInterval is the throughput cycle period.
func (c *Config) ThroughputInterval() time.Duration {
	return seconds(c.ThroughputIntervalSeconds)
}

// ThroughputTimeout bounds a single throughput measurement.
func (c *Config) ThroughputTimeout() time.Duration {
	return seconds(c.ThroughputTimeoutSeconds)
}

// DatasetList returns the configured datasets followed by any dataset that is
// only referenced by a target, in first-seen order.
func (c *Config) DatasetList() []models.Dataset {
	out := make([]models.Dataset, 0, len(c.Datasets))
	index := make(map[string]int)
	for _, ds := range c.Datasets {
		if ds.Name == "" {
			continue
		}
		if _, ok := index[ds.Name]; ok {
			continue
		}
		if ds.Label == "" {
			ds.Label = ds.Name
		}
		index[ds.Name] = len(out)
		out = append(out, ds)
	}
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := index[name]; ok {
			return
		}
		index[name] = len(out)
		out = append(out, models.Dataset{Name: name, Label: name})
	}
	for _, t := range c.Targets {
		add(t.Dataset)
	}
	if c.ThroughputEnabled {
		add(c.ThroughputDataset)
	}
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
