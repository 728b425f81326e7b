package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8080
	defaultMaxConcurrent      = 3
	defaultConvertTimeout     = Duration(2 * time.Minute)
	defaultPollMinInterval    = Duration(time.Second)
	defaultProbeTTL           = Duration(5 * time.Second)
	defaultTerminalRetention  = Duration(10 * time.Minute)
	defaultAbandonedRetention = Duration(30 * time.Minute)
	defaultSweepInterval      = Duration(time.Minute)
)

// Duration accepts Go duration strings ("30s", "10m") in YAML, which
// yaml.v3 does not do for time.Duration out of the box.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config describes runtime configuration for the service.
type Config struct {
	Port                     int       `yaml:"port"`
	MaxConcurrentConversions int       `yaml:"max_concurrent_conversions"`
	ConvertTimeout           Duration  `yaml:"convert_timeout"`
	PollMinInterval          Duration  `yaml:"poll_min_interval"`
	ProbeTTL                 Duration  `yaml:"probe_ttl"`
	Retention                Retention `yaml:"retention"`
	Tools                    Tools     `yaml:"tools"`
}

// Retention bounds how long task records are kept.
type Retention struct {
	Terminal  Duration `yaml:"terminal"`
	Abandoned Duration `yaml:"abandoned"`
	Sweep     Duration `yaml:"sweep"`
}

// Tools overrides the external binary candidates per category.
type Tools struct {
	Office []string `yaml:"office"`
	Vector []string `yaml:"vector"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Port:                     defaultPort,
		MaxConcurrentConversions: defaultMaxConcurrent,
		ConvertTimeout:           defaultConvertTimeout,
		PollMinInterval:          defaultPollMinInterval,
		ProbeTTL:                 defaultProbeTTL,
		Retention: Retention{
			Terminal:  defaultTerminalRetention,
			Abandoned: defaultAbandonedRetention,
			Sweep:     defaultSweepInterval,
		},
		Tools: Tools{
			Office: []string{"soffice", "libreoffice"},
			Vector: []string{"inkscape"},
		},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.MaxConcurrentConversions < 1 {
		return fmt.Errorf("invalid max_concurrent_conversions: %d (must be >= 1)", c.MaxConcurrentConversions)
	}
	if c.ConvertTimeout <= 0 {
		c.ConvertTimeout = defaultConvertTimeout
	}
	if c.PollMinInterval <= 0 {
		c.PollMinInterval = defaultPollMinInterval
	}
	if c.ProbeTTL <= 0 {
		c.ProbeTTL = defaultProbeTTL
	}
	if c.Retention.Terminal <= 0 {
		c.Retention.Terminal = defaultTerminalRetention
	}
	if c.Retention.Abandoned <= 0 {
		c.Retention.Abandoned = defaultAbandonedRetention
	}
	if c.Retention.Sweep <= 0 {
		c.Retention.Sweep = defaultSweepInterval
	}
	if len(c.Tools.Office) == 0 {
		c.Tools.Office = []string{"soffice", "libreoffice"}
	}
	if len(c.Tools.Vector) == 0 {
		c.Tools.Vector = []string{"inkscape"}
	}
	return nil
}
