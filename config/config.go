// Package config loads the settings of every seta command from a yaml or
// json file, with K_ prefixed environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/seta/core/metrics"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/infra/mqtt"
	"github.com/kilianp07/seta/infra/registry"
)

type Config struct {
	Taxi       TaxiConfig       `json:"taxi"`
	City       model.City       `json:"city"`
	Battery    BatteryConfig    `json:"battery"`
	Timing     TimingConfig     `json:"timing"`
	RPC        RPCConfig        `json:"rpc"`
	MQTT       mqtt.Config      `json:"mqtt"`
	Registry   registry.Config  `json:"registry"`
	Admin      AdminConfig      `json:"admin"`
	Metrics    metrics.Config   `json:"metrics"`
	Logging    LoggingConfig    `json:"logging"`
	Sentry     SentryConfig     `json:"sentry"`
	Simulation SimulationConfig `json:"simulation"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	if c.City == (model.City{}) {
		c.City = model.DefaultCity
	}
	c.Taxi.SetDefaults()
	c.Battery.SetDefaults()
	c.Timing.SetDefaults()
	c.RPC.SetDefaults()
	c.MQTT.SetDefaults()
	if c.Registry.URL == "" {
		c.Registry.URL = "http://localhost:8080"
	}
	c.Admin.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
	c.Simulation.SetDefaults()
}

// Validate checks the sections shared by every command. The MQTT broker is
// checked by the commands that need it.
func (c Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"city", c.City.Validate},
		{"taxi", c.Taxi.Validate},
		{"battery", c.Battery.Validate},
		{"timing", c.Timing.Validate},
		{"admin", c.Admin.Validate},
		{"logging", c.Logging.Validate},
		{"sentry", c.Sentry.Validate},
		{"simulation", c.Simulation.Validate},
	}
	for _, ch := range checks {
		if err := ch.fn(); err != nil {
			return fmt.Errorf("%s: %w", ch.name, err)
		}
	}
	return nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
