package config

import "errors"

// AdminConfig configures the admin registry server.
type AdminConfig struct {
	Listen string `json:"listen"`
	// History bounds the statistics reports kept per taxi.
	History int `json:"history"`
}

func (c *AdminConfig) SetDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.History == 0 {
		c.History = 100
	}
}

func (c AdminConfig) Validate() error {
	if c.History < 0 {
		return errors.New("history must not be negative")
	}
	return nil
}
