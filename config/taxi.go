package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/seta/core/model"
)

// TaxiConfig identifies the local taxi and where its ring server listens.
type TaxiConfig struct {
	ID   int    `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
	// Listen overrides the bind address of the ring server, e.g. ":9001".
	Listen string `json:"listen"`
}

func (c *TaxiConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000 + c.ID
	}
}

// Identity is how the other taxis reach this one.
func (c TaxiConfig) Identity() model.TaxiIdentity {
	return model.TaxiIdentity{ID: c.ID, Host: c.Host, Port: c.Port}
}

// ListenAddr is the bind address of the ring server.
func (c TaxiConfig) ListenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return fmt.Sprintf(":%d", c.Port)
}

func (c TaxiConfig) Validate() error {
	if c.ID < 0 {
		return errors.New("id must not be negative")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// BatteryConfig sets how fast taxis drain and when they recharge.
type BatteryConfig struct {
	ConsumptionPerUnit float64 `json:"consumption_per_unit"`
	RechargeThreshold  float64 `json:"recharge_threshold"`
}

func (c *BatteryConfig) SetDefaults() {
	if c.ConsumptionPerUnit == 0 {
		c.ConsumptionPerUnit = 1
	}
	if c.RechargeThreshold == 0 {
		c.RechargeThreshold = 30
	}
}

func (c BatteryConfig) Validate() error {
	if c.ConsumptionPerUnit < 0 {
		return errors.New("consumption_per_unit must not be negative")
	}
	if c.RechargeThreshold < 0 || c.RechargeThreshold > 100 {
		return fmt.Errorf("recharge_threshold %.1f outside [0,100]", c.RechargeThreshold)
	}
	return nil
}

// TimingConfig groups the delays of the taxi state machine.
type TimingConfig struct {
	RideDelay           time.Duration `json:"ride_delay"`
	RechargeDelay       time.Duration `json:"recharge_delay"`
	RechargeRetry       time.Duration `json:"recharge_retry"`
	StatsInterval       time.Duration `json:"stats_interval"`
	ForwardRetryTimeout time.Duration `json:"forward_retry_timeout"`
	CallTimeout         time.Duration `json:"call_timeout"`
}

func (c *TimingConfig) SetDefaults() {
	if c.RideDelay == 0 {
		c.RideDelay = 5 * time.Second
	}
	if c.RechargeDelay == 0 {
		c.RechargeDelay = 10 * time.Second
	}
	if c.RechargeRetry == 0 {
		c.RechargeRetry = 5 * time.Second
	}
	if c.StatsInterval == 0 {
		c.StatsInterval = 15 * time.Second
	}
	if c.ForwardRetryTimeout == 0 {
		c.ForwardRetryTimeout = 10 * time.Second
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = 5 * time.Second
	}
}

func (c TimingConfig) Validate() error {
	if c.RideDelay < 0 || c.RechargeDelay < 0 || c.RechargeRetry < 0 || c.ForwardRetryTimeout < 0 {
		return errors.New("delays must not be negative")
	}
	if c.StatsInterval <= 0 || c.CallTimeout <= 0 {
		return errors.New("stats_interval and call_timeout must be positive")
	}
	return nil
}

// RPCConfig tunes the ring transport.
type RPCConfig struct {
	DialTimeout time.Duration `json:"dial_timeout"`
	DialRetries uint64        `json:"dial_retries"`
}

func (c *RPCConfig) SetDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 2 * time.Second
	}
}
