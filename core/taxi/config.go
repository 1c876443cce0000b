package taxi

import (
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/seta/core/model"
)

// Config holds the read-only settings of one taxi node.
type Config struct {
	Identity model.TaxiIdentity
	City     model.City

	// ConsumptionPerUnit is the battery percentage spent per unit of distance.
	ConsumptionPerUnit float64
	// RechargeThreshold is the battery level under which a taxi asks for the
	// station after a ride.
	RechargeThreshold float64

	RideDelay     time.Duration
	RechargeDelay time.Duration
	// RechargeRetry is the pause before a failed recharge attempt is retried.
	RechargeRetry time.Duration
	StatsInterval time.Duration

	// ForwardRetryTimeout bounds the time spent retrying a stale ring hop.
	ForwardRetryTimeout time.Duration
	// CallTimeout bounds every ring RPC.
	CallTimeout time.Duration
}

// SetDefaults fills zero values with sensible defaults.
func (c *Config) SetDefaults() {
	if c.City == (model.City{}) {
		c.City = model.DefaultCity
	}
	if c.ConsumptionPerUnit == 0 {
		c.ConsumptionPerUnit = 1
	}
	if c.RechargeThreshold == 0 {
		c.RechargeThreshold = 30
	}
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

// Validate checks the configuration once at startup.
func (c Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.City.Validate(); err != nil {
		return err
	}
	if c.ConsumptionPerUnit < 0 {
		return errors.New("battery consumption must not be negative")
	}
	if c.RechargeThreshold < 0 || c.RechargeThreshold > 100 {
		return fmt.Errorf("recharge threshold %.1f outside [0,100]", c.RechargeThreshold)
	}
	for name, d := range map[string]time.Duration{
		"ride_delay":            c.RideDelay,
		"recharge_delay":        c.RechargeDelay,
		"recharge_retry":        c.RechargeRetry,
		"forward_retry_timeout": c.ForwardRetryTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.StatsInterval <= 0 {
		return errors.New("stats_interval must be positive")
	}
	if c.CallTimeout <= 0 {
		return errors.New("call_timeout must be positive")
	}
	return nil
}
