package config

import (
	"errors"
	"time"
)

// SimulationConfig drives the ride generator and the in-process fleet.
type SimulationConfig struct {
	Taxis int `json:"taxis"`
	// RideInterval is the pause between two published rides.
	RideInterval time.Duration `json:"ride_interval"`
	// RidesPerTick is the number of rides published at each interval.
	RidesPerTick int `json:"rides_per_tick"`
	// ResendAfter republishes rides nobody confirmed within this delay.
	ResendAfter time.Duration `json:"resend_after"`
	Duration    time.Duration `json:"duration"`
	Seed        int64         `json:"seed"`
}

func (c *SimulationConfig) SetDefaults() {
	if c.Taxis == 0 {
		c.Taxis = 5
	}
	if c.RideInterval == 0 {
		c.RideInterval = 5 * time.Second
	}
	if c.RidesPerTick == 0 {
		c.RidesPerTick = 2
	}
	if c.ResendAfter == 0 {
		c.ResendAfter = 20 * time.Second
	}
}

func (c SimulationConfig) Validate() error {
	if c.Taxis < 0 || c.RidesPerTick < 0 {
		return errors.New("taxis and rides_per_tick must not be negative")
	}
	if c.RideInterval < 0 || c.ResendAfter < 0 || c.Duration < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
