package model

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// TaxiIdentity identifies a taxi and the address of its ring RPC endpoint.
type TaxiIdentity struct {
	ID   int    `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Address returns host:port.
func (t TaxiIdentity) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Validate checks that the identity can be dialed.
func (t TaxiIdentity) Validate() error {
	if t.ID < 0 {
		return fmt.Errorf("taxi id must not be negative")
	}
	if t.Port <= 0 || t.Port > 65535 {
		return fmt.Errorf("taxi %d: invalid port %d", t.ID, t.Port)
	}
	return nil
}

// TaxiStatus is the single authoritative state of a taxi node.
type TaxiStatus int

const (
	StatusUnstarted TaxiStatus = iota
	StatusGRPCStarted
	StatusRegistered
	StatusAvailable
	StatusDriving
	StatusWaitingToRecharge
	StatusRecharging
)

// String returns a human-readable representation of the status.
func (s TaxiStatus) String() string {
	switch s {
	case StatusUnstarted:
		return "UNSTARTED"
	case StatusGRPCStarted:
		return "GRPC_STARTED"
	case StatusRegistered:
		return "REGISTERED"
	case StatusAvailable:
		return "AVAILABLE"
	case StatusDriving:
		return "DRIVING"
	case StatusWaitingToRecharge:
		return "WAITING_TO_RECHARGE"
	case StatusRecharging:
		return "RECHARGING"
	default:
		return "unknown"
	}
}

// Busy reports whether the taxi is in an activity whose completion must be
// awaited before shutdown.
func (s TaxiStatus) Busy() bool {
	return s == StatusDriving || s == StatusRecharging
}

// InterestedInStation reports whether the taxi holds or wants the recharge station.
func (s TaxiStatus) InterestedInStation() bool {
	return s == StatusWaitingToRecharge || s == StatusRecharging
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to TaxiStatus) bool {
	if to == StatusUnstarted {
		return true
	}
	switch from {
	case StatusUnstarted:
		return to == StatusGRPCStarted
	case StatusGRPCStarted:
		return to == StatusRegistered
	case StatusRegistered:
		return to == StatusAvailable
	case StatusAvailable:
		return to == StatusDriving || to == StatusWaitingToRecharge
	case StatusDriving:
		return to == StatusAvailable || to == StatusWaitingToRecharge
	case StatusWaitingToRecharge:
		return to == StatusRecharging || to == StatusAvailable
	case StatusRecharging:
		return to == StatusAvailable
	}
	return false
}

// Statistics is the periodic report a taxi sends to the registry.
type Statistics struct {
	TaxiID     int       `json:"taxi_id"`
	Kilometers float64   `json:"kilometers"`
	Rides      int       `json:"rides"`
	Battery    float64   `json:"battery"`
	Timestamp  time.Time `json:"timestamp"`
}
