// Package election holds the data of the ring election used to assign a ride
// to exactly one taxi: the candidate ordering and the per-ride records a taxi
// keeps while tokens circulate.
package election

import "fmt"

// Candidate is the token carried around the ring for a ride.
type Candidate struct {
	TaxiID   int     `json:"taxi_id"`
	Distance float64 `json:"distance"`
	Battery  float64 `json:"battery"`
}

// String returns a short description used in logs.
func (c Candidate) String() string {
	return fmt.Sprintf("taxi%d(d=%.2f,b=%.1f)", c.TaxiID, c.Distance, c.Battery)
}

// IsGreaterThan reports whether c beats o: shorter distance to the ride start,
// then higher battery, then higher taxi id.
func (c Candidate) IsGreaterThan(o Candidate) bool {
	if c.Distance != o.Distance {
		return c.Distance < o.Distance
	}
	if c.Battery != o.Battery {
		return c.Battery > o.Battery
	}
	return c.TaxiID > o.TaxiID
}

// Same compares candidates by taxi id only.
func (c Candidate) Same(o Candidate) bool { return c.TaxiID == o.TaxiID }

// Max returns the greater of two candidates.
func Max(a, b Candidate) Candidate {
	if b.IsGreaterThan(a) {
		return b
	}
	return a
}
