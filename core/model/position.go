package model

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Position is a cell of the city grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the position as "(x,y)".
func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Distance returns the Euclidean distance between two positions.
func Distance(a, b Position) float64 {
	return floats.Distance(
		[]float64{float64(a.X), float64(a.Y)},
		[]float64{float64(b.X), float64(b.Y)},
		2,
	)
}

// District is one of the four fixed quadrants of the city.
type District int

const (
	DistrictUnknown District = iota
	District1
	District2
	District3
	District4
)

// Districts lists every valid district in topic order.
var Districts = []District{District1, District2, District3, District4}

// String returns a human-readable representation of the district.
func (d District) String() string {
	switch d {
	case District1, District2, District3, District4:
		return fmt.Sprintf("district%d", int(d))
	default:
		return "unknown"
	}
}

// Valid reports whether d is one of the four city districts.
func (d District) Valid() bool { return d >= District1 && d <= District4 }

// City describes the grid the taxis move on.
type City struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultCity is the 10x10 grid used when nothing is configured.
var DefaultCity = City{Width: 10, Height: 10}

// Validate checks the city dimensions.
func (c City) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("city dimensions must be positive, got %dx%d", c.Width, c.Height)
	}
	return nil
}

// Contains reports whether p lies inside the city bounds.
func (c City) Contains(p Position) bool {
	return p.X >= 0 && p.X < c.Width && p.Y >= 0 && p.Y < c.Height
}

// DistrictOf maps a position to its quadrant. Cells on the vertical midline
// belong to the right half and cells on the horizontal midline to the bottom
// half.
func (c City) DistrictOf(p Position) District {
	left := p.X < c.Width/2
	top := p.Y < c.Height/2
	switch {
	case left && top:
		return District1
	case !left && top:
		return District2
	case !left && !top:
		return District3
	default:
		return District4
	}
}

// RechargeStation returns the fixed corner station of a district.
func (c City) RechargeStation(d District) Position {
	switch d {
	case District1:
		return Position{X: 0, Y: 0}
	case District2:
		return Position{X: c.Width - 1, Y: 0}
	case District3:
		return Position{X: c.Width - 1, Y: c.Height - 1}
	case District4:
		return Position{X: 0, Y: c.Height - 1}
	default:
		return Position{}
	}
}

// RechargeStations returns the station of every district, in district order.
func (c City) RechargeStations() []Position {
	res := make([]Position, 0, len(Districts))
	for _, d := range Districts {
		res = append(res, c.RechargeStation(d))
	}
	return res
}
