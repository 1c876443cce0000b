// Package registry tracks which taxis are part of the fleet. A taxi
// registers on startup to learn its start position and the taxis already
// present, deregisters on shutdown and periodically reports statistics.
package registry

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/seta/core/model"
)

var (
	// ErrConflict is returned when a taxi id is already registered.
	ErrConflict = errors.New("taxi already registered")
	// ErrNotFound is returned for operations on unknown taxi ids.
	ErrNotFound = errors.New("taxi not registered")
)

// Registration is the answer to a successful Register.
type Registration struct {
	Position model.Position       `json:"position"`
	Peers    []model.TaxiIdentity `json:"peers"`
}

// Registry is the taxi-facing side of the admin server.
type Registry interface {
	Register(ctx context.Context, id model.TaxiIdentity) (Registration, error)
	Deregister(ctx context.Context, taxiID int) error
	LoadStatistics(ctx context.Context, st model.Statistics) error
}

// Entry describes one registered taxi.
type Entry struct {
	Taxi         model.TaxiIdentity `json:"taxi"`
	Start        model.Position     `json:"start"`
	RegisteredAt time.Time          `json:"registered_at"`
	Last         *model.Statistics  `json:"last_statistics,omitempty"`
}

// Summary aggregates the statistics reported by one taxi.
type Summary struct {
	TaxiID         int     `json:"taxi_id"`
	Reports        int     `json:"reports"`
	Kilometers     float64 `json:"kilometers"`
	Rides          int     `json:"rides"`
	AverageBattery float64 `json:"average_battery"`
}

// Admin exposes the fleet view served by the admin API.
type Admin interface {
	Registry
	List(ctx context.Context) []Entry
	Statistics(ctx context.Context, taxiID int) ([]model.Statistics, error)
	Summary(ctx context.Context, taxiID int) (Summary, error)
}

// MemoryRegistry keeps the fleet in memory.
type MemoryRegistry struct {
	city    model.City
	keep    int
	mu      sync.RWMutex
	rnd     *rand.Rand
	taxis   map[int]*Entry
	history map[int][]model.Statistics
	now     func() time.Time
}

// Option configures a MemoryRegistry.
type Option func(*MemoryRegistry)

// WithRand sets the source used to pick start positions.
func WithRand(r *rand.Rand) Option { return func(m *MemoryRegistry) { m.rnd = r } }

// WithHistory bounds the statistics kept per taxi.
func WithHistory(n int) Option { return func(m *MemoryRegistry) { m.keep = n } }

// NewMemoryRegistry creates an empty registry for city.
func NewMemoryRegistry(city model.City, opts ...Option) *MemoryRegistry {
	m := &MemoryRegistry{
		city:    city,
		keep:    100,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		taxis:   make(map[int]*Entry),
		history: make(map[int][]model.Statistics),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds the taxi at a random recharge station and returns the
// taxis registered before it.
func (m *MemoryRegistry) Register(_ context.Context, id model.TaxiIdentity) (Registration, error) {
	if err := id.Validate(); err != nil {
		return Registration{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.taxis[id.ID]; ok {
		return Registration{}, ErrConflict
	}
	stations := m.city.RechargeStations()
	start := stations[m.rnd.Intn(len(stations))]
	peers := make([]model.TaxiIdentity, 0, len(m.taxis))
	for _, e := range m.taxis {
		peers = append(peers, e.Taxi)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	m.taxis[id.ID] = &Entry{Taxi: id, Start: start, RegisteredAt: m.now()}
	return Registration{Position: start, Peers: peers}, nil
}

// Deregister removes the taxi. Its statistics are kept.
func (m *MemoryRegistry) Deregister(_ context.Context, taxiID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.taxis[taxiID]; !ok {
		return ErrNotFound
	}
	delete(m.taxis, taxiID)
	return nil
}

// LoadStatistics records a statistics report of a registered taxi.
func (m *MemoryRegistry) LoadStatistics(_ context.Context, st model.Statistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.taxis[st.TaxiID]
	if !ok {
		return ErrNotFound
	}
	if st.Timestamp.IsZero() {
		st.Timestamp = m.now()
	}
	last := st
	e.Last = &last
	h := append(m.history[st.TaxiID], st)
	if m.keep > 0 && len(h) > m.keep {
		h = h[len(h)-m.keep:]
	}
	m.history[st.TaxiID] = h
	return nil
}

// List returns registered taxis ordered by id.
func (m *MemoryRegistry) List(_ context.Context) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]Entry, 0, len(m.taxis))
	for _, e := range m.taxis {
		res = append(res, *e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Taxi.ID < res[j].Taxi.ID })
	return res
}

// Statistics returns the reports kept for a taxi, oldest first.
func (m *MemoryRegistry) Statistics(_ context.Context, taxiID int) ([]model.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.history[taxiID]
	if !ok {
		if _, reg := m.taxis[taxiID]; !reg {
			return nil, ErrNotFound
		}
	}
	return append([]model.Statistics(nil), h...), nil
}

// Summary aggregates the kept reports of a taxi. Kilometers and rides are
// cumulative on the taxi, so the latest report carries the totals.
func (m *MemoryRegistry) Summary(ctx context.Context, taxiID int) (Summary, error) {
	h, err := m.Statistics(ctx, taxiID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{TaxiID: taxiID, Reports: len(h)}
	if len(h) == 0 {
		return s, nil
	}
	var battery float64
	for _, st := range h {
		battery += st.Battery
	}
	last := h[len(h)-1]
	s.Kilometers = last.Kilometers
	s.Rides = last.Rides
	s.AverageBattery = battery / float64(len(h))
	return s, nil
}

// Report is the statistics view of one taxi.
type Report struct {
	Summary Summary            `json:"summary"`
	Reports []model.Statistics `json:"reports"`
}

// ReportOf builds the Report of a taxi from an Admin.
func ReportOf(ctx context.Context, a Admin, taxiID int) (Report, error) {
	h, err := a.Statistics(ctx, taxiID)
	if err != nil {
		return Report{}, err
	}
	s, err := a.Summary(ctx, taxiID)
	if err != nil {
		return Report{}, err
	}
	return Report{Summary: s, Reports: h}, nil
}
