package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/seta/core/logger"
	"github.com/kilianp07/seta/core/model"
	"github.com/kilianp07/seta/core/monitoring"
	"github.com/kilianp07/seta/core/pubsub"
)

// GeneratorConfig drives the ride generator.
type GeneratorConfig struct {
	City         model.City
	RideInterval time.Duration
	RidesPerTick int
	ResendAfter  time.Duration
	Seed         int64
}

// GeneratorStats counts what the generator did.
type GeneratorStats struct {
	Published int `json:"published"`
	Resent    int `json:"resent"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
}

type pendingRide struct {
	ride   model.RideRequest
	sentAt time.Time
}

// Generator publishes random rides and resends the ones no taxi confirmed.
type Generator struct {
	pub pubsub.RidePublisher
	cfg GeneratorConfig
	log logger.Logger
	now func() time.Time

	mu      sync.Mutex
	rnd     *rand.Rand
	nextID  int
	pending map[int]*pendingRide
	stats   GeneratorStats
	taken   map[int]int
}

// NewGenerator returns a generator publishing on pub.
func NewGenerator(pub pubsub.RidePublisher, cfg GeneratorConfig, log logger.Logger) *Generator {
	if cfg.City == (model.City{}) {
		cfg.City = model.DefaultCity
	}
	if cfg.RidesPerTick <= 0 {
		cfg.RidesPerTick = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		pub:     pub,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		rnd:     rand.New(rand.NewSource(seed)),
		pending: make(map[int]*pendingRide),
		taken:   make(map[int]int),
	}
}

// Listen subscribes to ride confirmations.
func (g *Generator) Listen() error {
	return g.pub.SubscribeConfirmations(g.onConfirmation)
}

func (g *Generator) onConfirmation(c model.Confirmation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[c.RideID]; !ok {
		if prev, seen := g.taken[c.RideID]; seen && prev != c.TaxiID {
			g.log.Errorf("ride %d confirmed by taxi %d and taxi %d", c.RideID, prev, c.TaxiID)
		}
		return
	}
	delete(g.pending, c.RideID)
	g.taken[c.RideID] = c.TaxiID
	g.stats.Confirmed++
	g.log.Infof("ride %d taken by taxi %d", c.RideID, c.TaxiID)
}

func (g *Generator) randomPosition() model.Position {
	return model.Position{X: g.rnd.Intn(g.cfg.City.Width), Y: g.rnd.Intn(g.cfg.City.Height)}
}

// NewRide draws a ride with distinct uniform start and end positions.
func (g *Generator) NewRide() model.RideRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := g.randomPosition()
	end := g.randomPosition()
	for end == start {
		end = g.randomPosition()
	}
	r := model.RideRequest{ID: g.nextID, Start: start, End: end, Timestamp: g.now()}
	g.nextID++
	return r
}

// Publish sends a new ride and tracks it until a taxi confirms it.
func (g *Generator) Publish(ctx context.Context) (model.RideRequest, error) {
	ride := g.NewRide()
	g.mu.Lock()
	g.pending[ride.ID] = &pendingRide{ride: ride, sentAt: ride.Timestamp}
	g.stats.Published++
	g.mu.Unlock()
	if err := g.pub.PublishRide(ctx, ride); err != nil {
		return ride, fmt.Errorf("publish %s: %w", ride, err)
	}
	g.log.Debugf("published %s", ride)
	return ride, nil
}

// ResendDue republishes, with a fresh timestamp, every ride still pending
// after ResendAfter. It returns the number of rides sent again.
func (g *Generator) ResendDue(ctx context.Context) (int, error) {
	if g.cfg.ResendAfter <= 0 {
		return 0, nil
	}
	now := g.now()
	g.mu.Lock()
	var due []model.RideRequest
	for _, p := range g.pending {
		if now.Sub(p.sentAt) >= g.cfg.ResendAfter {
			p.ride.Timestamp = now
			p.sentAt = now
			due = append(due, p.ride)
		}
	}
	g.stats.Resent += len(due)
	g.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	for _, r := range due {
		if err := g.pub.PublishRide(ctx, r); err != nil {
			return 0, fmt.Errorf("resend %s: %w", r, err)
		}
		g.log.Infof("resent unconfirmed %s", r)
	}
	return len(due), nil
}

// Stats returns a snapshot of the counters.
func (g *Generator) Stats() GeneratorStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Pending = len(g.pending)
	return s
}

// Run publishes RidesPerTick rides every RideInterval until ctx ends.
func (g *Generator) Run(ctx context.Context) error {
	defer monitoring.Recover()
	if err := g.Listen(); err != nil {
		return fmt.Errorf("subscribe confirmations: %w", err)
	}
	interval := g.cfg.RideInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			for i := 0; i < g.cfg.RidesPerTick; i++ {
				if _, err := g.Publish(ctx); err != nil {
					g.log.Warnf("%v", err)
					monitoring.CaptureException(err, map[string]string{"module": "generator"})
				}
			}
			if _, err := g.ResendDue(ctx); err != nil {
				g.log.Warnf("%v", err)
			}
		}
	}
}
