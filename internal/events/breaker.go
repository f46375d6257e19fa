package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the state of a Guarded publisher.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrSinkUnavailable is returned without contacting the sink while the
// breaker is open.
var ErrSinkUnavailable = errors.New("event sink unavailable: circuit open")

// BreakerConfig configures a Guarded publisher.
type BreakerConfig struct {
	Name string

	// MaxFailures consecutive failures open the breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before one trial publish
	// is let through.
	Cooldown time.Duration
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:        name,
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// Guarded wraps a Publisher with a circuit breaker. After MaxFailures
// consecutive errors Publish fails fast with ErrSinkUnavailable until
// Cooldown has elapsed; then a single trial publish decides whether to close again.
type Guarded struct {
	next   Publisher
	cfg    BreakerConfig
	logger zerolog.Logger
	now    func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

func Guard(next Publisher, cfg BreakerConfig, logger zerolog.Logger) *Guarded {
	def := DefaultBreakerConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Guarded{
		next:   next,
		cfg:    cfg,
		logger: logger.With().Str("component", "event-breaker").Str("sink", cfg.Name).Logger(),
		now:    time.Now,
	}
}

func (g *Guarded) Publish(ctx context.Context, ev Event) error {
	if !g.allow() {
		return ErrSinkUnavailable
	}
	err := g.next.Publish(ctx, ev)
	g.record(err)
	return err
}

func (g *Guarded) Close() error {
	return g.next.Close()
}

// State returns the current breaker state.
func (g *Guarded) State() BreakerState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guarded) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case BreakerOpen:
		if g.now().Sub(g.openedAt) < g.cfg.Cooldown {
			return false
		}
		g.setState(BreakerHalfOpen)
		g.trialInFlight = true
		return true
	case BreakerHalfOpen:
		// One trial at a time.
		if g.trialInFlight {
			return false
		}
		g.trialInFlight = true
		return true
	default:
		return true
	}
}

func (g *Guarded) record(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.trialInFlight = false
	if err == nil {
		g.failures = 0
		if g.state != BreakerClosed {
			g.setState(BreakerClosed)
		}
		return
	}

	// A cancelled caller says nothing about the sink.
	if errors.Is(err, context.Canceled) {
		return
	}

	g.failures++
	if g.state == BreakerHalfOpen || g.failures >= g.cfg.MaxFailures {
		g.openedAt = g.now()
		g.setState(BreakerOpen)
	}
}

func (g *Guarded) setState(s BreakerState) {
	if g.state == s {
		return
	}
	g.logger.Info().
		Str("from", g.state.String()).
		Str("to", s.String()).
		Int("failures", g.failures).
		Msg("Event sink breaker state changed")
	g.state = s
	if s != BreakerOpen {
		g.failures = 0
	}
}
