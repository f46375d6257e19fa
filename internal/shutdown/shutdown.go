package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is implemented by components that release resources on shutdown.
type Closer interface {
	Close() error
}

// Func is a shutdown step that honours the coordinator's deadline.
type Func func(ctx context.Context) error

// Step priorities. Lower values run first.
const (
	PriorityHTTPServer = 10 // stop serving queries
	PriorityTransport  = 20 // stop accepting records
	PriorityScheduler  = 30 // let a running retention job finish
	PriorityEvents     = 40 // flush event publishers
	PriorityStorage    = 50 // export backends
	PriorityStore      = 90 // database last
)

type step struct {
	name     string
	priority int
	run      Func
}

// Coordinator runs registered shutdown steps in priority order under a
// global timeout.
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once
	shutdownCh   chan struct{}
	err          error
}

func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register adds a component whose Close runs at the given priority.
func (c *Coordinator) Register(name string, component Closer, priority int) {
	c.RegisterHook(name, func(context.Context) error { return component.Close() }, priority)
}

// RegisterHook adds a shutdown function at the given priority. Steps with
// equal priority run in registration order.
func (c *Coordinator) RegisterHook(name string, fn Func, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, priority: priority, run: fn})
	c.logger.Debug().Str("name", name).Int("priority", priority).Msg("Registered shutdown step")
}

// WaitForSignal blocks until SIGINT, SIGTERM or SIGQUIT arrives or
// TriggerShutdown is called.
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// TriggerShutdown releases WaitForSignal. Safe to call more than once.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Shutdown runs every step once. It returns the first step error, or the
// context error when the timeout cut the sequence short. Later calls
// return the same result.
func (c *Coordinator) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() { close(c.shutdownCh) })

		c.mu.Lock()
		steps := append([]step(nil), c.steps...)
		c.mu.Unlock()
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].priority < steps[j].priority })

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()
		c.logger.Info().Dur("timeout", c.timeout).Int("steps", len(steps)).Msg("Starting graceful shutdown")

		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().Str("step", s.name).Msg("Shutdown timeout reached, skipping remaining steps")
				c.err = ctx.Err()
				return
			}
			if err := s.run(ctx); err != nil {
				c.logger.Error().Err(err).Str("step", s.name).Msg("Shutdown step failed")
				if c.err == nil {
					c.err = err
				}
				continue
			}
			c.logger.Debug().Str("step", s.name).Msg("Shutdown step complete")
		}

		c.logger.Info().Dur("duration", time.Since(start)).Msg("Graceful shutdown complete")
	})
	return c.err
}
