package events

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Publisher delivers record events to a downstream system.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes every event to all of its publishers concurrently.
type Multi []Publisher

// Publish waits for every publisher and returns the first error.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var g errgroup.Group
	for _, p := range m {
		g.Go(func() error { return p.Publish(ctx, ev) })
	}
	return g.Wait()
}

// Close closes every publisher and joins their errors.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
