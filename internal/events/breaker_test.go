package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyPublisher struct {
	err    error
	calls  int
	closed bool
}

func (p *flakyPublisher) Publish(context.Context, Event) error {
	p.calls++
	return p.err
}

func (p *flakyPublisher) Close() error {
	p.closed = true
	return nil
}

func newTestGuard(next Publisher) (*Guarded, *time.Time) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	g := Guard(next, BreakerConfig{Name: "test", MaxFailures: 2, Cooldown: time.Minute}, zerolog.Nop())
	g.now = func() time.Time { return clock }
	return g, &clock
}

func TestGuardOpensAfterMaxFailures(t *testing.T) {
	sink := &flakyPublisher{err: errors.New("broker down")}
	g, _ := newTestGuard(sink)
	ctx := context.Background()

	assert.Error(t, g.Publish(ctx, testEvent()))
	assert.Equal(t, BreakerClosed, g.State())
	assert.Error(t, g.Publish(ctx, testEvent()))
	assert.Equal(t, BreakerOpen, g.State())

	err := g.Publish(ctx, testEvent())
	assert.ErrorIs(t, err, ErrSinkUnavailable)
	assert.Equal(t, 2, sink.calls, "open breaker must not reach the sink")
}

func TestGuardRecoversAfterCooldown(t *testing.T) {
	sink := &flakyPublisher{err: errors.New("broker down")}
	g, clock := newTestGuard(sink)
	ctx := context.Background()

	_ = g.Publish(ctx, testEvent())
	_ = g.Publish(ctx, testEvent())
	require.Equal(t, BreakerOpen, g.State())

	// Failed trial reopens.
	*clock = clock.Add(2 * time.Minute)
	assert.Error(t, g.Publish(ctx, testEvent()))
	assert.Equal(t, BreakerOpen, g.State())
	assert.Equal(t, 3, sink.calls)

	// Successful trial closes.
	*clock = clock.Add(2 * time.Minute)
	sink.err = nil
	require.NoError(t, g.Publish(ctx, testEvent()))
	assert.Equal(t, BreakerClosed, g.State())
	require.NoError(t, g.Publish(ctx, testEvent()))
	assert.Equal(t, 5, sink.calls)
}

func TestGuardIgnoresCancellation(t *testing.T) {
	sink := &flakyPublisher{err: context.Canceled}
	g, _ := newTestGuard(sink)

	for i := 0; i < 5; i++ {
		_ = g.Publish(context.Background(), testEvent())
	}
	assert.Equal(t, BreakerClosed, g.State())
}

func TestGuardSuccessResetsFailures(t *testing.T) {
	sink := &flakyPublisher{err: errors.New("blip")}
	g, _ := newTestGuard(sink)
	ctx := context.Background()

	_ = g.Publish(ctx, testEvent())
	sink.err = nil
	require.NoError(t, g.Publish(ctx, testEvent()))
	sink.err = errors.New("blip")
	_ = g.Publish(ctx, testEvent())
	assert.Equal(t, BreakerClosed, g.State())
}

func TestGuardCloseClosesSink(t *testing.T) {
	sink := &flakyPublisher{}
	g, _ := newTestGuard(sink)
	require.NoError(t, g.Close())
	assert.True(t, sink.closed)
}
