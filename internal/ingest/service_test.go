package ingest_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/codec"
	"github.com/X-ChenD-Hai/xclogger-server/internal/ingest"
	"github.com/X-ChenD-Hai/xclogger-server/internal/store"
	"github.com/X-ChenD-Hai/xclogger-server/internal/transport"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeEndpoint(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return "tcp://" + addr
}

func newService(t *testing.T, endpoint string) (*ingest.Service, *store.Store) {
	t.Helper()
	st := store.New(zerolog.Nop())
	t.Cleanup(func() { st.Close() })

	h := ingest.NewHandler(st, nil, ingest.HandlerConfig{
		DatabasePath: filepath.Join(t.TempDir(), "xclogger", "xclogger.db"),
	}, zerolog.Nop())
	srv := transport.NewServer(transport.ServerConfig{Endpoint: endpoint}, zerolog.Nop())
	svc := ingest.NewService(srv, h, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc, st
}

func TestServiceEndToEnd(t *testing.T) {
	ep := freeEndpoint(t)
	svc, st := newService(t, ep)

	require.NoError(t, svc.StartServer())
	state := svc.State()
	assert.True(t, state.IsRunning)
	assert.Equal(t, ep, state.Endpoint)
	assert.NotEmpty(t, state.BoundAddress)

	ctx := context.Background()
	client, err := transport.Dial(ctx, ep, 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	rec := sample()
	payload, err := codec.Encode(rec)
	require.NoError(t, err)
	reply, err := client.Send(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, payload, reply)

	require.True(t, st.IsConnected())
	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := st.Fetch(ctx, 10, 0, models.Desc)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, *rec, rows[0].Record)

	svc.StopServer()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(waitCtx))
	assert.False(t, svc.State().IsRunning)
	assert.Empty(t, svc.State().BoundAddress)
}

func TestServiceSetEndpoint(t *testing.T) {
	first := freeEndpoint(t)
	svc, _ := newService(t, first)

	require.NoError(t, svc.StartServer())
	require.NoError(t, svc.StartServer())

	err := svc.SetEndpoint(freeEndpoint(t))
	assert.ErrorIs(t, err, transport.ErrInvalidState)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))

	second := freeEndpoint(t)
	require.NoError(t, svc.SetEndpoint(second))
	assert.Equal(t, second, svc.State().Endpoint)

	require.NoError(t, svc.StartServer())
	assert.True(t, svc.State().IsRunning)
}

func TestServiceConnectStore(t *testing.T) {
	svc, st := newService(t, freeEndpoint(t))
	assert.False(t, st.IsConnected())
	require.NoError(t, svc.ConnectStore())
	assert.True(t, st.IsConnected())
	require.NoError(t, svc.ConnectStore())
}
