package ingest

import (
	"context"

	"github.com/X-ChenD-Hai/xclogger-server/internal/transport"
	"github.com/rs/zerolog"
)

// State is the externally visible state of the transport server.
type State struct {
	IsRunning    bool   `json:"is_running"`
	Endpoint     string `json:"endpoint"`
	BoundAddress string `json:"bound_address,omitempty"`
}

// Service owns the transport server and the handler feeding the store.
type Service struct {
	server  *transport.Server
	handler *Handler
	logger  zerolog.Logger
}

func NewService(server *transport.Server, handler *Handler, logger zerolog.Logger) *Service {
	return &Service{
		server:  server,
		handler: handler,
		logger:  logger.With().Str("component", "ingest-service").Logger(),
	}
}

// StartServer binds the configured endpoint. It is a no-op when the server
// is already running.
func (s *Service) StartServer() error {
	if s.server.IsRunning() {
		s.logger.Debug().Msg("Transport server already started")
		return nil
	}
	return s.server.Start(s.handler)
}

// StopServer stops the transport server without waiting for it.
func (s *Service) StopServer() {
	s.server.Stop()
}

// SetEndpoint changes the endpoint used by the next StartServer. It fails
// with transport.ErrInvalidState while the server is running.
func (s *Service) SetEndpoint(endpoint string) error {
	if err := s.server.SetEndpoint(endpoint); err != nil {
		return err
	}
	s.logger.Info().Str("endpoint", endpoint).Msg("Transport endpoint updated")
	return nil
}

// ConnectStore opens the store if it is not connected yet.
func (s *Service) ConnectStore() error {
	return s.handler.EnsureConnected()
}

// State reports whether the server runs and where. BoundAddress is empty
// while stopped.
func (s *Service) State() State {
	st := State{
		IsRunning: s.server.IsRunning(),
		Endpoint:  s.server.Endpoint(),
	}
	if st.IsRunning {
		st.BoundAddress = s.server.BoundAddr()
	}
	return st
}

// Close stops the server, waits for its loop to exit and then for the
// pending event publishes.
func (s *Service) Close(ctx context.Context) error {
	s.server.Stop()
	if err := s.server.Wait(ctx); err != nil {
		return err
	}
	return s.handler.Wait(ctx)
}
