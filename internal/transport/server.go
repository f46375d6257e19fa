// Package transport runs the ZeroMQ request/reply endpoint that producers
// send encoded records to.
package transport

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/codec"
	"github.com/X-ChenD-Hai/xclogger-server/internal/metrics"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog"
)

// DefaultEndpoint is used when no endpoint is configured.
const DefaultEndpoint = "tcp://127.0.0.1:5555"

const (
	// recvErrorBackoff delays the next receive after an unexpected socket error.
	recvErrorBackoff = 50 * time.Millisecond

	// drainWindow is how long a stopping loop waits for a request the
	// receiver already took off the socket.
	drainWindow = 20 * time.Millisecond

	// replyLinger keeps the socket open after the last reply. zmq4 queues
	// replies to a writer goroutine, so closing right after Send drops them.
	replyLinger = 100 * time.Millisecond
)

// ServerConfig configures a Server.
type ServerConfig struct {
	Endpoint string
	Codec    codec.Codec
}

// Server is a ZeroMQ REP endpoint. For every request it decodes the payload,
// calls the handler and replies with the received bytes. Exactly one reply
// is sent per request, including when decoding or the handler fails.
type Server struct {
	mu       sync.Mutex
	endpoint string
	handler  Handler
	codec    codec.Codec

	running bool
	stop    chan struct{}
	done    chan struct{}
	bound   string

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewServer creates a stopped server.
func NewServer(cfg ServerConfig, logger zerolog.Logger) *Server {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := cfg.Codec
	if c == nil {
		c = codec.Binary{}
	}
	return &Server{
		endpoint: endpoint,
		codec:    c,
		metrics:  metrics.Get(),
		logger:   logger.With().Str("component", "transport").Logger(),
	}
}

// Start binds the endpoint and runs the accept loop in a new goroutine.
// A nil handler keeps the one set earlier. Starting a running server is a
// no-op. While a stopped session is still answering its last request Start
// fails with ErrInvalidState; use Wait first.
func (s *Server) Start(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.done != nil {
		return fmt.Errorf("%w: previous session still stopping", ErrInvalidState)
	}

	if h != nil {
		s.handler = h
	}
	if s.handler == nil {
		return fmt.Errorf("%w: no handler registered", ErrInvalidState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sock := zmq4.NewRep(ctx)
	if err := sock.Listen(s.endpoint); err != nil {
		cancel()
		sock.Close()
		return fmt.Errorf("%w: %s: %w", ErrBind, s.endpoint, err)
	}

	s.bound = s.endpoint
	if addr := sock.Addr(); addr != nil {
		s.bound = addr.Network() + "://" + addr.String()
	}
	s.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done
	s.metrics.SetTransportRunning(true)

	sess := &session{
		server: s,
		sock:   sock,
		ctx:    ctx,
		cancel: cancel,
		h:      s.handler,
		stop:   stop,
		done:   done,
		log:    s.logger.With().Str("endpoint", s.endpoint).Logger(),
	}
	go sess.serve()

	s.logger.Info().Str("endpoint", s.endpoint).Str("address", s.bound).Msg("Transport server started")
	return nil
}

// Stop asks the accept loop to exit once the request in flight, if any, has
// been answered. It does not wait; use Wait for that. Stopping a stopped
// server is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.logger.Info().Str("endpoint", s.endpoint).Msg("Transport server stopping")
}

// Wait blocks until the accept loop has exited or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the server and waits up to ten seconds for the loop to exit.
func (s *Server) Close() error {
	s.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Wait(ctx)
}

// IsRunning reports whether the server accepts requests.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetEndpoint changes the endpoint used by the next Start. It fails with
// ErrInvalidState while the server is running.
func (s *Server) SetEndpoint(endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%w: cannot change endpoint while running", ErrInvalidState)
	}
	s.endpoint = endpoint
	return nil
}

// SetHandler replaces the handler. It fails with ErrInvalidState while the
// server is running.
func (s *Server) SetHandler(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%w: cannot change handler while running", ErrInvalidState)
	}
	s.handler = h
	return nil
}

// Endpoint returns the configured endpoint.
func (s *Server) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// BoundAddr returns the address of the most recent successful bind.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// session is one start/stop cycle of a Server. The receiver goroutine
// takes at most one request off the socket per permit, so the REP envelope
// of that request is still current when serve replies to it. Every request
// handed to serve is answered before the socket closes.
type session struct {
	server *Server
	sock   zmq4.Socket
	ctx    context.Context
	cancel context.CancelFunc
	h      Handler
	stop   chan struct{}
	done   chan struct{}
	log    zerolog.Logger

	lastReply time.Time
}

func (ss *session) serve() {
	in := make(chan zmq4.Msg)
	permit := make(chan struct{}, 1)
	received := make(chan struct{})
	go ss.receive(in, permit, received)

	defer ss.close(received)

	for {
		select {
		case <-ss.stop:
			return
		default:
		}

		permit <- struct{}{}
		select {
		case msg := <-in:
			ss.reply(msg)
		case <-ss.stop:
			// The receiver holds a permit and may have just taken a request.
			select {
			case msg := <-in:
				ss.reply(msg)
			case <-time.After(drainWindow):
			}
			return
		}
	}
}

func (ss *session) receive(in chan<- zmq4.Msg, permit <-chan struct{}, received chan struct{}) {
	defer close(received)

	for {
		select {
		case <-ss.ctx.Done():
			return
		case <-permit:
		}

		for {
			msg, err := ss.sock.Recv()
			if err == nil {
				select {
				case in <- msg:
				case <-ss.ctx.Done():
					ss.log.Debug().Msg("Dropping request received during shutdown")
					return
				}
				break
			}
			if ss.ctx.Err() != nil {
				return
			}
			ss.log.Warn().Err(err).Msg("Transport receive failed")
			select {
			case <-ss.ctx.Done():
				return
			case <-time.After(recvErrorBackoff):
			}
		}
	}
}

func (ss *session) reply(msg zmq4.Msg) {
	payload := msg.Bytes()
	ss.server.process(ss.h, payload, ss.log)
	if err := ss.sock.Send(zmq4.NewMsg(payload)); err != nil {
		ss.server.metrics.IncTransportReplyErrors()
		ss.log.Error().Err(err).Int("bytes", len(payload)).Msg("Failed to send acknowledgment")
		return
	}
	ss.server.metrics.IncTransportReplies()
	ss.lastReply = time.Now()
}

func (ss *session) close(received chan struct{}) {
	if !ss.lastReply.IsZero() {
		if d := replyLinger - time.Since(ss.lastReply); d > 0 {
			time.Sleep(d)
		}
	}
	ss.cancel()
	<-received
	if err := ss.sock.Close(); err != nil {
		ss.log.Debug().Err(err).Msg("Closing transport socket")
	}

	// The socket is released before the session is cleared so that a
	// following Start can bind the same endpoint.
	s := ss.server
	s.mu.Lock()
	if s.done == ss.done {
		s.running = false
		s.stop = nil
		s.done = nil
	}
	s.mu.Unlock()

	s.metrics.SetTransportRunning(false)
	ss.log.Info().Msg("Transport server stopped")
	close(ss.done)
}

// process decodes payload and runs the handler. Failures stay local to this
// message.
func (s *Server) process(h Handler, payload []byte, log zerolog.Logger) {
	s.metrics.IncTransportMessages(int64(len(payload)))

	rec, err := s.codec.Decode(payload)
	if err != nil {
		s.metrics.IncTransportMalformed()
		log.Warn().Err(err).Int("bytes", len(payload)).Msg("Dropping undecodable payload")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.metrics.IncTransportHandlerPanics()
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Record handler panicked")
		}
	}()

	if err := h.HandleRecord(context.Background(), rec, payload); err != nil {
		s.metrics.IncTransportHandlerErrors()
		log.Error().Err(err).Str("role", rec.Role).Msg("Record handler failed")
	}
}
