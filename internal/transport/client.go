package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/X-ChenD-Hai/xclogger-server/internal/codec"
	"github.com/X-ChenD-Hai/xclogger-server/pkg/models"
	"github.com/go-zeromq/zmq4"
)

// DefaultClientTimeout bounds a single request/reply exchange.
const DefaultClientTimeout = 5 * time.Second

// Client is a ZeroMQ REQ socket sending encoded records to a Server. A
// Client is safe for concurrent use; requests are serialized. After a
// timeout the socket is discarded and every later call returns ErrClosed.
type Client struct {
	mu       sync.Mutex
	sock     zmq4.Socket
	cancel   context.CancelFunc
	endpoint string
	timeout  time.Duration
	codec    codec.Codec
}

// Dial connects a REQ socket to endpoint. timeout bounds each Send; zero
// selects DefaultClientTimeout.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	sockCtx, cancel := context.WithCancel(ctx)
	sock := zmq4.NewReq(sockCtx,
		zmq4.WithDialerRetry(100*time.Millisecond),
		zmq4.WithDialerTimeout(timeout),
	)
	if err := sock.Dial(endpoint); err != nil {
		cancel()
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	return &Client{
		sock:     sock,
		cancel:   cancel,
		endpoint: endpoint,
		timeout:  timeout,
		codec:    codec.Binary{},
	}, nil
}

// Endpoint returns the endpoint the client dialed.
func (c *Client) Endpoint() string { return c.endpoint }

// Send sends payload and returns the reply.
func (c *Client) Send(ctx context.Context, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock == nil {
		return nil, ErrClosed
	}

	type result struct {
		reply []byte
		err   error
	}
	sock := c.sock
	ch := make(chan result, 1)
	go func() {
		if err := sock.Send(zmq4.NewMsg(payload)); err != nil {
			ch <- result{err: fmt.Errorf("send: %w", err)}
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			ch <- result{err: fmt.Errorf("receive: %w", err)}
			return
		}
		ch <- result{reply: msg.Bytes()}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			c.discard()
		}
		return r.reply, r.err
	case <-timer.C:
		c.discard()
		return nil, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	case <-ctx.Done():
		c.discard()
		return nil, ctx.Err()
	}
}

// SendRecord encodes rec, sends it and checks that the reply echoes the
// payload. It returns the payload fingerprint.
func (c *Client) SendRecord(ctx context.Context, rec *models.Record) (uint64, error) {
	payload, err := c.codec.Encode(rec)
	if err != nil {
		return 0, err
	}
	reply, err := c.Send(ctx, payload)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(reply, payload) {
		return 0, fmt.Errorf("%w: sent %d bytes, got %d", ErrEchoMismatch, len(payload), len(reply))
	}
	return c.codec.Fingerprint(payload), nil
}

// Close releases the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock == nil {
		return nil
	}
	sock := c.sock
	c.sock = nil
	c.cancel()
	return sock.Close()
}

// discard drops a socket that is no longer in a usable REQ state. Callers
// hold c.mu.
func (c *Client) discard() {
	if c.sock == nil {
		return
	}
	c.cancel()
	c.sock.Close()
	c.sock = nil
}
