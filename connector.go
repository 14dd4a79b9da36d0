//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package mpl

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"trpc.group/trpc-go/mpl/internal/socket"
	"trpc.group/trpc-go/mpl/log"
	"trpc.group/trpc-go/mpl/metrics"
)

// Waiter is something Connector.Close waits for between stopping the send
// side and joining the receive side, typically the goroutine consuming
// incoming messages. *errgroup.Group satisfies it.
type Waiter interface {
	Wait() error
}

// WaitFunc adapts a function to Waiter.
type WaitFunc func() error

// Wait implements Waiter.
func (f WaitFunc) Wait() error {
	return f()
}

// Connector is the client side of a connection: it dials a service and
// runs the same pumps as a serviced connection, with the application
// driving it directly instead of through a Handler.
type Connector struct {
	opts      options
	closeMu   sync.Mutex
	mu        sync.Mutex
	conn      *Conn
	connected atomic.Bool
}

// NewConnector creates an unconnected connector.
func NewConnector(opt ...Option) *Connector {
	return &Connector{opts: newOptions(opt...)}
}

// Connect makes one connection attempt to ep and starts the pumps of the
// directions configured as queued.
func (c *Connector) Connect(ep EndPoint) error {
	if !ep.IsValid() {
		return errors.Wrapf(ErrBadEndPoint, "connect to %+v", ep)
	}
	if err := c.opts.validate(); err != nil {
		return errors.WithMessagef(err, "connect to %s", ep)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return ErrAlreadyConnected
	}
	metrics.Add(metrics.ConnectAttempts, 1)
	s, err := socket.Connect(ep.String(), c.opts.socketOptions())
	if err != nil {
		metrics.Add(metrics.ConnectFails, 1)
		return &OpError{Op: "connect " + ep.String(), Kind: ErrConnect, Err: err}
	}
	conn := newConn(s, &c.opts, ep)
	conn.startReceiving()
	conn.startSending()
	c.conn = conn
	c.connected.Store(true)
	return nil
}

// ConnectPersist tries Connect up to maxAttempts times, sleeping wait
// between failed attempts. With verbosity above zero every attempt is
// logged. It returns the number of attempts made; when all of them fail the
// count is maxAttempts and the error is ErrConnectExhausted.
func (c *Connector) ConnectPersist(ep EndPoint, maxAttempts int, wait time.Duration, verbosity int) (int, error) {
	return c.ConnectPersistContext(context.Background(), ep, maxAttempts, wait, verbosity)
}

// ConnectPersistContext is ConnectPersist, giving up early when ctx is done.
func (c *Connector) ConnectPersistContext(ctx context.Context, ep EndPoint,
	maxAttempts int, wait time.Duration, verbosity int) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := c.Connect(ep)
		if err == nil {
			if verbosity > 0 {
				log.Infof("mpl: connected to %s after %d attempt(s)", ep, attempt)
			}
			return attempt, nil
		}
		if !errors.Is(err, ErrConnect) {
			return attempt, err
		}
		lastErr = err
		if verbosity > 0 {
			log.Infof("mpl: connect to %s attempt %d/%d failed: %v", ep, attempt, maxAttempts, err)
		}
		if attempt == maxAttempts {
			break
		}
		if err := sleepContext(ctx, wait); err != nil {
			return attempt, errors.Wrapf(err, "connect to %s", ep)
		}
	}
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if lastErr == nil {
		return maxAttempts, errors.Wrapf(ErrConnectExhausted, "connect to %s, no attempt allowed", ep)
	}
	return maxAttempts, errors.Wrapf(ErrConnectExhausted, "connect to %s, %d attempts, last: %v",
		ep, maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close shuts the connection down in order: the send pump is drained and
// joined and the write side half-closed, so the peer reads end of stream;
// then each companion is waited for; then the receive pump is joined once
// the peer closes its side, and the socket is closed. Errors are combined.
// Close on an unconnected connector does nothing.
func (c *Connector) Close(companions ...Waiter) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	conn := c.Conn()
	if conn == nil {
		return nil
	}
	c.connected.Store(false)
	conn.stopSending()
	var errs error
	for _, w := range companions {
		if w == nil {
			continue
		}
		errs = multierr.Append(errs, w.Wait())
	}
	conn.stopReceiving(true)
	errs = multierr.Append(errs, conn.Close())
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	if errs != nil {
		log.Warnf("mpl: close connection to %s: %v", conn.ServiceEP(), errs)
	}
	return errs
}

// IsConnected reports whether Connect succeeded and Close has not been
// called since.
func (c *Connector) IsConnected() bool {
	return c.connected.Load()
}

// Conn returns the current connection, nil when not connected.
func (c *Connector) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// MessageSize returns the configured fixed envelope size, or 0 on the
// variable-size variant. Use it to size NewFixedMessage envelopes.
func (c *Connector) MessageSize() int {
	return c.opts.fixedSize
}

// PostMessage queues m on the connection, see Conn.PostMessage.
func (c *Connector) PostMessage(m *Message) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.PostMessage(m)
}

// SendMessage writes m on the calling goroutine, see Conn.SendMessage.
func (c *Connector) SendMessage(m *Message) error {
	conn := c.Conn()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.SendMessage(m)
}

// GetMessage takes the next received message, see Conn.GetMessage.
func (c *Connector) GetMessage() (*Message, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.GetMessage()
}

// ReceiveMessage reads one message on the calling goroutine, see
// Conn.ReceiveMessage.
func (c *Connector) ReceiveMessage() (*Message, error) {
	conn := c.Conn()
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn.ReceiveMessage()
}
