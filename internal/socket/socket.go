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

// Package socket wraps blocking TCP sockets with the retrying, partial-transfer
// aware send and receive primitives the message pumps rely on.
package socket

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/mpl/metrics"
)

// Default retry budget for a single Send or Recv call.
const (
	DefaultRetries = 1
	DefaultWait    = time.Microsecond
)

// ErrClosed is returned when operating on a closed socket.
var ErrClosed = errors.New("socket is closed")

// Socket is a connected TCP socket. It is exclusively owned by one connection.
type Socket struct {
	conn    *net.TCPConn
	retries int
	wait    time.Duration
	closed  atomic.Bool
}

// New wraps a connected TCP connection. A failed send or recv system call is
// retried up to retries times, sleeping wait in between.
func New(conn *net.TCPConn, retries int, wait time.Duration) *Socket {
	if retries < 0 {
		retries = 0
	}
	return &Socket{conn: conn, retries: retries, wait: wait}
}

// Send writes all of b, looping over short writes. Transient failures are
// retried within the retry budget. It returns the number of bytes written.
func (s *Socket) Send(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var sent, failures int
	for sent < len(b) {
		n, err := s.conn.Write(b[sent:])
		sent += n
		if err == nil {
			continue
		}
		if !transient(err) {
			return sent, pkgerrors.Wrap(err, "socket send")
		}
		failures++
		metrics.Add(metrics.SocketRetries, 1)
		if failures > s.retries {
			return sent, pkgerrors.Wrapf(err, "socket send, retry budget %d exhausted", s.retries)
		}
		time.Sleep(s.wait)
	}
	return sent, nil
}

// Recv reads exactly len(b) bytes, looping over short reads.
//
// A clean end of stream before any byte was read returns (0, io.EOF), which
// callers treat as an orderly peer shutdown. End of stream after a partial
// read returns io.ErrUnexpectedEOF.
func (s *Socket) Recv(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var got, failures int
	for got < len(b) {
		n, err := s.conn.Read(b[got:])
		got += n
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			if got == 0 {
				return 0, io.EOF
			}
			if got < len(b) {
				return got, io.ErrUnexpectedEOF
			}
			return got, nil
		}
		if !transient(err) {
			return got, pkgerrors.Wrap(err, "socket recv")
		}
		failures++
		metrics.Add(metrics.SocketRetries, 1)
		if failures > s.retries {
			return got, pkgerrors.Wrapf(err, "socket recv, retry budget %d exhausted", s.retries)
		}
		time.Sleep(s.wait)
	}
	return got, nil
}

// ShutdownRead half-closes the read side.
func (s *Socket) ShutdownRead() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.conn.CloseRead()
}

// ShutdownWrite half-closes the write side; the peer observes end of stream.
func (s *Socket) ShutdownWrite() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.conn.CloseWrite()
}

// Close closes the socket. Only the first call has effect.
func (s *Socket) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	return s.conn.Close()
}

// IsClosed reports whether Close has been called.
func (s *Socket) IsClosed() bool {
	return s.closed.Load()
}

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// transient reports whether a failed system call is worth retrying.
func transient(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	switch {
	case errors.Is(err, syscall.EINTR), errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.ENOBUFS):
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
