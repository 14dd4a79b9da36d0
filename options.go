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
	"fmt"
	"time"

	"trpc.group/trpc-go/mpl/internal/socket"
)

const (
	defaultPoolSize       = 8
	defaultBacklog        = 20
	defaultMaxMessageSize = 64 << 20
)

// SockOpt is an integer socket option applied with setsockopt, at the given
// level (for example unix.SOL_SOCKET) and option name (for example
// unix.SO_REUSEPORT).
type SockOpt = socket.SockOpt

// Option mpl listener and connector option.
type Option struct {
	f func(*options)
}

type options struct {
	useSendQueue    bool
	useRecvQueue    bool
	fixedSize       int
	maxMessageSize  int
	contiguousWrite bool
	ioRetries       int
	ioWait          time.Duration
	sockOpts        []SockOpt
	keepAlive       time.Duration
	dialTimeout     time.Duration
	poolSize        int
	maxConnections  int
}

func (o *options) setDefault() {
	o.useSendQueue = true
	o.useRecvQueue = true
	o.ioRetries = socket.DefaultRetries
	o.ioWait = socket.DefaultWait
	o.poolSize = defaultPoolSize
	o.maxMessageSize = defaultMaxMessageSize
}

// validate rejects settings no connection can run with.
func (o *options) validate() error {
	if o.fixedSize > 0 && o.fixedSize < HeaderSize {
		return fmt.Errorf("%w: fixed envelope %d smaller than header %d", ErrInvalidSize, o.fixedSize, HeaderSize)
	}
	return nil
}

func newOptions(opt ...Option) options {
	opts := options{}
	opts.setDefault()
	for _, o := range opt {
		o.f(&opts)
	}
	if opts.poolSize <= 0 {
		opts.poolSize = defaultPoolSize
	}
	return opts
}

func (o *options) socketOptions() socket.Options {
	return socket.Options{
		SockOpts:    o.sockOpts,
		KeepAlive:   o.keepAlive,
		Retries:     o.ioRetries,
		Wait:        o.ioWait,
		DialTimeout: o.dialTimeout,
	}
}

// WithSendQueue sets whether outgoing messages go through the send queue and
// send pump. When false, PostMessage is unavailable and SendMessage writes on
// the calling goroutine. Default is true.
func WithSendQueue(use bool) Option {
	return Option{func(op *options) {
		op.useSendQueue = use
	}}
}

// WithReceiveQueue sets whether incoming messages are read by the receive
// pump into the receive queue. When false, GetMessage is unavailable and
// ReceiveMessage reads on the calling goroutine. Default is true.
func WithReceiveQueue(use bool) Option {
	return Option{func(op *options) {
		op.useRecvQueue = use
	}}
}

// WithQueues sets both WithSendQueue and WithReceiveQueue.
func WithQueues(use bool) Option {
	return Option{func(op *options) {
		op.useSendQueue = use
		op.useRecvQueue = use
	}}
}

// WithFixedMessageSize switches the connection to the fixed-size wire
// variant: every message is one envelope of size bytes, header included,
// moved with exactly one socket call. Both ends must agree on size, and size
// must be at least HeaderSize.
func WithFixedMessageSize(size int) Option {
	return Option{func(op *options) {
		op.fixedSize = size
	}}
}

// WithMaxMessageSize bounds the payload length accepted from the peer on the
// variable-size variant. A header declaring more is a receive error. The
// default is 64 MiB; zero or a negative size removes the limit.
func WithMaxMessageSize(size int) Option {
	return Option{func(op *options) {
		op.maxMessageSize = size
	}}
}

// WithContiguousWrite sets whether a variable-size message is written as one
// contiguous buffer instead of a header write followed by a payload write.
func WithContiguousWrite(contiguous bool) Option {
	return Option{func(op *options) {
		op.contiguousWrite = contiguous
	}}
}

// WithIORetries sets the retry budget of a single socket send or receive and
// the pause between retries.
func WithIORetries(retries int, wait time.Duration) Option {
	return Option{func(op *options) {
		op.ioRetries = retries
		op.ioWait = wait
	}}
}

// WithSocketOptions adds socket options applied before bind or connect and
// on every accepted socket.
func WithSocketOptions(opts ...SockOpt) Option {
	return Option{func(op *options) {
		op.sockOpts = append(op.sockOpts, opts...)
	}}
}

// WithReusePort sets SO_REUSEPORT on created sockets.
func WithReusePort() Option {
	return WithSocketOptions(socket.ReusePort())
}

// WithNoDelay sets TCP_NODELAY on created sockets.
func WithNoDelay(noDelay bool) Option {
	return WithSocketOptions(socket.NoDelay(noDelay))
}

// WithKeepAlive sets the tcp keep alive period, zero turns it off.
func WithKeepAlive(keepAlive time.Duration) Option {
	return Option{func(op *options) {
		op.keepAlive = keepAlive
	}}
}

// WithDialTimeout bounds a single connect attempt.
func WithDialTimeout(timeout time.Duration) Option {
	return Option{func(op *options) {
		op.dialTimeout = timeout
	}}
}

// WithPoolSize sets the number of workers servicing accepted connections,
// which bounds the connections running their handler at the same time.
// Default is 8.
func WithPoolSize(size int) Option {
	return Option{func(op *options) {
		op.poolSize = size
	}}
}

// WithMaxConnections makes the listener service exactly n connections and
// then stop accepting. Zero means unbounded.
func WithMaxConnections(n int) Option {
	return Option{func(op *options) {
		op.maxConnections = n
	}}
}
