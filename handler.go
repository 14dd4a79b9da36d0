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
	"runtime/debug"

	"trpc.group/trpc-go/mpl/log"
	"trpc.group/trpc-go/mpl/metrics"
)

// Handler is the per-connection application logic of a Listener.
//
// The listener keeps one registered prototype and clones it for every
// accepted connection, so each connection gets private handler state.
// AppProc runs on a pool worker while the connection's pumps move messages;
// when it returns the connection is drained and closed.
type Handler interface {
	// Clone returns a fresh handler for a new connection.
	Clone() Handler
	// AppProc is the application body for connection c.
	AppProc(c *Conn) error
}

// HandlerFunc adapts a stateless function to Handler. Its clones are the
// function itself.
type HandlerFunc func(c *Conn) error

// Clone implements Handler.
func (f HandlerFunc) Clone() Handler {
	return f
}

// AppProc implements Handler.
func (f HandlerFunc) AppProc(c *Conn) error {
	return f(c)
}

// serve runs the whole life of one accepted connection on the calling
// goroutine: start pumps, run the handler, drain, close.
func serve(h Handler, c *Conn) {
	c.startReceiving()
	c.startSending()
	if err := appProc(h, c); err != nil {
		metrics.Add(metrics.AppProcFails, 1)
		log.Errorf("mpl: handler of %s failed: %v", c.RemoteEP(), err)
	}
	c.stopReceiving(false)
	c.stopSending()
	if err := c.Close(); err != nil {
		log.Debugf("mpl: close %s: %v", c.RemoteEP(), err)
	}
	metrics.Add(metrics.ConnsClosed, 1)
}

func appProc(h Handler, c *Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.AppProc(c)
}
