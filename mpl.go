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

// Package mpl provides a message passing layer over TCP.
//
// Messages are length prefixed and typed. A Listener accepts connections and
// runs a clone of a registered Handler for each of them on a bounded worker
// pool, while per-connection pumps move messages between the socket and two
// queues. A Connector is the client side of the same machinery.
package mpl

import (
	"context"
)

// Service provides a blocking serve method.
type Service interface {
	// Serve runs until ctx is done or the service stops by itself, then
	// shuts down gracefully.
	Serve(ctx context.Context) error
}

// Listen binds address ("ip:port") and registers h, ready to Start.
func Listen(address string, h Handler, opt ...Option) (*Listener, error) {
	ep, err := ParseEndPoint(address)
	if err != nil {
		return nil, err
	}
	l, err := NewListener(ep, opt...)
	if err != nil {
		return nil, err
	}
	l.RegisterHandler(h)
	return l, nil
}

// Dial connects a new Connector to address ("ip:port") with one attempt.
func Dial(address string, opt ...Option) (*Connector, error) {
	ep, err := ParseEndPoint(address)
	if err != nil {
		return nil, err
	}
	c := NewConnector(opt...)
	if err := c.Connect(ep); err != nil {
		return nil, err
	}
	return c, nil
}

// NewService wraps a listener into a Service listening with backlog.
func NewService(l *Listener, backlog int) Service {
	return &service{l: l, backlog: backlog}
}

type service struct {
	l       *Listener
	backlog int
}

// Serve starts the listener, stops it when ctx is done and returns after
// every accepted connection has been serviced.
func (s *service) Serve(ctx context.Context) error {
	if err := s.l.Start(s.backlog); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.l.Wait()
		close(done)
	}()
	var err error
	select {
	case <-ctx.Done():
		err = s.l.Stop()
	case <-done:
	}
	<-done
	return err
}
