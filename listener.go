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
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/mpl/internal/queue"
	"trpc.group/trpc-go/mpl/internal/safejob"
	"trpc.group/trpc-go/mpl/internal/socket"
	"trpc.group/trpc-go/mpl/log"
	"trpc.group/trpc-go/mpl/metrics"
)

const maxAcceptDelay = time.Second

// Listener accepts connections on one endpoint and services each with a
// clone of the registered Handler on a bounded pool of workers.
//
// Accepted connections wait in an unbounded FIFO until a worker is free, so
// the accept loop never blocks on busy workers.
type Listener struct {
	ep   EndPoint
	opts options
	ss   *socket.ServerSocket

	mu    sync.Mutex
	proto Handler

	started   safejob.OnceJob
	listening atomic.Bool
	active    atomic.Int32
	inflight  sync.WaitGroup
	pending   *queue.Queue[*task]
	pool      *ants.PoolWithFunc

	acceptDone   chan struct{}
	dispatchDone chan struct{}
}

// NewListener binds ep. Listening starts with Start.
func NewListener(ep EndPoint, opt ...Option) (*Listener, error) {
	if !ep.IsValid() {
		return nil, errors.Wrapf(ErrBadEndPoint, "listen on %+v", ep)
	}
	opts := newOptions(opt...)
	if err := opts.validate(); err != nil {
		return nil, errors.WithMessagef(err, "mpl listener on %s", ep)
	}
	ss, err := socket.Bind(ep.String(), opts.socketOptions())
	if err != nil {
		return nil, errors.WithMessagef(err, "mpl listener bind %s", ep)
	}
	return &Listener{
		ep:           ep,
		opts:         opts,
		ss:           ss,
		pending:      queue.New[*task](),
		acceptDone:   make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}, nil
}

// RegisterHandler sets the prototype cloned for every accepted connection.
// It may be replaced while listening; connections already accepted keep
// their clone.
func (l *Listener) RegisterHandler(h Handler) {
	l.mu.Lock()
	l.proto = h
	l.mu.Unlock()
}

func (l *Listener) prototype() Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.proto
}

// Start listens with the given backlog and starts accepting. A backlog of
// zero or less uses the system maximum. It fails with
// ErrNoHandlerRegistered when no handler was registered.
func (l *Listener) Start(backlog int) error {
	if l.prototype() == nil {
		return ErrNoHandlerRegistered
	}
	if !l.started.Begin() {
		return ErrListening
	}
	pool, err := newTaskPool(l.opts.poolSize)
	if err != nil {
		close(l.acceptDone)
		close(l.dispatchDone)
		return errors.Wrap(err, "mpl listener create worker pool")
	}
	if err := l.ss.Listen(backlog); err != nil {
		pool.Release()
		close(l.acceptDone)
		close(l.dispatchDone)
		return errors.WithMessagef(err, "mpl listener listen %s", l.ep)
	}
	l.pool = pool
	l.listening.Store(true)
	log.Debugf("mpl: listening on %s with %d workers", l.EndPoint(), l.opts.poolSize)
	go l.acceptLoop()
	go l.dispatch()
	return nil
}

// Stop stops accepting and closes the listening socket. Connections already
// accepted, running or still waiting for a worker, run to completion; use
// Wait to block until they have.
func (l *Listener) Stop() error {
	l.listening.Store(false)
	err := l.ss.Close()
	if l.started.Closed() {
		<-l.acceptDone
	}
	return err
}

// Wait blocks until the listener has stopped accepting, by Stop or by
// reaching WithMaxConnections, and every accepted connection has been
// serviced. It returns at once on a listener that was never started.
func (l *Listener) Wait() {
	if !l.started.Closed() {
		return
	}
	<-l.dispatchDone
}

// Addr returns the bound address, with the kernel chosen port when bound
// to port 0.
func (l *Listener) Addr() net.Addr {
	return l.ss.Addr()
}

// EndPoint returns the bound endpoint.
func (l *Listener) EndPoint() EndPoint {
	return endPointFromAddr(l.ss.Addr())
}

// IsListening reports whether the accept loop is running.
func (l *Listener) IsListening() bool {
	return l.listening.Load()
}

// Active returns the number of connections whose handler is running.
func (l *Listener) Active() int {
	return int(l.active.Load())
}

func (l *Listener) acceptLoop() {
	defer close(l.acceptDone)
	// A nil task stops the dispatcher after everything queued before it.
	defer l.pending.Enqueue(nil)
	var (
		served    int
		tempDelay time.Duration
		service   = l.EndPoint()
	)
	for l.opts.maxConnections <= 0 || served < l.opts.maxConnections {
		s, err := l.ss.Accept()
		if err != nil {
			if !l.listening.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				tempDelay = nextAcceptDelay(tempDelay)
				log.Warnf("mpl: accept on %s: %v, retrying in %v", l.ep, err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("mpl: accept on %s stopped: %v", l.ep, err)
			l.listening.Store(false)
			return
		}
		tempDelay = 0
		h := l.prototype()
		if h == nil {
			log.Errorf("mpl: drop connection from %s: %v", s.RemoteAddr(), ErrNoHandlerRegistered)
			s.Close()
			continue
		}
		served++
		metrics.Add(metrics.ConnsAccepted, 1)
		l.pending.Enqueue(&task{h: h.Clone(), c: newConn(s, &l.opts, service), active: &l.active, done: l.inflight.Done})
	}
	log.Debugf("mpl: %s serviced %d connections, stop accepting", l.ep, served)
	l.listening.Store(false)
	if err := l.ss.Close(); err != nil {
		log.Debugf("mpl: close %s: %v", l.ep, err)
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > maxAcceptDelay {
		return maxAcceptDelay
	}
	return d
}

// dispatch hands queued connections to the worker pool in accept order.
// It waits for a free worker before taking the next one.
func (l *Listener) dispatch() {
	defer close(l.dispatchDone)
	for {
		t := l.pending.Dequeue()
		if t == nil {
			break
		}
		l.inflight.Add(1)
		if err := doTask(l.pool, t); err != nil {
			log.Errorf("mpl: dispatch %s: %v, servicing inline", t.c.RemoteEP(), err)
			t.run()
		}
	}
	l.inflight.Wait()
	l.pool.Release()
}
