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
	"errors"
	"sync"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/mpl/internal/queue"
	"trpc.group/trpc-go/mpl/internal/safejob"
	"trpc.group/trpc-go/mpl/internal/socket"
	"trpc.group/trpc-go/mpl/log"
)

var (
	errNilMessage     = errors.New("nil message")
	errSendingStopped = errors.New("sending stopped")
)

// Stats are the message counters of one connection. Synthesized Disconnect
// messages are not counted.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// Conn is one established TCP connection carrying framed messages.
//
// In queued mode a receive pump reads messages into the receive queue and a
// send pump writes messages taken from the send queue, so the application
// only touches queues. In direct mode SendMessage and ReceiveMessage move
// messages on the calling goroutine. The mode is chosen per direction with
// WithSendQueue and WithReceiveQueue.
type Conn struct {
	sock      *socket.Socket
	framer    framer
	msgSize   int
	useSendQ  bool
	useRecvQ  bool
	serviceEP EndPoint
	remoteEP  EndPoint
	localEP   EndPoint

	recvQ *queue.Queue[*Message]
	sendQ *queue.Queue[*Message]

	recvMu    sync.Mutex
	sendMu    sync.Mutex
	receiving atomic.Bool
	sending   atomic.Bool
	recvStart safejob.OnceJob
	sendStart safejob.OnceJob
	recvDone  chan struct{}
	sendDone  chan struct{}
	rdShut    safejob.OnceJob
	wrShut    safejob.OnceJob

	readJob  safejob.ExclusiveBlockJob
	writeJob safejob.ExclusiveBlockJob
	postJob  safejob.ConcurrentJob
	closeJob safejob.OnceJob

	msgSent  atomic.Uint64
	msgRecv  atomic.Uint64
	byteSent atomic.Uint64
	byteRecv atomic.Uint64
}

func newConn(s *socket.Socket, opts *options, service EndPoint) *Conn {
	return &Conn{
		sock:      s,
		framer:    newFramer(opts),
		msgSize:   opts.fixedSize,
		useSendQ:  opts.useSendQueue,
		useRecvQ:  opts.useRecvQueue,
		serviceEP: service,
		remoteEP:  endPointFromAddr(s.RemoteAddr()),
		localEP:   endPointFromAddr(s.LocalAddr()),
		recvQ:     queue.New[*Message](),
		sendQ:     queue.New[*Message](),
		recvDone:  make(chan struct{}),
		sendDone:  make(chan struct{}),
	}
}

// PostMessage queues m for the send pump. It returns ErrQueueDisabled in
// direct send mode and an ErrTransmit error once sending has stopped.
// Control messages cannot be posted.
func (c *Conn) PostMessage(m *Message) error {
	if !c.useSendQ {
		return ErrQueueDisabled
	}
	if m == nil {
		return transmitError("post", errNilMessage)
	}
	if m.Type().IsControl() {
		return transmitError("post", errors.New("control message "+m.Type().String()+" is local only"))
	}
	if !c.postJob.Begin() {
		return transmitError("post", errSendingStopped)
	}
	defer c.postJob.End()
	c.sendQ.Enqueue(m)
	return nil
}

// GetMessage blocks until the receive pump delivers a message. The stream
// of a connection ends with exactly one Disconnect message; GetMessage
// keeps returning Disconnect after the pump has finished and the queue is
// empty. It returns ErrQueueDisabled in direct receive mode.
func (c *Conn) GetMessage() (*Message, error) {
	if !c.useRecvQ {
		return nil, ErrQueueDisabled
	}
	select {
	case <-c.recvDone:
		if c.recvQ.Len() == 0 {
			return newControlMessage(TypeDisconnect), nil
		}
	default:
	}
	return c.recvQ.Dequeue(), nil
}

// SendMessage writes m to the socket on the calling goroutine. Writes are
// serialized with the send pump, so whole messages never interleave.
func (c *Conn) SendMessage(m *Message) error {
	if m == nil {
		return transmitError("send", errNilMessage)
	}
	return c.writeMessage(m)
}

// ReceiveMessage reads one message from the socket on the calling
// goroutine. An orderly peer shutdown yields a Disconnect message. Don't
// mix it with GetMessage on the same connection.
func (c *Conn) ReceiveMessage() (*Message, error) {
	return c.readMessage()
}

// IsReceiving reports whether the receive pump has been started and not
// yet stopped.
func (c *Conn) IsReceiving() bool {
	return c.receiving.Load()
}

// IsSending reports whether the send pump has been started and not yet
// stopped.
func (c *Conn) IsSending() bool {
	return c.sending.Load()
}

// RemoteEP returns the peer endpoint.
func (c *Conn) RemoteEP() EndPoint {
	return c.remoteEP
}

// LocalEP returns the local endpoint.
func (c *Conn) LocalEP() EndPoint {
	return c.localEP
}

// ServiceEP returns the endpoint of the service this connection belongs
// to: the listening endpoint on the server side, the dialed endpoint on
// the client side.
func (c *Conn) ServiceEP() EndPoint {
	return c.serviceEP
}

// MessageSize returns the envelope size of the fixed-size variant, header
// included, or 0 on the variable-size variant.
func (c *Conn) MessageSize() int {
	return c.msgSize
}

// Stats returns a snapshot of the connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		MessagesSent:     c.msgSent.Load(),
		MessagesReceived: c.msgRecv.Load(),
		BytesSent:        c.byteSent.Load(),
		BytesReceived:    c.byteRecv.Load(),
	}
}

// Close closes the socket and stops both pumps. Messages still queued for
// sending are dropped. Only the first call has effect.
func (c *Conn) Close() error {
	if !c.closeJob.Begin() {
		return nil
	}
	err := c.sock.Close()
	c.readJob.Close()
	c.writeJob.Close()
	c.stopSending()
	c.stopReceiving(false)
	return err
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closeJob.Closed()
}

func (c *Conn) readMessage() (*Message, error) {
	if !c.readJob.Begin() {
		return nil, receiveError("read", socket.ErrClosed)
	}
	defer c.readJob.End()
	m, err := c.framer.readMessage(c.sock)
	if err != nil {
		return nil, err
	}
	if m.Type() != TypeDisconnect {
		c.msgRecv.Inc()
		c.byteRecv.Add(uint64(m.Length()))
	}
	return m, nil
}

func (c *Conn) writeMessage(m *Message) error {
	if !c.writeJob.Begin() {
		return transmitError("write", socket.ErrClosed)
	}
	defer c.writeJob.End()
	if err := c.framer.writeMessage(c.sock, m); err != nil {
		return err
	}
	c.msgSent.Inc()
	c.byteSent.Add(uint64(m.Length()))
	return nil
}

func (c *Conn) startReceiving() {
	if !c.useRecvQ {
		return
	}
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if !c.recvStart.Begin() {
		return
	}
	c.receiving.Store(true)
	go c.recvPump()
}

func (c *Conn) startSending() {
	if !c.useSendQ {
		return
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendStart.Begin() {
		return
	}
	c.sending.Store(true)
	go c.sendPump()
}

// recvPump ends after enqueuing a Disconnect, either read from the stream
// or synthesized after a failed read.
func (c *Conn) recvPump() {
	defer close(c.recvDone)
	for {
		m, err := c.readMessage()
		if err != nil {
			if c.sock.IsClosed() {
				log.Debugf("mpl: receive pump of %s stopped by close: %v", c.remoteEP, err)
			} else {
				log.Errorf("mpl: receive pump of %s stopped: %v", c.remoteEP, err)
			}
			c.recvQ.Enqueue(newControlMessage(TypeDisconnect))
			return
		}
		c.recvQ.Enqueue(m)
		if m.Type() == TypeDisconnect {
			return
		}
	}
}

// sendPump ends on StopSending. After a failed write it keeps draining the
// queue without writing, so stopSending can still join it.
func (c *Conn) sendPump() {
	defer close(c.sendDone)
	var failed bool
	for {
		m := c.sendQ.Dequeue()
		if m.Type() == TypeStopSending {
			return
		}
		if failed {
			continue
		}
		if err := c.writeMessage(m); err != nil {
			if c.sock.IsClosed() {
				log.Debugf("mpl: send pump of %s stopped by close: %v", c.remoteEP, err)
			} else {
				log.Errorf("mpl: send pump of %s stopped: %v", c.remoteEP, err)
			}
			failed = true
		}
	}
}

// stopReceiving joins the receive pump and half-closes the read side.
// When graceful, it waits for the peer to end the stream; otherwise it
// half-closes first so a pump blocked on the peer returns at once.
func (c *Conn) stopReceiving(graceful bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	c.recvStart.Close()
	if !c.receiving.Load() {
		c.shutdownRead()
		return
	}
	if !graceful {
		c.shutdownRead()
	}
	<-c.recvDone
	c.receiving.Store(false)
	c.shutdownRead()
}

// stopSending posts StopSending behind every queued message, joins the send
// pump and half-closes the write side. The peer then reads end of stream.
func (c *Conn) stopSending() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	c.sendStart.Close()
	c.postJob.Close()
	if c.sending.Load() {
		c.sendQ.Enqueue(newControlMessage(TypeStopSending))
		<-c.sendDone
		c.sending.Store(false)
	}
	c.shutdownWrite()
}

func (c *Conn) shutdownRead() {
	if !c.rdShut.Begin() {
		return
	}
	if err := c.sock.ShutdownRead(); err != nil {
		log.Debugf("mpl: shutdown read of %s: %v", c.remoteEP, err)
	}
}

func (c *Conn) shutdownWrite() {
	if !c.wrShut.Begin() {
		return
	}
	if err := c.sock.ShutdownWrite(); err != nil {
		log.Debugf("mpl: shutdown write of %s: %v", c.remoteEP, err)
	}
}
