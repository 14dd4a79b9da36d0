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
	"fmt"
	"io"

	"trpc.group/trpc-go/mpl/internal/socket"
	"trpc.group/trpc-go/mpl/metrics"
)

// framer moves whole messages between a socket and memory. Callers serialize
// reads and writes separately, so a framer may keep one scratch buffer per
// direction.
type framer interface {
	readMessage(s *socket.Socket) (*Message, error)
	writeMessage(s *socket.Socket, m *Message) error
}

func newFramer(opts *options) framer {
	if opts.fixedSize > 0 {
		return &fixedFramer{size: opts.fixedSize, wbuf: make([]byte, opts.fixedSize)}
	}
	return &variableFramer{maxLength: opts.maxMessageSize, contiguous: opts.contiguousWrite}
}

// variableFramer reads the header first, then exactly the payload it
// declares. Writes use two socket calls unless contiguous is set.
type variableFramer struct {
	maxLength  int
	contiguous bool
	rhdr       [HeaderSize]byte
	whdr       [HeaderSize]byte
}

func (f *variableFramer) readMessage(s *socket.Socket) (*Message, error) {
	n, err := s.Recv(f.rhdr[:])
	if n == 0 && errors.Is(err, io.EOF) {
		metrics.Add(metrics.DisconnectsReceived, 1)
		return newControlMessage(TypeDisconnect), nil
	}
	if err != nil {
		metrics.Add(metrics.RecvFails, 1)
		return nil, receiveError("read header", err)
	}
	hdr := parseHeader(f.rhdr[:])
	if f.maxLength > 0 && int64(hdr.Length) > int64(f.maxLength) {
		metrics.Add(metrics.RecvFails, 1)
		return nil, receiveError("read header",
			fmt.Errorf("declared length %d exceeds limit %d", hdr.Length, f.maxLength))
	}
	m := &Message{hdr: hdr}
	if hdr.Length > 0 {
		m.data = make([]byte, hdr.Length)
		if _, err := s.Recv(m.data); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			metrics.Add(metrics.RecvFails, 1)
			return nil, receiveError("read payload", err)
		}
	}
	metrics.Add(metrics.MessagesReceived, 1)
	metrics.Add(metrics.BytesReceived, uint64(hdr.Length))
	return m, nil
}

func (f *variableFramer) writeMessage(s *socket.Socket, m *Message) error {
	if m.Type().IsControl() {
		return transmitError("write", fmt.Errorf("control message %v is local only", m.Type()))
	}
	if f.contiguous {
		if _, err := s.Send(Encode(m)); err != nil {
			metrics.Add(metrics.SendFails, 1)
			return transmitError("write envelope", err)
		}
	} else {
		// The wire copy of the header is built aside, m itself stays in host order.
		m.hdr.put(f.whdr[:])
		if _, err := s.Send(f.whdr[:]); err != nil {
			metrics.Add(metrics.SendFails, 1)
			return transmitError("write header", err)
		}
		if m.Length() > 0 {
			if _, err := s.Send(m.Data()); err != nil {
				metrics.Add(metrics.SendFails, 1)
				return transmitError("write payload", err)
			}
		}
	}
	metrics.Add(metrics.MessagesSent, 1)
	metrics.Add(metrics.BytesSent, uint64(m.Length()))
	return nil
}

// fixedFramer moves every message as one envelope of size bytes in exactly
// one socket call.
type fixedFramer struct {
	size int
	wbuf []byte
}

func (f *fixedFramer) readMessage(s *socket.Socket) (*Message, error) {
	if f.size < HeaderSize {
		metrics.Add(metrics.RecvFails, 1)
		return nil, receiveError("read envelope", fmt.Errorf("%w: envelope %d smaller than header %d",
			ErrInvalidSize, f.size, HeaderSize))
	}
	raw := make([]byte, f.size)
	n, err := s.Recv(raw)
	if n == 0 && errors.Is(err, io.EOF) {
		metrics.Add(metrics.DisconnectsReceived, 1)
		return newControlMessage(TypeDisconnect), nil
	}
	if err != nil {
		metrics.Add(metrics.RecvFails, 1)
		return nil, receiveError("read envelope", err)
	}
	m := &Message{data: raw[HeaderSize:], envelope: f.size}
	if err := m.setHeader(parseHeader(raw)); err != nil {
		metrics.Add(metrics.RecvFails, 1)
		return nil, receiveError("read envelope", err)
	}
	metrics.Add(metrics.MessagesReceived, 1)
	metrics.Add(metrics.BytesReceived, uint64(m.Length()))
	return m, nil
}

func (f *fixedFramer) writeMessage(s *socket.Socket, m *Message) error {
	if m.Type().IsControl() {
		return transmitError("write", fmt.Errorf("control message %v is local only", m.Type()))
	}
	if m.Length() > f.size-HeaderSize {
		return transmitError("write envelope", fmt.Errorf("%w: length %d does not fit envelope %d",
			ErrInvalidSize, m.Length(), f.size))
	}
	m.hdr.put(f.wbuf)
	n := copy(f.wbuf[HeaderSize:], m.Data())
	clear(f.wbuf[HeaderSize+n:])
	if _, err := s.Send(f.wbuf); err != nil {
		metrics.Add(metrics.SendFails, 1)
		return transmitError("write envelope", err)
	}
	metrics.Add(metrics.MessagesSent, 1)
	metrics.Add(metrics.BytesSent, uint64(m.Length()))
	return nil
}
