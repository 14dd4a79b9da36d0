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
)

// Errors returned by mpl operations. Use errors.Is to test an error chain
// against them.
var (
	// ErrInvalidSize is returned when a fixed-size envelope cannot hold the
	// header or the payload.
	ErrInvalidSize = errors.New("invalid message size")
	// ErrIndexOutOfRange is returned when indexing outside [0, Length).
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrReceive marks a failed or malformed message read. It is fatal to the
	// connection.
	ErrReceive = errors.New("receive message error")
	// ErrTransmit marks a failed message write. It is fatal to the connection.
	ErrTransmit = errors.New("transmit message error")
	// ErrNoHandlerRegistered is returned when a listener is started without a
	// handler prototype.
	ErrNoHandlerRegistered = errors.New("no client handler registered")
	// ErrConnect marks a failed connect attempt.
	ErrConnect = errors.New("connect error")
	// ErrConnectExhausted is returned by ConnectPersist when every attempt failed.
	ErrConnectExhausted = errors.New("connect attempts exhausted")
	// ErrNotConnected is returned when a connector is used before Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrQueueDisabled is returned by queued I/O on a direction configured for
	// direct mode.
	ErrQueueDisabled = errors.New("message queue disabled")
	// ErrListening is returned when a listener is started twice.
	ErrListening = errors.New("listener already started")
	// ErrBadEndPoint is returned when an endpoint cannot be parsed.
	ErrBadEndPoint = errors.New("bad endpoint")
)

// OpError records a failed message operation on a connection.
type OpError struct {
	// Op is the operation, such as "read header" or "write payload".
	Op string
	// Kind is one of the package sentinel errors.
	Kind error
	// Err is the underlying cause, may be nil.
	Err error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the error kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

func receiveError(op string, err error) error {
	return &OpError{Op: op, Kind: ErrReceive, Err: err}
}

func transmitError(op string, err error) error {
	return &OpError{Op: op, Kind: ErrTransmit, Err: err}
}
