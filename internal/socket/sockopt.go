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

package socket

import (
	"fmt"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// SockOpt is an integer socket option applied with setsockopt.
type SockOpt struct {
	Level int
	Name  int
	Value int
}

// ReuseAddr enables SO_REUSEADDR.
func ReuseAddr() SockOpt {
	return SockOpt{Level: unix.SOL_SOCKET, Name: unix.SO_REUSEADDR, Value: 1}
}

// ReusePort enables SO_REUSEPORT.
func ReusePort() SockOpt {
	return SockOpt{Level: unix.SOL_SOCKET, Name: unix.SO_REUSEPORT, Value: 1}
}

// NoDelay sets TCP_NODELAY.
func NoDelay(on bool) SockOpt {
	v := 0
	if on {
		v = 1
	}
	return SockOpt{Level: unix.IPPROTO_TCP, Name: unix.TCP_NODELAY, Value: v}
}

// Options configures sockets created by Bind and Connect.
type Options struct {
	// SockOpts are applied to every created socket before bind/connect and to
	// every accepted socket.
	SockOpts []SockOpt
	// KeepAlive enables TCP keep alive with the given period when > 0.
	KeepAlive time.Duration
	// Retries is the retry budget of a single Send or Recv call. Zero means
	// no retry, a negative value takes DefaultRetries.
	Retries int
	// Wait is the pause between retries.
	Wait time.Duration
	// DialTimeout bounds a single connect attempt. Zero means no timeout.
	DialTimeout time.Duration
}

func (o *Options) setDefault() {
	if o.Retries < 0 {
		o.Retries = DefaultRetries
	}
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
}

func setSockOpts(fd int, opts []SockOpt) error {
	for _, o := range opts {
		if err := unix.SetsockoptInt(fd, o.Level, o.Name, o.Value); err != nil {
			return fmt.Errorf("setsockopt level %d name %d: %w", o.Level, o.Name, err)
		}
	}
	return nil
}

// control runs fn against the file descriptor of c.
func control(c syscall.Conn, fn func(fd int) error) error {
	rawConn, err := c.SyscallConn()
	if err != nil {
		return fmt.Errorf("get raw connection fail %w", err)
	}
	var opErr error
	if err := rawConn.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	}); err != nil {
		return err
	}
	return opErr
}
