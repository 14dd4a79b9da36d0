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
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// Connect dials address once and returns the connected socket.
func Connect(address string, opts Options) (*Socket, error) {
	opts.setDefault()
	d := net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: -1,
		Control: func(_, _ string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setSockOpts(int(fd), opts.SockOpts)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
	c, err := d.Dial("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s with timeout %+v", address, opts.DialTimeout)
	}
	conn, ok := c.(*net.TCPConn)
	if !ok {
		c.Close()
		return nil, errors.Errorf("unexpected connection type %T", c)
	}
	if err := setKeepAlive(conn, opts.KeepAlive); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, opts.Retries, opts.Wait), nil
}

func setKeepAlive(conn *net.TCPConn, period time.Duration) error {
	if period <= 0 {
		return nil
	}
	if err := conn.SetKeepAlive(true); err != nil {
		return errors.Wrap(err, "set keep alive")
	}
	return errors.Wrap(conn.SetKeepAlivePeriod(period), "set keep alive period")
}
