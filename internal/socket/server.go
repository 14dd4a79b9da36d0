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
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ServerSocket is a bound TCP socket that starts listening on demand, so the
// accept backlog can be chosen after the address has been reserved.
type ServerSocket struct {
	mu   sync.Mutex
	fd   int
	ln   *net.TCPListener
	addr *net.TCPAddr
	opts Options
}

// Bind creates a socket and binds it to address. SO_REUSEADDR is always set
// before any additional options.
func Bind(address string, opts Options) (*ServerSocket, error) {
	opts.setDefault()
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", address)
	}
	family := getFamily(tcpAddr.IP)
	sa, err := ipToSockaddr(family, tcpAddr.IP, tcpAddr.Port, tcpAddr.Zone)
	if err != nil {
		return nil, err
	}
	fd, err := sysSocket(family)
	if err != nil {
		return nil, errors.Wrap(err, "create socket")
	}
	sockOpts := append([]SockOpt{ReuseAddr()}, opts.SockOpts...)
	if err := setSockOpts(fd, sockOpts); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bind %s", address)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "getsockname")
	}
	return &ServerSocket{fd: fd, addr: sockaddrToTCPAddr(bound), opts: opts}, nil
}

// Listen marks the socket as passive with the given backlog.
func (s *ServerSocket) Listen(backlog int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return nil
	}
	if s.fd < 0 {
		return ErrClosed
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(s.fd, backlog); err != nil {
		return errors.Wrap(err, "listen")
	}
	// FileListener dups the descriptor, the original is released right away.
	f := os.NewFile(uintptr(s.fd), "mpl-listener")
	ln, err := net.FileListener(f)
	f.Close()
	s.fd = -1
	if err != nil {
		return errors.Wrap(err, "file listener")
	}
	tln, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return errors.Errorf("unexpected listener type %T", ln)
	}
	s.ln = tln
	return nil
}

// Accept blocks until a connection arrives or the socket is closed.
func (s *ServerSocket) Accept() (*Socket, error) {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil, errors.New("accept on a socket that is not listening")
	}
	conn, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	if err := s.prepare(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, s.opts.Retries, s.opts.Wait), nil
}

func (s *ServerSocket) prepare(conn *net.TCPConn) error {
	if len(s.opts.SockOpts) > 0 {
		if err := control(conn, func(fd int) error {
			return setSockOpts(fd, s.opts.SockOpts)
		}); err != nil {
			return err
		}
	}
	return setKeepAlive(conn, s.opts.KeepAlive)
}

// Addr returns the bound address, with the kernel chosen port when bound to 0.
func (s *ServerSocket) Addr() *net.TCPAddr {
	return s.addr
}

// Close closes the socket, unblocking a pending Accept.
func (s *ServerSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		err := s.ln.Close()
		s.ln = nil
		return err
	}
	if s.fd >= 0 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}
