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
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EndPoint is an IP address and TCP port pair. An empty IP on a listener
// means every local address.
type EndPoint struct {
	IP   string
	Port int
}

// NewEndPoint creates an endpoint.
func NewEndPoint(ip string, port int) EndPoint {
	return EndPoint{IP: ip, Port: port}
}

// ParseEndPoint parses "ip:port", with IPv6 addresses in brackets.
func ParseEndPoint(s string) (EndPoint, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return EndPoint{}, errors.Wrapf(ErrBadEndPoint, "parse %q: %v", s, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return EndPoint{}, errors.Wrapf(ErrBadEndPoint, "parse port of %q", s)
	}
	ep := EndPoint{IP: host, Port: p}
	if !ep.IsValid() {
		return EndPoint{}, errors.Wrapf(ErrBadEndPoint, "%q is not an ip and port", s)
	}
	return ep, nil
}

// String returns the endpoint as "ip:port".
func (e EndPoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// IsValid reports whether the port is in range and IP is empty or a literal
// address, optionally with an IPv6 zone.
func (e EndPoint) IsValid() bool {
	if e.Port < 0 || e.Port > 65535 {
		return false
	}
	return e.IP == "" || e.ip() != nil
}

// Equal reports whether e and o name the same address and port.
func (e EndPoint) Equal(o EndPoint) bool {
	if e.Port != o.Port {
		return false
	}
	a, b := e.ip(), o.ip()
	if a == nil || b == nil {
		return e.IP == o.IP
	}
	return a.Equal(b) && e.zone() == o.zone()
}

// TCPAddr converts e to a *net.TCPAddr.
func (e EndPoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: e.ip(), Port: e.Port, Zone: e.zone()}
}

func (e EndPoint) ip() net.IP {
	host := e.IP
	if i := strings.LastIndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	return net.ParseIP(host)
}

func (e EndPoint) zone() string {
	if i := strings.LastIndexByte(e.IP, '%'); i >= 0 {
		return e.IP[i+1:]
	}
	return ""
}

func endPointFromAddr(addr net.Addr) EndPoint {
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip := a.IP.String()
		if a.Zone != "" {
			ip += "%" + a.Zone
		}
		return EndPoint{IP: ip, Port: a.Port}
	case nil:
		return EndPoint{}
	}
	ep, err := ParseEndPoint(addr.String())
	if err != nil {
		return EndPoint{}
	}
	return ep
}
