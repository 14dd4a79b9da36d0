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

// Package metrics provides mpl runtime monitoring data, such as message and
// byte throughput of the pumps and the connection lifecycle counters, which
// is a good tool for performance tuning.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"trpc.group/trpc-go/mpl/log"
)

// All metrics definitions.
const (
	// The following constants are message metrics.

	MessagesSent = iota
	MessagesReceived
	BytesSent
	BytesReceived
	SendFails
	RecvFails
	DisconnectsReceived
	SocketRetries

	// The following constants are connection metrics.

	ConnsAccepted
	ConnsClosed
	ConnectAttempts
	ConnectFails
	AppProcFails
	TaskAssigned

	// Keep it last.

	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name < 0 || name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name < 0 || name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	new := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = new[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	log.Debug("######### mpl metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showMessageMetrics(m)
	showConnMetrics(m)
}

func showMessageMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# MSG - number of messages sent", m[MessagesSent])
	log.Debugf("%-59s: %d", "# MSG - number of messages received", m[MessagesReceived])
	log.Debugf("%-59s: %d", "# MSG - number of payload bytes sent", m[BytesSent])
	log.Debugf("%-59s: %d", "# MSG - number of payload bytes received", m[BytesReceived])
	if m[MessagesSent] > 0 {
		log.Debugf("%-59s: %dB", "# MSG - average payload sent", m[BytesSent]/m[MessagesSent])
	}
	if m[MessagesReceived] > 0 {
		log.Debugf("%-59s: %dB", "# MSG - average payload received", m[BytesReceived]/m[MessagesReceived])
	}
	log.Debugf("%-59s: %d", "# MSG - number of failed message writes", m[SendFails])
	log.Debugf("%-59s: %d", "# MSG - number of failed message reads", m[RecvFails])
	log.Debugf("%-59s: %d", "# MSG - number of orderly peer shutdowns", m[DisconnectsReceived])
	log.Debugf("%-59s: %d", "# MSG - number of retried socket calls", m[SocketRetries])
}

func showConnMetrics(m [Max]uint64) {
	log.Debugf("%-59s: %d", "# CONN - number of connections accepted", m[ConnsAccepted])
	log.Debugf("%-59s: %d", "# CONN - number of connections closed", m[ConnsClosed])
	log.Debugf("%-59s: %d", "# CONN - number of connect attempts", m[ConnectAttempts])
	log.Debugf("%-59s: %d", "# CONN - number of failed connect attempts", m[ConnectFails])
	log.Debugf("%-59s: %d", "# CONN - number of failed handlers", m[AppProcFails])
	log.Debugf("%-59s: %d", "# CONN - number of connections dispatched", m[TaskAssigned])
}
