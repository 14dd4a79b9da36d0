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
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/mpl/log"
	"trpc.group/trpc-go/mpl/metrics"
)

// task is one accepted connection waiting for a worker.
type task struct {
	h      Handler
	c      *Conn
	active *atomic.Int32
	done   func()
}

func (t *task) run() {
	t.active.Inc()
	defer func() {
		t.active.Dec()
		t.done()
	}()
	serve(t.h, t.c)
}

// newTaskPool creates a pool of size workers. Invoke blocks while every
// worker is busy, which is what bounds the connections being serviced.
func newTaskPool(size int) (*ants.PoolWithFunc, error) {
	return ants.NewPoolWithFunc(size, taskHandler,
		ants.WithPanicHandler(func(v any) {
			log.Errorf("mpl: worker panic: %v", v)
		}))
}

func taskHandler(v any) {
	if t, ok := v.(*task); ok {
		t.run()
	}
}

func doTask(p *ants.PoolWithFunc, t *task) error {
	metrics.Add(metrics.TaskAssigned, 1)
	return p.Invoke(t)
}
