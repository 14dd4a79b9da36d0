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

package safejob_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
	"trpc.group/trpc-go/mpl/internal/safejob"
)

func TestOnceJob(t *testing.T) {
	job := &safejob.OnceJob{}
	var wins atomic.Int32
	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if job.Begin() {
				wins.Inc()
				job.End()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.True(t, job.Closed())
}

func TestOnceJobClose(t *testing.T) {
	job := &safejob.OnceJob{}
	assert.False(t, job.Closed())
	job.Close()
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}

func TestExclusiveBlockJobSerializes(t *testing.T) {
	job := &safejob.ExclusiveBlockJob{}
	var inside, maxInside atomic.Int32
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, job.Begin())
			n := inside.Inc()
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Dec()
			job.End()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, job.Closed())
}

func TestExclusiveBlockJobCloseWaitsForHolder(t *testing.T) {
	job := &safejob.ExclusiveBlockJob{}
	assert.True(t, job.Begin())
	closed := make(chan struct{})
	go func() {
		job.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("close returned while the job was held")
	case <-time.After(10 * time.Millisecond):
	}
	job.End()
	<-closed
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}

func TestConcurrentJob(t *testing.T) {
	job := &safejob.ConcurrentJob{}
	var inside atomic.Int32
	start := make(chan struct{})
	wg := sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, job.Begin())
			inside.Inc()
			<-start
			job.End()
		}()
	}
	for inside.Load() != 4 {
		time.Sleep(time.Millisecond)
	}
	close(start)
	wg.Wait()
	assert.False(t, job.Closed())
}

func TestConcurrentJobClose(t *testing.T) {
	job := &safejob.ConcurrentJob{}
	assert.True(t, job.Begin())
	closed := make(chan struct{})
	go func() {
		job.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("close returned while a caller was inside")
	case <-time.After(10 * time.Millisecond):
	}
	job.End()
	<-closed
	assert.True(t, job.Closed())
	assert.False(t, job.Begin())
}
