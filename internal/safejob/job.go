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

// Package safejob provides the guards a connection wraps around its socket
// operations: once-only transitions, serialized reads or writes, and shared
// sections that a closer waits out.
package safejob

// Job is a section of work that can be closed. Once closed, Begin fails.
type Job interface {
	// Begin enters the job and reports whether it may run.
	Begin() bool
	// End leaves the job.
	End()
	// Close closes the job, waiting for any section in progress.
	Close()
	// Closed reports whether the job is closed.
	Closed() bool
}

var (
	_ Job = (*OnceJob)(nil)
	_ Job = (*ExclusiveBlockJob)(nil)
	_ Job = (*ConcurrentJob)(nil)
)
