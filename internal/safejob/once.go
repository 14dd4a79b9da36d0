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

package safejob

import (
	"go.uber.org/atomic"
)

// OnceJob runs at most once: the first Begin wins and closes the job.
type OnceJob struct {
	closed atomic.Bool
}

// Begin reports whether this is the first entry.
func (j *OnceJob) Begin() bool {
	return j.closed.CAS(false, true)
}

// End does nothing.
func (j *OnceJob) End() {}

// Close prevents the job from ever running.
func (j *OnceJob) Close() {
	j.closed.Store(true)
}

// Closed returns whether the job ran or was closed.
func (j *OnceJob) Closed() bool {
	return j.closed.Load()
}
