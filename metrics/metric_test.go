// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/mpl/metrics"
)

func TestMetrics(t *testing.T) {
	before := metrics.Get(metrics.MessagesSent)
	metrics.Add(metrics.MessagesSent, 1)
	assert.Equal(t, before+1, metrics.Get(metrics.MessagesSent))
	metrics.Add(metrics.MessagesSent, 1)
	assert.Equal(t, before+2, metrics.Get(metrics.MessagesSent))
	metrics.Add(metrics.Max+1, 1)
	metrics.Add(-1, 1)
	metrics.Add(metrics.BytesSent, 1191)
	metrics.Add(metrics.MessagesReceived, 9)
	metrics.Add(metrics.BytesReceived, 99)
	metrics.Add(metrics.ConnsAccepted, 3)
	assert.Equal(t, uint64(0), metrics.Get(metrics.Max+1))
	assert.Equal(t, uint64(0), metrics.Get(-1))
	all := metrics.GetAll()
	assert.Equal(t, metrics.Get(metrics.ConnsAccepted), all[metrics.ConnsAccepted])
	metrics.ShowMetrics()
	metrics.ShowMetricsOfPeriod(time.Millisecond)
}
