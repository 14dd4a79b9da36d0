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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsSetDefault(t *testing.T) {
	o := Options{Retries: -1, Wait: -1}
	o.setDefault()
	assert.Equal(t, DefaultRetries, o.Retries)
	assert.Equal(t, DefaultWait, o.Wait)

	o = Options{Retries: 0, Wait: time.Millisecond}
	o.setDefault()
	assert.Equal(t, 0, o.Retries)
	assert.Equal(t, time.Millisecond, o.Wait)
}

func TestZeroRetriesKept(t *testing.T) {
	opts := Options{Retries: 0}
	ss, err := Bind("127.0.0.1:0", opts)
	require.Nil(t, err)
	defer ss.Close()
	require.Nil(t, ss.Listen(1))

	client, err := Connect(ss.Addr().String(), opts)
	require.Nil(t, err)
	defer client.Close()
	server, err := ss.Accept()
	require.Nil(t, err)
	defer server.Close()

	assert.Equal(t, 0, client.retries)
	assert.Equal(t, 0, server.retries)
}
