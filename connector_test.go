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

package mpl_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"trpc.group/trpc-go/mpl"
)

// closedEndPoint returns a loopback endpoint nobody listens on.
func closedEndPoint(t *testing.T) mpl.EndPoint {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	ep, err := mpl.ParseEndPoint(ln.Addr().String())
	require.Nil(t, err)
	require.Nil(t, ln.Close())
	return ep
}

func TestConnectPersistExhausted(t *testing.T) {
	ep := closedEndPoint(t)
	for _, verbosity := range []int{0, 1} {
		c := mpl.NewConnector()
		n, err := c.ConnectPersist(ep, 3, 0, verbosity)
		assert.Equal(t, 3, n)
		assert.ErrorIs(t, err, mpl.ErrConnectExhausted)
		assert.False(t, c.IsConnected())
	}
}

func TestConnectPersistNoAttempts(t *testing.T) {
	c := mpl.NewConnector()
	n, err := c.ConnectPersist(closedEndPoint(t), 0, 0, 0)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, mpl.ErrConnectExhausted)
}

func TestConnectPersistContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	c := mpl.NewConnector()
	start := time.Now()
	n, err := c.ConnectPersistContext(ctx, closedEndPoint(t), 100, time.Second, 0)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectPersistSucceeds(t *testing.T) {
	l := startListener(t, echo)
	c := mpl.NewConnector()
	n, err := c.ConnectPersist(l.EndPoint(), 5, time.Millisecond, 1)
	require.Nil(t, err)
	assert.Equal(t, 1, n)
	require.Nil(t, c.Close())
}

func TestConnectorConnectErrors(t *testing.T) {
	c := mpl.NewConnector()
	assert.ErrorIs(t, c.Connect(mpl.NewEndPoint("127.0.0.1", 70000)), mpl.ErrBadEndPoint)

	err := c.Connect(closedEndPoint(t))
	assert.ErrorIs(t, err, mpl.ErrConnect)
	var opErr *mpl.OpError
	assert.True(t, errors.As(err, &opErr))

	l := startListener(t, echo)
	require.Nil(t, c.Connect(l.EndPoint()))
	assert.ErrorIs(t, c.Connect(l.EndPoint()), mpl.ErrAlreadyConnected)
	assert.True(t, c.Conn().ServiceEP().Equal(l.EndPoint()))
	require.Nil(t, c.Close())
	require.Nil(t, c.Close())
	assert.Nil(t, c.Conn())
}

func TestConnectorFixedSize(t *testing.T) {
	c := mpl.NewConnector(mpl.WithFixedMessageSize(4))
	assert.ErrorIs(t, c.Connect(closedEndPoint(t)), mpl.ErrInvalidSize)
	n, err := c.ConnectPersist(closedEndPoint(t), 3, time.Millisecond, 0)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, mpl.ErrInvalidSize)
	assert.False(t, c.IsConnected())

	l := startListener(t, echo, mpl.WithFixedMessageSize(32))
	c = mpl.NewConnector(mpl.WithFixedMessageSize(32))
	assert.Equal(t, 32, c.MessageSize())
	require.Nil(t, c.Connect(l.EndPoint()))
	assert.Equal(t, 32, c.Conn().MessageSize())
	m, err := mpl.NewFixedMessage(c.MessageSize(), []byte("hi"), mpl.TypeDefault)
	require.Nil(t, err)
	require.Nil(t, c.PostMessage(m))
	got, err := c.GetMessage()
	require.Nil(t, err)
	assert.Equal(t, "echo:hi", got.Text())
	require.Nil(t, c.Close())

	assert.Equal(t, 0, mpl.NewConnector().MessageSize())
}

func TestConnectorNotConnected(t *testing.T) {
	c := mpl.NewConnector()
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.PostMessage(mpl.NewMessage(nil, 0)), mpl.ErrNotConnected)
	assert.ErrorIs(t, c.SendMessage(mpl.NewMessage(nil, 0)), mpl.ErrNotConnected)
	_, err := c.GetMessage()
	assert.ErrorIs(t, err, mpl.ErrNotConnected)
	_, err = c.ReceiveMessage()
	assert.ErrorIs(t, err, mpl.ErrNotConnected)
	assert.Nil(t, c.Close())
}

func TestConnectorCloseCombinesCompanionErrors(t *testing.T) {
	l := startListener(t, echo)
	c := mpl.NewConnector()
	require.Nil(t, c.Connect(l.EndPoint()))

	errA, errB := errors.New("companion a"), errors.New("companion b")
	var g errgroup.Group
	g.Go(func() error { return errA })
	err := c.Close(&g, mpl.WaitFunc(func() error { return errB }), nil)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.False(t, c.IsConnected())
}

func TestConnectorReconnect(t *testing.T) {
	l := startListener(t, echo)
	c := mpl.NewConnector()
	for i := 0; i < 2; i++ {
		require.Nil(t, c.Connect(l.EndPoint()))
		var got []string
		var g errgroup.Group
		g.Go(collect(c, &got))
		require.Nil(t, c.PostMessage(mpl.NewStringMessage("again", mpl.TypeString)))
		require.Nil(t, c.Close(&g))
		assert.Equal(t, []string{"echo:again"}, got)
	}
}
