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
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
	"trpc.group/trpc-go/mpl"
	"trpc.group/trpc-go/mpl/metrics"
)

var loopback = mpl.NewEndPoint("127.0.0.1", 0)

// echo replies to every message with "echo:" prepended until the peer
// disconnects.
var echo = mpl.HandlerFunc(func(c *mpl.Conn) error {
	for {
		m, err := c.GetMessage()
		if err != nil {
			return err
		}
		if m.Type() == mpl.TypeDisconnect {
			return nil
		}
		if err := c.PostMessage(mpl.NewStringMessage("echo:"+m.Text(), mpl.TypeString)); err != nil {
			return err
		}
	}
})

func startListener(t *testing.T, h mpl.Handler, opt ...mpl.Option) *mpl.Listener {
	l, err := mpl.NewListener(loopback, opt...)
	require.Nil(t, err)
	l.RegisterHandler(h)
	require.Nil(t, l.Start(0))
	t.Cleanup(func() {
		l.Stop()
		l.Wait()
	})
	return l
}

// collect reads messages until Disconnect.
func collect(c *mpl.Connector, out *[]string) func() error {
	return func() error {
		for {
			m, err := c.GetMessage()
			if err != nil {
				return err
			}
			if m.Type() == mpl.TypeDisconnect {
				return nil
			}
			*out = append(*out, m.Text())
		}
	}
}

func TestListenerEcho(t *testing.T) {
	l := startListener(t, echo)
	c := mpl.NewConnector()
	require.Nil(t, c.Connect(l.EndPoint()))
	assert.True(t, c.IsConnected())

	var got []string
	var g errgroup.Group
	g.Go(collect(c, &got))
	for _, s := range []string{"a", "bb", "ccc"} {
		require.Nil(t, c.PostMessage(mpl.NewStringMessage(s, mpl.TypeDefault)))
	}
	require.Nil(t, c.Close(&g))
	assert.False(t, c.IsConnected())
	assert.Equal(t, []string{"echo:a", "echo:bb", "echo:ccc"}, got)
}

func TestListenerReceiveFailureIsolated(t *testing.T) {
	l := startListener(t, echo, mpl.WithMaxMessageSize(16))
	before := metrics.Get(metrics.RecvFails)

	good := mpl.NewConnector()
	require.Nil(t, good.Connect(l.EndPoint()))
	var got []string
	var g errgroup.Group
	g.Go(collect(good, &got))
	require.Nil(t, good.PostMessage(mpl.NewStringMessage("before", mpl.TypeDefault)))

	// A header declaring 256 bytes is over the limit; the server stops
	// receiving on that connection and tears it down.
	bad, err := net.Dial("tcp", l.EndPoint().String())
	require.Nil(t, err)
	defer bad.Close()
	_, err = bad.Write([]byte{0, 0, 1, 0, 0, 0})
	require.Nil(t, err)
	require.Nil(t, bad.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.Copy(io.Discard, bad)
	var ne net.Error
	assert.False(t, errors.As(err, &ne) && ne.Timeout(), "the failed connection is closed by the server")
	assert.Greater(t, metrics.Get(metrics.RecvFails), before)

	require.Nil(t, good.PostMessage(mpl.NewStringMessage("after", mpl.TypeDefault)))
	require.Nil(t, good.Close(&g))
	assert.Equal(t, []string{"echo:before", "echo:after"}, got)
}

func TestListenerInvalidFixedSize(t *testing.T) {
	_, err := mpl.NewListener(loopback, mpl.WithFixedMessageSize(mpl.HeaderSize-1))
	assert.ErrorIs(t, err, mpl.ErrInvalidSize)

	l, err := mpl.NewListener(loopback, mpl.WithFixedMessageSize(mpl.HeaderSize))
	require.Nil(t, err)
	l.Stop()
	l.Wait()
}

func TestListenerEchoDirectClient(t *testing.T) {
	l := startListener(t, echo)
	c := mpl.NewConnector(mpl.WithQueues(false))
	require.Nil(t, c.Connect(l.EndPoint()))
	for _, s := range []string{"a", "bb", "ccc"} {
		require.Nil(t, c.SendMessage(mpl.NewStringMessage(s, mpl.TypeString)))
		m, err := c.ReceiveMessage()
		require.Nil(t, err)
		assert.Equal(t, "echo:"+s, m.Text())
	}
	require.Nil(t, c.Close())
}

func TestListenerDirectHandler(t *testing.T) {
	h := mpl.HandlerFunc(func(c *mpl.Conn) error {
		for {
			m, err := c.ReceiveMessage()
			if err != nil {
				return err
			}
			if m.Type() == mpl.TypeDisconnect {
				return nil
			}
			if err := c.SendMessage(mpl.NewStringMessage("echo:"+m.Text(), mpl.TypeString)); err != nil {
				return err
			}
		}
	})
	l := startListener(t, h, mpl.WithQueues(false))
	c := mpl.NewConnector()
	require.Nil(t, c.Connect(l.EndPoint()))
	var got []string
	var g errgroup.Group
	g.Go(collect(c, &got))
	require.Nil(t, c.PostMessage(mpl.NewStringMessage("direct", mpl.TypeString)))
	require.Nil(t, c.Close(&g))
	assert.Equal(t, []string{"echo:direct"}, got)
}

func TestListenerFixedSize(t *testing.T) {
	l := startListener(t, echo, mpl.WithFixedMessageSize(128))
	c := mpl.NewConnector(mpl.WithFixedMessageSize(128))
	require.Nil(t, c.Connect(l.EndPoint()))
	var got []string
	var g errgroup.Group
	g.Go(collect(c, &got))
	require.Nil(t, c.PostMessage(mpl.NewStringMessage("fixed", mpl.TypeString)))
	require.Nil(t, c.Close(&g))
	assert.Equal(t, []string{"echo:fixed"}, got)
}

func TestListenerStartWithoutHandler(t *testing.T) {
	l, err := mpl.NewListener(loopback)
	require.Nil(t, err)
	defer l.Stop()
	assert.ErrorIs(t, l.Start(0), mpl.ErrNoHandlerRegistered)
	l.Wait()
}

func TestListenerStartTwice(t *testing.T) {
	l := startListener(t, echo)
	assert.ErrorIs(t, l.Start(0), mpl.ErrListening)
	assert.True(t, l.IsListening())
}

func TestListenerBadEndPoint(t *testing.T) {
	_, err := mpl.NewListener(mpl.NewEndPoint("not-an-ip", 0))
	assert.ErrorIs(t, err, mpl.ErrBadEndPoint)
}

func TestListenerStop(t *testing.T) {
	l := startListener(t, echo)
	ep := l.EndPoint()
	assert.NotZero(t, ep.Port)
	require.Nil(t, l.Stop())
	assert.False(t, l.IsListening())
	l.Wait()

	c := mpl.NewConnector()
	n, err := c.ConnectPersist(ep, 1, 0, 0)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, mpl.ErrConnectExhausted)
}

// counter keeps private state per connection.
type counter struct {
	n int
}

func (h *counter) Clone() mpl.Handler {
	return &counter{}
}

func (h *counter) AppProc(c *mpl.Conn) error {
	for {
		m, err := c.GetMessage()
		if err != nil {
			return err
		}
		if m.Type() == mpl.TypeDisconnect {
			return nil
		}
		h.n++
		if err := c.PostMessage(mpl.NewStringMessage(fmt.Sprint(h.n), mpl.TypeString)); err != nil {
			return err
		}
	}
}

func TestListenerHandlerIsolation(t *testing.T) {
	proto := &counter{}
	l := startListener(t, proto)
	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(sends int) {
			defer wg.Done()
			c := mpl.NewConnector()
			if !assert.Nil(t, c.Connect(l.EndPoint())) {
				return
			}
			var got []string
			var g errgroup.Group
			g.Go(collect(c, &got))
			for j := 0; j < sends; j++ {
				assert.Nil(t, c.PostMessage(mpl.NewMessage(nil, 0)))
			}
			assert.Nil(t, c.Close(&g))
			if assert.Len(t, got, sends) {
				assert.Equal(t, fmt.Sprint(sends), got[sends-1])
			}
		}(i * 3)
	}
	wg.Wait()
	assert.Equal(t, 0, proto.n, "the prototype itself never serves")
}

func TestListenerPoolBound(t *testing.T) {
	const (
		workers = 2
		conns   = 6
	)
	var running, peak atomic.Int32
	h := mpl.HandlerFunc(func(c *mpl.Conn) error {
		n := running.Inc()
		for {
			p := peak.Load()
			if n <= p || peak.CAS(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Dec()
		return nil
	})
	l := startListener(t, h, mpl.WithPoolSize(workers), mpl.WithMaxConnections(conns))

	var g errgroup.Group
	for i := 0; i < conns; i++ {
		g.Go(func() error {
			c := mpl.NewConnector()
			if err := c.Connect(l.EndPoint()); err != nil {
				return err
			}
			return c.Close()
		})
	}
	require.Nil(t, g.Wait())
	l.Wait()
	assert.False(t, l.IsListening())
	assert.Equal(t, 0, l.Active())
	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Equal(t, int32(workers), peak.Load())
}

func TestListenerHandlerPanicTearsDown(t *testing.T) {
	before := metrics.Get(metrics.AppProcFails)
	h := mpl.HandlerFunc(func(c *mpl.Conn) error {
		panic("boom")
	})
	l := startListener(t, h, mpl.WithMaxConnections(1))
	c := mpl.NewConnector()
	require.Nil(t, c.Connect(l.EndPoint()))
	m, err := c.GetMessage()
	require.Nil(t, err)
	assert.Equal(t, mpl.TypeDisconnect, m.Type())
	require.Nil(t, c.Close())
	l.Wait()
	assert.Equal(t, before+1, metrics.Get(metrics.AppProcFails))
}

func TestListenerHandlerErrorTearsDown(t *testing.T) {
	h := mpl.HandlerFunc(func(c *mpl.Conn) error {
		return errors.New("refused")
	})
	l := startListener(t, h, mpl.WithMaxConnections(1))
	c := mpl.NewConnector(mpl.WithQueues(false))
	require.Nil(t, c.Connect(l.EndPoint()))
	m, err := c.ReceiveMessage()
	require.Nil(t, err)
	assert.Equal(t, mpl.TypeDisconnect, m.Type())
	require.Nil(t, c.Close())
	l.Wait()
}

func TestServiceServe(t *testing.T) {
	l, err := mpl.Listen("127.0.0.1:0", echo)
	require.Nil(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error {
		return mpl.NewService(l, 16).Serve(ctx)
	})
	var c *mpl.Connector
	require.Eventually(t, func() bool {
		c, err = mpl.Dial(l.EndPoint().String())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	var got []string
	var cg errgroup.Group
	cg.Go(collect(c, &got))
	require.Nil(t, c.PostMessage(mpl.NewStringMessage("served", mpl.TypeString)))
	require.Nil(t, c.Close(&cg))
	assert.Equal(t, []string{"echo:served"}, got)

	cancel()
	assert.Nil(t, g.Wait())
	assert.False(t, l.IsListening())
}
