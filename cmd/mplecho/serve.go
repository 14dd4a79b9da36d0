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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"trpc.group/trpc-go/mpl"
	"trpc.group/trpc-go/mpl/log"
	"trpc.group/trpc-go/mpl/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run an echo service",
	Long: `Run an echo service. Every received message is sent back with the
configured prefix, as a string message. The service stops on SIGINT or
SIGTERM, or after --max-connections connections.`,
	RunE: runServe,
}

func init() {
	key := "endpoint"
	serveCmd.Flags().String(key, "0.0.0.0:9000", "ip:port to listen on")
	key = "backlog"
	serveCmd.Flags().Int(key, 20, "listen backlog, 0 for the system maximum")
	key = "workers"
	serveCmd.Flags().Int(key, 8, "connections serviced at the same time")
	key = "max-connections"
	serveCmd.Flags().Int(key, 0, "stop after servicing this many connections, 0 for no limit")
	key = "prefix"
	serveCmd.Flags().String(key, "echo:", "prefix of every reply")
	key = "reuseport"
	serveCmd.Flags().Bool(key, false, "set SO_REUSEPORT on the listening socket")
	key = "metrics-interval"
	serveCmd.Flags().Duration(key, 0, "log metrics of every interval at debug level, 0 to disable")
}

// echoHandler replies to each message with prefix prepended. Each
// connection counts its own messages.
type echoHandler struct {
	prefix string
	count  int
}

func (h *echoHandler) Clone() mpl.Handler {
	return &echoHandler{prefix: h.prefix}
}

func (h *echoHandler) AppProc(c *mpl.Conn) error {
	log.Infof("serving %s", c.RemoteEP())
	defer func() {
		log.Infof("%s done after %d messages", c.RemoteEP(), h.count)
	}()
	for {
		m, err := c.GetMessage()
		if err != nil {
			return err
		}
		if m.Type() == mpl.TypeDisconnect {
			return nil
		}
		h.count++
		if err := c.PostMessage(mpl.NewStringMessage(h.prefix+m.Text(), mpl.TypeString)); err != nil {
			return err
		}
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ep, err := mpl.ParseEndPoint(viper.GetString("endpoint"))
	if err != nil {
		return err
	}
	opts := append(commonOptions(),
		mpl.WithPoolSize(viper.GetInt("workers")),
		mpl.WithMaxConnections(viper.GetInt("max-connections")),
	)
	if viper.GetBool("reuseport") {
		opts = append(opts, mpl.WithReusePort())
	}
	l, err := mpl.NewListener(ep, opts...)
	if err != nil {
		return err
	}
	l.RegisterHandler(&echoHandler{prefix: viper.GetString("prefix")})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := viper.GetDuration("metrics-interval"); d > 0 {
		go func() {
			for ctx.Err() == nil {
				metrics.ShowMetricsOfPeriod(d)
			}
		}()
	}
	log.Infof("echo service on %s", l.EndPoint())
	start := time.Now()
	err = mpl.NewService(l, viper.GetInt("backlog")).Serve(ctx)
	log.Infof("echo service stopped after %v", time.Since(start).Round(time.Millisecond))
	metrics.ShowMetrics()
	return err
}
