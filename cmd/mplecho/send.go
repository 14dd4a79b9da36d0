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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"trpc.group/trpc-go/mpl"
)

var sendCmd = &cobra.Command{
	Use:   "send [messages...]",
	Short: "Send messages to an echo service and print the replies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

func init() {
	key := "endpoint"
	sendCmd.Flags().String(key, "127.0.0.1:9000", "ip:port of the service")
	key = "attempts"
	sendCmd.Flags().Int(key, 5, "connect attempts")
	key = "wait"
	sendCmd.Flags().Duration(key, 0, "pause between connect attempts")
	key = "verbose"
	sendCmd.Flags().Int(key, 1, "log connect attempts when above 0")
	key = "dial-timeout"
	sendCmd.Flags().Duration(key, 0, "timeout of one connect attempt, 0 for none")
}

func runSend(cmd *cobra.Command, args []string) error {
	ep, err := mpl.ParseEndPoint(viper.GetString("endpoint"))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := mpl.NewConnector(append(commonOptions(), mpl.WithDialTimeout(viper.GetDuration("dial-timeout")))...)
	attempts, err := c.ConnectPersistContext(ctx, ep, viper.GetInt("attempts"),
		viper.GetDuration("wait"), viper.GetInt("verbose"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var g errgroup.Group
	g.Go(func() error {
		for {
			m, err := c.GetMessage()
			if err != nil {
				return err
			}
			if m.Type() == mpl.TypeDisconnect {
				return nil
			}
			fmt.Fprintln(out, m.Text())
		}
	})
	for _, s := range args {
		if err := c.PostMessage(mpl.NewStringMessage(s, mpl.TypeString)); err != nil {
			return multierr.Append(errors.Wrapf(err, "post %q", s), c.Close(&g))
		}
	}
	if err := c.Close(&g); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "sent %d messages to %s after %d connect attempt(s)\n", len(args), ep, attempts)
	return nil
}
