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
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"trpc.group/trpc-go/mpl"
	"trpc.group/trpc-go/mpl/log"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mplecho",
	Short: "mpl echo service and client",
	Long: `mplecho hosts an echo service on the mpl message passing layer, or
connects to one and sends messages.

Every flag can also be set from the environment as MPL_<FLAG>, with dashes
replaced by underscores (e.g. MPL_LOG_LEVEL=debug). A .env file in the
working directory is loaded first.`,
	PersistentPreRunE: processConfig,
	SilenceUsage:      true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd, sendCmd)

	key := "log-level"
	rootCmd.PersistentFlags().String(key, "info", "log level (debug, info, warn, error)")
	key = "fixed-size"
	rootCmd.PersistentFlags().Int(key, 0, "use fixed-size envelopes of this many bytes, 0 for variable size")
	key = "max-message-size"
	rootCmd.PersistentFlags().Int(key, 64<<20, "largest accepted payload in bytes, 0 for no limit")
	key = "contiguous"
	rootCmd.PersistentFlags().Bool(key, false, "write header and payload in one socket call")
	key = "io-retries"
	rootCmd.PersistentFlags().Int(key, 1, "retries of a failed socket send or receive")
	key = "keepalive"
	rootCmd.PersistentFlags().Duration(key, 0, "tcp keep alive period, 0 to disable")
	key = "nodelay"
	rootCmd.PersistentFlags().Bool(key, true, "set TCP_NODELAY")
}

// initConfig loads env files and makes viper read MPL_ variables.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("mpl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return log.SetLevel(viper.GetString("log-level"))
}

// commonOptions converts the shared flags to mpl options.
func commonOptions() []mpl.Option {
	opts := []mpl.Option{
		mpl.WithMaxMessageSize(viper.GetInt("max-message-size")),
		mpl.WithContiguousWrite(viper.GetBool("contiguous")),
		mpl.WithIORetries(viper.GetInt("io-retries"), time.Microsecond),
		mpl.WithKeepAlive(viper.GetDuration("keepalive")),
		mpl.WithNoDelay(viper.GetBool("nodelay")),
	}
	if size := viper.GetInt("fixed-size"); size > 0 {
		opts = append(opts, mpl.WithFixedMessageSize(size))
	}
	return opts
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
