// Package main implements the image search API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd returns the CLI. Running it without a subcommand serves.
func newRootCmd() *cobra.Command {
	v := newViper()
	var cfgFile string
	var cfg Config

	root := &cobra.Command{
		Use:          "imagesearch",
		Short:        "Text-to-image search over a directory of images",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := readConfig(v, cfgFile); err != nil {
				return err
			}
			c, err := loadConfig(v)
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./imagesearch.{yaml,json,toml})")
	addFlags(root.PersistentFlags(), v)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Build the index and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfg)
		},
	}
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Build the index and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(cfg, cmd.ErrOrStderr())
			if err := inspect(cmd.Context(), cfg, logger, cmd.OutOrStdout()); err != nil {
				logger.Error("inspect failed", "err", err)
				return err
			}
			return nil
		},
	}
	root.RunE = serveCmd.RunE
	root.AddCommand(serveCmd, inspectCmd, configCmd(v))
	return root
}

func runServe(cmd *cobra.Command, cfg Config) error {
	logger := newLogger(cfg, cmd.OutOrStdout())
	if err := serve(cmd.Context(), cfg, logger, nil); err != nil {
		logger.Error("server exited with error", "err", err)
		return err
	}
	return nil
}

// configCmd prints the merged configuration.
func configCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys := v.AllKeys()
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%v\n", k, v.Get(k))
			}
			return nil
		},
	}
}
