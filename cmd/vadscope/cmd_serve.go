// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/affectlab/vadscope/pkg/logging"
	"github.com/affectlab/vadscope/services/dataset/server"
)

var (
	serveConfigPath string
	serveVerbose    bool
)

// serveCmd runs the dataset HTTP server.
//
// # Examples
//
//	vadscope serve                       # defaults, ./data
//	vadscope serve --config etc/vadscope.yaml
//	PORT=9000 vadscope serve             # env overrides config
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chunked dataset over HTTP",
	Long: `Starts the dataset server. It exposes the metadata, chunk, and
statistics endpoints the visualization's loader consumes, plus /health
and /metrics.

Configuration priority is environment > config file > defaults. The data
directory must contain the files produced by "vadscope chunk".`,
	RunE: runServeCommand,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "",
		"Path to YAML config file")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	level := logging.LevelInfo
	if serveVerbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Level: level, Service: "dataset-server"})

	cfg, err := server.LoadConfig(serveConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	srv, err := server.New(cfg, logger.Slog())
	if err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
