/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wdudokvanheel/care-chords/internal/config"
	"github.com/wdudokvanheel/care-chords/internal/logging"
	"github.com/wdudokvanheel/care-chords/internal/server"
	"github.com/wdudokvanheel/care-chords/internal/telemetry"
	"github.com/wdudokvanheel/care-chords/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

// Flag overrides applied on top of file and environment config.
var (
	flagBind      string
	flagPort      int
	flagMediaRoot string
	flagMonitor   string
	flagNoDevice  bool
)

var rootCmd = &cobra.Command{
	Use:   "carechords",
	Short: "Care Chords - bedside music player",
	Long:  "Care Chords plays playlists from a local library through a mixing graph with ambient audio, a sleep timer, and a remote control API.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the player and control API",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagBind, "bind", "", "HTTP bind address")
	serveCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP port")
	serveCmd.Flags().StringVar(&flagMediaRoot, "media-root", "", "Directory holding the music library")
	serveCmd.Flags().StringVar(&flagMonitor, "monitor-source", "", "Ambient audio file looped under the music")
	serveCmd.Flags().BoolVar(&flagNoDevice, "no-device", false, "Do not open the sound card, drain the mix instead")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("bind") {
		cfg.HTTPBind = flagBind
	}
	if flags.Changed("port") {
		cfg.HTTPPort = flagPort
	}
	if flags.Changed("media-root") {
		cfg.MediaRoot = flagMediaRoot
	}
	if flags.Changed("monitor-source") {
		cfg.MonitorSource = flagMonitor
	}
	if flags.Changed("no-device") {
		cfg.AudioOutput = !flagNoDevice
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Str("config_file", cfg.File).Msg("Care Chords starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "carechords",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		_ = srv.Close()
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case <-quit:
	case serveErr = <-srv.Err():
	}

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("Care Chords stopped")
	return serveErr
}
