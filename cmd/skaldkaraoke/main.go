/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/skald_karaoke/internal/config"
	"github.com/friendsincode/skald_karaoke/internal/events"
	"github.com/friendsincode/skald_karaoke/internal/history"
	"github.com/friendsincode/skald_karaoke/internal/library"
	"github.com/friendsincode/skald_karaoke/internal/logbuffer"
	"github.com/friendsincode/skald_karaoke/internal/logging"
	"github.com/friendsincode/skald_karaoke/internal/media"
	"github.com/friendsincode/skald_karaoke/internal/playback"
	"github.com/friendsincode/skald_karaoke/internal/prefs"
	"github.com/friendsincode/skald_karaoke/internal/songqueue"
	"github.com/friendsincode/skald_karaoke/internal/stream"
	"github.com/friendsincode/skald_karaoke/internal/telemetry"
	"github.com/friendsincode/skald_karaoke/internal/version"
	"github.com/friendsincode/skald_karaoke/internal/web"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "skaldkaraoke",
	Short: "Skald Karaoke - Single-host karaoke party server",
	Long:  "Skald Karaoke turns one machine into a karaoke party: phones submit songs, the server transcodes and streams them to a shared display with fair turn-taking.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the karaoke server",
	Long:  "Start the HTTP server, playback orchestrator, and stream pipeline",
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the song library and write the manifest",
	RunE:  runScan,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration for commands that need it.
func loadConfig(logWriter *logbuffer.Writer) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if logWriter != nil {
		logger = logging.SetupWithWriter(cfg.Environment, logWriter)
	} else {
		logger = logging.Setup(cfg.Environment)
	}
	return nil
}

// nowPlayingFunc adapts a closure into the queue's now-playing source,
// breaking the construction cycle between queue and controller.
type nowPlayingFunc func() (string, bool)

func (f nowPlayingFunc) NowPlayingUser() (string, bool) { return f() }

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(nil); err != nil {
		return err
	}

	lib := library.NewService(cfg.SongsDir, cfg.ManifestPath, logger)
	result, err := lib.Scan(cmd.Context())
	if err != nil {
		return fmt.Errorf("scan library: %w", err)
	}
	logger.Info().Int("songs", result.Songs).Str("manifest", cfg.ManifestPath).Msg("scan finished")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logBuf := logbuffer.New(5000)
	if err := loadConfig(logbuffer.NewWriter(logBuf, nil)); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("Skald Karaoke starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "skald-karaoke",
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

	store, err := prefs.Open(cfg.PrefsPath, logger)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}

	bus := events.NewBus()

	lib := library.NewService(cfg.SongsDir, cfg.ManifestPath, logger)
	if err := lib.LoadManifest(); err != nil {
		logger.Info().Err(err).Msg("no usable manifest, scanning library")
		if _, err := lib.Scan(cmd.Context()); err != nil {
			return fmt.Errorf("scan library: %w", err)
		}
	}

	hist, err := history.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer hist.Close()
	hist.Attach(bus)

	prober := media.NewProber(cfg.FFprobeBin, logger)
	resolver := media.NewResolver(cfg.ScratchRoot, prober, logger)
	if err := os.MkdirAll(resolver.ScratchBase(), 0o755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(resolver.ScratchBase())

	streams := stream.NewManager(stream.Config{
		FFmpegBin:       cfg.FFmpegBin,
		HardwareEncoder: cfg.HardwareEncoder,
		PollInterval:    cfg.BufferPollInterval,
		PollMax:         cfg.BufferPollMax,
	}, store, logger)

	var controller *playback.Controller
	nowPlaying := nowPlayingFunc(func() (string, bool) {
		if controller == nil {
			return "", false
		}
		return controller.NowPlayingUser()
	})
	queue := songqueue.NewManager(bus, store, nowPlaying, lib, logger)

	controller = playback.NewController(playback.Config{
		Format:              media.StreamingFormat(cfg.StreamingFormat),
		ConnectPollInterval: cfg.ConnectPollInterval,
		ConnectPollMax:      cfg.ConnectPollMax,
	}, queue, resolver, streams, bus, logger)

	checker := version.NewChecker(logger)
	checker.Start(cmd.Context())
	defer checker.Stop()

	handler := web.New(queue, controller, lib, hist, store, bus, logBuf, checker, resolver.ScratchBase(), logger)

	playCtx, stopPlayback := context.WithCancel(context.Background())
	go controller.Run(playCtx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	metricsServer := &http.Server{
		Addr:              cfg.MetricsBind,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", metricsServer.Addr).Msg("metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	stopPlayback()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := metricsServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("metrics shutdown failed")
	}

	streams.KillEncoder()

	logger.Info().Msg("Skald Karaoke stopped")
	return nil
}
