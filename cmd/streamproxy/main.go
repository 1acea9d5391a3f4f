// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MetaPowerMatrix/streamproxy/internal/commons"
	"github.com/MetaPowerMatrix/streamproxy/internal/config"
	"github.com/MetaPowerMatrix/streamproxy/internal/proxy"
	"github.com/MetaPowerMatrix/streamproxy/internal/registry"
	"github.com/MetaPowerMatrix/streamproxy/internal/server"
	"github.com/MetaPowerMatrix/streamproxy/internal/telemetry"
)

const cleanupInterval = 30 * time.Second

func main() {
	v, err := config.InitConfig()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		log.Fatalf("validate configuration: %v", err)
	}

	logger, err := commons.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	interactiveEP := &proxy.Interactive{
		Registry:       registry.NewInteractive(),
		Backend:        proxy.NewBackendSlot(),
		Touch:          &proxy.TouchPlayer{Dir: cfg.TouchSoundDirectory, FrameSize: cfg.TouchFrameSize, Pace: time.Duration(cfg.TouchFramePaceMs) * time.Millisecond, Logger: logger},
		ChunkThreshold: cfg.InteractiveChunkThreshold,
		ReceiveTimeout: time.Duration(cfg.ReceiveTimeoutMs) * time.Millisecond,
		Logger:         logger,
	}

	telephonyEP := &proxy.Telephony{
		Registry:             registry.NewTelephony(),
		Backend:              proxy.NewBackendSlot(),
		ChunkThreshold:       cfg.TelephonyChunkThreshold,
		AggregateThreshold:   cfg.TelephonyAggregateThreshold,
		ReceiveTimeout:       time.Duration(cfg.ReceiveTimeoutMs) * time.Millisecond,
		WelcomeContainerPath: cfg.WelcomeContainerPath,
		DebugAudioDir:        cfg.DebugAudioDir,
		Logger:               logger,
	}

	var metricsHandler http.Handler
	var shutdownTelemetry func(context.Context) error
	if cfg.MetricsEnabled {
		provider, err := telemetry.NewProvider(telemetry.Gauges{
			InteractiveSessions:          func() int64 { return int64(interactiveEP.Registry.Status().SessionCount) },
			InteractiveBackendRegistered: func() bool { return interactiveEP.Backend.Get() != nil },
			TelephonyCalls:               func() int64 { return int64(telephonyEP.Registry.Status().SessionCount) },
			TelephonyBackendRegistered:   func() bool { return telephonyEP.Backend.Get() != nil },
		})
		if err != nil {
			log.Fatalf("init telemetry: %v", err)
		}
		metricsHandler = provider.Handler
		shutdownTelemetry = provider.Shutdown
	}

	srv := server.New(interactiveEP, telephonyEP, logger, metricsHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.RunCleanupLoop(ctx, cleanupInterval)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Engine,
	}

	go func() {
		logger.Infof("streamproxy listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received, draining connections")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Errorf("telemetry shutdown failed: %v", err)
		}
	}
}
