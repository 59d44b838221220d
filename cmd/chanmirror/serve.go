package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chanmirror/internal/bus"
	"chanmirror/internal/control"
	"chanmirror/internal/domain"
	"chanmirror/internal/mirror"
	"chanmirror/internal/pacing"
	"chanmirror/internal/server"

	"github.com/spf13/cobra"
)

// shutdownTimeout bounds how long serve waits for an active run to reach a
// message boundary and write its summary.
const shutdownTimeout = 30 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Runs outlive ctx so that a shutdown can stop them cooperatively.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	messageBus := bus.New(100, logger)

	var surfaces []domain.Surface
	if cfg.Control.CLI.Enabled && !noConsole {
		surfaces = append(surfaces, control.NewCLI(control.CLIConfig{Logger: logger, In: os.Stdin, Out: os.Stdout}))
	}
	if cfg.Control.Discord.Enabled {
		if err := a.discord.Open(); err != nil {
			return fmt.Errorf("discord gateway: %w", err)
		}
		defer a.discord.Close()
		surfaces = append(surfaces, control.NewDiscord(control.DiscordConfig{
			Session:   a.discord.Session(),
			Operators: cfg.Control.OperatorIDs,
			GuildID:   cfg.Mirror.TargetGuildID,
			Logger:    logger,
		}))
	}
	if cfg.Control.Telegram.Enabled {
		surfaces = append(surfaces, control.NewTelegram(control.TelegramConfig{
			Token:     cfg.Control.Telegram.Token,
			AllowFrom: cfg.Control.Telegram.AllowFrom,
			Logger:    logger,
		}))
	}
	if cfg.Server.Enabled {
		surfaces = append(surfaces, server.New(server.Config{
			Host:      cfg.Server.Host,
			Port:      cfg.Server.Port,
			AuthToken: cfg.Server.AuthToken,
			WebSocket: cfg.Server.WebSocket,
			Metrics:   cfg.Telemetry.Metrics,
			Status:    a.mirror,
			Events:    a.events,
			Logger:    logger,
			Version:   version,
		}))
	}

	for _, s := range surfaces {
		go func() {
			if err := s.Start(ctx, messageBus); err != nil {
				logger.Error("control surface stopped", "surface", s.Name(), "err", err)
			}
		}()
		logger.Info("control surface enabled", "surface", s.Name())
	}

	dispatcher := control.NewDispatcher(control.DispatcherConfig{
		Mirror:      a.mirror,
		Bus:         messageBus,
		Logger:      logger,
		ShowSecrets: cfg.Report.ShowWebhookURLs,
	})
	go dispatcher.Run(runCtx)

	if cfg.Control.AutoStart {
		go autoStart(ctx, runCtx, a.mirror, time.Duration(cfg.Control.AutoStartDelaySeconds)*time.Second)
	}

	logger.Info("chanmirror serving. Press Ctrl+C to stop.", "version", version)

	<-ctx.Done()
	logger.Info("shutting down...")

	var shutdownErr error
	if a.mirror.Stop() {
		if !waitIdle(a.mirror, shutdownTimeout) {
			logger.Warn("run did not stop in time, cancelling in-flight requests")
			cancelRuns()
			if !waitIdle(a.mirror, 5*time.Second) {
				shutdownErr = fmt.Errorf("shutdown timed out")
			}
		}
	}
	cancelRuns()
	for _, s := range surfaces {
		if err := s.Stop(); err != nil {
			logger.Warn("surface stop failed", "surface", s.Name(), "err", err)
		}
	}
	messageBus.Close()

	if shutdownErr == nil {
		logger.Info("shutdown complete")
	}
	return shutdownErr
}

// autoStart begins a run once the surfaces have had time to connect.
func autoStart(ctx, runCtx context.Context, m *mirror.Orchestrator, delay time.Duration) {
	if err := pacing.Sleep(ctx, nil, delay); err != nil {
		return
	}
	id, err := m.Start(runCtx)
	if err != nil {
		logger.Warn("auto-start skipped", "err", err)
		return
	}
	logger.Info("auto-started mirror run", "run_id", id)
}

func waitIdle(m *mirror.Orchestrator, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for m.State() != mirror.StateIdle {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
	return true
}
