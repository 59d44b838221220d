package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"chanmirror/internal/bus"
	"chanmirror/internal/config"
	"chanmirror/internal/domain"
	"chanmirror/internal/history"
	"chanmirror/internal/media"
	"chanmirror/internal/mirror"
	"chanmirror/internal/pacing"
	"chanmirror/internal/platform"
	"chanmirror/internal/provision"
	"chanmirror/internal/replicate"
	"chanmirror/internal/report"
	"chanmirror/internal/telemetry"
	"chanmirror/internal/transport"
	"chanmirror/internal/webhook"
	"chanmirror/internal/workqueue"
)

// app holds the wired pipeline shared by the run and serve commands.
type app struct {
	cfg     *config.Config
	discord *platform.Discord
	events  *bus.EventBus
	mirror  *mirror.Orchestrator
	queue   *workqueue.Queue[*domain.DownloadedAsset]
	closers []func() error
}

func buildApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Telemetry.Metrics {
		telemetry.Init()
	}
	shutdownTracing, err := telemetry.InitTracing(cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version, logger)
	if err != nil {
		logger.Warn("tracing disabled", "err", err)
	} else {
		a.closers = append(a.closers, func() error { shutdownTracing(); return nil })
	}

	httpTimeout := time.Duration(cfg.Discord.TimeoutSeconds) * time.Second
	a.discord, err = platform.NewDiscord(platform.DiscordConfig{
		Token:      cfg.Discord.Token,
		Bot:        cfg.Discord.Bot,
		HTTPClient: transport.SharedHTTPClient(httpTimeout),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	retry := transport.DefaultPolicy()
	retry.MaxRetries = cfg.Media.MaxRetries

	a.queue = workqueue.New[*domain.DownloadedAsset](cfg.Media.MaxConcurrentUploads, logger)
	a.closers = append(a.closers, func() error { a.queue.Close(); return nil })

	fetcher := media.New(media.Config{
		Logger:    logger,
		UserAgent: cfg.Media.UserAgent,
		MaxBytes:  cfg.Media.MaxAttachmentBytes,
		Timeout:   time.Duration(cfg.Media.FetchTimeoutSeconds) * time.Second,
		Retry:     retry,
	})
	poster := webhook.New(webhook.Config{
		Logger:  logger,
		Timeout: time.Duration(cfg.Delivery.PostTimeoutSeconds) * time.Second,
		Retry:   retry,
	})

	replicator := replicate.New(replicate.Config{
		Queue:              a.queue,
		Fetcher:            fetcher,
		Poster:             poster,
		Direct:             a.discord,
		Limiter:            pacing.NewRateLimiter(cfg.Pacing.DeliveryBurst, cfg.Pacing.DeliveriesPerMinute),
		Logger:             logger,
		MaxAttachmentBytes: cfg.Media.MaxAttachmentBytes,
		MaxMediaPerMessage: cfg.Media.MaxMediaPerMessage,
		MaxMessageLength:   cfg.Delivery.MaxMessageLength,
		TruncateText:       cfg.Delivery.TruncateText,
		Username:           cfg.Delivery.Username,
	})

	pace := pacingFrom(cfg.Pacing)
	reader := history.New(history.Config{
		Source:      a.discord,
		Logger:      logger,
		PageDelay:   pace.PageDelay,
		MaxMessages: cfg.Mirror.MaxMessages,
		OnPage: func(channelID string, page, size int) {
			telemetry.Inc(telemetry.HistoryPages)
		},
	})

	provisioner := provision.New(provision.Config{
		Creator:      a.discord,
		Logger:       logger,
		Naming:       cfg.Mirror.Naming,
		Prefix:       cfg.Mirror.ChannelPrefix,
		EndpointName: cfg.Delivery.WebhookName,
		CopyPerms:    cfg.Mirror.CopyPermissions,
	})

	sink, err := a.buildSinks()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.events = bus.NewEventBus(logger)
	a.mirror = mirror.New(mirror.Config{
		Directory:   a.discord,
		Provisioner: provisioner,
		Reader:      reader,
		Replicator:  replicator,
		Sink:        sink,
		Events:      a.events,
		Logger:      logger,
		Pacing:      pace,
		Sources: mirror.SourceSelection{
			TargetGuildID: cfg.Mirror.TargetGuildID,
			SourceGuildID: cfg.Mirror.SourceGuildID,
			ChannelIDs:    cfg.Mirror.SourceChannelIDs,
		},
		DirectSend:    cfg.Delivery.Mode == config.DeliveryDirect,
		WebhookName:   cfg.Delivery.WebhookName,
		ProgressEvery: cfg.Mirror.ProgressEvery,
		QueueStats:    a.queue.Stats,
	})
	return a, nil
}

func pacingFrom(p config.PacingConfig) pacing.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return pacing.Config{
		PageDelay:         ms(p.PageDelayMs),
		InterMessageDelay: ms(p.InterMessageDelayMs),
		ErrorDelay:        ms(p.ErrorDelayMs),
		ProvisionDelay:    ms(p.ProvisionDelayMs),
	}
}

// buildSinks assembles every configured summary destination.
func (a *app) buildSinks() (report.Sink, error) {
	rc := a.cfg.Report
	multi := &report.Multi{Logger: logger}

	if rc.JSONPath != "" {
		multi.Sinks = append(multi.Sinks, &report.JSONFile{Path: rc.JSONPath})
	}
	if rc.SQLitePath != "" {
		store, err := report.OpenSQLite(rc.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("summary store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		multi.Sinks = append(multi.Sinks, store)
	}
	if rc.SlackWebhookURL != "" {
		multi.Sinks = append(multi.Sinks, &report.SlackNotifier{WebhookURL: rc.SlackWebhookURL, Channel: rc.SlackChannel})
	}
	if rc.Console {
		multi.Sinks = append(multi.Sinks, &report.Console{Out: os.Stdout, ShowSecrets: rc.ShowWebhookURLs})
	}
	if len(multi.Sinks) == 0 {
		return nil, nil
	}
	return multi, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
