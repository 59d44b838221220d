// Package mirror drives a full mirror run: it provisions destination
// channels, replicates every source channel's history concurrently and
// writes the run summary.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"chanmirror/internal/bus"
	"chanmirror/internal/domain"
	"chanmirror/internal/history"
	"chanmirror/internal/pacing"
	"chanmirror/internal/provision"
	"chanmirror/internal/replicate"
	"chanmirror/internal/report"
	"chanmirror/internal/telemetry"
	"chanmirror/internal/workqueue"
)

const (
	DefaultProgressEvery  = 25
	defaultSummaryTimeout = 30 * time.Second
)

// MessageReplicator replicates one history message into a destination.
type MessageReplicator interface {
	Replicate(ctx context.Context, msg domain.HistoryMessage, mode domain.DeliveryMode) replicate.Result
}

// Config wires the orchestrator to its collaborators.
type Config struct {
	Directory   domain.Directory
	Provisioner *provision.Provisioner
	Reader      *history.Reader
	Replicator  MessageReplicator
	Sink        report.Sink // optional
	Events      *bus.EventBus
	Logger      *slog.Logger
	Pacing      pacing.Config
	Sources     SourceSelection
	// DirectSend posts as the authenticated account instead of through the
	// channel webhooks. Webhooks are created either way.
	DirectSend     bool
	WebhookName    string
	ProgressEvery  int
	QueueStats     func() workqueue.Stats
	NewRunID       func() string
	SummaryTimeout time.Duration
}

// Orchestrator runs at most one mirror run at a time.
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	state State
	run   *runState
	last  *report.Summary
}

// New creates an idle Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = defaultSummaryTimeout
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "mirror"),
		state:  StateIdle,
	}
}

// Run performs a complete mirror run and returns its summary.
// It returns domain.ErrAlreadyRunning if a run is active.
func (o *Orchestrator) Run(ctx context.Context) (*report.Summary, error) {
	run, err := o.begin()
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, run), nil
}

// Start begins a run in the background and returns its ID.
// The transition out of Idle happens before Start returns.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	run, err := o.begin()
	if err != nil {
		return "", err
	}
	go o.execute(ctx, run)
	return run.id, nil
}

// Stop asks the active run to stop at the next page or message boundary.
// In-flight requests are allowed to finish. Returns false when idle.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()
	if run == nil {
		return false
	}
	if !run.stop.Stopped() {
		o.logger.Info("stop requested", "run", run.id)
		o.emit(bus.EventRunStopping, map[string]any{"runId": run.id})
	}
	run.stop.Trigger()
	return true
}

// State returns the current lifecycle phase.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns live counters for the active run, or the last summary.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{State: o.state, Last: o.last}
	run := o.run
	o.mu.Unlock()

	if run == nil {
		st.Channels = []ChannelStatus{}
		if st.Last != nil {
			st.Totals = st.Last.Stats
		}
		return st
	}

	st.RunID = run.id
	st.StartedAt = run.started
	st.Stopping = run.stop.Stopped()
	run.mu.Lock()
	st.Sources = len(run.sources)
	st.Skipped = run.skipped
	run.mu.Unlock()

	chans := run.snapshot()
	reports := make([]report.ChannelReport, 0, len(chans))
	st.Channels = make([]ChannelStatus, 0, len(chans))
	for _, c := range chans {
		r := c.report()
		c.mu.Lock()
		done := c.done
		c.mu.Unlock()
		reports = append(reports, r)
		st.Channels = append(st.Channels, ChannelStatus{
			ChannelReport: r,
			Processed:     c.stats.processed.Load(),
			Done:          done,
		})
	}
	st.Totals = report.ComputeTotals(reports)
	return st
}

// Endpoints returns the webhooks of the active run, or of the last one.
func (o *Orchestrator) Endpoints() []report.Webhook {
	o.mu.Lock()
	run, last := o.run, o.last
	o.mu.Unlock()
	if run != nil {
		return run.webhooks()
	}
	if last != nil {
		return append([]report.Webhook(nil), last.Webhooks...)
	}
	return nil
}

// LastSummary returns the summary of the most recent finished run.
func (o *Orchestrator) LastSummary() *report.Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Orchestrator) begin() (*runState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return nil, domain.ErrAlreadyRunning
	}
	o.run = newRunState(o.cfg.NewRunID())
	o.state = StateProvisioning
	return o.run, nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) emit(eventType string, payload map[string]any) {
	o.cfg.Events.Emit(bus.Event{Type: eventType, Source: "mirror", Payload: payload})
}

func (o *Orchestrator) execute(ctx context.Context, run *runState) (summary *report.Summary) {
	telemetry.Inc(telemetry.RunsStarted)
	telemetry.SetGauge(telemetry.RunActive, 1)
	ctx, span := telemetry.StartSpan(ctx, "mirror.run", attribute.String("run.id", run.id))

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("mirror run panic: %v", r)
			o.logger.Error("mirror run panicked", "run", run.id, "panic", r, "stack", string(debug.Stack()))
		}
		summary = o.finish(ctx, run, runErr)
		telemetry.SetGauge(telemetry.RunActive, 0)
		if telemetry.RunDuration != nil {
			telemetry.RunDuration.Observe(time.Since(run.started).Seconds())
		}
		telemetry.EndSpan(span, runErr)
	}()

	o.logger.Info("mirror run started", "run", run.id, "target", o.cfg.Sources.TargetGuildID)
	o.emit(bus.EventRunStarted, map[string]any{"runId": run.id})

	if runErr = o.provisionAll(ctx, run); runErr != nil {
		o.logger.Error("mirror run failed", "run", run.id, "err", runErr)
		return
	}
	o.replicateAll(ctx, run)
	return
}

func (o *Orchestrator) provisionAll(ctx context.Context, run *runState) error {
	target := o.cfg.Sources.TargetGuildID
	guild, err := o.cfg.Directory.Guild(ctx, target)
	if err != nil {
		return fmt.Errorf("look up target guild %s: %w", target, err)
	}
	sources, err := ResolveSources(ctx, o.cfg.Directory, o.cfg.Sources, o.logger)
	if err != nil {
		return fmt.Errorf("resolve sources: %w", err)
	}

	run.mu.Lock()
	run.guild = *guild
	run.sources = sources
	run.mu.Unlock()

	o.logger.Info("provisioning destination channels",
		"run", run.id,
		"guild", guild.Name,
		"sources", len(sources),
	)

	for i, src := range sources {
		if i > 0 {
			if err := pacing.Sleep(ctx, run.stop, o.cfg.Pacing.ProvisionDelay); err != nil {
				o.logger.Info("provisioning interrupted", "run", run.id, "provisioned", i, "reason", err)
				break
			}
		} else if run.stop.Stopped() {
			break
		}

		pair, err := o.cfg.Provisioner.Provision(ctx, guild.ID, i, src)
		if err != nil {
			telemetry.Inc(telemetry.ProvisionFailures)
			run.mu.Lock()
			run.skipped++
			run.mu.Unlock()
			o.logger.Warn("source channel skipped", "source", src.Name, "id", src.ID, "err", err)
			o.emit(bus.EventChannelSkipped, map[string]any{
				"runId": run.id, "sourceId": src.ID, "sourceName": src.Name, "error": err.Error(),
			})
			continue
		}

		telemetry.Inc(telemetry.ChannelsProvisioned)
		run.addChannel(*pair)
		o.emit(bus.EventChannelProvisioned, map[string]any{
			"runId": run.id, "sourceId": src.ID, "channelId": pair.Channel.ID, "channelName": pair.Channel.Name,
		})
	}
	return nil
}

func (o *Orchestrator) replicateAll(ctx context.Context, run *runState) {
	chans := run.snapshot()
	if len(chans) == 0 {
		o.logger.Warn("no destination channels provisioned", "run", run.id)
		return
	}
	o.setState(StateReplicating)

	// Pipelines never return errors; a failed channel must not cancel its siblings.
	var g errgroup.Group
	for _, c := range chans {
		g.Go(func() error {
			o.pipeline(ctx, run, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) deliveryMode(p provision.Pair) domain.DeliveryMode {
	if o.cfg.DirectSend {
		return domain.DirectSend{Channel: p.Channel}
	}
	return domain.ViaEndpoint{Endpoint: p.Endpoint}
}

func (o *Orchestrator) pipeline(ctx context.Context, run *runState, c *channelRun) {
	log := o.logger.With("run", run.id, "channel", c.pair.Channel.Name, "source", c.pair.Source.ID)
	telemetry.AddGauge(telemetry.ChannelsRunning, 1)
	ctx, span := telemetry.StartSpan(ctx, "mirror.channel",
		attribute.String("channel.source", c.pair.Source.ID),
		attribute.String("channel.destination", c.pair.Channel.ID),
	)
	defer func() {
		if r := recover(); r != nil {
			c.stats.errors.Add(1)
			log.Error("channel pipeline panicked", "panic", r, "stack", string(debug.Stack()))
		}
		c.markDone()
		telemetry.AddGauge(telemetry.ChannelsRunning, -1)
		telemetry.EndSpan(span, nil)
		o.emit(bus.EventChannelDone, map[string]any{
			"runId": run.id, "channelId": c.pair.Channel.ID, "stats": c.report(),
		})
	}()

	hist := o.cfg.Reader.Read(ctx, c.pair.Source.ID, run.stop)
	c.stats.historySize.Store(int64(hist.Len()))
	if hist.Err != nil {
		c.setHistoryErr(hist.Err)
		log.Warn("history incomplete", "fetched", hist.Len(), "err", hist.Err)
	}
	o.emit(bus.EventHistoryFetched, map[string]any{
		"runId": run.id, "channelId": c.pair.Channel.ID, "messages": hist.Len(),
	})

	mode := o.deliveryMode(c.pair)
	total := hist.Len()
	for {
		if run.stop.Stopped() || ctx.Err() != nil {
			log.Info("channel pipeline stopped", "processed", c.stats.processed.Load(), "remaining", hist.Len())
			return
		}
		msg, ok := hist.Next()
		if !ok {
			break
		}

		res := o.cfg.Replicator.Replicate(ctx, msg, mode)
		c.record(res)
		if res.Outcome == replicate.Failed {
			log.Warn("message failed", "message", msg.ID, "err", res.Err)
		}

		n := c.stats.processed.Add(1)
		if n%int64(o.cfg.ProgressEvery) == 0 {
			o.progress(log, run, c, n, total)
		}

		delay := o.cfg.Pacing.InterMessageDelay
		if res.Outcome == replicate.Failed {
			delay = o.cfg.Pacing.ErrorDelay
		}
		if err := pacing.Sleep(ctx, run.stop, delay); err != nil {
			log.Info("channel pipeline stopped", "processed", n, "remaining", hist.Len())
			return
		}
	}

	log.Info("channel done",
		"messages", c.stats.messages.Load(),
		"videos", c.stats.videos.Load(),
		"errors", c.stats.errors.Load(),
		"webhook", c.pair.Endpoint.ID,
	)
}

func (c *channelRun) record(res replicate.Result) {
	switch res.Outcome {
	case replicate.Delivered:
		c.stats.messages.Add(1)
		c.stats.media.Add(int64(res.Media))
		if res.HadVideo {
			c.stats.videos.Add(1)
		}
	case replicate.Skipped:
		c.stats.skippedMessages.Add(1)
	case replicate.Failed:
		c.stats.errors.Add(1)
	}
	c.stats.skippedMedia.Add(int64(res.SkippedMedia))
	c.stats.failedMedia.Add(int64(res.FailedMedia))
}

func (o *Orchestrator) progress(log *slog.Logger, run *runState, c *channelRun, processed int64, total int) {
	log.Info("progress",
		"processed", processed,
		"total", total,
		"delivered", c.stats.messages.Load(),
		"errors", c.stats.errors.Load(),
	)
	if o.cfg.QueueStats != nil {
		qs := o.cfg.QueueStats()
		telemetry.SetGauge(telemetry.QueueRunning, float64(qs.Running))
		telemetry.SetGauge(telemetry.QueuePending, float64(qs.Pending))
	}
	o.emit(bus.EventChannelProgress, map[string]any{
		"runId":     run.id,
		"channelId": c.pair.Channel.ID,
		"processed": processed,
		"total":     total,
		"delivered": c.stats.messages.Load(),
		"errors":    c.stats.errors.Load(),
	})
}

func (o *Orchestrator) finish(ctx context.Context, run *runState, runErr error) *report.Summary {
	o.setState(StateSummarizing)

	state := report.StateCompleted
	switch {
	case runErr != nil:
		state = report.StateFailed
	case run.stop.Stopped() || ctx.Err() != nil:
		state = report.StateStopped
	}

	channels := run.reports()
	run.mu.Lock()
	guild := run.guild
	var sourceGuild string
	if len(run.sources) > 0 {
		sourceGuild = run.sources[0].GuildID
	}
	run.mu.Unlock()

	s := &report.Summary{
		RunID:          run.id,
		Timestamp:      time.Now().UTC(),
		StartedAt:      run.started.UTC(),
		Duration:       time.Since(run.started).Round(time.Millisecond).String(),
		State:          state,
		Server:         guild.Name,
		ServerID:       o.cfg.Sources.TargetGuildID,
		SourceServerID: sourceGuild,
		WebhookName:    o.cfg.WebhookName,
		Webhooks:       run.webhooks(),
		Channels:       channels,
		Stats:          report.ComputeTotals(channels),
	}
	if runErr != nil {
		s.Error = runErr.Error()
	}

	if o.cfg.Sink != nil {
		// The summary is written even when the run's context was cancelled.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.SummaryTimeout)
		if err := o.cfg.Sink.Write(wctx, s); err != nil {
			o.logger.Error("failed to write run summary", "run", run.id, "err", err)
		}
		cancel()
	}

	o.mu.Lock()
	o.last = s
	o.run = nil
	o.state = StateIdle
	o.mu.Unlock()

	o.logger.Info("mirror run finished",
		"run", run.id,
		"state", state,
		"channels", s.Stats.TotalChannels,
		"success", s.Stats.TotalSuccess,
		"errors", s.Stats.TotalError,
		"media", s.Stats.TotalMedia,
		"videos", s.Stats.TotalVideos,
		"duration", s.Duration,
	)
	o.emit(bus.EventRunSummarized, map[string]any{"runId": run.id, "state": state, "stats": s.Stats})
	return s
}
