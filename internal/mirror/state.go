package mirror

import (
	"sync"
	"sync/atomic"
	"time"

	"chanmirror/internal/domain"
	"chanmirror/internal/pacing"
	"chanmirror/internal/provision"
	"chanmirror/internal/report"
)

// State is the orchestrator's lifecycle phase.
type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateReplicating  State = "replicating"
	StateSummarizing  State = "summarizing"
)

// channelStats is updated concurrently by one pipeline and read by Status.
type channelStats struct {
	messages        atomic.Int64
	errors          atomic.Int64
	media           atomic.Int64
	videos          atomic.Int64
	skippedMedia    atomic.Int64
	failedMedia     atomic.Int64
	skippedMessages atomic.Int64
	processed       atomic.Int64
	historySize     atomic.Int64
}

type channelRun struct {
	pair  provision.Pair
	stats channelStats

	mu         sync.Mutex
	historyErr error
	done       bool
}

func (c *channelRun) setHistoryErr(err error) {
	c.mu.Lock()
	c.historyErr = err
	c.mu.Unlock()
}

func (c *channelRun) markDone() {
	c.mu.Lock()
	c.done = true
	c.mu.Unlock()
}

func (c *channelRun) report() report.ChannelReport {
	c.mu.Lock()
	histErr := c.historyErr
	c.mu.Unlock()

	r := report.ChannelReport{
		Name:            c.pair.Channel.Name,
		ID:              c.pair.Channel.ID,
		SourceID:        c.pair.Source.ID,
		SourceName:      c.pair.Source.Name,
		HistorySize:     int(c.stats.historySize.Load()),
		Messages:        c.stats.messages.Load(),
		Errors:          c.stats.errors.Load(),
		Media:           c.stats.media.Load(),
		Videos:          c.stats.videos.Load(),
		SkippedMedia:    c.stats.skippedMedia.Load(),
		FailedMedia:     c.stats.failedMedia.Load(),
		SkippedMessages: c.stats.skippedMessages.Load(),
	}
	if histErr != nil {
		r.HistoryError = histErr.Error()
	}
	return r
}

// runState is owned by the orchestrator for the lifetime of one run.
type runState struct {
	id      string
	started time.Time
	stop    *pacing.Stop

	mu       sync.Mutex
	guild    domain.Guild
	sources  []domain.SourceChannel
	channels []*channelRun
	skipped  int
}

func newRunState(id string) *runState {
	return &runState{id: id, started: time.Now(), stop: pacing.NewStop()}
}

func (r *runState) addChannel(p provision.Pair) *channelRun {
	c := &channelRun{pair: p}
	r.mu.Lock()
	r.channels = append(r.channels, c)
	r.mu.Unlock()
	return c
}

func (r *runState) snapshot() []*channelRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*channelRun(nil), r.channels...)
}

func (r *runState) reports() []report.ChannelReport {
	chans := r.snapshot()
	out := make([]report.ChannelReport, 0, len(chans))
	for _, c := range chans {
		out = append(out, c.report())
	}
	return out
}

func (r *runState) webhooks() []report.Webhook {
	chans := r.snapshot()
	out := make([]report.Webhook, 0, len(chans))
	for _, c := range chans {
		out = append(out, report.Webhook{
			URL:         c.pair.Endpoint.URL,
			ID:          c.pair.Endpoint.ID,
			ChannelID:   c.pair.Channel.ID,
			ChannelName: c.pair.Channel.Name,
		})
	}
	return out
}

// ChannelStatus is the live view of one pipeline.
type ChannelStatus struct {
	report.ChannelReport
	Processed int64 `json:"processed"`
	Done      bool  `json:"done"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State     State           `json:"state"`
	RunID     string          `json:"runId,omitempty"`
	StartedAt time.Time       `json:"startedAt,omitempty"`
	Stopping  bool            `json:"stopping"`
	Sources   int             `json:"sources"`
	Skipped   int             `json:"skippedSources"`
	Channels  []ChannelStatus `json:"channels"`
	Totals    report.Totals   `json:"totals"`
	Last      *report.Summary `json:"last,omitempty"`
}
