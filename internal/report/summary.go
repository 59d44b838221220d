// Package report defines the run summary document and the sinks that persist
// or announce it.
package report

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Run end states recorded in the summary.
const (
	StateCompleted = "completed"
	StateStopped   = "stopped"
	StateFailed    = "failed"
)

// Webhook is one delivery endpoint created by the run.
type Webhook struct {
	URL         string `json:"url"`
	ID          string `json:"id"`
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
}

// ChannelReport is the per-channel outcome.
type ChannelReport struct {
	Name            string `json:"name"`
	ID              string `json:"id"`
	SourceID        string `json:"sourceId"`
	SourceName      string `json:"sourceName"`
	HistorySize     int    `json:"historySize"`
	Messages        int64  `json:"messages"`
	Errors          int64  `json:"errors"`
	Media           int64  `json:"media"`
	Videos          int64  `json:"videos"`
	SkippedMedia    int64  `json:"skippedMedia"`
	FailedMedia     int64  `json:"failedMedia"`
	SkippedMessages int64  `json:"skippedMessages"`
	HistoryError    string `json:"historyError,omitempty"`
}

// Totals are always computed as sums over Channels.
type Totals struct {
	TotalSuccess  int64 `json:"totalSuccess"`
	TotalError    int64 `json:"totalError"`
	TotalMedia    int64 `json:"totalMedia"`
	TotalVideos   int64 `json:"totalVideos"`
	TotalSkipped  int64 `json:"totalSkipped"`
	TotalChannels int   `json:"totalChannels"`
}

// Summary is the persisted result of one run.
type Summary struct {
	RunID          string          `json:"runId"`
	Timestamp      time.Time       `json:"timestamp"`
	StartedAt      time.Time       `json:"startedAt"`
	Duration       string          `json:"duration"`
	State          string          `json:"state"`
	Error          string          `json:"error,omitempty"`
	Server         string          `json:"server"`
	ServerID       string          `json:"serverId"`
	SourceServerID string          `json:"sourceServerId,omitempty"`
	WebhookName    string          `json:"webhookName"`
	Webhooks       []Webhook       `json:"webhooks"`
	Channels       []ChannelReport `json:"channels"`
	Stats          Totals          `json:"stats"`
}

// ComputeTotals sums the per-channel counters.
func ComputeTotals(channels []ChannelReport) Totals {
	t := Totals{TotalChannels: len(channels)}
	for _, c := range channels {
		t.TotalSuccess += c.Messages
		t.TotalError += c.Errors
		t.TotalMedia += c.Media
		t.TotalVideos += c.Videos
		t.TotalSkipped += c.SkippedMedia
	}
	return t
}

// Sink receives the final summary of a run.
type Sink interface {
	Name() string
	Write(ctx context.Context, s *Summary) error
}

// Multi writes to every sink, logging failures and continuing.
type Multi struct {
	Sinks  []Sink
	Logger *slog.Logger
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Write(ctx context.Context, s *Summary) error {
	var errs []error
	for _, sink := range m.Sinks {
		if err := sink.Write(ctx, s); err != nil {
			if m.Logger != nil {
				m.Logger.Error("summary sink failed", "sink", sink.Name(), "err", err)
			}
			errs = append(errs, err)
			continue
		}
		if m.Logger != nil {
			m.Logger.Info("summary written", "sink", sink.Name(), "run_id", s.RunID)
		}
	}
	return errors.Join(errs...)
}
