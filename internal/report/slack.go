package report

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/slack-go/slack"
)

// SlackNotifier announces finished runs on a Slack incoming webhook.
// Webhook URLs of the mirror are never included in the message.
type SlackNotifier struct {
	WebhookURL string
	Channel    string
	Client     *http.Client
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Write(ctx context.Context, s *Summary) error {
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.WebhookURL, client, SlackMessage(s, n.Channel)); err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}

// SlackMessage renders a summary as a Slack attachment.
func SlackMessage(s *Summary, channel string) *slack.WebhookMessage {
	color := "good"
	switch {
	case s.State == StateFailed:
		color = "danger"
	case s.State == StateStopped || s.Stats.TotalError > 0:
		color = "warning"
	}

	fields := []slack.AttachmentField{
		{Title: "Channels", Value: strconv.Itoa(s.Stats.TotalChannels), Short: true},
		{Title: "Messages", Value: strconv.FormatInt(s.Stats.TotalSuccess, 10), Short: true},
		{Title: "Errors", Value: strconv.FormatInt(s.Stats.TotalError, 10), Short: true},
		{Title: "Media", Value: strconv.FormatInt(s.Stats.TotalMedia, 10), Short: true},
		{Title: "Videos", Value: strconv.FormatInt(s.Stats.TotalVideos, 10), Short: true},
		{Title: "Duration", Value: s.Duration, Short: true},
	}

	return &slack.WebhookMessage{
		Channel: channel,
		Text:    fmt.Sprintf("Mirror run %s into %s: %s", s.RunID, s.Server, s.State),
		Attachments: []slack.Attachment{{
			Color:    color,
			Fallback: fmt.Sprintf("%d messages, %d errors", s.Stats.TotalSuccess, s.Stats.TotalError),
			Fields:   fields,
			Footer:   "chanmirror",
		}},
	}
}
