package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// Console prints a per-channel table followed by the run totals.
type Console struct {
	Out         io.Writer
	ShowSecrets bool // print full webhook URLs instead of IDs
}

func (c *Console) Name() string { return "console" }

func (c *Console) Write(_ context.Context, s *Summary) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}

	hooks := make(map[string]Webhook, len(s.Webhooks))
	for _, w := range s.Webhooks {
		hooks[w.ChannelID] = w
	}

	fmt.Fprintf(out, "\nMirror run %s (%s) into %s in %s\n\n", s.RunID, s.State, s.Server, s.Duration)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tSOURCE\tOK\tVIDEOS\tERRORS\tSKIPPED\tWEBHOOK")
	for _, ch := range s.Channels {
		hook := hooks[ch.ID].ID
		if c.ShowSecrets {
			hook = hooks[ch.ID].URL
		}
		fmt.Fprintf(tw, "#%s\t#%s\t%d\t%d\t%d\t%d\t%s\n",
			ch.Name, ch.SourceName, ch.Messages, ch.Videos, ch.Errors, ch.SkippedMessages+ch.SkippedMedia, hook)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	t := s.Stats
	_, err := fmt.Fprintf(out, "\nTotal: %d channels, %d messages, %d media (%d videos), %d errors, %d skipped media\n",
		t.TotalChannels, t.TotalSuccess, t.TotalMedia, t.TotalVideos, t.TotalError, t.TotalSkipped)
	if s.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", s.Error)
	}
	return err
}
