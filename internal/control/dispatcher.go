package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"chanmirror/internal/domain"
	"chanmirror/internal/mirror"
	"chanmirror/internal/report"
)

// Mirror is the orchestrator surface the dispatcher drives.
type Mirror interface {
	Start(ctx context.Context) (string, error)
	Stop() bool
	Status() mirror.Status
	Endpoints() []report.Webhook
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Mirror Mirror
	Bus    domain.MessageBus
	Logger *slog.Logger
	// ShowSecrets lists full webhook URLs. Off by default because the URL
	// carries the webhook token.
	ShowSecrets bool
}

// Dispatcher consumes commands from the bus and replies on the same surface.
type Dispatcher struct {
	mirror      Mirror
	bus         domain.MessageBus
	logger      *slog.Logger
	showSecrets bool
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		mirror:      cfg.Mirror,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		showSecrets: cfg.ShowSecrets,
	}
}

// Run processes commands until ctx is cancelled or the bus is closed.
// ctx is also the parent of runs started from a command.
func (d *Dispatcher) Run(ctx context.Context) {
	in := d.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			reply, handled := d.Handle(ctx, msg)
			if !handled {
				continue
			}
			d.bus.SendOutbound(domain.OutboundMessage{
				Surface: msg.Surface,
				ChatID:  msg.ChatID,
				Content: reply,
			})
		}
	}
}

// Handle executes one command and returns the reply text. Messages that are
// not commands are ignored (handled=false).
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) (reply string, handled bool) {
	cmd, ok := ParseCommand(msg.Content)
	if !ok {
		return "", false
	}

	d.logger.Info("operator command",
		"command", cmd,
		"surface", msg.Surface,
		"sender", msg.SenderID,
	)

	switch cmd {
	case CmdStart:
		id, err := d.mirror.Start(ctx)
		if errors.Is(err, domain.ErrAlreadyRunning) {
			return "A mirror run is already in progress. Use status to follow it.", true
		}
		if err != nil {
			return "Could not start: " + err.Error(), true
		}
		return fmt.Sprintf("Mirror run %s started.", id), true

	case CmdStop:
		if d.mirror.Stop() {
			return "Stopping after in-flight messages finish.", true
		}
		return "No mirror run is active.", true

	case CmdStatus:
		return FormatStatus(d.mirror.Status()), true

	case CmdEndpoints:
		return d.formatEndpoints(d.mirror.Endpoints()), true

	default:
		return helpText, true
	}
}

// FormatStatus renders a status for chat surfaces.
func FormatStatus(st mirror.Status) string {
	var b strings.Builder
	if st.State == mirror.StateIdle {
		b.WriteString("Idle.")
		if st.Last != nil {
			t := st.Last.Stats
			fmt.Fprintf(&b, "\nLast run %s %s (%s): %d channels, %d messages, %d media, %d errors.",
				st.Last.RunID, st.Last.State, humanize.Time(st.Last.Timestamp),
				t.TotalChannels, t.TotalSuccess, t.TotalMedia, t.TotalError)
		}
		return b.String()
	}

	fmt.Fprintf(&b, "Run %s %s, started %s", st.RunID, st.State, humanize.Time(st.StartedAt))
	if st.Stopping {
		b.WriteString(" (stopping)")
	}
	fmt.Fprintf(&b, "\nSources: %d, skipped: %d", st.Sources, st.Skipped)
	for _, c := range st.Channels {
		mark := ""
		if c.Done {
			mark = " done"
		}
		fmt.Fprintf(&b, "\n#%s: %d/%d processed, %d ok, %d errors%s",
			c.Name, c.Processed, c.HistorySize, c.Messages, c.Errors, mark)
	}
	t := st.Totals
	fmt.Fprintf(&b, "\nTotal: %s messages, %s media (%d videos), %d errors",
		humanize.Comma(t.TotalSuccess), humanize.Comma(t.TotalMedia), t.TotalVideos, t.TotalError)
	return b.String()
}

func (d *Dispatcher) formatEndpoints(hooks []report.Webhook) string {
	if len(hooks) == 0 {
		return "No webhooks yet."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d webhooks:", len(hooks))
	for _, h := range hooks {
		target := h.ID
		if d.showSecrets {
			target = h.URL
		}
		fmt.Fprintf(&b, "\n#%s: %s", h.ChannelName, target)
	}
	return b.String()
}
