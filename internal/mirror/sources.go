package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"chanmirror/internal/domain"
)

// SourceSelection says where the channels to mirror come from.
type SourceSelection struct {
	TargetGuildID string
	SourceGuildID string
	ChannelIDs    []string
}

// ResolveSources returns the source channels in mirror order.
//
// Explicit channel IDs win; unresolvable IDs are logged and skipped. Without
// IDs, every text channel of SourceGuildID is used, and without that, of the
// first guild other than the target that has any text channel.
func ResolveSources(ctx context.Context, dir domain.Directory, sel SourceSelection, logger *slog.Logger) ([]domain.SourceChannel, error) {
	if len(sel.ChannelIDs) > 0 {
		var out []domain.SourceChannel
		for _, id := range sel.ChannelIDs {
			ch, err := dir.SourceChannel(ctx, id)
			if err != nil {
				logger.Warn("source channel unavailable, skipping", "channel", id, "err", err)
				continue
			}
			if ch.GuildID == sel.TargetGuildID {
				logger.Warn("source channel belongs to the target guild, skipping", "channel", id)
				continue
			}
			out = append(out, *ch)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("none of the %d configured source channels could be resolved", len(sel.ChannelIDs))
		}
		return out, nil
	}

	if sel.SourceGuildID != "" {
		chans, err := dir.TextChannels(ctx, sel.SourceGuildID)
		if err != nil {
			return nil, fmt.Errorf("list channels of source guild %s: %w", sel.SourceGuildID, err)
		}
		return chans, nil
	}

	guilds, err := dir.Guilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guilds: %w", err)
	}
	for _, g := range guilds {
		if g.ID == sel.TargetGuildID {
			continue
		}
		chans, err := dir.TextChannels(ctx, g.ID)
		if err != nil {
			logger.Debug("cannot list guild channels", "guild", g.ID, "err", err)
			continue
		}
		if len(chans) > 0 {
			logger.Info("auto-detected source guild", "guild", g.Name, "id", g.ID, "channels", len(chans))
			return chans, nil
		}
	}
	return nil, fmt.Errorf("no source guild with text channels found")
}
