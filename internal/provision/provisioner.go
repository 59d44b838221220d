// Package provision creates a destination channel and its webhook for each
// source channel.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chanmirror/internal/domain"
)

// Naming modes for destination channels.
const (
	NamingPrefix = "prefix" // PREFIX-{index+1}
	NamingSource = "source" // the source channel's own name
)

const maxChannelName = 100

// Config configures a Provisioner.
type Config struct {
	Creator      domain.ChannelCreator
	Logger       *slog.Logger
	Naming       string
	Prefix       string
	EndpointName string
	CopyPerms    bool
}

// Pair is a destination channel together with its single delivery endpoint.
type Pair struct {
	Index    int
	Source   domain.SourceChannel
	Channel  domain.DestinationChannel
	Endpoint domain.DeliveryEndpoint
}

// Provisioner creates destination channels and endpoints.
type Provisioner struct {
	creator      domain.ChannelCreator
	logger       *slog.Logger
	naming       string
	prefix       string
	endpointName string
	copyPerms    bool
}

func New(cfg Config) *Provisioner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Naming == "" {
		cfg.Naming = NamingPrefix
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "mirror"
	}
	if cfg.EndpointName == "" {
		cfg.EndpointName = cfg.Prefix
	}
	return &Provisioner{
		creator:      cfg.Creator,
		logger:       cfg.Logger,
		naming:       cfg.Naming,
		prefix:       cfg.Prefix,
		endpointName: cfg.EndpointName,
		copyPerms:    cfg.CopyPerms,
	}
}

// ChannelName returns the destination name for the source at index.
func (p *Provisioner) ChannelName(index int, src domain.SourceChannel) string {
	name := fmt.Sprintf("%s-%d", p.prefix, index+1)
	if p.naming == NamingSource && src.Name != "" {
		name = src.Name
	}
	name = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
	// The limit counts characters; cutting bytes can split a rune.
	if r := []rune(name); len(r) > maxChannelName {
		name = string(r[:maxChannelName])
	}
	return name
}

// Topic returns the provenance topic for a mirrored channel.
func Topic(src domain.SourceChannel) string {
	if src.GuildName != "" {
		return fmt.Sprintf("Mirrored from #%s (%s)", src.Name, src.GuildName)
	}
	return fmt.Sprintf("Mirrored from #%s", src.Name)
}

// Provision creates the channel and then its endpoint. Either both exist on
// return or the error is a *domain.ProvisioningError and the source should be skipped.
func (p *Provisioner) Provision(ctx context.Context, guildID string, index int, src domain.SourceChannel) (*Pair, error) {
	name := p.ChannelName(index, src)

	ch, err := p.creator.CreateChannel(ctx, guildID, domain.ChannelSpec{
		Name:             name,
		Topic:            Topic(src),
		NSFW:             src.NSFW,
		RateLimitPerUser: src.RateLimitPerUser,
	})
	if err != nil {
		return nil, &domain.ProvisioningError{Source: src.Name, Stage: "channel", Err: err}
	}
	ch.SourceID = src.ID

	if p.copyPerms {
		p.copyOverwrites(ctx, guildID, ch.ID, src)
	}

	ep, err := p.creator.CreateEndpoint(ctx, ch.ID, p.endpointName)
	if err != nil {
		if derr := p.creator.DeleteChannel(ctx, ch.ID); derr != nil {
			p.logger.Warn("cleanup of channel without endpoint failed", "channel", ch.ID, "err", derr)
		}
		return nil, &domain.ProvisioningError{Source: src.Name, Stage: "endpoint", Err: err}
	}
	if ep.ChannelID == "" {
		ep.ChannelID = ch.ID
	}

	p.logger.Info("channel provisioned",
		"source", src.Name,
		"channel", ch.Name,
		"channel_id", ch.ID,
		"endpoint_id", ep.ID,
	)

	return &Pair{Index: index, Source: src, Channel: *ch, Endpoint: *ep}, nil
}

// copyOverwrites applies the source overwrites that have a meaning in the
// destination guild. @everyone maps to the destination guild ID; member
// overwrites are kept; other roles do not exist there and are skipped.
func (p *Provisioner) copyOverwrites(ctx context.Context, guildID, channelID string, src domain.SourceChannel) {
	for _, ow := range src.Overwrites {
		switch {
		case ow.Kind == domain.OverwriteRole && ow.ID == src.GuildID:
			ow.ID = guildID
		case ow.Kind == domain.OverwriteMember:
		default:
			p.logger.Debug("skipping role overwrite absent from destination", "role", ow.ID, "channel", channelID)
			continue
		}
		if err := p.creator.SetPermission(ctx, channelID, ow); err != nil {
			p.logger.Warn("permission copy failed", "channel", channelID, "target", ow.ID, "err", err)
		}
	}
}
