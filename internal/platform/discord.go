// Package platform adapts the Discord REST API to the mirror's platform contract.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"chanmirror/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token string
	// Bot prefixes the token with "Bot " when it is not already.
	Bot        bool
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Discord implements domain.Platform on top of a discordgo session.
type Discord struct {
	session *discordgo.Session
	logger  *slog.Logger
}

var _ domain.Platform = (*Discord)(nil)

// NewDiscord creates the session. It does not open the gateway; REST calls
// work without it.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("discord token is empty")
	}
	if cfg.Bot && !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	session, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	if cfg.HTTPClient != nil {
		session.Client = cfg.HTTPClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{session: session, logger: cfg.Logger}, nil
}

// Session exposes the underlying session for gateway handlers.
func (d *Discord) Session() *discordgo.Session { return d.session }

// Open connects the gateway, needed only for live operator commands.
func (d *Discord) Open() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	if u := d.session.State.User; u != nil {
		d.logger.Info("discord connected", "user", u.Username)
	}
	return nil
}

func (d *Discord) Close() error { return d.session.Close() }

func (d *Discord) MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]domain.HistoryMessage, error) {
	msgs, err := d.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]domain.HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out, nil
}

func (d *Discord) CreateChannel(ctx context.Context, guildID string, spec domain.ChannelSpec) (*domain.DestinationChannel, error) {
	ch, err := d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:             spec.Name,
		Type:             discordgo.ChannelTypeGuildText,
		Topic:            spec.Topic,
		NSFW:             spec.NSFW,
		RateLimitPerUser: spec.RateLimitPerUser,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &domain.DestinationChannel{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}, nil
}

func (d *Discord) SetPermission(ctx context.Context, channelID string, ow domain.PermissionOverwrite) error {
	kind := discordgo.PermissionOverwriteTypeRole
	if ow.Kind == domain.OverwriteMember {
		kind = discordgo.PermissionOverwriteTypeMember
	}
	return d.session.ChannelPermissionSet(channelID, ow.ID, kind, ow.Allow, ow.Deny, discordgo.WithContext(ctx))
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	_, err := d.session.ChannelDelete(channelID, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) CreateEndpoint(ctx context.Context, channelID, name string) (*domain.DeliveryEndpoint, error) {
	w, err := d.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &domain.DeliveryEndpoint{
		ID:        w.ID,
		Name:      w.Name,
		Token:     w.Token,
		URL:       discordgo.EndpointWebhookToken(w.ID, w.Token),
		ChannelID: channelID,
	}, nil
}

func (d *Discord) SendDirect(ctx context.Context, channelID, content string, files []*domain.DownloadedAsset) error {
	send := &discordgo.MessageSend{Content: content}
	for _, a := range files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        a.Name(),
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}
	_, err := d.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	return err
}

func (d *Discord) Guild(ctx context.Context, guildID string) (*domain.Guild, error) {
	g, err := d.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	return &domain.Guild{ID: g.ID, Name: g.Name}, nil
}

func (d *Discord) Guilds(ctx context.Context) ([]domain.Guild, error) {
	gs, err := d.session.UserGuilds(200, "", "", false, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Guild, 0, len(gs))
	for _, g := range gs {
		out = append(out, domain.Guild{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

// TextChannels lists the text and announcement channels of a guild in display order.
func (d *Discord) TextChannels(ctx context.Context, guildID string) ([]domain.SourceChannel, error) {
	chans, err := d.session.GuildChannels(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	guildName := ""
	if g, err := d.Guild(ctx, guildID); err == nil {
		guildName = g.Name
	}

	sort.SliceStable(chans, func(i, j int) bool { return chans[i].Position < chans[j].Position })

	var out []domain.SourceChannel
	for _, ch := range chans {
		if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
			continue
		}
		out = append(out, convertChannel(ch, guildName))
	}
	return out, nil
}

func (d *Discord) SourceChannel(ctx context.Context, channelID string) (*domain.SourceChannel, error) {
	ch, err := d.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	guildName := ""
	if ch.GuildID != "" {
		if g, err := d.Guild(ctx, ch.GuildID); err == nil {
			guildName = g.Name
		} else {
			d.logger.Debug("guild lookup failed", "guild", ch.GuildID, "err", err)
		}
	}
	sc := convertChannel(ch, guildName)
	return &sc, nil
}

func convertChannel(ch *discordgo.Channel, guildName string) domain.SourceChannel {
	sc := domain.SourceChannel{
		ID:               ch.ID,
		Name:             ch.Name,
		Topic:            ch.Topic,
		NSFW:             ch.NSFW,
		RateLimitPerUser: ch.RateLimitPerUser,
		GuildID:          ch.GuildID,
		GuildName:        guildName,
	}
	for _, ow := range ch.PermissionOverwrites {
		kind := domain.OverwriteRole
		if ow.Type == discordgo.PermissionOverwriteTypeMember {
			kind = domain.OverwriteMember
		}
		sc.Overwrites = append(sc.Overwrites, domain.PermissionOverwrite{
			ID: ow.ID, Kind: kind, Allow: ow.Allow, Deny: ow.Deny,
		})
	}
	return sc
}

func convertMessage(m *discordgo.Message) domain.HistoryMessage {
	hm := domain.HistoryMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Automated: m.WebhookID != "",
	}
	if m.Author != nil {
		hm.AuthorName = m.Author.DisplayName()
		hm.AuthorAvatarURL = m.Author.AvatarURL("")
		hm.Automated = hm.Automated || m.Author.Bot
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		hm.Attachments = append(hm.Attachments, domain.Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			Size:        int64(a.Size),
			ContentType: a.ContentType,
		})
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		hasImage := e.Image != nil && e.Image.URL != ""
		hasVideo := e.Video != nil && e.Video.URL != ""
		if hasImage {
			hm.Embeds = append(hm.Embeds, embedMedia(e.Image.URL, domain.EmbedImage))
		}
		if hasVideo {
			hm.Embeds = append(hm.Embeds, embedMedia(e.Video.URL, domain.EmbedVideo))
		}
		// Link previews carry only a thumbnail.
		if !hasImage && !hasVideo && e.Thumbnail != nil && e.Thumbnail.URL != "" {
			hm.Embeds = append(hm.Embeds, embedMedia(e.Thumbnail.URL, domain.EmbedImage))
		}
	}
	return hm
}

func embedMedia(rawURL string, kind domain.EmbedKind) domain.EmbedMedia {
	em := domain.EmbedMedia{URL: rawURL, Kind: kind}
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			em.ContentType = mime.TypeByExtension(strings.ToLower(ext))
		}
	}
	return em
}
