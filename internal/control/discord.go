package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"chanmirror/internal/domain"
)

const discordMaxMsgLen = 2000

// Discord accepts commands typed in any channel the mirror session can see.
// Only the session's own account and configured operators are obeyed.
type Discord struct {
	session   *discordgo.Session
	operators allowList
	guildID   string
	logger    *slog.Logger
	remove    []func()
}

// DiscordConfig configures the Discord command surface.
type DiscordConfig struct {
	Session   *discordgo.Session // shared with the platform adapter, already open
	Operators []string
	GuildID   string // slash commands are registered here when the session is a bot
	Logger    *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		session:   cfg.Session,
		operators: newAllowList(cfg.Operators...),
		guildID:   cfg.GuildID,
		logger:    cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start registers the handlers and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnOutbound(d.Name(), func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		d.sendMessage(msg.ChatID, msg.Content)
	})

	d.remove = append(d.remove, d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || !d.isOperator(s, m.Author.ID) {
			return
		}
		if _, ok := ParseCommand(m.Content); !ok {
			return
		}
		d.logger.Info("discord command received", "author", m.Author.Username, "channel_id", m.ChannelID)
		bus.Publish(domain.InboundMessage{
			Surface:   d.Name(),
			ChatID:    m.ChannelID,
			SenderID:  m.Author.ID,
			Content:   m.Content,
			Timestamp: time.Now(),
		})
	}))

	d.remove = append(d.remove, d.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		user := i.User
		if i.Member != nil {
			user = i.Member.User
		}
		if user == nil || !d.isOperator(s, user.ID) {
			_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: "Not allowed.", Flags: discordgo.MessageFlagsEphemeral},
			})
			return
		}
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "OK"},
		})
		bus.Publish(domain.InboundMessage{
			Surface:   d.Name(),
			ChatID:    i.ChannelID,
			SenderID:  user.ID,
			Content:   "/" + i.ApplicationCommandData().Name,
			Timestamp: time.Now(),
		})
	}))

	if d.session.State != nil && d.session.State.User != nil && d.session.State.User.Bot {
		d.registerSlashCommands()
	}

	d.logger.Info("discord control surface ready", "operators", len(d.operators))
	<-ctx.Done()
	return d.Stop()
}

// isOperator allows the session's own account (the usual case for a user
// token) and the configured operator IDs.
func (d *Discord) isOperator(s *discordgo.Session, userID string) bool {
	if s.State != nil && s.State.User != nil && userID == s.State.User.ID && !s.State.User.Bot {
		return true
	}
	return d.operators.allows(userID)
}

func (d *Discord) sendMessage(channelID, content string) {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			d.logger.Error("discord reply failed", "channel", channelID, "err", err)
		}
	}
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{Name: "start", Description: "Begin a mirror run"},
		{Name: "status", Description: "Show mirror progress"},
		{Name: "stop", Description: "Stop the current mirror run"},
		{Name: "webhooks", Description: "List webhooks created by the mirror"},
		{Name: "help", Description: "Show available commands"},
	}
	for _, cmd := range commands {
		if _, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, d.guildID, cmd); err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}

// Stop removes the handlers. The session itself belongs to the platform.
func (d *Discord) Stop() error {
	for _, rm := range d.remove {
		rm()
	}
	d.remove = nil
	return nil
}

func (d *Discord) Send(ctx context.Context, chatID string, content string) error {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}
