package platform

import (
	"testing"
	"time"

	"chanmirror/internal/domain"

	"github.com/bwmarrin/discordgo"
)

func TestConvertMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "hello",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice"},
		Attachments: []*discordgo.MessageAttachment{
			{URL: "https://cdn/a.png", Filename: "a.png", Size: 1234, ContentType: "image/png"},
		},
		Embeds: []*discordgo.MessageEmbed{
			{Image: &discordgo.MessageEmbedImage{URL: "https://cdn/i.jpg"}},
			{Video: &discordgo.MessageEmbedVideo{URL: "https://cdn/v.mp4"}},
			{Title: "text only"},
		},
	}

	hm := convertMessage(m)
	if hm.AuthorName != "Alice" || hm.Automated {
		t.Fatalf("unexpected author: %+v", hm)
	}
	if len(hm.Attachments) != 1 || hm.Attachments[0].Size != 1234 {
		t.Fatalf("unexpected attachments: %+v", hm.Attachments)
	}
	if len(hm.Embeds) != 2 || hm.Embeds[0].Kind != domain.EmbedImage || hm.Embeds[1].Kind != domain.EmbedVideo {
		t.Fatalf("unexpected embeds: %+v", hm.Embeds)
	}
	if !hm.Timestamp.Equal(ts) {
		t.Fatalf("timestamp not preserved: %v", hm.Timestamp)
	}
}

func TestConvertMessage_EmbedThumbnailAndHint(t *testing.T) {
	m := &discordgo.Message{
		ID: "m2",
		Embeds: []*discordgo.MessageEmbed{
			{
				Image:     &discordgo.MessageEmbedImage{URL: "https://cdn/full.JPG?width=800"},
				Thumbnail: &discordgo.MessageEmbedThumbnail{URL: "https://cdn/small.jpg"},
			},
			{Type: discordgo.EmbedTypeLink, Thumbnail: &discordgo.MessageEmbedThumbnail{URL: "https://site/preview.png"}},
			{Thumbnail: &discordgo.MessageEmbedThumbnail{URL: "https://site/noext"}},
		},
	}

	hm := convertMessage(m)
	if len(hm.Embeds) != 3 {
		t.Fatalf("expected 3 embeds, got %+v", hm.Embeds)
	}
	if hm.Embeds[0].URL != "https://cdn/full.JPG?width=800" || hm.Embeds[0].ContentType != "image/jpeg" {
		t.Fatalf("image embed should win over its thumbnail: %+v", hm.Embeds[0])
	}
	if hm.Embeds[1].URL != "https://site/preview.png" || hm.Embeds[1].Kind != domain.EmbedImage || hm.Embeds[1].ContentType != "image/png" {
		t.Fatalf("unexpected thumbnail embed: %+v", hm.Embeds[1])
	}
	if hm.Embeds[2].ContentType != "" {
		t.Fatalf("expected no hint without an extension, got %q", hm.Embeds[2].ContentType)
	}
}

func TestConvertMessage_Automated(t *testing.T) {
	bot := convertMessage(&discordgo.Message{ID: "1", Author: &discordgo.User{Username: "b", Bot: true}})
	if !bot.Automated {
		t.Fatal("bot author should be automated")
	}
	hook := convertMessage(&discordgo.Message{ID: "2", WebhookID: "w", Author: &discordgo.User{Username: "h"}})
	if !hook.Automated {
		t.Fatal("webhook author should be automated")
	}
}

func TestConvertChannel(t *testing.T) {
	ch := &discordgo.Channel{
		ID: "c1", GuildID: "g1", Name: "general", NSFW: true, RateLimitPerUser: 10,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: "g1", Type: discordgo.PermissionOverwriteTypeRole, Deny: 1024},
			{ID: "u1", Type: discordgo.PermissionOverwriteTypeMember, Allow: 2048},
		},
	}
	sc := convertChannel(ch, "Guild One")
	if sc.GuildName != "Guild One" || !sc.NSFW || sc.RateLimitPerUser != 10 {
		t.Fatalf("unexpected channel: %+v", sc)
	}
	if len(sc.Overwrites) != 2 || sc.Overwrites[1].Kind != domain.OverwriteMember {
		t.Fatalf("unexpected overwrites: %+v", sc.Overwrites)
	}
}

func TestNewDiscord_PrefixesBotToken(t *testing.T) {
	d, err := NewDiscord(DiscordConfig{Token: "abc", Bot: true})
	if err != nil {
		t.Fatal(err)
	}
	if d.Session().Token != "Bot abc" {
		t.Fatalf("expected bot prefix, got %q", d.Session().Token)
	}
	if _, err := NewDiscord(DiscordConfig{Token: "  "}); err == nil {
		t.Fatal("expected error for empty token")
	}
}
