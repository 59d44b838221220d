package domain

import (
	"path"
	"strings"
	"time"
)

// OverwriteKind tells whether a permission overwrite targets a role or a member.
type OverwriteKind int

const (
	OverwriteRole OverwriteKind = iota
	OverwriteMember
)

// PermissionOverwrite is a per-channel allow/deny bitset for one role or member.
type PermissionOverwrite struct {
	ID    string
	Kind  OverwriteKind
	Allow int64
	Deny  int64
}

// SourceChannel is a channel in the origin guild. Read-only to the mirror.
type SourceChannel struct {
	ID               string
	Name             string
	Topic            string
	NSFW             bool
	RateLimitPerUser int
	Overwrites       []PermissionOverwrite
	GuildID          string
	GuildName        string
}

// ChannelSpec carries the attributes used to create a destination channel.
type ChannelSpec struct {
	Name             string
	Topic            string
	NSFW             bool
	RateLimitPerUser int
}

// DestinationChannel is a channel created by the mirror in the target guild.
type DestinationChannel struct {
	ID       string
	Name     string
	GuildID  string
	SourceID string
}

// DeliveryEndpoint is a webhook bound to one destination channel.
// URL is the opaque posting target.
type DeliveryEndpoint struct {
	ID        string
	Name      string
	Token     string
	URL       string
	ChannelID string
}

// Guild is the minimal view of a community the mirror needs.
type Guild struct {
	ID   string
	Name string
}

// Attachment is a file attached to a source message.
type Attachment struct {
	URL         string
	Filename    string
	Size        int64
	ContentType string
}

// EmbedKind distinguishes embedded images from embedded videos.
type EmbedKind string

const (
	EmbedImage EmbedKind = "image"
	EmbedVideo EmbedKind = "video"
)

// EmbedMedia is a media URL found inside a rich embed.
type EmbedMedia struct {
	URL         string
	Kind        EmbedKind
	ContentType string // guessed from the URL's extension; may be empty
}

// HistoryMessage is one message read from a source channel.
type HistoryMessage struct {
	ID              string
	ChannelID       string
	AuthorName      string
	AuthorAvatarURL string
	Content         string
	Attachments     []Attachment
	Embeds          []EmbedMedia
	Automated       bool // authored by a bot or a webhook
	Timestamp       time.Time
}

// DownloadedAsset is a media item held in memory, ready for re-upload.
type DownloadedAsset struct {
	Data        []byte
	ContentType string
	Ext         string
	Filename    string
}

// Size returns the asset length in bytes.
func (a *DownloadedAsset) Size() int64 { return int64(len(a.Data)) }

// IsVideo reports whether the asset resolved to a video container.
func (a *DownloadedAsset) IsVideo() bool {
	switch strings.ToLower(a.Ext) {
	case "mp4", "webm":
		return true
	}
	return false
}

// Name returns the upload filename, falling back to "file.<ext>".
func (a *DownloadedAsset) Name() string {
	if a.Filename != "" {
		if path.Ext(a.Filename) == "" && a.Ext != "" {
			return a.Filename + "." + a.Ext
		}
		return a.Filename
	}
	return "file." + a.Ext
}
