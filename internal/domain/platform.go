package domain

import "context"

// HistorySource returns one page of messages older than beforeID, newest first.
// An empty beforeID starts from the most recent message.
type HistorySource interface {
	MessagesBefore(ctx context.Context, channelID, beforeID string, limit int) ([]HistoryMessage, error)
}

// ChannelCreator provisions destination channels and their webhooks.
type ChannelCreator interface {
	CreateChannel(ctx context.Context, guildID string, spec ChannelSpec) (*DestinationChannel, error)
	SetPermission(ctx context.Context, channelID string, ow PermissionOverwrite) error
	DeleteChannel(ctx context.Context, channelID string) error
	CreateEndpoint(ctx context.Context, channelID, name string) (*DeliveryEndpoint, error)
}

// DirectSender posts a message as the authenticated account.
type DirectSender interface {
	SendDirect(ctx context.Context, channelID, content string, files []*DownloadedAsset) error
}

// Directory resolves guilds and channels.
type Directory interface {
	Guild(ctx context.Context, guildID string) (*Guild, error)
	Guilds(ctx context.Context) ([]Guild, error)
	TextChannels(ctx context.Context, guildID string) ([]SourceChannel, error)
	SourceChannel(ctx context.Context, channelID string) (*SourceChannel, error)
}

// Platform is everything the mirror needs from the chat platform.
type Platform interface {
	HistorySource
	ChannelCreator
	DirectSender
	Directory
}
