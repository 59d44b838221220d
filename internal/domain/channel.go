package domain

import "context"

// Surface is an operator-facing command channel (console, Discord, Telegram, WebSocket).
type Surface interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
	Send(ctx context.Context, chatID string, content string) error
}
