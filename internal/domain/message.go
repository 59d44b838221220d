package domain

import "time"

// InboundMessage is an operator command received on a control surface.
type InboundMessage struct {
	Surface   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// OutboundMessage is a reply routed back to the surface that asked.
type OutboundMessage struct {
	Surface string
	ChatID  string
	Content string
}
