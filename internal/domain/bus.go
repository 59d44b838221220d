package domain

// MessageBus routes operator commands from surfaces to the dispatcher and replies back.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage)
	OnOutbound(surface string, handler func(OutboundMessage))
	Close()
}
