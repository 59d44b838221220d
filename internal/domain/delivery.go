package domain

// DeliveryMode selects how a replicated message reaches its destination.
// The set of variants is closed: ViaEndpoint and DirectSend.
type DeliveryMode interface {
	deliveryMode()
	// Target returns the destination channel ID, for logging.
	Target() string
}

// ViaEndpoint posts through the channel's webhook with identity overrides.
type ViaEndpoint struct {
	Endpoint DeliveryEndpoint
}

// DirectSend posts through the authenticated session into the channel.
type DirectSend struct {
	Channel DestinationChannel
}

func (ViaEndpoint) deliveryMode() {}
func (DirectSend) deliveryMode()  {}

func (m ViaEndpoint) Target() string { return m.Endpoint.ChannelID }
func (m DirectSend) Target() string  { return m.Channel.ID }
