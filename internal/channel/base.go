package channel

import "github.com/stellarlinkco/myclaw/internal/bus"

// BaseChannel holds the fields every channel adapter needs regardless of
// platform: its registered name, the shared bus it publishes inbound
// messages to and receives outbound sends from, and an optional sender
// allowlist.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]struct{}
}

// NewBaseChannel builds a BaseChannel for name, wired to b. An empty
// allowFrom means every sender is allowed.
func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	var set map[string]struct{}
	if len(allowFrom) > 0 {
		set = make(map[string]struct{}, len(allowFrom))
		for _, id := range allowFrom {
			set[id] = struct{}{}
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: set}
}

// Name returns the channel's registered identifier, matching
// bus.OutboundMessage.Channel.
func (c *BaseChannel) Name() string {
	return c.name
}

// IsAllowed reports whether senderID may use this channel. An unset
// allowlist permits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	_, ok := c.allowFrom[senderID]
	return ok
}
