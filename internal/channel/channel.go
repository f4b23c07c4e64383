// Package channel adapts platform-specific chat APIs (Telegram, Feishu,
// WeCom, WhatsApp, a local WebUI) to the normalized bus.InboundMessage/
// bus.OutboundMessage pair, so the orchestration core never sees a
// platform-specific type.
package channel

import (
	"context"

	"github.com/stellarlinkco/myclaw/internal/bus"
)

// Channel is the adapter contract ChannelManager drives: a registered
// name, a lifecycle, and an outbound send.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}
