// Package command implements the minimal command dispatcher (C16):
// /help, /reset, and /persona <name>, invoked by the orchestrator on
// the command path. This is a concrete implementation behind the
// "command handling" external collaborator — the orchestration core
// only depends on the Handler function type, not on anything in here.
package command

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/myclaw/internal/convlog"
	"github.com/stellarlinkco/myclaw/internal/event"
	"github.com/stellarlinkco/myclaw/internal/persona"
	"github.com/stellarlinkco/myclaw/internal/stats"
)

// Sender is the narrow outbound capability the dispatcher needs.
type Sender interface {
	SendText(groupID, text string, replyTo string) error
}

// PersonaSwitcher lets /persona <name> change a session's active
// profile. The orchestrator supplies the concrete store.
type PersonaSwitcher interface {
	SetActive(sessionKey, name string) (persona.Profile, bool)
}

const usage = "可用命令：/help /reset /persona <name>"

// Dispatcher handles recognized command events.
type Dispatcher struct {
	Log      *convlog.Store
	Stats    *stats.Store
	Sender   Sender
	Personas PersonaSwitcher
}

// Handle dispatches evt's command text. evt.RawText is expected to
// begin with "/" or "！" (the orchestrator's recognized prefixes).
func (d *Dispatcher) Handle(evt event.ChatEvent) {
	sessionKey := evt.SessionKey()
	text := strings.TrimSpace(evt.RawText)
	text = strings.TrimPrefix(text, "！")
	text = strings.TrimPrefix(text, "/")
	fields := strings.Fields(text)
	if len(fields) == 0 {
		d.reply(evt, usage)
		return
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		d.reply(evt, usage)
	case "reset":
		d.Log.Clear(sessionKey)
		if d.Stats != nil {
			d.Stats.Reset(evt.UserKey(), sessionKey)
		}
		d.reply(evt, "已清空本群的对话记录。")
	case "persona":
		if len(fields) < 2 {
			d.reply(evt, "用法：/persona <name>")
			return
		}
		if d.Personas == nil {
			d.reply(evt, "当前未启用人设切换。")
			return
		}
		profile, ok := d.Personas.SetActive(sessionKey, fields[1])
		if !ok {
			d.reply(evt, fmt.Sprintf("没有找到人设 %q。", fields[1]))
			return
		}
		d.reply(evt, fmt.Sprintf("已切换为人设「%s」。", profile.Name))
	default:
		d.reply(evt, usage)
	}
}

func (d *Dispatcher) reply(evt event.ChatEvent, text string) {
	if d.Sender == nil {
		return
	}
	_ = d.Sender.SendText(evt.GroupID, text, "")
}
