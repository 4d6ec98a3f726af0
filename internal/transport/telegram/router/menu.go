package router

import (
	"strings"

	kit "tibiabot/internal/transport"
)

// Telegram caps setMyCommands at 100 entries with 256-byte descriptions.
const (
	maxMenuEntries  = 100
	maxMenuDescSize = 256
)

// menuCommands lists the registered commands for the Telegram command menu,
// in registration order. Aliases stay out of the menu.
func menuCommands(set *commandSet) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(set.ordered))
	for _, c := range set.ordered {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		if len(desc) > maxMenuDescSize {
			desc = desc[:maxMenuDescSize]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) == maxMenuEntries {
			break
		}
	}
	return out
}
