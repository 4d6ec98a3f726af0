package router

import (
	"html"
	"strings"
)

const helpTitle = "🤖 <b>Tibia Boosted Bot</b>"

// helpText renders /help (no args) or /help <command> in Telegram HTML.
func (m *CommandManager) helpText(args []string) string {
	set := m.commands()
	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := set.lookup(name)
		if !ok {
			return "❓ <b>Unknown command</b>\nType <code>/help</code> to list available commands."
		}
		return commandHelp(c)
	}

	var b strings.Builder
	b.WriteString(helpTitle)
	b.WriteString("\nDaily boosted creature and boss updates. Type <code>/help &lt;cmd&gt;</code> for details.\n")
	for _, owner := range []bool{false, true} {
		for _, c := range set.ordered {
			if (c.Access == AccessOwnerOnly) != owner {
				continue
			}
			b.WriteString("\n• ")
			if owner {
				b.WriteString("🔒 ")
			}
			b.WriteString("<code>/" + c.Name + "</code>")
			if c.Description != "" {
				b.WriteString(" - " + html.EscapeString(c.Description))
			}
		}
	}
	b.WriteString("\n\n🔒 marks owner-only commands.")
	return b.String()
}

func commandHelp(c *Command) string {
	lines := []string{"📚 <b>Help</b> <code>/" + c.Name + "</code>"}
	if c.Description != "" {
		lines = append(lines, html.EscapeString(c.Description))
	}
	if c.Access == AccessOwnerOnly {
		lines = append(lines, "🔒 <i>Owner only</i>")
	}
	usage := c.Usage
	if usage == "" {
		usage = "/" + c.Name
	}
	lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(usage)+"</code>")
	if len(c.Aliases) > 0 {
		lines = append(lines, "", "<b>Also</b> <code>/"+strings.Join(c.Aliases, "</code>, <code>/")+"</code>")
	}
	return strings.Join(lines, "\n")
}
