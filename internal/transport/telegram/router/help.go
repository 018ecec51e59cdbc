package router

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
)

// helpText renders help in Telegram HTML. Commands the user cannot run are
// left out of the overview.
func (m *CommandManager) helpText(ctx context.Context, userID int64, args []string) string {
	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(sanitizeTelegramCommand(name))
		if !ok {
			return strings.Join([]string{
				"❓ <b>Unknown command</b>",
				"Type <code>/help</code> to see the command list.",
			}, "\n")
		}
		return helpCommandHTML(c, m.aliasesOf(c.Route))
	}

	m.mu.RLock()
	cmds := append([]Command(nil), m.ordered...)
	m.mu.RUnlock()
	sort.SliceStable(cmds, func(i, j int) bool {
		if cmds[i].Access != cmds[j].Access {
			return cmds[i].Access < cmds[j].Access
		}
		return cmds[i].Route < cmds[j].Route
	})

	lines := []string{
		"📚 <b>Commands</b>",
		"Type <code>/help &lt;cmd&gt;</code> for details.",
		"",
	}
	for _, c := range cmds {
		if c.Hidden || !m.allowed(ctx, c.Access, userID) {
			continue
		}
		prefix := "• "
		if c.Access == AccessOwner {
			prefix = "• 🔒 "
		}
		suffix := ""
		if d := strings.TrimSpace(c.Description); d != "" {
			suffix = ": " + html.EscapeString(d)
		}
		lines = append(lines, prefix+"<code>/"+html.EscapeString(c.Route)+"</code>"+suffix)
	}
	return strings.Join(lines, "\n")
}

func (m *CommandManager) aliasesOf(route string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for a, c := range m.alias {
		if c.Route == route {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

func helpCommandHTML(c Command, aliases []string) string {
	lines := []string{fmt.Sprintf("📚 <b>Help</b> <code>/%s</code>", html.EscapeString(c.Route))}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, html.EscapeString(d))
	}
	switch c.Access {
	case AccessOwner:
		lines = append(lines, "🔒 <i>Owners only</i>")
	case AccessAdmin:
		lines = append(lines, "<i>Admins only</i>")
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
	}
	if len(aliases) > 0 {
		lines = append(lines, "", "<b>Shortcuts</b>")
		for _, a := range aliases {
			lines = append(lines, "• <code>/"+html.EscapeString(a)+"</code>")
		}
	}
	return strings.Join(lines, "\n")
}
