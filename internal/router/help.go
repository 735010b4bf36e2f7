package router

import (
	"strings"

	"chorebot/pkg/tgui"
)

func helpUnknownHTML() string {
	return "❓ " + tgui.B("Unknown command").String() + "\nType " + tgui.Code("/help").String() + " to list commands."
}

func helpTopHTML(cmds []Command) string {
	lines := []tgui.H{
		tgui.Raw("📚 " + tgui.B("Commands").String()),
		tgui.Raw("Type " + tgui.Code("/help <command>").String() + " for details."),
		"",
	}
	for _, c := range cmds {
		line := tgui.Raw("• " + tgui.Code("/"+c.Name).String())
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + tgui.Esc(d)
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"",
		tgui.Raw("Chore names with spaces go in quotes, e.g. "+tgui.Code(`/delete "take out trash"`).String()+"."),
	)
	return joinLines(lines)
}

func helpCommandHTML(c Command) string {
	lines := []tgui.H{tgui.Raw("📚 " + tgui.B("Help").String() + " " + tgui.Code("/"+c.Name).String())}
	if d := strings.TrimSpace(c.Description); d != "" {
		lines = append(lines, tgui.Esc(d))
	}
	if u := strings.TrimSpace(c.Usage); u != "" {
		lines = append(lines, "", tgui.B("Usage"), tgui.Code(u))
	}
	if len(c.Aliases) > 0 {
		al := make([]tgui.H, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			al = append(al, tgui.Code("/"+a))
		}
		lines = append(lines, "", tgui.B("Shortcut")+" "+tgui.JoinH(", ", al...))
	}
	return joinLines(lines)
}

// joinLines keeps blank separator lines, unlike tgui.JoinH.
func joinLines(lines []tgui.H) string {
	ss := make([]string, len(lines))
	for i, l := range lines {
		ss[i] = l.String()
	}
	return strings.Join(ss, "\n")
}
