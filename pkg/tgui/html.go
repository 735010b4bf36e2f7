package tgui

import (
	"html"
	"strconv"
	"strings"
)

// H is markup that is already safe for ParseMode="HTML".
type H string

func (h H) String() string { return string(h) }

// Esc escapes user text (chore names, descriptions).
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw trusts s as markup.
func Raw(s string) H { return H(s) }

func tag(name string, inner H) H {
	return H("<" + name + ">" + string(inner) + "</" + name + ">")
}

func B(s string) H    { return tag("b", Esc(s)) }
func Code(s string) H { return tag("code", Esc(s)) }

// Mention links a user id, which notifies the user in groups.
func Mention(name string, userID int64) H {
	href := "tg://user?id=" + strconv.FormatInt(userID, 10)
	return H(`<a href="` + href + `">` + html.EscapeString(name) + `</a>`)
}

// JoinH joins parts with sep, skipping blank ones.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) != "" {
			ss = append(ss, string(p))
		}
	}
	return H(strings.Join(ss, sep))
}
