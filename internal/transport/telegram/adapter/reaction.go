package adapter

import (
	"slices"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "chorebot/internal/transport"
	"chorebot/pkg/tgui"
)

// Markers are rendered as inline buttons; pressing one is a reaction.
const (
	markerNS     = "chore"
	markerAction = "mark"
)

var markerTokens = map[kit.Marker]string{
	kit.MarkerUp:   "up",
	kit.MarkerDown: "down",
}

func markerData(m kit.Marker) (string, bool) {
	tok, ok := markerTokens[m]
	if !ok {
		return "", false
	}
	return tgui.Data(markerNS, markerAction, tok), true
}

// parseMarkerData is the inverse of markerData.
func parseMarkerData(data string) (kit.Marker, bool) {
	data = strings.TrimPrefix(data, "\f")
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != markerNS || parts[1] != markerAction {
		return "", false
	}
	for m, tok := range markerTokens {
		if tok == parts[2] {
			return m, true
		}
	}
	return "", false
}

func markerKeyboard(markers ...kit.Marker) (*tele.ReplyMarkup, error) {
	btns := make([]tele.Btn, 0, len(markers))
	for _, m := range markers {
		data, ok := markerData(m)
		if !ok {
			return nil, &unsupportedMarkerError{m}
		}
		btns = append(btns, tgui.Btn(string(m), data))
	}
	return tgui.NewInline().Row(btns...).Markup(), nil
}

type unsupportedMarkerError struct{ m kit.Marker }

func (e *unsupportedMarkerError) Error() string {
	return "telegram: unsupported marker " + strconv.Quote(string(e.m))
}

const userLinkPrefix = "tg://user?id="

// mentionedUsers lists users linked from m, in order of appearance.
func mentionedUsers(m *tele.Message) []int64 {
	if m == nil {
		return nil
	}
	ents := m.Entities
	if len(ents) == 0 {
		ents = m.CaptionEntities
	}
	var out []int64
	add := func(id int64) {
		if id != 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	for _, e := range ents {
		switch e.Type {
		case tele.EntityTMention:
			if e.User != nil {
				add(e.User.ID)
			}
		case tele.EntityTextLink:
			if id, ok := userIDFromLink(e.URL); ok {
				add(id)
			}
		}
	}
	return out
}

func userIDFromLink(u string) (int64, bool) {
	rest, ok := strings.CutPrefix(u, userLinkPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func isGroupChat(c *tele.Chat) bool {
	if c == nil {
		return false
	}
	return c.Type == tele.ChatGroup || c.Type == tele.ChatSuperGroup
}
