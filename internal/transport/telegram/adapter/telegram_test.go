package adapter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	kit "chorebot/internal/transport"
	logx "chorebot/pkg/logx"
)

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("a", 30) + "\n"
	s := strings.Repeat(line, 10)
	chunks := splitTelegramText(s, 100, "")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 100)
		assert.False(t, strings.HasSuffix(c, "\n"))
		for _, l := range strings.Split(c, "\n") {
			assert.Len(t, l, 30, "line was cut")
		}
	}
	assert.Equal(t, []string{"short"}, splitTelegramText("short", 100, ""))
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("x", 98) + "<b>bold</b>"
	chunks := splitTelegramText(s, 100, "HTML")
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 98), chunks[0])
	assert.Equal(t, "<b>bold</b>", chunks[1])
}

func TestMarkerDataRoundTrip(t *testing.T) {
	t.Parallel()

	for _, m := range []kit.Marker{kit.MarkerUp, kit.MarkerDown} {
		data, ok := markerData(m)
		require.True(t, ok)
		assert.LessOrEqual(t, len(data), 64)
		got, ok := parseMarkerData(data)
		require.True(t, ok)
		assert.Equal(t, m, got)
	}

	_, ok := markerData(kit.Marker("🎉"))
	assert.False(t, ok)
	for _, bad := range []string{"", "chore:mark", "chore:mark:sideways", "other:mark:up", "up"} {
		_, ok := parseMarkerData(bad)
		assert.False(t, ok, bad)
	}
}

func TestMarkerKeyboard(t *testing.T) {
	t.Parallel()

	rm, err := markerKeyboard(kit.MarkerUp, kit.MarkerDown)
	require.NoError(t, err)
	require.Len(t, rm.InlineKeyboard, 1)
	row := rm.InlineKeyboard[0]
	require.Len(t, row, 2)
	assert.Equal(t, string(kit.MarkerUp), row[0].Text)
	assert.Equal(t, "chore:mark:up", row[0].Data)
	assert.Equal(t, "chore:mark:down", row[1].Data)

	_, err = markerKeyboard(kit.Marker("?"))
	assert.Error(t, err)
}

func TestMentionedUsers(t *testing.T) {
	t.Parallel()

	m := &tele.Message{
		Text: "Hey A and B",
		Entities: tele.Entities{
			{Type: tele.EntityTMention, User: &tele.User{ID: 11}},
			{Type: tele.EntityBold},
			{Type: tele.EntityTextLink, URL: "tg://user?id=12"},
			{Type: tele.EntityTextLink, URL: "https://example.com"},
			{Type: tele.EntityTMention, User: &tele.User{ID: 11}},
		},
	}
	assert.Equal(t, []int64{11, 12}, mentionedUsers(m))
	assert.Empty(t, mentionedUsers(&tele.Message{Text: "plain"}))
	assert.Nil(t, mentionedUsers(nil))
}

func TestReactionFromCallback(t *testing.T) {
	t.Parallel()

	a := &Adapter{
		cfg: Config{PeerUserIDs: []int64{8}}.withDefaults(),
		log: logx.Nop(),
	}
	cb := &tele.Callback{
		ID:     "cb1",
		Sender: &tele.User{ID: 8, FirstName: "Pat"},
		Message: &tele.Message{
			ID:       55,
			Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
			Sender:   &tele.User{ID: 99, IsBot: true},
			Entities: tele.Entities{{Type: tele.EntityTMention, User: &tele.User{ID: 7}}},
		},
	}
	r := a.reactionFrom(cb, kit.MarkerUp)
	assert.Equal(t, "cb1", r.ID)
	assert.Equal(t, int64(-100), r.ChatID)
	assert.Equal(t, 55, r.MessageID)
	assert.Equal(t, int64(8), r.ReactorID)
	assert.Equal(t, "Pat", r.ReactorName)
	assert.Equal(t, []int64{7}, r.MentionedUserIDs)
	assert.Equal(t, []string{"peer"}, r.ReactorRoles)
	// No bot identity known.
	assert.False(t, r.AuthorIsSystem)
}

func TestRolesFromAdmins(t *testing.T) {
	t.Parallel()

	calls := 0
	a := &Adapter{
		cfg: Config{AdminsArePeers: true, PeerRole: "checker"}.withDefaults(),
		log: logx.Nop(),
		admins: newAdminCache(time.Minute, func(chatID int64) ([]int64, error) {
			calls++
			return []int64{1, 2}, nil
		}),
	}
	assert.Equal(t, []string{"checker"}, a.rolesFor(-100, 2))
	assert.Nil(t, a.rolesFor(-100, 3))
	assert.Equal(t, 1, calls, "admin list not cached")

	// Private chats have no admins.
	assert.Nil(t, a.rolesFor(5, 2))

	a.ApplyPeers(" Mods ", []int64{3}, false)
	assert.Equal(t, []string{"mods"}, a.rolesFor(-100, 3))
	assert.Nil(t, a.rolesFor(-100, 2))
}

func TestAdminCacheExpiresAndServesStale(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	fail := false
	c := newAdminCache(time.Minute, func(int64) ([]int64, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return []int64{1}, nil
	})
	c.now = func() time.Time { return now }

	ok, err := c.isAdmin(-1, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	fail = true
	ok, err = c.isAdmin(-1, 1)
	assert.Error(t, err)
	assert.True(t, ok, "expired entry should still answer")

	c.forget(-1)
	ok, err = c.isAdmin(-1, 1)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestMentionUsesLastSeenName(t *testing.T) {
	t.Parallel()

	a := &Adapter{log: logx.Nop()}
	assert.Equal(t, `<a href="tg://user?id=7">user 7</a>`, a.Mention(7))

	a.names.remember(&tele.User{ID: 7, FirstName: "Sam <3"})
	assert.Equal(t, `<a href="tg://user?id=7">Sam &lt;3</a>`, a.Mention(7))
}
