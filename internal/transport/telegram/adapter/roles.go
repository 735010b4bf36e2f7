package adapter

import (
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// adminCache remembers chat administrators for a while so each button press
// does not cost a getChatAdministrators call.
type adminCache struct {
	ttl   time.Duration
	fetch func(chatID int64) ([]int64, error)
	now   func() time.Time

	mu      sync.Mutex
	entries map[int64]adminEntry
}

type adminEntry struct {
	ids map[int64]struct{}
	at  time.Time
}

func newAdminCache(ttl time.Duration, fetch func(chatID int64) ([]int64, error)) *adminCache {
	return &adminCache{ttl: ttl, fetch: fetch, now: time.Now, entries: make(map[int64]adminEntry)}
}

func (c *adminCache) isAdmin(chatID, userID int64) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[chatID]
	c.mu.Unlock()
	if ok && c.now().Sub(e.at) < c.ttl {
		_, hit := e.ids[userID]
		return hit, nil
	}

	ids, err := c.fetch(chatID)
	if err != nil {
		// Serve the expired list rather than nothing.
		if ok {
			_, hit := e.ids[userID]
			return hit, err
		}
		return false, err
	}
	e = adminEntry{ids: make(map[int64]struct{}, len(ids)), at: c.now()}
	for _, id := range ids {
		e.ids[id] = struct{}{}
	}
	c.mu.Lock()
	c.entries[chatID] = e
	c.mu.Unlock()

	_, hit := e.ids[userID]
	return hit, nil
}

func (c *adminCache) forget(chatID int64) {
	c.mu.Lock()
	delete(c.entries, chatID)
	c.mu.Unlock()
}

func botAdmins(b *tele.Bot) func(chatID int64) ([]int64, error) {
	return func(chatID int64) ([]int64, error) {
		members, err := b.AdminsOf(&tele.Chat{ID: chatID})
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(members))
		for _, m := range members {
			if m.User != nil {
				ids = append(ids, m.User.ID)
			}
		}
		return ids, nil
	}
}

// nameCache keeps the last seen display name per user for mentions.
type nameCache struct {
	mu    sync.RWMutex
	names map[int64]string
}

func (n *nameCache) remember(u *tele.User) {
	if u == nil || u.ID == 0 {
		return
	}
	name := displayName(u)
	if name == "" {
		return
	}
	n.mu.Lock()
	if n.names == nil {
		n.names = make(map[int64]string)
	}
	n.names[u.ID] = name
	n.mu.Unlock()
}

func (n *nameCache) lookup(id int64) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.names[id]
	return name, ok
}

func displayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	}
	return ""
}
