package chore

import (
	"strings"
	"time"
)

// Config holds the tunables of the lifecycle engine.
type Config struct {
	// PeerRole is the reactor role that may verify completions.
	PeerRole string
	// PeerMention is placed in verification prompts. When empty, the
	// configured PeerUserIDs are mentioned individually.
	PeerMention string
	PeerUserIDs []int64
	// AllowSelfVerify lets a peer confirm their own chore.
	AllowSelfVerify bool

	PostponeDelay time.Duration
	RetryDelay    time.Duration
	PauseDefault  time.Duration
	PauseMin      time.Duration
}

const DefaultPeerRole = "peer"

func (c Config) withDefaults() Config {
	c.PeerRole = strings.ToLower(strings.TrimSpace(c.PeerRole))
	if c.PeerRole == "" {
		c.PeerRole = DefaultPeerRole
	}
	if c.PostponeDelay <= 0 {
		c.PostponeDelay = time.Hour
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Hour
	}
	if c.PauseDefault <= 0 {
		c.PauseDefault = 24 * time.Hour
	}
	if c.PauseMin <= 0 {
		c.PauseMin = time.Hour
	}
	return c
}
