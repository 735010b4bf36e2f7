package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration

	// SendRatePerSec caps outbound API calls (send, edit, answer). 0 uses 25/s.
	SendRatePerSec float64
	SendBurst      int

	// PeerRole is the role name attached to reactors allowed to verify.
	PeerRole string
	// PeerUserIDs always carry PeerRole.
	PeerUserIDs []int64
	// AdminsArePeers grants PeerRole to group administrators.
	AdminsArePeers bool
	AdminsCacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.SendRatePerSec <= 0 {
		c.SendRatePerSec = 25
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 5
	}
	if c.PeerRole == "" {
		c.PeerRole = "peer"
	}
	if c.AdminsCacheTTL <= 0 {
		c.AdminsCacheTTL = 10 * time.Minute
	}
	return c
}
