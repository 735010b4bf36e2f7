package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

// ParseDurationField reads a config duration. Go syntax ("90m") and ISO-8601
// ("PT1H30M") are both accepted. Empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var (
		d   time.Duration
		err error
	)
	if strings.HasPrefix(strings.ToUpper(s), "P") {
		var iso *duration.Duration
		if iso, err = duration.Parse(strings.ToUpper(s)); err == nil {
			d = iso.ToTimeDuration()
		}
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
