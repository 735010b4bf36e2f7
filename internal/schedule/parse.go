package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseKind normalizes a user or database supplied kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindDaily, KindWeekly, KindMonthly:
		return k, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q (use daily, weekly or monthly)", ErrInvalid, s)
	}
}

// Parse decodes the stored parameter string of a schedule kind:
//
//	daily:   "HH:MM"
//	weekly:  "<0-6>,HH:MM"   (0 = Monday)
//	monthly: "<1-31>,HH:MM"
func Parse(kind Kind, params string) (Schedule, error) {
	params = strings.TrimSpace(params)
	switch kind {
	case KindDaily:
		h, m, err := ParseHHMM(params)
		if err != nil {
			return nil, err
		}
		return Daily{Hour: h, Minute: m}, nil
	case KindWeekly:
		day, h, m, err := splitDayTime(params)
		if err != nil {
			return nil, err
		}
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("%w: weekday %d out of range (0=Monday .. 6=Sunday)", ErrInvalid, day)
		}
		return Weekly{Weekday: day, Hour: h, Minute: m}, nil
	case KindMonthly:
		day, h, m, err := splitDayTime(params)
		if err != nil {
			return nil, err
		}
		if day < 1 || day > 31 {
			return nil, fmt.Errorf("%w: day of month %d out of range (1-31)", ErrInvalid, day)
		}
		return Monthly{Day: day, Hour: h, Minute: m}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, kind)
	}
}

// Build assembles a schedule from command arguments. day is ignored for daily.
func Build(kind Kind, hhmm string, day int) (Schedule, error) {
	if kind == KindDaily {
		return Parse(kind, hhmm)
	}
	return Parse(kind, strconv.Itoa(day)+","+strings.TrimSpace(hhmm))
}

// ParseHHMM parses a 24-hour "HH:MM" time of day.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q, expected HH:MM (24-hour, e.g. 14:30)", ErrInvalid, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrInvalid, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrInvalid, s)
	}
	return h, m, nil
}

func splitDayTime(s string) (day, hour, minute int, err error) {
	left, right, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q, expected <day>,HH:MM", ErrInvalid, s)
	}
	day, err = strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: day in %q", ErrInvalid, s)
	}
	hour, minute, err = ParseHHMM(right)
	return day, hour, minute, err
}
