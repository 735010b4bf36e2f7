package schedule

import (
	"errors"
	"fmt"
	"time"
)

// Kind names a schedule variant as stored in the database.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

var (
	// ErrInvalid wraps every malformed kind or parameter string.
	ErrInvalid = errors.New("invalid schedule")
	// ErrDayOutOfRange is returned when the target month has no such day (e.g. 31 in April).
	ErrDayOutOfRange = errors.New("day is out of range for month")
)

var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Schedule is one of Daily, Weekly or Monthly.
type Schedule interface {
	Kind() Kind
	// Params re-encodes the schedule in its canonical string form.
	Params() string
	// Next returns the next occurrence strictly after now, in now's location.
	Next(now time.Time) (time.Time, error)
	Describe() string
}

type Daily struct {
	Hour, Minute int
}

type Weekly struct {
	Weekday      int // 0=Monday .. 6=Sunday
	Hour, Minute int
}

type Monthly struct {
	Day          int // 1..31
	Hour, Minute int
}

func (Daily) Kind() Kind   { return KindDaily }
func (Weekly) Kind() Kind  { return KindWeekly }
func (Monthly) Kind() Kind { return KindMonthly }

func (d Daily) Params() string   { return hhmm(d.Hour, d.Minute) }
func (w Weekly) Params() string  { return fmt.Sprintf("%d,%s", w.Weekday, hhmm(w.Hour, w.Minute)) }
func (m Monthly) Params() string { return fmt.Sprintf("%d,%s", m.Day, hhmm(m.Hour, m.Minute)) }

func (d Daily) Describe() string { return "Daily at " + hhmm(d.Hour, d.Minute) }
func (w Weekly) Describe() string {
	return fmt.Sprintf("Weekly on %s at %s", WeekdayName(w.Weekday), hhmm(w.Hour, w.Minute))
}
func (m Monthly) Describe() string {
	return fmt.Sprintf("Monthly on day %d at %s", m.Day, hhmm(m.Hour, m.Minute))
}

// Next returns today at HH:MM when that is still ahead, otherwise tomorrow.
func (d Daily) Next(now time.Time) (time.Time, error) {
	t := time.Date(now.Year(), now.Month(), now.Day(), d.Hour, d.Minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// Next always moves to a later week day: today never qualifies, even when
// the time of day has not passed yet.
func (w Weekly) Next(now time.Time) (time.Time, error) {
	ahead := w.Weekday - isoWeekday(now)
	if ahead <= 0 {
		ahead += 7
	}
	return time.Date(now.Year(), now.Month(), now.Day()+ahead, w.Hour, w.Minute, 0, 0, now.Location()), nil
}

// Next uses the current month, or the next one (December rolls into January)
// when the moment has passed. A month lacking the day yields ErrDayOutOfRange.
func (m Monthly) Next(now time.Time) (time.Time, error) {
	t, err := monthDate(now.Year(), now.Month(), m, now.Location())
	if err != nil {
		return time.Time{}, err
	}
	if t.After(now) {
		return t, nil
	}
	year, month := now.Year(), now.Month()+1
	if now.Month() == time.December {
		year, month = year+1, time.January
	}
	return monthDate(year, month, m, now.Location())
}

// NextSkipping behaves like Next, but months that lack the day are skipped
// instead of failing. Other schedules are passed through unchanged.
func NextSkipping(s Schedule, now time.Time) (time.Time, error) {
	m, ok := s.(Monthly)
	if !ok {
		return s.Next(now)
	}
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	for i := 0; i < 13; i++ {
		ym := first.AddDate(0, i, 0)
		t, err := monthDate(ym.Year(), ym.Month(), m, now.Location())
		if err != nil {
			continue
		}
		if t.After(now) {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: no month contains day %d", ErrDayOutOfRange, m.Day)
}

// ComputeNext parses kind/params and returns the next occurrence after now.
func ComputeNext(kind Kind, params string, now time.Time) (time.Time, error) {
	s, err := Parse(kind, params)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(now)
}

// WeekdayName maps 0..6 (Monday first) to an English day name.
func WeekdayName(i int) string {
	if i < 0 || i > 6 {
		return fmt.Sprintf("day %d", i)
	}
	return weekdayNames[i]
}

func monthDate(year int, month time.Month, m Monthly, loc *time.Location) (time.Time, error) {
	t := time.Date(year, month, m.Day, m.Hour, m.Minute, 0, 0, loc)
	if t.Month() != month {
		return time.Time{}, fmt.Errorf("%w: day %d in %s %d", ErrDayOutOfRange, m.Day, month, year)
	}
	return t, nil
}

func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func hhmm(h, m int) string {
	return fmt.Sprintf("%02d:%02d", h, m)
}
