package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is the source of "now" for everything that makes time-based decisions.
type Clock interface {
	Now() time.Time
}

type System struct{}

func (System) Now() time.Time { return time.Now() }

// TimeOfDay is a civil wall-clock time with second precision.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS (24-hour).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
	}
	var vals [3]int
	for i, p := range parts {
		if len(p) != 2 {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM or HH:MM:SS)", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		vals[i] = n
	}
	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if t.Hour > 23 || t.Minute > 59 || t.Second > 59 || t.Hour < 0 || t.Minute < 0 || t.Second < 0 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t TimeOfDay) seconds() int { return t.Hour*3600 + t.Minute*60 + t.Second }

func (t TimeOfDay) Before(o TimeOfDay) bool { return t.seconds() < o.seconds() }
func (t TimeOfDay) After(o TimeOfDay) bool  { return t.seconds() > o.seconds() }

// Add shifts the time of day, wrapping around midnight.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	const day = 24 * 3600
	s := (t.seconds() + int(d/time.Second)) % day
	if s < 0 {
		s += day
	}
	return TimeOfDay{Hour: s / 3600, Minute: s % 3600 / 60, Second: s % 60}
}

// String renders HH:MM, or HH:MM:SS when seconds are set.
func (t TimeOfDay) String() string {
	if t.Second == 0 {
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

const DateLayout = "2006-01-02"

// Date returns the calendar date y-m-d as midnight UTC, the representation used for
// requested dates throughout the service.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// DateIn returns the civil date of instant t as seen in loc.
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return Date(y, m, d)
}
