package bucket

import (
	"fmt"
	"time"
)

const day = 24 * time.Hour

// Week is an ISO-8601 week.
type Week struct {
	Year   int
	Number int
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}

// ParseWeek parses the "YYYY-Www" form produced by String.
func ParseWeek(s string) (Week, error) {
	var w Week
	if _, err := fmt.Sscanf(s, "%4d-W%2d", &w.Year, &w.Number); err != nil {
		return Week{}, fmt.Errorf("invalid week %q: %w", s, err)
	}
	if w.Number < 1 || w.Number > 53 {
		return Week{}, fmt.Errorf("invalid week %q", s)
	}
	return w, nil
}

// Before orders weeks chronologically.
func (w Week) Before(o Week) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Number < o.Number
}

// WeekOf returns the ISO week of t as seen in loc.
func WeekOf(t time.Time, loc *time.Location) Week {
	y, n := t.In(loc).ISOWeek()
	return Week{Year: y, Number: n}
}

// Start returns Monday 00:00 of the week in loc.
func (w Week) Start(loc *time.Location) time.Time {
	// January 4th is always in week 1.
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, 7*(w.Number-1))
}

// End returns the exclusive end of the week in loc.
func (w Week) End(loc *time.Location) time.Time {
	return w.Start(loc).AddDate(0, 0, 7)
}

// Next returns the following week.
func (w Week) Next() Week {
	return WeekOf(w.Start(time.UTC).AddDate(0, 0, 7), time.UTC)
}

// WeeksBetween lists every week overlapping the calendar dates from..to
// (inclusive) in loc.
func WeeksBetween(from, to time.Time, loc *time.Location) []Week {
	if to.Before(from) {
		return nil
	}
	first, last := WeekOf(from, loc), WeekOf(to, loc)
	var weeks []Week
	for w := first; !last.Before(w); w = w.Next() {
		weeks = append(weeks, w)
	}
	return weeks
}

// FixedZone returns a zone for a UTC offset in minutes.
func FixedZone(offsetMinutes int) *time.Location {
	sign := "+"
	m := offsetMinutes
	if m < 0 {
		sign, m = "-", -m
	}
	return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", sign, m/60, m%60), offsetMinutes*60)
}

// DayOfLife returns floor((t-birth)/24h)+1. Days below 1 are reported as 1
// with preBirth set.
func DayOfLife(birth, t time.Time) (n int, preBirth bool) {
	d := t.Sub(birth)
	n = int(d / day)
	if d < 0 && d%day != 0 {
		n--
	}
	n++
	if n <= 0 {
		return 1, true
	}
	return n, false
}

// DayAnchor is the instant day n of life begins.
func DayAnchor(birth time.Time, n int) time.Time {
	return birth.Add(time.Duration(n-1) * day)
}
