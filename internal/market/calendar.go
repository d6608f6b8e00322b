package market

import (
	"sort"
	"time"
)

// Calendar is an ordered set of trading dates. It answers ordering and
// cadence questions (next/previous session, first session of week/month)
// for the engine's rebalance schedule.
type Calendar struct {
	dates []time.Time
	index map[time.Time]int
}

// NewCalendar builds a calendar from a set of dates. Input dates are
// truncated to UTC days, deduplicated and sorted.
func NewCalendar(dates []time.Time) *Calendar {
	seen := make(map[time.Time]bool, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := Day(d)
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	index := make(map[time.Time]int, len(out))
	for i, d := range out {
		index[d] = i
	}
	return &Calendar{dates: out, index: index}
}

// Dates returns the ordered trading dates.
func (c *Calendar) Dates() []time.Time {
	return c.dates
}

// Len returns the number of trading dates.
func (c *Calendar) Len() int {
	return len(c.dates)
}

// Contains reports whether d is a trading date.
func (c *Calendar) Contains(d time.Time) bool {
	_, ok := c.index[Day(d)]
	return ok
}

// Index returns the position of d in the calendar, or -1.
func (c *Calendar) Index(d time.Time) int {
	if i, ok := c.index[Day(d)]; ok {
		return i
	}
	return -1
}

// Next returns the trading date after d.
func (c *Calendar) Next(d time.Time) (time.Time, bool) {
	i := sort.Search(len(c.dates), func(i int) bool { return c.dates[i].After(Day(d)) })
	if i >= len(c.dates) {
		return time.Time{}, false
	}
	return c.dates[i], true
}

// Prev returns the trading date before d.
func (c *Calendar) Prev(d time.Time) (time.Time, bool) {
	day := Day(d)
	i := sort.Search(len(c.dates), func(i int) bool { return !c.dates[i].Before(day) })
	if i == 0 {
		return time.Time{}, false
	}
	return c.dates[i-1], true
}

// First returns the earliest trading date.
func (c *Calendar) First() (time.Time, bool) {
	if len(c.dates) == 0 {
		return time.Time{}, false
	}
	return c.dates[0], true
}

// Last returns the latest trading date.
func (c *Calendar) Last() (time.Time, bool) {
	if len(c.dates) == 0 {
		return time.Time{}, false
	}
	return c.dates[len(c.dates)-1], true
}

// Range returns the trading dates in [start, end].
func (c *Calendar) Range(start, end time.Time) []time.Time {
	s, e := Day(start), Day(end)
	out := make([]time.Time, 0)
	for _, d := range c.dates {
		if d.Before(s) {
			continue
		}
		if d.After(e) {
			break
		}
		out = append(out, d)
	}
	return out
}

// IsFirstOfWeek reports whether d is the first trading session of its ISO
// week, i.e. the previous session falls in an earlier week.
func (c *Calendar) IsFirstOfWeek(d time.Time) bool {
	prev, ok := c.Prev(d)
	if !ok {
		return true
	}
	y1, w1 := Day(d).ISOWeek()
	y2, w2 := prev.ISOWeek()
	return y1 != y2 || w1 != w2
}

// IsFirstOfMonth reports whether d is the first trading session of its
// calendar month.
func (c *Calendar) IsFirstOfMonth(d time.Time) bool {
	prev, ok := c.Prev(d)
	if !ok {
		return true
	}
	day := Day(d)
	return day.Year() != prev.Year() || day.Month() != prev.Month()
}
