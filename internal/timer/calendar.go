package timer

import "time"

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// nextCalendar returns the first occurrence of anchor, stepped by repeat,
// that is strictly after now. StartTimer passes now minus a nanosecond so an
// occurrence at exactly the start time counts. ok is false when repeat is once
// and the anchor has passed.
//
// Monthly occurrences step from the previous one and clamp at every step, so
// a timer anchored on the 31st fires on 28 Feb and then on the 28th from then
// on.
func nextCalendar(anchor time.Time, repeat Repeat, now time.Time) (time.Time, bool) {
	if anchor.After(now) {
		return anchor, true
	}
	switch repeat {
	case RepeatDaily:
		return stepFixed(anchor, day, now), true
	case RepeatWeekly:
		return stepFixed(anchor, week, now), true
	case RepeatMonthly:
		return stepMonthly(anchor, now), true
	default:
		return time.Time{}, false
	}
}

// stepFixed counts whole periods in seconds and jumps with AddDate in UTC.
// time.Duration only spans about 292 years, so now.Sub(anchor) and k*period
// are not usable for old anchors.
func stepFixed(anchor time.Time, period time.Duration, now time.Time) time.Time {
	t := anchor
	if k := (now.Unix()-anchor.Unix())/int64(period/time.Second) - 1; k > 0 {
		days := k * int64(period/day)
		t = anchor.UTC().AddDate(0, 0, int(days)).In(anchor.Location())
	}
	for !t.After(now) {
		t = t.Add(period)
	}
	return t
}

func stepMonthly(anchor, now time.Time) time.Time {
	t := anchor
	for !t.After(now) {
		k := 1
		if t.Day() <= 28 {
			// No month is shorter than 28 days, so the day is final and
			// the remaining gap can be skipped in one step.
			n := now.In(t.Location())
			if gap := (n.Year()-t.Year())*12 + int(n.Month()-t.Month()) - 1; gap > 1 {
				k = gap
			}
		}
		t = addMonthsClamped(t, k)
	}
	return t
}

// addMonthsClamped moves t forward by k calendar months in t's location,
// clamping the day to the last day of the target month.
func addMonthsClamped(t time.Time, k int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	last := daysIn(y, m+time.Month(k), t.Location())
	if d > last {
		d = last
	}
	return time.Date(y, m+time.Month(k), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days of month m of year y; m may overflow.
func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 12, 0, 0, 0, loc).Day()
}
