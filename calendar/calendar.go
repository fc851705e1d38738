// Package calendar provides the timezone-aware date arithmetic the
// reservations engine is built on. All ranges are half-open [start, end)
// and all stored instants are UTC; the functions here translate between
// the caller's wall-clock view and that storage form, including on days
// with a DST transition.
package calendar

import (
	"time"
)

// Day is the length of a normal day. DST transition days are one hour
// shorter or longer.
const Day = 24 * time.Hour

// ToUTC converts t to UTC. Times carrying no meaningful location should
// first be localized with Localize.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Localize reinterprets the wall-clock reading of t in the given
// location and returns the resulting instant in UTC. This is the
// treatment for "naive" input times that are meant to be local to a
// scheduler's timezone.
func Localize(t time.Time, loc *time.Location) time.Time {
	return time.Date(
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(),
		loc,
	).UTC()
}

// Overlaps reports whether the half-open ranges [s1, e1) and [s2, e2)
// share any instant.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// CountOverlaps returns the number of spans overlapping [start, end).
func CountOverlaps(spans []Span, start, end time.Time) int {
	count := 0
	for _, s := range spans {
		if Overlaps(start, end, s.Start, s.End) {
			count++
		}
	}
	return count
}

// AlignRangeToDay expands [start, end) to cover the whole local days it
// touches. The result is in UTC and honors DST, so a day with a
// transition yields the actual 23 or 25 hour span.
func AlignRangeToDay(start, end time.Time, loc *time.Location) (time.Time, time.Time) {
	s := start.In(loc)
	e := end.In(loc)

	dayStart := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)

	// an end on midnight already closes the previous day
	if e.Hour() == 0 && e.Minute() == 0 && e.Second() == 0 && e.Nanosecond() == 0 && e.After(s) {
		e = e.Add(-time.Nanosecond)
	}
	dayEnd := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	return dayStart.UTC(), dayEnd.UTC()
}

// TimeOfDay is a wall-clock time within a day. Hour 24 with minute 0
// denotes the end of the day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// DailySpans yields one [start, end) UTC pair per local calendar day
// between first and last (inclusive), bounded by dayStart and dayEnd
// wall-clock times. With wholeDay the bounds are 00:00 to 24:00. On
// DST transition days the spans cover the actual 23 or 25 hours.
func DailySpans(first, last time.Time, dayStart, dayEnd TimeOfDay, loc *time.Location, wholeDay bool) []Span {
	if wholeDay {
		dayStart = TimeOfDay{0, 0}
		dayEnd = TimeOfDay{24, 0}
	}

	f := first.In(loc)
	l := last.In(loc)

	var spans []Span
	for d := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, loc); ; d = d.AddDate(0, 0, 1) {
		if d.After(l) {
			break
		}

		s := time.Date(d.Year(), d.Month(), d.Day(), dayStart.Hour, dayStart.Minute, 0, 0, loc)
		e := time.Date(d.Year(), d.Month(), d.Day(), dayEnd.Hour, dayEnd.Minute, 0, 0, loc)
		if !e.After(s) {
			continue
		}

		spans = append(spans, Span{Start: s.UTC(), End: e.UTC()})
	}

	return spans
}

// DayBounds returns the UTC instants covering the local calendar day
// that contains t.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	d := t.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// DayShift returns by how much the local day containing t deviates from
// 24 hours. It is -1h on spring-forward days, +1h on fall-back days and
// zero otherwise.
func DayShift(t time.Time, loc *time.Location) time.Duration {
	start, end := DayBounds(t, loc)
	return end.Sub(start) - Day
}

// TransitionHour locates the DST transition within the local day
// containing t. It returns the UTC instant at which the offset changes
// and false if the day has no transition.
func TransitionHour(t time.Time, loc *time.Location) (time.Time, bool) {
	start, end := DayBounds(t, loc)

	_, offset := start.In(loc).Zone()
	for h := start; h.Before(end); h = h.Add(time.Hour) {
		if _, o := h.In(loc).Zone(); o != offset {
			return h, true
		}
	}

	return time.Time{}, false
}

// IsWholeDay reports whether [start, end) covers one or more whole
// local days.
func IsWholeDay(start, end time.Time, loc *time.Location) bool {
	s := start.In(loc)
	e := end.In(loc)

	if s.Hour() != 0 || s.Minute() != 0 || s.Second() != 0 || s.Nanosecond() != 0 {
		return false
	}
	return e.Hour() == 0 && e.Minute() == 0 && e.Second() == 0 && e.Nanosecond() == 0 && e.After(s)
}

// NormalizedAvailability scales an availability measurement on a DST
// transition day as if the day had 24 hours, so renderers see a uniform
// grid. On regular days it is the plain free/total percentage. Pass
// normalize=false to opt out and get the raw percentage.
func NormalizedAvailability(freeSeconds, totalSeconds float64, loc *time.Location, day time.Time, normalize bool) float64 {
	if totalSeconds <= 0 {
		return 0
	}

	used := totalSeconds - freeSeconds

	if normalize {
		if shift := DayShift(day, loc); shift != 0 && totalSeconds == (Day + shift).Seconds() {
			// treat the 23h day as if it had an extra unavailable
			// hour, the 25h day as if the repeated hour was free
			total := Day.Seconds()
			if shift < 0 {
				used += -shift.Seconds()
			} else if used > total {
				used = total
			}
			totalSeconds = total
		}
	}

	if used <= 0 {
		return 100.0
	}
	if used >= totalSeconds {
		return 0.0
	}

	return 100.0 - used/totalSeconds*100.0
}

// Weekday returns the weekday of t in the given location. Day filters
// compare against the allocation's local weekday, not the UTC one.
func Weekday(t time.Time, loc *time.Location) time.Weekday {
	return t.In(loc).Weekday()
}
