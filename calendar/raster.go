package calendar

import "time"

// ValidRasters are the raster values that divide an hour without a
// remainder. Partly available allocations snap reservation boundaries
// to one of these granularities.
var ValidRasters = []int{5, 10, 15, 30, 60}

// MinRaster is the smallest supported raster in minutes.
const MinRaster = 5

// IsValidRaster reports whether the given raster (in minutes) is supported.
func IsValidRaster(raster int) bool {
	for _, r := range ValidRasters {
		if r == raster {
			return true
		}
	}
	return false
}

// RasterStart snaps t down to the previous raster boundary.
func RasterStart(t time.Time, raster int) time.Time {
	delta := time.Duration(t.Minute()%raster)*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())*time.Nanosecond
	return t.Add(-delta)
}

// RasterEnd snaps t up to the next raster boundary. Times already on a
// boundary are returned unchanged, so the result always forms a valid
// half-open end.
func RasterEnd(t time.Time, raster int) time.Time {
	start := RasterStart(t, raster)
	if start.Equal(t) {
		return t
	}
	return start.Add(time.Duration(raster) * time.Minute)
}

// RasterSpan snaps a half-open range outward to raster boundaries.
func RasterSpan(start, end time.Time, raster int) (time.Time, time.Time) {
	return RasterStart(start, raster), RasterEnd(end, raster)
}

// OnRaster reports whether t sits exactly on a raster boundary.
func OnRaster(t time.Time, raster int) bool {
	return t.Minute()%raster == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// Span is a half-open [Start, End) range.
type Span struct {
	Start time.Time
	End   time.Time
}

// IterateSpan partitions the half-open range into raster-sized ticks.
// The range is snapped outward first, so partial ticks at either end
// become whole ones.
func IterateSpan(start, end time.Time, raster int) []Span {
	start, end = RasterSpan(start, end, raster)

	step := time.Duration(raster) * time.Minute
	spans := make([]Span, 0, int(end.Sub(start)/step))

	for t := start; t.Before(end); t = t.Add(step) {
		spans = append(spans, Span{Start: t, End: t.Add(step)})
	}

	return spans
}
