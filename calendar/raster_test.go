package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRaster(t *testing.T) {
	for _, r := range ValidRasters {
		assert.True(t, IsValidRaster(r))
	}
	assert.False(t, IsValidRaster(0))
	assert.False(t, IsValidRaster(7))
	assert.False(t, IsValidRaster(120))
}

func TestRasterStart(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 7, 33, 12, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 1, 9, 5, 0, 0, time.UTC), RasterStart(at, 5))
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), RasterStart(at, 15))
	assert.Equal(t, time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC), RasterStart(at, 60))
}

func TestRasterEnd(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 7, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 1, 9, 10, 0, 0, time.UTC), RasterEnd(at, 5))
	assert.Equal(t, time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC), RasterEnd(at, 15))

	// boundaries stay put, so half-open ends survive the snap
	onBoundary := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, onBoundary, RasterEnd(onBoundary, 15))
}

func TestOnRaster(t *testing.T) {
	assert.True(t, OnRaster(time.Date(2024, 6, 1, 9, 15, 0, 0, time.UTC), 15))
	assert.False(t, OnRaster(time.Date(2024, 6, 1, 9, 7, 0, 0, time.UTC), 15))
	assert.False(t, OnRaster(time.Date(2024, 6, 1, 9, 15, 30, 0, time.UTC), 15))
}

func TestIterateSpan(t *testing.T) {
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	spans := IterateSpan(start, end, 15)
	require.Len(t, spans, 12)
	assert.Equal(t, start, spans[0].Start)
	assert.Equal(t, end, spans[11].End)

	// partial ticks snap outward to whole ones
	spans = IterateSpan(start.Add(7*time.Minute), start.Add(20*time.Minute), 15)
	require.Len(t, spans, 2)
	assert.Equal(t, start, spans[0].Start)
	assert.Equal(t, start.Add(30*time.Minute), spans[1].End)
}
