package uptime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaily_ClampsToCreationAndNow(t *testing.T) {
	now := day.Add(36 * time.Hour) // 2025-03-11 12:00
	created := day.Add(-12 * time.Hour)
	spans := []Span{
		span(day.Add(-2*time.Hour), day.Add(-1*time.Hour)),
		{Start: now.Add(-30 * time.Minute)},
	}

	bars := Daily(spans, created, now, 4, time.UTC)
	require.Len(t, bars, 4)

	assert.Equal(t, "2025-03-08", bars[0].Date)
	assert.Equal(t, LevelNoData, bars[0].Level)
	assert.Equal(t, 100.0, bars[0].UptimePercent)

	// 2025-03-09 only counts the 12 hours after creation
	assert.Equal(t, "2025-03-09", bars[1].Date)
	assert.Equal(t, time.Hour, bars[1].Downtime)
	assert.InDelta(t, 100-100.0/12, bars[1].UptimePercent, 1e-9)
	assert.Equal(t, LevelOutage, bars[1].Level)
	assert.Equal(t, 1, bars[1].Incidents)

	assert.Equal(t, LevelOperational, bars[2].Level)
	assert.Equal(t, 0, bars[2].Incidents)

	// today ends at now
	assert.Equal(t, "2025-03-11", bars[3].Date)
	assert.Equal(t, 30*time.Minute, bars[3].Downtime)
	assert.InDelta(t, 100-30.0/720*100, bars[3].UptimePercent, 1e-9)
	assert.Equal(t, LevelDegraded, bars[3].Level)
}

func TestDaily_ZeroDays(t *testing.T) {
	assert.Empty(t, Daily(nil, time.Time{}, day, 0, nil))
}

func TestDaily_Location(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC) // 2025-03-11 02:00 local
	bars := Daily(nil, time.Time{}, now, 2, loc)

	require.Len(t, bars, 2)
	assert.Equal(t, "2025-03-10", bars[0].Date)
	assert.Equal(t, "2025-03-11", bars[1].Date)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelOperational, LevelFor(100))
	assert.Equal(t, LevelDegraded, LevelFor(99.5))
	assert.Equal(t, LevelDegraded, LevelFor(95))
	assert.Equal(t, LevelOutage, LevelFor(94.99))
}

func TestBounds(t *testing.T) {
	now := at(12, 0)

	start, end := Bounds(Window24h, time.Time{}, now)
	assert.Equal(t, now.Add(-24*time.Hour), start)
	assert.Equal(t, now, end)

	created := at(6, 0)
	start, _ = Bounds(Window7d, created, now)
	assert.Equal(t, created, start)

	start, _ = Bounds(WindowAll, created, now)
	assert.Equal(t, created, start)

	start, end = Bounds(WindowAll, time.Time{}, now)
	assert.Equal(t, start, end)
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("90d")
	require.NoError(t, err)
	assert.Equal(t, Window90d, w)

	w, err = ParseWindow("")
	require.NoError(t, err)
	assert.Equal(t, Window30d, w)

	_, err = ParseWindow("1y")
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	c := NewFixedClock(day)
	assert.Equal(t, day, c.Now())
	assert.Equal(t, day.Add(time.Minute), c.Advance(time.Minute))
	c.Set(at(5, 0))
	assert.Equal(t, at(5, 0), c.Now())
}
