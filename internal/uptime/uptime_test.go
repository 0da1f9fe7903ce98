package uptime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func ptr(t time.Time) *time.Time { return &t }

func span(start, end time.Time) Span {
	return Span{Start: start, End: ptr(end)}
}

func TestCalculate_NoIncidents(t *testing.T) {
	res := Calculate(nil, at(0, 0), at(24, 0))

	assert.Equal(t, 100.0, res.UptimePercent)
	assert.Equal(t, time.Duration(0), res.Downtime)
	assert.Equal(t, 24*time.Hour, res.Period)
	assert.Empty(t, res.Intervals)
}

func TestCalculate_SingleIncidentInsideWindow(t *testing.T) {
	res := Calculate([]Span{span(at(10, 0), at(10, 30))}, at(0, 0), at(24, 0))

	assert.Equal(t, 30*time.Minute, res.Downtime)
	assert.InDelta(t, 100-30.0/1440*100, res.UptimePercent, 1e-9)
	assert.InDelta(t, 97.916666, res.UptimePercent, 1e-5)
}

func TestCalculate_OverlappingIncidentsMerge(t *testing.T) {
	spans := []Span{
		span(at(10, 0), at(10, 30)),
		span(at(10, 15), at(10, 45)),
	}
	res := Calculate(spans, at(0, 0), at(24, 0))

	assert.Equal(t, 45*time.Minute, res.Downtime)
	require.Len(t, res.Intervals, 1)
	assert.Equal(t, Interval{Start: at(10, 0), End: at(10, 45)}, res.Intervals[0])
}

func TestCalculate_OngoingIncident(t *testing.T) {
	spans := []Span{{Start: at(10, 0)}}
	res := Calculate(spans, at(0, 0), at(11, 0))

	assert.Equal(t, 60*time.Minute, res.Downtime)
}

func TestCalculate_IncidentBeforeWindow(t *testing.T) {
	res := Calculate([]Span{span(at(8, 0), at(9, 0))}, at(10, 0), at(12, 0))

	assert.Equal(t, time.Duration(0), res.Downtime)
	assert.Equal(t, 100.0, res.UptimePercent)
	assert.Empty(t, res.Intervals)
}

func TestCalculate_IncidentAfterWindow(t *testing.T) {
	res := Calculate([]Span{span(at(13, 0), at(14, 0))}, at(10, 0), at(12, 0))

	assert.Equal(t, time.Duration(0), res.Downtime)
}

func TestCalculate_WindowNarrowerThanIncident(t *testing.T) {
	res := Calculate([]Span{span(at(0, 0), at(23, 59))}, at(10, 0), at(11, 0))

	assert.Equal(t, 60*time.Minute, res.Downtime)
	assert.Equal(t, 0.0, res.UptimePercent)
}

func TestCalculate_DegenerateWindows(t *testing.T) {
	spans := []Span{span(at(10, 0), at(11, 0))}

	zero := Calculate(spans, at(10, 30), at(10, 30))
	assert.Equal(t, 100.0, zero.UptimePercent)
	assert.Equal(t, time.Duration(0), zero.Downtime)

	inverted := Calculate(spans, at(12, 0), at(10, 0))
	assert.Equal(t, 100.0, inverted.UptimePercent)
	assert.Equal(t, time.Duration(0), inverted.Downtime)
}

func TestMerge_TouchingIntervalsMerge(t *testing.T) {
	spans := []Span{
		span(at(11, 0), at(12, 0)),
		span(at(10, 0), at(11, 0)),
	}
	merged := Merge(spans, at(0, 0), at(24, 0))

	require.Len(t, merged, 1)
	assert.Equal(t, at(10, 0), merged[0].Start)
	assert.Equal(t, at(12, 0), merged[0].End)
}

func TestMerge_ContainedIntervalKeepsOuterEnd(t *testing.T) {
	spans := []Span{
		span(at(9, 0), at(13, 0)),
		span(at(10, 0), at(11, 0)),
	}
	merged := Merge(spans, at(0, 0), at(24, 0))

	require.Len(t, merged, 1)
	assert.Equal(t, at(13, 0), merged[0].End)
}

func TestMerge_DisjointAndSorted(t *testing.T) {
	spans := []Span{
		span(at(15, 0), at(16, 0)),
		span(at(1, 0), at(2, 0)),
		{Start: at(20, 0)},
		span(at(1, 30), at(3, 0)),
		span(at(8, 0), at(9, 0)),
		span(at(8, 30), at(8, 45)),
	}
	merged := Merge(spans, at(0, 0), at(22, 0))

	require.Len(t, merged, 4)
	for i := 1; i < len(merged); i++ {
		assert.True(t, merged[i-1].End.Before(merged[i].Start), "intervals %d and %d overlap", i-1, i)
	}
	assert.Equal(t, Interval{Start: at(20, 0), End: at(22, 0)}, merged[3])
}

func TestCalculate_UptimeAndDowntimeSumToHundred(t *testing.T) {
	spans := []Span{
		span(at(1, 0), at(2, 0)),
		span(at(1, 30), at(4, 15)),
		{Start: at(22, 10)},
		span(at(6, 0), at(6, 1)),
	}
	windows := [][2]time.Time{
		{at(0, 0), at(24, 0)},
		{at(1, 45), at(3, 0)},
		{at(5, 0), at(23, 0)},
		{at(-48, 0), at(23, 0)},
	}
	for _, w := range windows {
		res := Calculate(spans, w[0], w[1])
		downPct := float64(res.Downtime) / float64(res.Period) * 100
		assert.InDelta(t, 100.0, res.UptimePercent+downPct, 1e-9)
		assert.GreaterOrEqual(t, res.UptimePercent, 0.0)
		assert.LessOrEqual(t, res.UptimePercent, 100.0)
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	spans := []Span{
		span(at(10, 15), at(10, 45)),
		span(at(10, 0), at(10, 30)),
		{Start: at(18, 0)},
	}
	first := Calculate(spans, at(0, 0), at(20, 0))
	second := Calculate(spans, at(0, 0), at(20, 0))

	assert.Equal(t, first, second)
	// input order is left untouched
	assert.Equal(t, at(10, 15), spans[0].Start)
}

func TestStats_AverageUsesMergedPeriods(t *testing.T) {
	spans := []Span{
		span(at(10, 0), at(10, 30)),
		span(at(10, 15), at(10, 45)),
		span(at(12, 0), at(12, 15)),
		span(at(1, 0), at(2, 0)),
	}
	st := Stats(spans, at(5, 0), at(24, 0))

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.MergedPeriods)
	assert.Equal(t, 60*time.Minute, st.TotalDowntime)
	assert.Equal(t, 45*time.Minute, st.Longest)
	assert.Equal(t, 30*time.Minute, st.AverageDuration)
	assert.Equal(t, 0, st.Ongoing)
}

func TestStats_Empty(t *testing.T) {
	st := Stats(nil, at(0, 0), at(24, 0))
	assert.Equal(t, IncidentStats{}, st)
}

func TestStats_Ongoing(t *testing.T) {
	st := Stats([]Span{{Start: at(23, 0)}}, at(0, 0), at(24, 0))
	assert.Equal(t, 1, st.Ongoing)
	assert.Equal(t, time.Hour, st.TotalDowntime)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 97.92, Round(97.916666, 2))
	assert.Equal(t, 100.0, Round(99.9999, 2))
}
