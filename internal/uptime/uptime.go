// Package uptime merges incident spans into disjoint downtime intervals and
// turns them into uptime percentages over a time window. Every uptime surface
// (analytics, status pages, badges, groups, daily history) goes through here.
package uptime

import (
	"math"
	"sort"
	"time"
)

// Span is an incident time range. A nil End means the incident is still ongoing.
type Span struct {
	Start time.Time
	End   *time.Time
}

// Interval is a closed-open downtime range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

type Result struct {
	UptimePercent float64       `json:"uptimePercent"`
	Downtime      time.Duration `json:"downtime"`
	Period        time.Duration `json:"period"`
	Intervals     []Interval    `json:"intervals"`
}

// DowntimePercent is the complement of UptimePercent.
func (r Result) DowntimePercent() float64 {
	return 100 - r.UptimePercent
}

// clampSpan fits s into [windowStart, windowEnd]. An ongoing span ends at
// windowEnd. ok is false when nothing of s lies inside the window.
func clampSpan(s Span, windowStart, windowEnd time.Time) (Interval, bool) {
	start := s.Start
	if start.Before(windowStart) {
		start = windowStart
	}
	end := windowEnd
	if s.End != nil && s.End.Before(windowEnd) {
		end = *s.End
	}
	if !start.Before(end) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Merge clamps spans to the window, sorts them by start and coalesces
// overlapping or touching ranges. The result is sorted and pairwise disjoint.
func Merge(spans []Span, windowStart, windowEnd time.Time) []Interval {
	clamped := make([]Interval, 0, len(spans))
	for _, s := range spans {
		if iv, ok := clampSpan(s, windowStart, windowEnd); ok {
			clamped = append(clamped, iv)
		}
	}
	if len(clamped) == 0 {
		return []Interval{}
	}

	sort.SliceStable(clamped, func(i, j int) bool {
		return clamped[i].Start.Before(clamped[j].Start)
	})

	merged := make([]Interval, 0, len(clamped))
	cur := clamped[0]
	for _, iv := range clamped[1:] {
		// touching intervals merge too
		if !iv.Start.After(cur.End) {
			if iv.End.After(cur.End) {
				cur.End = iv.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = iv
	}
	return append(merged, cur)
}

// Calculate returns the uptime of [windowStart, windowEnd] given the incident
// spans. A zero-width or inverted window reports 100% uptime.
func Calculate(spans []Span, windowStart, windowEnd time.Time) Result {
	period := windowEnd.Sub(windowStart)
	if period <= 0 {
		return Result{UptimePercent: 100, Intervals: []Interval{}}
	}

	merged := Merge(spans, windowStart, windowEnd)
	var downtime time.Duration
	for _, iv := range merged {
		downtime += iv.Duration()
	}

	pct := float64(period-downtime) / float64(period) * 100
	return Result{
		UptimePercent: clampPercent(pct),
		Downtime:      downtime,
		Period:        period,
		Intervals:     merged,
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
