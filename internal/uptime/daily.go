package uptime

import "time"

type Level string

const (
	LevelOperational Level = "operational"
	LevelDegraded    Level = "degraded"
	LevelOutage      Level = "outage"
	LevelNoData      Level = "no_data"
)

// DegradedThreshold is the lowest daily uptime still shown as degraded rather than outage.
const DegradedThreshold = 95.0

type DayBar struct {
	Date          string        `json:"date"`
	UptimePercent float64       `json:"uptimePercent"`
	Downtime      time.Duration `json:"downtime"`
	Incidents     int           `json:"incidents"`
	Level         Level         `json:"level"`
}

func LevelFor(pct float64) Level {
	switch {
	case pct >= 100:
		return LevelOperational
	case pct >= DegradedThreshold:
		return LevelDegraded
	default:
		return LevelOutage
	}
}

// Daily builds one bar per calendar day in loc, oldest first, ending with the
// day containing now. Each day is clamped to [createdAt, now]; days with no
// overlap are reported as no_data.
func Daily(spans []Span, createdAt, now time.Time, days int, loc *time.Location) []DayBar {
	if days <= 0 {
		return []DayBar{}
	}
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	bars := make([]DayBar, 0, days)
	for i := days - 1; i >= 0; i-- {
		dayStart := today.AddDate(0, 0, -i)
		dayEnd := dayStart.AddDate(0, 0, 1)

		start := dayStart
		if !createdAt.IsZero() && createdAt.After(start) {
			start = createdAt
		}
		end := dayEnd
		if now.Before(end) {
			end = now
		}

		bar := DayBar{Date: dayStart.Format("2006-01-02")}
		if !start.Before(end) {
			bar.UptimePercent = 100
			bar.Level = LevelNoData
			bars = append(bars, bar)
			continue
		}

		res := Calculate(spans, start, end)
		bar.UptimePercent = res.UptimePercent
		bar.Downtime = res.Downtime
		bar.Level = LevelFor(res.UptimePercent)
		for _, s := range spans {
			if _, ok := clampSpan(s, start, end); ok {
				bar.Incidents++
			}
		}
		bars = append(bars, bar)
	}
	return bars
}
