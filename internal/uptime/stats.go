package uptime

import "time"

type IncidentStats struct {
	Total           int           `json:"total"`
	Ongoing         int           `json:"ongoing"`
	MergedPeriods   int           `json:"mergedPeriods"`
	TotalDowntime   time.Duration `json:"totalDowntime"`
	Longest         time.Duration `json:"longest"`
	AverageDuration time.Duration `json:"averageDuration"`
}

// Stats summarises the spans that overlap the window. AverageDuration is the
// merged downtime divided by the number of merged periods, not by Total.
func Stats(spans []Span, windowStart, windowEnd time.Time) IncidentStats {
	var st IncidentStats
	for _, s := range spans {
		if _, ok := clampSpan(s, windowStart, windowEnd); !ok {
			continue
		}
		st.Total++
		if s.End == nil {
			st.Ongoing++
		}
	}

	merged := Merge(spans, windowStart, windowEnd)
	st.MergedPeriods = len(merged)
	for _, iv := range merged {
		d := iv.Duration()
		st.TotalDowntime += d
		if d > st.Longest {
			st.Longest = d
		}
	}
	if st.MergedPeriods > 0 {
		st.AverageDuration = st.TotalDowntime / time.Duration(st.MergedPeriods)
	}
	return st
}
