// Package analytics builds every uptime view (monitor reports, daily history,
// status pages, status groups and badges) on top of uptime.Calculate.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cronnarc/cronguard/internal/cache"
	"github.com/cronnarc/cronguard/internal/metrics"
	"github.com/cronnarc/cronguard/internal/model"
	"github.com/cronnarc/cronguard/internal/store"
	"github.com/cronnarc/cronguard/internal/uptime"
)

const (
	DefaultHistoryDays = 90
	MaxHistoryDays     = 365

	statusPageIncidents = 10
)

type Service struct {
	store store.Store
	cache cache.Cache
	clock uptime.Clock
	ttl   time.Duration
	loc   *time.Location
	log   *zap.Logger
}

type Options struct {
	Cache    cache.Cache
	Clock    uptime.Clock
	CacheTTL time.Duration
	Location *time.Location
	Logger   *zap.Logger
}

func NewService(st store.Store, opts Options) *Service {
	s := &Service{
		store: st,
		cache: opts.Cache,
		clock: opts.Clock,
		ttl:   opts.CacheTTL,
		loc:   opts.Location,
		log:   opts.Logger,
	}
	if s.cache == nil {
		s.cache = cache.NopCache{}
	}
	if s.clock == nil {
		s.clock = uptime.SystemClock{}
	}
	if s.ttl <= 0 {
		s.ttl = time.Minute
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

type WindowUptime struct {
	Window          uptime.WindowName `json:"window"`
	UptimePercent   float64           `json:"uptimePercent"`
	DowntimeSeconds int64             `json:"downtimeSeconds"`
	PeriodSeconds   int64             `json:"periodSeconds"`
}

type IncidentSummary struct {
	Total                  int   `json:"total"`
	Ongoing                int   `json:"ongoing"`
	MergedPeriods          int   `json:"mergedPeriods"`
	TotalDowntimeSeconds   int64 `json:"totalDowntimeSeconds"`
	LongestSeconds         int64 `json:"longestSeconds"`
	AverageDurationSeconds int64 `json:"averageDurationSeconds"`
}

type MonitorReport struct {
	MonitorID      string              `json:"monitorId"`
	Name           string              `json:"name"`
	Slug           string              `json:"slug"`
	Status         model.MonitorStatus `json:"status"`
	LastPingAt     *time.Time          `json:"lastPingAt,omitempty"`
	NextExpectedAt *time.Time          `json:"nextExpectedAt,omitempty"`
	GeneratedAt    time.Time           `json:"generatedAt"`
	Windows        []WindowUptime      `json:"windows"`
	Incidents30d   IncidentSummary     `json:"incidents30d"`
}

// Uptime returns the percentage of one window, or 100 when absent.
func (r MonitorReport) Uptime(w uptime.WindowName) float64 {
	for _, wu := range r.Windows {
		if wu.Window == w {
			return wu.UptimePercent
		}
	}
	return 100
}

type DayView struct {
	Date            string       `json:"date"`
	UptimePercent   float64      `json:"uptimePercent"`
	DowntimeSeconds int64        `json:"downtimeSeconds"`
	Incidents       int          `json:"incidents"`
	Level           uptime.Level `json:"level"`
}

type IncidentView struct {
	ID              string             `json:"id"`
	Type            model.IncidentType `json:"type"`
	Message         string             `json:"message,omitempty"`
	StartedAt       time.Time          `json:"startedAt"`
	ResolvedAt      *time.Time         `json:"resolvedAt,omitempty"`
	DurationSeconds int64              `json:"durationSeconds"`
}

type StatusPage struct {
	Title           string              `json:"title"`
	Description     string              `json:"description,omitempty"`
	Status          model.MonitorStatus `json:"status"`
	LastPingAt      *time.Time          `json:"lastPingAt,omitempty"`
	Uptime          []WindowUptime      `json:"uptime"`
	Days            []DayView           `json:"days"`
	RecentIncidents []IncidentView      `json:"recentIncidents"`
}

type GroupMember struct {
	MonitorID     string              `json:"monitorId"`
	Name          string              `json:"name"`
	Slug          string              `json:"slug"`
	Status        model.MonitorStatus `json:"status"`
	UptimePercent float64             `json:"uptimePercent"`
}

type GroupStatus struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Slug          string              `json:"slug"`
	Description   string              `json:"description,omitempty"`
	Status        model.MonitorStatus `json:"status"`
	UptimePercent float64             `json:"uptimePercent"`
	Window        uptime.WindowName   `json:"window"`
	Members       []GroupMember       `json:"members"`
}

type BadgeData struct {
	Status        model.MonitorStatus `json:"status"`
	UptimePercent float64             `json:"uptimePercent"`
	Window        uptime.WindowName   `json:"window"`
}

func (s *Service) MonitorReport(ctx context.Context, id string) (MonitorReport, error) {
	now := s.clock.Now()
	key := cache.ReportKey(id, "report", now)

	if data, ok, err := s.cache.Get(ctx, key); err != nil {
		s.log.Warn("uptime cache get", zap.String("monitor_id", id), zap.Error(err))
	} else if ok {
		var r MonitorReport
		if err := json.Unmarshal(data, &r); err == nil {
			metrics.CacheHits.Inc()
			return r, nil
		}
	}
	metrics.CacheMisses.Inc()

	m, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		return MonitorReport{}, err
	}
	r, err := s.buildReport(ctx, m, now)
	if err != nil {
		return MonitorReport{}, err
	}

	if data, err := json.Marshal(r); err == nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.log.Warn("uptime cache set", zap.String("monitor_id", id), zap.Error(err))
		}
	}
	return r, nil
}

func (s *Service) buildReport(ctx context.Context, m model.Monitor, now time.Time) (MonitorReport, error) {
	spans, err := s.spans(ctx, m.ID, time.Time{})
	if err != nil {
		return MonitorReport{}, err
	}
	metrics.UptimeCalculations.WithLabelValues("report").Inc()

	start30, end30 := uptime.Bounds(uptime.Window30d, m.CreatedAt, now)
	return MonitorReport{
		MonitorID:      m.ID,
		Name:           m.Name,
		Slug:           m.Slug,
		Status:         m.Status,
		LastPingAt:     m.LastPingAt,
		NextExpectedAt: m.NextExpectedAt,
		GeneratedAt:    now,
		Windows:        windows(spans, m.CreatedAt, now, uptime.StandardWindows),
		Incidents30d:   summarize(uptime.Stats(spans, start30, end30)),
	}, nil
}

// History returns one bar per day, oldest first. days <= 0 selects the
// default and larger values are capped.
func (s *Service) History(ctx context.Context, id string, days int) ([]DayView, error) {
	m, err := s.store.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.history(ctx, m, s.clock.Now(), clampDays(days))
}

func (s *Service) history(ctx context.Context, m model.Monitor, now time.Time, days int) ([]DayView, error) {
	since := now.AddDate(0, 0, -days-1)
	spans, err := s.spans(ctx, m.ID, since)
	if err != nil {
		return nil, err
	}
	metrics.UptimeCalculations.WithLabelValues("history").Inc()

	bars := uptime.Daily(spans, m.CreatedAt, now, days, s.loc)
	out := make([]DayView, len(bars))
	for i, b := range bars {
		out[i] = DayView{
			Date:            b.Date,
			UptimePercent:   b.UptimePercent,
			DowntimeSeconds: int64(b.Downtime / time.Second),
			Incidents:       b.Incidents,
			Level:           b.Level,
		}
	}
	return out, nil
}

// StatusPage returns the public page of a monitor. Monitors without an
// enabled page, and archived ones, are reported as not found.
func (s *Service) StatusPage(ctx context.Context, slug string) (StatusPage, error) {
	m, err := s.store.GetMonitorBySlug(ctx, slug)
	if err != nil {
		return StatusPage{}, err
	}
	if !m.StatusPageEnabled || m.IsArchived() {
		return StatusPage{}, store.ErrNotFound
	}

	now := s.clock.Now()
	incidents, err := s.store.ListIncidents(ctx, m.ID, now.AddDate(0, 0, -DefaultHistoryDays))
	if err != nil {
		return StatusPage{}, err
	}
	spans := model.Spans(incidents)
	metrics.UptimeCalculations.WithLabelValues("status_page").Inc()

	days, err := s.history(ctx, m, now, DefaultHistoryDays)
	if err != nil {
		return StatusPage{}, err
	}

	title := m.StatusPageTitle
	if title == "" {
		title = m.Name
	}
	return StatusPage{
		Title:           title,
		Description:     m.StatusPageDescription,
		Status:          m.Status,
		LastPingAt:      m.LastPingAt,
		Uptime:          windows(spans, m.CreatedAt, now, []uptime.WindowName{uptime.Window24h, uptime.Window30d, uptime.Window90d}),
		Days:            days,
		RecentIncidents: recentIncidents(incidents, now, statusPageIncidents),
	}, nil
}

// Group reports a status group by id or slug. Uptime is the mean 30 day
// uptime of its members and status is the worst member status. With
// publicOnly set, private groups are reported as not found.
func (s *Service) Group(ctx context.Context, ref string, publicOnly bool) (GroupStatus, error) {
	g, err := s.store.GetGroup(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		g, err = s.store.GetGroupBySlug(ctx, ref)
	}
	if err != nil {
		return GroupStatus{}, err
	}
	if publicOnly && !g.Public {
		return GroupStatus{}, store.ErrNotFound
	}

	now := s.clock.Now()
	out := GroupStatus{
		ID:            g.ID,
		Name:          g.Name,
		Slug:          g.Slug,
		Description:   g.Description,
		Status:        model.StatusPending,
		UptimePercent: 100,
		Window:        uptime.Window30d,
		Members:       []GroupMember{},
	}

	var sum float64
	for _, id := range g.MonitorIDs {
		m, err := s.store.GetMonitor(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return GroupStatus{}, err
		}
		if m.IsArchived() {
			continue
		}

		pct, err := s.windowUptime(ctx, m, uptime.Window30d, now)
		if err != nil {
			return GroupStatus{}, err
		}
		out.Members = append(out.Members, GroupMember{
			MonitorID:     m.ID,
			Name:          m.Name,
			Slug:          m.Slug,
			Status:        m.Status,
			UptimePercent: pct,
		})
		sum += pct
	}
	metrics.UptimeCalculations.WithLabelValues("group").Inc()

	if n := len(out.Members); n > 0 {
		out.UptimePercent = sum / float64(n)
		out.Status = worstStatus(out.Members)
	}
	return out, nil
}

func (s *Service) Badge(ctx context.Context, slug string, w uptime.WindowName) (BadgeData, error) {
	m, err := s.store.GetMonitorBySlug(ctx, slug)
	if err != nil {
		return BadgeData{}, err
	}
	if m.IsArchived() {
		return BadgeData{}, store.ErrNotFound
	}

	now := s.clock.Now()
	key := cache.ReportKey(m.ID, "badge-"+string(w), now)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var b BadgeData
		if err := json.Unmarshal(data, &b); err == nil {
			metrics.CacheHits.Inc()
			return b, nil
		}
	}
	metrics.CacheMisses.Inc()

	pct, err := s.windowUptime(ctx, m, w, now)
	if err != nil {
		return BadgeData{}, err
	}
	metrics.UptimeCalculations.WithLabelValues("badge").Inc()

	b := BadgeData{Status: m.Status, UptimePercent: pct, Window: w}
	if data, err := json.Marshal(b); err == nil {
		_ = s.cache.Set(ctx, key, data, s.ttl)
	}
	return b, nil
}

func (s *Service) windowUptime(ctx context.Context, m model.Monitor, w uptime.WindowName, now time.Time) (float64, error) {
	start, end := uptime.Bounds(w, m.CreatedAt, now)
	spans, err := s.spans(ctx, m.ID, start)
	if err != nil {
		return 0, err
	}
	return uptime.Calculate(spans, start, end).UptimePercent, nil
}

func (s *Service) spans(ctx context.Context, monitorID string, since time.Time) ([]uptime.Span, error) {
	incidents, err := s.store.ListIncidents(ctx, monitorID, since)
	if err != nil {
		return nil, err
	}
	return model.Spans(incidents), nil
}

func windows(spans []uptime.Span, createdAt, now time.Time, names []uptime.WindowName) []WindowUptime {
	out := make([]WindowUptime, 0, len(names))
	for _, w := range names {
		start, end := uptime.Bounds(w, createdAt, now)
		res := uptime.Calculate(spans, start, end)
		out = append(out, WindowUptime{
			Window:          w,
			UptimePercent:   res.UptimePercent,
			DowntimeSeconds: int64(res.Downtime / time.Second),
			PeriodSeconds:   int64(res.Period / time.Second),
		})
	}
	return out
}

func summarize(st uptime.IncidentStats) IncidentSummary {
	return IncidentSummary{
		Total:                  st.Total,
		Ongoing:                st.Ongoing,
		MergedPeriods:          st.MergedPeriods,
		TotalDowntimeSeconds:   int64(st.TotalDowntime / time.Second),
		LongestSeconds:         int64(st.Longest / time.Second),
		AverageDurationSeconds: int64(st.AverageDuration / time.Second),
	}
}

func recentIncidents(incidents []model.Incident, now time.Time, limit int) []IncidentView {
	sorted := make([]model.Incident, len(incidents))
	copy(sorted, incidents)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartedAt.After(sorted[j].StartedAt) })
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]IncidentView, 0, len(sorted))
	for _, inc := range sorted {
		end := now
		if inc.ResolvedAt != nil {
			end = *inc.ResolvedAt
		}
		out = append(out, IncidentView{
			ID:              inc.ID,
			Type:            inc.Type,
			Message:         inc.Message,
			StartedAt:       inc.StartedAt,
			ResolvedAt:      inc.ResolvedAt,
			DurationSeconds: int64(end.Sub(inc.StartedAt) / time.Second),
		})
	}
	return out
}

func worstStatus(members []GroupMember) model.MonitorStatus {
	worst := members[0].Status
	for _, m := range members[1:] {
		if m.Status.Severity() > worst.Severity() {
			worst = m.Status
		}
	}
	return worst
}

func clampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultHistoryDays
	case days > MaxHistoryDays:
		return MaxHistoryDays
	default:
		return days
	}
}
