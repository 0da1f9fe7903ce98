package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cronnarc/cronguard/internal/cache"
	"github.com/cronnarc/cronguard/internal/docker"
	"github.com/cronnarc/cronguard/internal/events"
	"github.com/cronnarc/cronguard/internal/metrics"
	"github.com/cronnarc/cronguard/internal/model"
	"github.com/cronnarc/cronguard/internal/notify"
	"github.com/cronnarc/cronguard/internal/store"
	"github.com/cronnarc/cronguard/internal/uptime"
)

var ErrPaused = errors.New("monitor is paused")

const (
	pruneEvery      = time.Hour
	deliveryTimeout = 15 * time.Second
	restartTimeout  = 10 * time.Second
	minCooldown     = 5 * time.Second
)

type Notifier interface {
	Dispatch(ctx context.Context, refs []string, payload notify.Payload) error
}

type Remediator interface {
	Start(ctx context.Context, id string) error
	Restart(ctx context.Context, id string, timeout time.Duration) error
}

type EngineDeps struct {
	Logger        *zap.Logger
	Store         store.Store
	Notifier      Notifier
	Publisher     events.Publisher
	Cache         cache.Cache
	Docker        Remediator
	Clock         uptime.Clock
	TickInterval  time.Duration
	RetentionDays int
}

// Engine drives the monitor state machine: pings move monitors forward,
// the ticker marks overdue ones LATE and then DOWN.
type Engine struct {
	deps EngineDeps

	// opMu serializes read-modify-write cycles on monitors.
	opMu sync.Mutex

	mu          sync.RWMutex
	lastStatus  map[string]model.MonitorStatus
	lastCheck   map[string]time.Time
	remediateAt map[string]time.Time
	attempts    map[string]int
	lastPrune   map[string]time.Time

	dockerWarn sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NopCache{}
	}
	if deps.Clock == nil {
		deps.Clock = uptime.SystemClock{}
	}
	if deps.TickInterval <= 0 {
		deps.TickInterval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:        deps,
		lastStatus:  map[string]model.MonitorStatus{},
		lastCheck:   map[string]time.Time{},
		remediateAt: map[string]time.Time{},
		attempts:    map[string]int{},
		lastPrune:   map[string]time.Time{},
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (e *Engine) Start() {
	e.deps.Logger.Info("monitor engine started", zap.Duration("tick", e.deps.TickInterval))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop()
	}()
}

// Stop ends the ticker loop and waits for in-flight notifications.
func (e *Engine) Stop() {
	e.deps.Logger.Info("monitor engine stopping")
	e.cancel()
	e.wg.Wait()
	e.deps.Logger.Info("monitor engine stopped")
}

func (e *Engine) StatusSnapshot() map[string]model.MonitorStatusInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]model.MonitorStatusInfo, len(e.lastStatus))
	for k, v := range e.lastStatus {
		out[k] = model.MonitorStatusInfo{
			Status:    v,
			LastCheck: e.lastCheck[k],
		}
	}
	return out
}

func (e *Engine) loop() {
	ticker := time.NewTicker(e.deps.TickInterval)
	defer ticker.Stop()

	e.tick()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	if err := e.Evaluate(e.ctx, e.deps.Clock.Now()); err != nil && !errors.Is(err, context.Canceled) {
		e.deps.Logger.Error("evaluate monitors", zap.Error(err))
	}
}

// RecordPing applies a check-in to the monitor owning slug.
func (e *Engine) RecordPing(ctx context.Context, slug string, kind model.PingKind, message, sourceIP string) (model.Monitor, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	m, err := e.deps.Store.GetMonitorBySlug(ctx, slug)
	if err != nil {
		return model.Monitor{}, err
	}
	if m.IsArchived() || m.Status == model.StatusPaused {
		return m, ErrPaused
	}

	switch kind {
	case model.PingSuccess, model.PingStart, model.PingFail:
	default:
		return model.Monitor{}, fmt.Errorf("unknown ping kind %q", kind)
	}

	now := e.deps.Clock.Now()
	if err := e.deps.Store.AddPing(ctx, model.Ping{
		MonitorID:  m.ID,
		Kind:       kind,
		ReceivedAt: now,
		Message:    message,
		SourceIP:   sourceIP,
	}); err != nil {
		return model.Monitor{}, fmt.Errorf("record ping: %w", err)
	}
	metrics.PingsTotal.WithLabelValues(string(kind)).Inc()

	prev := m.Status
	next := now.Add(m.ExpectedInterval())

	switch kind {
	case model.PingSuccess:
		m.Status = model.StatusHealthy
		m.LastPingAt = &now
		m.NextExpectedAt = &next

	case model.PingStart:
		// an open outage stays DOWN or FAILED until the job reports success
		if m.Status.IsDown() {
			break
		}
		m.Status = model.StatusRunning
		if m.NextExpectedAt == nil || now.After(*m.NextExpectedAt) {
			m.NextExpectedAt = &next
		}

	case model.PingFail:
		m.Status = model.StatusFailed
		m.LastPingAt = &now
		m.NextExpectedAt = &next
	}

	m, err = e.deps.Store.UpsertMonitor(ctx, m)
	if err != nil {
		return model.Monitor{}, fmt.Errorf("save monitor: %w", err)
	}

	switch kind {
	case model.PingSuccess:
		if err := e.closeIncidents(ctx, m, now); err != nil {
			return m, err
		}
	case model.PingFail:
		if err := e.openIncident(ctx, m, model.IncidentFailed, failMessage(message), now); err != nil {
			return m, err
		}
	}

	e.transition(ctx, prev, m, now, message)
	e.prune(ctx, m.ID, now)
	return m, nil
}

// Evaluate checks every active monitor against its deadline at now.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	started := time.Now()
	defer func() { metrics.EvaluationDuration.Observe(time.Since(started).Seconds()) }()

	monitors, err := e.deps.Store.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("list monitors: %w", err)
	}

	for _, m := range monitors {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.IsArchived() {
			continue
		}
		e.setLastStatus(m.ID, m.Status, now)
		e.prune(ctx, m.ID, now)

		next, ok := overdueStatus(m, now)
		if !ok || next == m.Status {
			continue
		}

		prev := m.Status
		m.Status = next
		saved, err := e.deps.Store.UpsertMonitor(ctx, m)
		if err != nil {
			e.deps.Logger.Error("save monitor", zap.String("monitor_id", m.ID), zap.Error(err))
			continue
		}
		m = saved

		if next == model.StatusDown {
			msg := fmt.Sprintf("no ping since %s", m.NextExpectedAt.Format(time.RFC3339))
			if err := e.openIncident(ctx, m, model.IncidentMissed, msg, now); err != nil {
				e.deps.Logger.Error("open incident", zap.String("monitor_id", m.ID), zap.Error(err))
			}
		}
		e.transition(ctx, prev, m, now, "")
	}
	return nil
}

// overdueStatus returns the status a monitor should move to at now, if any.
// Only HEALTHY, RUNNING and LATE monitors with a deadline are evaluated.
func overdueStatus(m model.Monitor, now time.Time) (model.MonitorStatus, bool) {
	switch m.Status {
	case model.StatusHealthy, model.StatusRunning, model.StatusLate:
	default:
		return "", false
	}
	if m.NextExpectedAt == nil {
		return "", false
	}

	deadline := *m.NextExpectedAt
	switch {
	case now.After(deadline.Add(m.GracePeriod())):
		return model.StatusDown, true
	case now.After(deadline):
		return model.StatusLate, true
	}
	return "", false
}

func (e *Engine) Pause(ctx context.Context, id string) (model.Monitor, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	m, err := e.deps.Store.GetMonitor(ctx, id)
	if err != nil {
		return model.Monitor{}, err
	}
	if m.Status == model.StatusPaused {
		return m, nil
	}

	now := e.deps.Clock.Now()
	prev := m.Status
	m.Status = model.StatusPaused
	if m, err = e.deps.Store.UpsertMonitor(ctx, m); err != nil {
		return model.Monitor{}, err
	}
	if err := e.closeIncidents(ctx, m, now); err != nil {
		return m, err
	}
	e.transition(ctx, prev, m, now, "paused")
	return m, nil
}

// Resume returns a paused monitor to PENDING. It stays unevaluated until
// the next ping sets a deadline.
func (e *Engine) Resume(ctx context.Context, id string) (model.Monitor, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	m, err := e.deps.Store.GetMonitor(ctx, id)
	if err != nil {
		return model.Monitor{}, err
	}
	if m.Status != model.StatusPaused {
		return m, nil
	}

	prev := m.Status
	m.Status = model.StatusPending
	m.NextExpectedAt = nil
	if m, err = e.deps.Store.UpsertMonitor(ctx, m); err != nil {
		return model.Monitor{}, err
	}
	e.transition(ctx, prev, m, e.deps.Clock.Now(), "resumed")
	return m, nil
}

// Update applies fn to a stored monitor and saves it. A changed interval
// moves the pending deadline, and archiving pauses the monitor and closes
// its open incidents.
func (e *Engine) Update(ctx context.Context, id string, fn func(*model.Monitor) error) (model.Monitor, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	m, err := e.deps.Store.GetMonitor(ctx, id)
	if err != nil {
		return model.Monitor{}, err
	}
	before := m
	if err := fn(&m); err != nil {
		return model.Monitor{}, err
	}

	if m.ExpectedIntervalSeconds != before.ExpectedIntervalSeconds && m.NextExpectedAt != nil && m.LastPingAt != nil {
		next := m.LastPingAt.Add(m.ExpectedInterval())
		m.NextExpectedAt = &next
	}
	archived := m.IsArchived() && !before.IsArchived()
	if archived {
		m.Status = model.StatusPaused
	}

	m, err = e.deps.Store.UpsertMonitor(ctx, m)
	if err != nil {
		return model.Monitor{}, err
	}

	now := e.deps.Clock.Now()
	message := "updated"
	if archived {
		message = "archived"
		if err := e.closeIncidents(ctx, m, now); err != nil {
			return m, err
		}
	}
	e.transition(ctx, before.Status, m, now, message)
	return m, nil
}

// Delete removes a monitor with its history. Deleting a missing monitor
// is not an error.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.deps.Store.DeleteMonitor(ctx, id); err != nil {
		return err
	}
	if err := e.deps.Cache.InvalidateMonitor(ctx, id); err != nil {
		e.deps.Logger.Warn("invalidate uptime cache", zap.String("monitor_id", id), zap.Error(err))
	}
	e.forget(id)
	return nil
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastStatus, id)
	delete(e.lastCheck, id)
	delete(e.remediateAt, id)
	delete(e.attempts, id)
	delete(e.lastPrune, id)
}

func (e *Engine) openIncident(ctx context.Context, m model.Monitor, typ model.IncidentType, msg string, now time.Time) error {
	if _, err := e.deps.Store.ActiveIncident(ctx, m.ID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("active incident: %w", err)
	}

	inc, err := e.deps.Store.OpenIncident(ctx, model.Incident{
		MonitorID: m.ID,
		Type:      typ,
		Message:   msg,
		StartedAt: now,
	})
	if err != nil {
		return fmt.Errorf("open incident: %w", err)
	}

	metrics.IncidentsOpened.WithLabelValues(string(typ)).Inc()
	e.deps.Logger.Warn("incident opened",
		zap.String("monitor_id", m.ID),
		zap.String("incident_id", inc.ID),
		zap.String("type", string(typ)),
	)
	e.publish(m, model.Event{
		ID:        uuid.NewString(),
		Type:      model.EventIncidentOpened,
		MonitorID: m.ID,
		At:        now,
		Data: map[string]any{
			"incidentId":  inc.ID,
			"type":        string(typ),
			"message":     msg,
			"monitorName": m.Name,
		},
	}, false)
	return nil
}

// closeIncidents resolves the open incidents of a monitor. Pausing and
// archiving close them too, so paused time is not counted as downtime.
func (e *Engine) closeIncidents(ctx context.Context, m model.Monitor, now time.Time) error {
	n, err := e.deps.Store.ResolveIncidents(ctx, m.ID, now)
	if err != nil {
		return fmt.Errorf("resolve incidents: %w", err)
	}
	if n > 0 {
		e.incidentResolved(m, now, n)
	}
	return nil
}

func (e *Engine) incidentResolved(m model.Monitor, now time.Time, n int) {
	e.deps.Logger.Info("incidents resolved", zap.String("monitor_id", m.ID), zap.Int("count", n))
	e.publish(m, model.Event{
		ID:        uuid.NewString(),
		Type:      model.EventIncidentResolved,
		MonitorID: m.ID,
		At:        now,
		Data: map[string]any{
			"resolved":    n,
			"monitorName": m.Name,
		},
	}, false)
}

func (e *Engine) transition(ctx context.Context, prev model.MonitorStatus, m model.Monitor, now time.Time, message string) {
	e.setLastStatus(m.ID, m.Status, now)
	if err := e.deps.Cache.InvalidateMonitor(ctx, m.ID); err != nil {
		e.deps.Logger.Warn("invalidate uptime cache", zap.String("monitor_id", m.ID), zap.Error(err))
	}
	if prev == m.Status {
		return
	}

	metrics.StatusTransitions.WithLabelValues(string(prev), string(m.Status)).Inc()
	e.deps.Logger.Info("monitor status changed",
		zap.String("monitor_id", m.ID),
		zap.String("monitor_name", m.Name),
		zap.String("previous", string(prev)),
		zap.String("current", string(m.Status)),
	)

	e.publish(m, model.Event{
		ID:        uuid.NewString(),
		Type:      model.EventStatusChanged,
		MonitorID: m.ID,
		At:        now,
		Data: map[string]any{
			"monitorName": m.Name,
			"previous":    string(prev),
			"current":     string(m.Status),
			"message":     message,
		},
	}, true)

	switch {
	case m.Status == model.StatusHealthy:
		e.resetAttempts(m.ID)
	case m.Status.IsDown():
		e.tryRemediate(now, m)
	}
}

// publish hands ev to the event publisher and, when notify is set, to the
// monitor's webhooks. Delivery runs in the background.
func (e *Engine) publish(m model.Monitor, ev model.Event, notifyWebhooks bool) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		if err := e.deps.Publisher.Publish(ctx, ev); err != nil {
			e.deps.Logger.Warn("publish event", zap.String("monitor_id", m.ID), zap.String("type", string(ev.Type)), zap.Error(err))
		}
		if !notifyWebhooks || e.deps.Notifier == nil || len(m.NotifyWebhookIDs) == 0 {
			return
		}
		if err := e.deps.Notifier.Dispatch(ctx, m.NotifyWebhookIDs, notify.PayloadFromEvent(ev)); err != nil {
			e.deps.Logger.Warn("webhook delivery", zap.String("monitor_id", m.ID), zap.Error(err))
		}
	}()
}

func (e *Engine) tryRemediate(now time.Time, m model.Monitor) {
	p := m.Remediation
	if p == nil || p.ContainerID == "" || p.Action == "" || p.Action == model.RemediationNone || p.MaxAttempts <= 0 {
		return
	}
	if e.deps.Docker == nil {
		e.dockerWarn.Do(func() {
			e.deps.Logger.Warn("container remediation configured but docker is unavailable", zap.String("monitor_id", m.ID))
		})
		return
	}

	e.mu.Lock()
	next := e.remediateAt[m.ID]
	if !next.IsZero() && now.Before(next) {
		e.mu.Unlock()
		return
	}
	if e.attempts[m.ID] >= p.MaxAttempts {
		e.mu.Unlock()
		return
	}
	e.attempts[m.ID]++
	attempt := e.attempts[m.ID]
	cooldown := time.Duration(p.CooldownSeconds) * time.Second
	if cooldown < minCooldown {
		cooldown = minCooldown
	}
	e.remediateAt[m.ID] = now.Add(cooldown)
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		var err error
		switch p.Action {
		case model.RemediationStart:
			err = e.deps.Docker.Start(ctx, p.ContainerID)
		case model.RemediationRestart:
			err = e.deps.Docker.Restart(ctx, p.ContainerID, restartTimeout)
		default:
			return
		}

		switch {
		case errors.Is(err, docker.ErrDockerUnavailable):
			metrics.RemediationsTotal.WithLabelValues(string(p.Action), "unavailable").Inc()
			e.dockerWarn.Do(func() {
				e.deps.Logger.Warn("docker is unavailable, remediation disabled", zap.String("monitor_id", m.ID))
			})
		case err != nil:
			metrics.RemediationsTotal.WithLabelValues(string(p.Action), "error").Inc()
			e.deps.Logger.Error("remediation action failed",
				zap.String("monitor_id", m.ID),
				zap.String("action", string(p.Action)),
				zap.Error(err),
			)
		default:
			metrics.RemediationsTotal.WithLabelValues(string(p.Action), "ok").Inc()
			e.deps.Logger.Info("remediation action success",
				zap.String("monitor_id", m.ID),
				zap.String("action", string(p.Action)),
				zap.Int("attempt", attempt),
			)
			e.publish(m, model.Event{
				ID:        uuid.NewString(),
				Type:      model.EventRemediated,
				MonitorID: m.ID,
				At:        now,
				Data: map[string]any{
					"monitorName": m.Name,
					"action":      string(p.Action),
					"containerId": p.ContainerID,
					"attempt":     attempt,
				},
			}, true)
		}
	}()
}

func (e *Engine) prune(ctx context.Context, id string, now time.Time) {
	if e.deps.RetentionDays <= 0 {
		return
	}
	e.mu.Lock()
	last, seen := e.lastPrune[id]
	if seen && now.Sub(last) < pruneEvery {
		e.mu.Unlock()
		return
	}
	e.lastPrune[id] = now
	e.mu.Unlock()

	cutoff := now.AddDate(0, 0, -e.deps.RetentionDays)
	if err := e.deps.Store.PrunePings(ctx, id, cutoff); err != nil {
		e.deps.Logger.Warn("prune pings", zap.String("monitor_id", id), zap.Error(err))
	}
}

func (e *Engine) setLastStatus(id string, s model.MonitorStatus, t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastStatus[id] = s
	e.lastCheck[id] = t
}

func (e *Engine) resetAttempts(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, id)
	delete(e.remediateAt, id)
}

func failMessage(msg string) string {
	if msg == "" {
		return "job reported failure"
	}
	return msg
}
