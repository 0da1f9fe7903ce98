package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cronnarc/cronguard/internal/analytics"
	"github.com/cronnarc/cronguard/internal/config"
	"github.com/cronnarc/cronguard/internal/docker"
	"github.com/cronnarc/cronguard/internal/model"
	"github.com/cronnarc/cronguard/internal/monitor"
	"github.com/cronnarc/cronguard/internal/store"
	"github.com/cronnarc/cronguard/internal/uptime"
)

type stubContainers struct {
	containers []docker.ContainerSummary
	err        error
}

func (s stubContainers) ListContainers(context.Context) ([]docker.ContainerSummary, error) {
	return s.containers, s.err
}

func (s stubContainers) ContainerState(_ context.Context, id string) (string, error) {
	for _, c := range s.containers {
		if c.ID == id {
			return c.State, nil
		}
	}
	return "", s.err
}

type testServer struct {
	handler http.Handler
	deps    Deps
	clock   *uptime.FixedClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewJSONStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	// the store stamps CreatedAt with wall time, so the clock starts there too
	clock := uptime.NewFixedClock(time.Now().UTC())
	engine := monitor.NewEngine(monitor.EngineDeps{Store: st, Clock: clock})
	t.Cleanup(engine.Stop)

	deps := Deps{
		Logger:    zap.NewNop(),
		Store:     st,
		Engine:    engine,
		Analytics: analytics.NewService(st, analytics.Options{Clock: clock}),
		Config: &config.Config{
			AllowedCORSOrigin: "*",
			Notifications: []config.NotificationWebhook{
				{Name: "ops", Type: "slack", URL: "https://hooks.example.com/ops"},
			},
		},
	}
	return &testServer{handler: NewRouter(deps), deps: deps, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createMonitor(t *testing.T, in map[string]any) model.Monitor {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/monitors", in)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Monitor](t, rec)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cronguard_http_requests_total")
}

func TestCreateMonitorDefaults(t *testing.T) {
	s := newTestServer(t)

	m := s.createMonitor(t, map[string]any{"name": "Nightly Backup"})
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "nightly-backup", m.Slug)
	assert.Equal(t, model.StatusPending, m.Status)
	assert.Equal(t, 3600, m.ExpectedIntervalSeconds)
	assert.Equal(t, 300, m.GracePeriodSeconds)
	assert.Nil(t, m.NextExpectedAt)

	rec := s.do(t, http.MethodGet, "/api/monitors/"+m.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, m.Slug, decode[model.Monitor](t, rec).Slug)

	rec = s.do(t, http.MethodGet, "/api/monitors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Monitor](t, rec), 1)
}

func TestCreateMonitorValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing name", map[string]any{"slug": "x"}},
		{"interval too short", map[string]any{"name": "a", "expectedInterval": 30}},
		{"bad slug", map[string]any{"name": "a", "slug": "Not A Slug"}},
		{"negative grace", map[string]any{"name": "a", "gracePeriod": -1}},
		{"remediation without container", map[string]any{"name": "a", "remediation": map[string]any{"action": "restart", "maxAttempts": 1}}},
		{"malformed json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/monitors", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	s.createMonitor(t, map[string]any{"name": "dup"})
	rec := s.do(t, http.MethodPost, "/api/monitors", map[string]any{"name": "other", "slug": "dup"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPingLifecycle(t *testing.T) {
	s := newTestServer(t)
	m := s.createMonitor(t, map[string]any{"name": "etl", "expectedInterval": 600})

	rec := s.do(t, http.MethodGet, "/ping/etl", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, string(model.StatusHealthy), body["status"])

	rec = s.do(t, http.MethodPost, "/ping/etl/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(model.StatusRunning), decode[map[string]any](t, rec)["status"])

	s.clock.Advance(time.Minute)
	rec = s.do(t, http.MethodPost, "/ping/etl/fail", "disk full")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(model.StatusFailed), decode[map[string]any](t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/api/monitors/"+m.ID+"/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	incidents := decode[[]model.Incident](t, rec)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentFailed, incidents[0].Type)
	assert.Equal(t, "disk full", incidents[0].Message)
	assert.True(t, incidents[0].Ongoing())

	rec = s.do(t, http.MethodGet, "/api/monitors/"+m.ID+"/pings?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Ping](t, rec), 3)

	s.clock.Advance(time.Minute)
	rec = s.do(t, http.MethodGet, "/ping/etl?msg=ok", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/incidents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	incidents = decode[[]model.Incident](t, rec)
	require.Len(t, incidents, 1)
	assert.False(t, incidents[0].Ongoing())

	rec = s.do(t, http.MethodGet, "/api/monitors/"+m.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[analytics.MonitorReport](t, rec)
	assert.Equal(t, m.ID, report.MonitorID)
}

func TestPingErrors(t *testing.T) {
	s := newTestServer(t)
	m := s.createMonitor(t, map[string]any{"name": "paused-job"})

	rec := s.do(t, http.MethodGet, "/ping/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/monitors/"+m.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusPaused, decode[model.Monitor](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/ping/paused-job", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/monitors/"+m.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusPending, decode[model.Monitor](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/ping/paused-job", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateAndDeleteMonitor(t *testing.T) {
	s := newTestServer(t)
	m := s.createMonitor(t, map[string]any{"name": "report"})

	rec := s.do(t, http.MethodPut, "/api/monitors/"+m.ID, map[string]any{
		"name":              "report",
		"expectedInterval":  120,
		"statusPageEnabled": true,
		"statusPageTitle":   "Reports",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[model.Monitor](t, rec)
	assert.Equal(t, 120, updated.ExpectedIntervalSeconds)
	assert.Equal(t, model.StatusPending, updated.Status)

	rec = s.do(t, http.MethodPut, "/api/monitors/missing", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/monitors/"+m.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/monitors/"+m.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistory(t *testing.T) {
	s := newTestServer(t)
	m := s.createMonitor(t, map[string]any{"name": "hist"})

	rec := s.do(t, http.MethodGet, "/api/monitors/"+m.ID+"/history?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]analytics.DayView](t, rec), 7)

	rec = s.do(t, http.MethodGet, "/api/monitors/"+m.ID+"/history?days=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/monitors/missing/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusPage(t *testing.T) {
	s := newTestServer(t)
	s.createMonitor(t, map[string]any{"name": "hidden"})
	s.createMonitor(t, map[string]any{"name": "shown", "statusPageEnabled": true, "statusPageTitle": "Shown Job"})

	rec := s.do(t, http.MethodGet, "/status/hidden", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/status/shown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[analytics.StatusPage](t, rec)
	assert.Equal(t, "Shown Job", page.Title)
	assert.Len(t, page.Days, analytics.DefaultHistoryDays)
}

func TestBadge(t *testing.T) {
	s := newTestServer(t)
	s.createMonitor(t, map[string]any{"name": "badge-job"})

	rec := s.do(t, http.MethodGet, "/badge/badge-job.svg", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	assert.Contains(t, rec.Body.String(), "100%")

	rec = s.do(t, http.MethodGet, "/badge/badge-job.svg?type=status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "status")

	rec = s.do(t, http.MethodGet, "/badge/badge-job.svg?window=1y", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/badge/unknown.svg", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not found")

	rec = s.do(t, http.MethodGet, "/badge/badge-job.png", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGroups(t *testing.T) {
	s := newTestServer(t)
	a := s.createMonitor(t, map[string]any{"name": "a"})
	b := s.createMonitor(t, map[string]any{"name": "b"})

	rec := s.do(t, http.MethodPost, "/api/groups", map[string]any{"name": "bad", "monitorIds": []string{"nope"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/groups", map[string]any{
		"name":       "Batch Jobs",
		"monitorIds": []string{a.ID, b.ID, a.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[model.StatusGroup](t, rec)
	assert.Equal(t, "batch-jobs", g.Slug)
	assert.Equal(t, []string{a.ID, b.ID}, g.MonitorIDs)

	// private groups are hidden from the public route
	rec = s.do(t, http.MethodGet, "/groups/batch-jobs/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/groups/"+g.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[analytics.GroupStatus](t, rec)
	assert.Len(t, status.Members, 2)
	assert.Equal(t, model.StatusPending, status.Status)

	rec = s.do(t, http.MethodPut, "/api/groups/"+g.ID, map[string]any{
		"name":       "Batch Jobs",
		"public":     true,
		"monitorIds": []string{a.ID},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/ping/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/groups/batch-jobs/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decode[analytics.GroupStatus](t, rec)
	require.Len(t, status.Members, 1)
	assert.Equal(t, model.StatusHealthy, status.Status)
	assert.InDelta(t, 100, status.UptimePercent, 0.001)

	rec = s.do(t, http.MethodDelete, "/api/groups/"+g.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/groups/"+g.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotifications(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/notifications", map[string]any{"name": "x", "url": "ftp://nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/notifications", map[string]any{
		"name": "team",
		"type": "discord",
		"url":  "https://discord.example.com/hook",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	n := decode[model.Notification](t, rec)
	assert.NotEmpty(t, n.ID)

	rec = s.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		ID       string `json:"id"`
		Editable bool   `json:"editable"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, n.ID, list[0].ID)
	assert.True(t, list[0].Editable)
	assert.Equal(t, "ops", list[1].ID)
	assert.False(t, list[1].Editable)

	rec = s.do(t, http.MethodDelete, "/api/notifications/"+n.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestContainers(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/containers", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	deps := s.deps
	deps.Docker = stubContainers{containers: []docker.ContainerSummary{{ID: "abc", Name: "worker", State: "exited"}}}
	rec = httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/containers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "worker")

	rec = httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/containers/abc/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"exited"`)

	deps.Docker = stubContainers{err: errors.New("daemon gone")}
	rec = httptest.NewRecorder()
	NewRouter(deps).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/containers", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSourceIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ping/x", nil)
	req.RemoteAddr = "10.0.0.7:5512"
	assert.Equal(t, "10.0.0.7", sourceIP(req))

	req.RemoteAddr = "10.0.0.8"
	assert.Equal(t, "10.0.0.8", sourceIP(req))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "nightly-db-backup", slugify("  Nightly DB Backup!! "))
	assert.Equal(t, "a-b", slugify("a__b"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "h", truncate("héllo", 2))
	assert.Equal(t, "hé", truncate("héllo", 3))
	assert.Equal(t, "", truncate("日本", 2))

	long := strings.Repeat("a", maxPingMessageBytes-1) + "é"
	got := truncate(long, maxPingMessageBytes)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxPingMessageBytes-1, len(got))
}

func TestPingMessage_BodyCutOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxPingMessageBytes-1) + "日本"
	req := httptest.NewRequest(http.MethodPost, "/ping/x", strings.NewReader(body))
	msg, err := pingMessage(req)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, strings.Repeat("a", maxPingMessageBytes-1), msg)
}
