package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cronnarc/cronguard/internal/analytics"
	"github.com/cronnarc/cronguard/internal/model"
	"github.com/cronnarc/cronguard/internal/uptime"
)

func sampleReport() analytics.MonitorReport {
	return analytics.MonitorReport{
		MonitorID: "m1",
		Name:      "Nightly backup",
		Slug:      "nightly-backup",
		Status:    model.StatusHealthy,
		Windows: []analytics.WindowUptime{
			{Window: uptime.Window24h, UptimePercent: 100, PeriodSeconds: 86400},
			{Window: uptime.Window30d, UptimePercent: 99.5, DowntimeSeconds: 12960, PeriodSeconds: 2592000},
		},
		Incidents30d: analytics.IncidentSummary{Total: 2, MergedPeriods: 1, TotalDowntimeSeconds: 12960, LongestSeconds: 12960, AverageDurationSeconds: 12960},
	}
}

func TestPrintReportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "json"))

	var got analytics.MonitorReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "m1", got.MonitorID)
	assert.InDelta(t, 99.5, got.Uptime(uptime.Window30d), 0.0001)
}

func TestPrintReportYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "yaml"))

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "nightly-backup", doc["slug"])
	assert.Contains(t, doc, "incidents30d")
}

func TestPrintReportText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, sampleReport(), "text"))

	out := buf.String()
	assert.Contains(t, out, "Nightly backup (nightly-backup)  HEALTHY")
	assert.Contains(t, out, "99.50%")
	assert.Contains(t, out, "3h36m0s")
	assert.Contains(t, out, "incidents (30d): 2, 0 ongoing")
}

func TestLegacyJSONPath(t *testing.T) {
	assert.Equal(t, "data/cronguard.json", legacyJSONPath("data/cronguard.db"))
	assert.Equal(t, "state.json", legacyJSONPath("state.sqlite"))
}
