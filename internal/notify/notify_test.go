package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cronnarc/cronguard/internal/config"
	"github.com/cronnarc/cronguard/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	bodies map[string][]map[string]any
	status int
}

func newRecorder() (*recorder, *httptest.Server) {
	rec := &recorder{bodies: map[string][]map[string]any{}, status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(b, &body)

		rec.mu.Lock()
		rec.bodies[r.URL.Path] = append(rec.bodies[r.URL.Path], body)
		status := rec.status
		rec.mu.Unlock()

		w.WriteHeader(status)
	}))
	return rec, srv
}

type staticLister []model.Notification

func (s staticLister) ListNotifications(context.Context) ([]model.Notification, error) {
	return s, nil
}

func payload() Payload {
	return Payload{
		Type:      model.EventStatusChanged,
		MonitorID: "m1",
		At:        time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC),
		Data: map[string]any{
			"monitorName": "Nightly backup",
			"previous":    "LATE",
			"current":     "DOWN",
		},
	}
}

func TestDispatch_ResolvesConfigAndStoreWebhooks(t *testing.T) {
	rec, srv := newRecorder()
	defer srv.Close()

	d := NewDispatcher(
		[]config.NotificationWebhook{{Name: "ops", URL: srv.URL + "/generic", Type: "webhook"}},
		staticLister{{ID: "n1", Name: "chat", URL: srv.URL + "/slack", Type: "slack"}},
	)

	err := d.Dispatch(context.Background(), []string{"ops", "n1", "unknown"}, payload())
	require.NoError(t, err)

	require.Len(t, rec.bodies["/generic"], 1)
	generic := rec.bodies["/generic"][0]
	assert.Equal(t, "status_changed", generic["type"])
	assert.Equal(t, "m1", generic["monitorId"])

	require.Len(t, rec.bodies["/slack"], 1)
	text, _ := rec.bodies["/slack"][0]["text"].(string)
	assert.Contains(t, text, "Nightly backup is DOWN")
	assert.Contains(t, text, ":red_circle:")
	assert.Contains(t, text, "- Previous: LATE")
}

func TestSend_Discord(t *testing.T) {
	rec, srv := newRecorder()
	defer srv.Close()

	w := config.NotificationWebhook{Name: "d", URL: srv.URL + "/discord", Type: "discord"}
	require.NoError(t, Send(context.Background(), http.DefaultClient, w, payload()))

	require.Len(t, rec.bodies["/discord"], 1)
	embeds, ok := rec.bodies["/discord"][0]["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Nightly backup is DOWN", embed["title"])
	assert.Equal(t, float64(0xdc3545), embed["color"])
}

func TestSend_ErrorStatus(t *testing.T) {
	rec, srv := newRecorder()
	defer srv.Close()
	rec.status = http.StatusBadGateway

	w := config.NotificationWebhook{Name: "ops", URL: srv.URL + "/x"}
	err := Send(context.Background(), http.DefaultClient, w, payload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestDispatch_NoRefs(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.NoError(t, d.Dispatch(context.Background(), nil, payload()))
}

func TestTitle(t *testing.T) {
	p := payload()
	p.Type = model.EventRemediated
	assert.Equal(t, "Container remediation: Nightly backup", title(p))

	p.Data = nil
	p.Type = model.EventIncidentResolved
	assert.Equal(t, "Incident resolved: m1", title(p))
}
