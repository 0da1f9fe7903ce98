package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cronnarc/cronguard/internal/config"
	"github.com/cronnarc/cronguard/internal/model"
)

type Payload struct {
	Type      model.EventType `json:"type"`
	MonitorID string          `json:"monitorId"`
	At        time.Time       `json:"at"`
	Data      map[string]any  `json:"data"`
}

// PayloadFromEvent converts a published event into a webhook payload.
func PayloadFromEvent(ev model.Event) Payload {
	return Payload{Type: ev.Type, MonitorID: ev.MonitorID, At: ev.At, Data: ev.Data}
}

type NotificationLister interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
}

// Dispatcher resolves webhook references of a monitor against the webhooks
// declared in config (by name) and the ones managed through the API (by id).
type Dispatcher struct {
	webhooks map[string]config.NotificationWebhook
	store    NotificationLister
	client   *http.Client
}

func NewDispatcher(webhooks []config.NotificationWebhook, store NotificationLister) *Dispatcher {
	m := make(map[string]config.NotificationWebhook, len(webhooks))
	for _, w := range webhooks {
		if w.Name == "" || w.URL == "" {
			continue
		}
		m[w.Name] = w
	}
	return &Dispatcher{
		webhooks: m,
		store:    store,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch sends payload to every referenced webhook. Unknown references are
// skipped; delivery errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, refs []string, payload Payload) error {
	if len(refs) == 0 {
		return nil
	}

	managed := map[string]config.NotificationWebhook{}
	if d.store != nil {
		list, err := d.store.ListNotifications(ctx)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		for _, n := range list {
			managed[n.ID] = config.NotificationWebhook{Name: n.Name, URL: n.URL, Type: n.Type}
		}
	}

	var errs []error
	for _, ref := range refs {
		w, ok := managed[ref]
		if !ok {
			w, ok = d.webhooks[ref]
		}
		if !ok {
			continue
		}
		if err := Send(ctx, d.client, w, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func Send(ctx context.Context, client *http.Client, w config.NotificationWebhook, payload Payload) error {
	var body []byte
	var err error

	switch w.Type {
	case "slack":
		body, err = buildSlackPayload(payload)
	case "discord":
		body, err = buildDiscordPayload(payload)
	default:
		body, err = json.Marshal(payload)
	}
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook %s returned status %d: %s", w.Name, resp.StatusCode, string(respBody))
	}
	return nil
}

func buildSlackPayload(p Payload) ([]byte, error) {
	return json.Marshal(map[string]any{
		"text": formatMarkdown(title(p), p),
	})
}

func buildDiscordPayload(p Payload) ([]byte, error) {
	color := 0x5cdd8b
	if isOutage(p) {
		color = 0xdc3545
	}

	return json.Marshal(map[string]any{
		"username": "cronguard",
		"embeds": []map[string]any{
			{
				"title":       title(p),
				"description": formatMarkdown("", p),
				"color":       color,
				"timestamp":   p.At.Format(time.RFC3339),
			},
		},
	})
}

func title(p Payload) string {
	name, _ := p.Data["monitorName"].(string)
	if name == "" {
		name = p.MonitorID
	}
	switch p.Type {
	case model.EventStatusChanged:
		return fmt.Sprintf("%s is %v", name, p.Data["current"])
	case model.EventIncidentOpened:
		return fmt.Sprintf("Incident opened: %s", name)
	case model.EventIncidentResolved:
		return fmt.Sprintf("Incident resolved: %s", name)
	case model.EventRemediated:
		return fmt.Sprintf("Container remediation: %s", name)
	default:
		return fmt.Sprintf("%s: %s", p.Type, name)
	}
}

func isOutage(p Payload) bool {
	s, _ := p.Data["current"].(string)
	return model.MonitorStatus(s).IsDown() || p.Type == model.EventIncidentOpened
}

func formatMarkdown(heading string, p Payload) string {
	var buf bytes.Buffer

	if heading != "" {
		marker := ":large_green_circle:"
		if isOutage(p) {
			marker = ":red_circle:"
		}
		fmt.Fprintf(&buf, "%s *%s*\n", marker, heading)
	}

	if prev, ok := p.Data["previous"].(string); ok && prev != "" {
		fmt.Fprintf(&buf, "- Previous: %s\n", prev)
	}
	if current, ok := p.Data["current"].(string); ok {
		fmt.Fprintf(&buf, "- Status: %s\n", current)
	}
	fmt.Fprintf(&buf, "- Time: %s\n", p.At.UTC().Format("2006-01-02 15:04:05 MST"))

	if msg, ok := p.Data["message"].(string); ok && msg != "" {
		fmt.Fprintf(&buf, "- Message: %s\n", msg)
	}
	if action, ok := p.Data["action"].(string); ok {
		fmt.Fprintf(&buf, "- Action: %s\n", action)
	}
	if attempt, ok := p.Data["attempt"]; ok {
		fmt.Fprintf(&buf, "- Attempt: %v\n", attempt)
	}
	return buf.String()
}
