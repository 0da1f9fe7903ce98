package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cronnarc/cronguard/internal/model"
)

const (
	defaultIntervalSeconds = 3600
	minIntervalSeconds     = 60
	defaultGraceSeconds    = 300
	defaultPingLimit       = 50
	maxPingLimit           = 500
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// monitorInput holds the user-editable fields of a monitor. Status and
// ping bookkeeping are owned by the engine.
type monitorInput struct {
	Name                  string                   `json:"name"`
	Slug                  string                   `json:"slug"`
	ExpectedInterval      int                      `json:"expectedInterval"`
	GracePeriod           int                      `json:"gracePeriod"`
	OwnerID               string                   `json:"ownerId"`
	TeamID                string                   `json:"teamId"`
	StatusPageEnabled     bool                     `json:"statusPageEnabled"`
	StatusPageTitle       string                   `json:"statusPageTitle"`
	StatusPageDescription string                   `json:"statusPageDescription"`
	NotifyWebhookIDs      []string                 `json:"notifyWebhookIds"`
	Remediation           *model.RemediationPolicy `json:"remediation"`
	Archived              bool                     `json:"archived"`
}

func (in monitorInput) apply(m *model.Monitor, now time.Time) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return invalid("name is required")
	}

	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return invalid("slug %q must be lowercase letters, digits and dashes", slug)
	}

	interval := in.ExpectedInterval
	if interval == 0 {
		interval = defaultIntervalSeconds
	}
	if interval < minIntervalSeconds {
		return invalid("expectedInterval must be at least %d seconds", minIntervalSeconds)
	}
	grace := in.GracePeriod
	if grace == 0 {
		grace = defaultGraceSeconds
	}
	if grace < 0 {
		return invalid("gracePeriod must not be negative")
	}

	if p := in.Remediation; p != nil {
		switch p.Action {
		case "", model.RemediationNone:
		case model.RemediationStart, model.RemediationRestart:
			if p.ContainerID == "" {
				return invalid("remediation.containerId is required for action %s", p.Action)
			}
		default:
			return invalid("unknown remediation action %q", p.Action)
		}
		if p.MaxAttempts < 0 || p.CooldownSeconds < 0 {
			return invalid("remediation limits must not be negative")
		}
	}

	m.Name = name
	m.Slug = slug
	m.ExpectedIntervalSeconds = interval
	m.GracePeriodSeconds = grace
	m.OwnerID = in.OwnerID
	m.TeamID = in.TeamID
	m.StatusPageEnabled = in.StatusPageEnabled
	m.StatusPageTitle = in.StatusPageTitle
	m.StatusPageDescription = in.StatusPageDescription
	m.NotifyWebhookIDs = in.NotifyWebhookIDs
	if m.NotifyWebhookIDs == nil {
		m.NotifyWebhookIDs = []string{}
	}
	m.Remediation = in.Remediation

	switch {
	case in.Archived && m.ArchivedAt == nil:
		m.ArchivedAt = &now
	case !in.Archived:
		m.ArchivedAt = nil
	}
	return nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

func monitorsRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		monitors, err := deps.Store.ListMonitors(r.Context())
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, monitors)
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var in monitorInput
		if err := decodeJSON(r, &in); err != nil {
			deps.writeError(w, r, err)
			return
		}
		m := model.Monitor{
			ID:     uuid.NewString(),
			Status: model.StatusPending,
		}
		if err := in.apply(&m, time.Now().UTC()); err != nil {
			deps.writeError(w, r, err)
			return
		}
		out, err := deps.Store.UpsertMonitor(r.Context(), m)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	})

	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.GetMonitor(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	})

	r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in monitorInput
		if err := decodeJSON(r, &in); err != nil {
			deps.writeError(w, r, err)
			return
		}
		now := time.Now().UTC()
		out, err := deps.Engine.Update(r.Context(), chi.URLParam(r, "id"), func(m *model.Monitor) error {
			return in.apply(m, now)
		})
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Engine.Pause(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Post("/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Engine.Resume(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/{id}/analytics", func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Analytics.MonitorReport(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Get("/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		days, err := intParam(r, "days", 0)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		bars, err := deps.Analytics.History(r.Context(), chi.URLParam(r, "id"), days)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bars)
	})

	r.Get("/{id}/incidents", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var since time.Time
		if v := r.URL.Query().Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				deps.writeError(w, r, invalid("since must be an RFC3339 timestamp"))
				return
			}
			since = t
		}
		if _, err := deps.Store.GetMonitor(r.Context(), id); err != nil {
			deps.writeError(w, r, err)
			return
		}
		incidents, err := deps.Store.ListIncidents(r.Context(), id, since)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, incidents)
	})

	r.Get("/{id}/pings", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		limit, err := intParam(r, "limit", defaultPingLimit)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		if limit <= 0 || limit > maxPingLimit {
			limit = defaultPingLimit
		}
		if _, err := deps.Store.GetMonitor(r.Context(), id); err != nil {
			deps.writeError(w, r, err)
			return
		}
		pings, err := deps.Store.ListPings(r.Context(), id, limit)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pings)
	})

	return r
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, invalid("%s must be an integer", name)
	}
	return n, nil
}
