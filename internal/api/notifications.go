package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cronnarc/cronguard/internal/model"
)

func validateNotification(n *model.Notification) error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return invalid("name is required")
	}
	switch n.Type {
	case "":
		n.Type = "webhook"
	case "webhook", "slack", "discord":
	default:
		return invalid("unknown notification type %q", n.Type)
	}
	u, err := url.Parse(n.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url must be an absolute http(s) URL")
	}
	return nil
}

func notificationsRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		notifs, err := deps.Store.ListNotifications(r.Context())
		if err != nil {
			deps.writeError(w, r, err)
			return
		}

		type notificationResponse struct {
			model.Notification
			Editable bool `json:"editable"`
		}

		resp := make([]notificationResponse, 0, len(notifs)+len(deps.Config.Notifications))
		for _, n := range notifs {
			resp = append(resp, notificationResponse{Notification: n, Editable: true})
		}
		// webhooks declared in config are addressed by name
		for _, c := range deps.Config.Notifications {
			resp = append(resp, notificationResponse{
				Notification: model.Notification{ID: c.Name, Name: c.Name, Type: c.Type, URL: c.URL},
			})
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var n model.Notification
		if err := decodeJSON(r, &n); err != nil {
			deps.writeError(w, r, err)
			return
		}
		n.ID = uuid.NewString()
		if err := validateNotification(&n); err != nil {
			deps.writeError(w, r, err)
			return
		}
		out, err := deps.Store.UpsertNotification(r.Context(), n)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	})

	r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
		var n model.Notification
		if err := decodeJSON(r, &n); err != nil {
			deps.writeError(w, r, err)
			return
		}
		n.ID = chi.URLParam(r, "id")
		if err := validateNotification(&n); err != nil {
			deps.writeError(w, r, err)
			return
		}
		out, err := deps.Store.UpsertNotification(r.Context(), n)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteNotification(r.Context(), chi.URLParam(r, "id")); err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	return r
}
