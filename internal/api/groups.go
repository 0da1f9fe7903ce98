package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cronnarc/cronguard/internal/model"
)

type groupInput struct {
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Description string   `json:"description"`
	MonitorIDs  []string `json:"monitorIds"`
	Public      bool     `json:"public"`
}

func (d Deps) applyGroup(r *http.Request, in groupInput, g *model.StatusGroup) error {
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

	ids := make([]string, 0, len(in.MonitorIDs))
	seen := make(map[string]bool, len(in.MonitorIDs))
	for _, id := range in.MonitorIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := d.Store.GetMonitor(r.Context(), id); err != nil {
			return invalid("unknown monitor %q", id)
		}
		ids = append(ids, id)
	}

	g.Name = name
	g.Slug = slug
	g.Description = in.Description
	g.MonitorIDs = ids
	g.Public = in.Public
	return nil
}

func groupsRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		groups, err := deps.Store.ListGroups(r.Context())
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, groups)
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var in groupInput
		if err := decodeJSON(r, &in); err != nil {
			deps.writeError(w, r, err)
			return
		}
		g := model.StatusGroup{ID: uuid.NewString()}
		if err := deps.applyGroup(r, in, &g); err != nil {
			deps.writeError(w, r, err)
			return
		}
		out, err := deps.Store.UpsertGroup(r.Context(), g)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	})

	// GET reports the live group status, private groups included.
	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, err := deps.Analytics.Group(r.Context(), chi.URLParam(r, "id"), false)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
		var in groupInput
		if err := decodeJSON(r, &in); err != nil {
			deps.writeError(w, r, err)
			return
		}
		g, err := deps.Store.GetGroup(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		if err := deps.applyGroup(r, in, &g); err != nil {
			deps.writeError(w, r, err)
			return
		}
		out, err := deps.Store.UpsertGroup(r.Context(), g)
		if err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
			deps.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	return r
}
