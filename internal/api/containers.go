package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// containersRouter lists containers so remediation policies can be pointed
// at one. Lifecycle actions are left to the engine.
func containersRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if deps.Docker == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "docker unavailable"})
			return
		}
		cs, err := deps.Docker.ListContainers(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, cs)
	})

	r.Get("/{id}/state", func(w http.ResponseWriter, r *http.Request) {
		if deps.Docker == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "docker unavailable"})
			return
		}
		id := chi.URLParam(r, "id")
		state, err := deps.Docker.ContainerState(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "state": state})
	})

	return r
}
