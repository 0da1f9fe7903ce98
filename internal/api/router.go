package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultRecentIncidents = 20

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors(deps.Config.AllowedCORSOrigin))
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Get("/status", deps.handleStatus)
		r.Get("/incidents", deps.handleRecentIncidents)
		r.Mount("/monitors", monitorsRouter(deps))
		r.Mount("/groups", groupsRouter(deps))
		r.Mount("/notifications", notificationsRouter(deps))
		r.Mount("/containers", containersRouter(deps))
	})

	r.Mount("/ping", pingRouter(deps))
	r.Get("/status/{slug}", deps.handleStatusPage)
	r.Get("/badge/{file}", deps.handleBadge)
	r.Get("/groups/{slug}/status", deps.handlePublicGroup)

	return r
}

func (d Deps) handleRecentIncidents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentIncidents
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			d.writeError(w, r, invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}
	incidents, err := d.Store.RecentIncidents(r.Context(), limit)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}
