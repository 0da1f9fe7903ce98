package api

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/cronnarc/cronguard/internal/badge"
	"github.com/cronnarc/cronguard/internal/model"
	"github.com/cronnarc/cronguard/internal/store"
	"github.com/cronnarc/cronguard/internal/uptime"
)

const maxPingMessageBytes = 1 << 10

// pingRouter serves the check-in endpoints hit by cron jobs. GET and POST
// behave the same so curl one-liners and webhooks both work.
func pingRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	handle := func(kind model.PingKind) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			msg, err := pingMessage(r)
			if err != nil {
				deps.writeError(w, r, err)
				return
			}
			m, err := deps.Engine.RecordPing(r.Context(), chi.URLParam(r, "slug"), kind, msg, sourceIP(r))
			if err != nil {
				deps.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"ok":             true,
				"status":         m.Status,
				"nextExpectedAt": m.NextExpectedAt,
			})
		}
	}

	for _, route := range []struct {
		path string
		kind model.PingKind
	}{
		{"/{slug}", model.PingSuccess},
		{"/{slug}/start", model.PingStart},
		{"/{slug}/fail", model.PingFail},
	} {
		r.Get(route.path, handle(route.kind))
		r.Post(route.path, handle(route.kind))
	}
	return r
}

func pingMessage(r *http.Request) (string, error) {
	if msg := r.URL.Query().Get("msg"); msg != "" {
		return truncate(msg, maxPingMessageBytes), nil
	}
	if r.Body == nil || r.Method != http.MethodPost {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPingMessageBytes+1))
	if err != nil {
		return "", invalid("read body: %v", err)
	}
	return strings.TrimSpace(truncate(string(body), maxPingMessageBytes)), nil
}

// truncate cuts s to at most n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// sourceIP strips the port, if any. RealIP has already applied
// X-Forwarded-For and X-Real-IP.
func sourceIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (d Deps) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	page, err := d.Analytics.StatusPage(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (d Deps) handlePublicGroup(w http.ResponseWriter, r *http.Request) {
	status, err := d.Analytics.Group(r.Context(), chi.URLParam(r, "slug"), true)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleBadge serves /badge/{slug}.svg?type=uptime|status&window=30d.
func (d Deps) handleBadge(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	slug, ok := strings.CutSuffix(file, ".svg")
	if !ok || slug == "" {
		writeSVG(w, http.StatusNotFound, badge.Badge{Label: "badge", Value: "not found", Color: badge.ColorGrey})
		return
	}

	q := r.URL.Query()
	win, err := uptime.ParseWindow(q.Get("window"))
	if err != nil {
		d.writeError(w, r, invalid("%v", err))
		return
	}
	kind := q.Get("type")
	switch kind {
	case "", "uptime", "status":
	default:
		d.writeError(w, r, invalid("unknown badge type %q", kind))
		return
	}

	data, err := d.Analytics.Badge(r.Context(), slug, win)
	if errors.Is(err, store.ErrNotFound) {
		writeSVG(w, http.StatusNotFound, badge.Badge{Label: "uptime", Value: "not found", Color: badge.ColorGrey})
		return
	}
	if err != nil {
		d.writeError(w, r, err)
		return
	}

	b := badge.Uptime(data.UptimePercent, data.Window)
	if kind == "status" {
		b = badge.Status(data.Status)
	}
	writeSVG(w, http.StatusOK, b)
}

func writeSVG(w http.ResponseWriter, status int, b badge.Badge) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	_, _ = w.Write(b.SVG())
}
