package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cronnarc/cronguard/internal/model"
)

// SQLiteStore keeps monitors, notifications and groups as JSON documents and
// incidents and pings as rows with unix-millisecond timestamps.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(filePath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`PRAGMA journal_mode = WAL;`,
		`CREATE TABLE IF NOT EXISTS monitors (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS status_groups (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			monitor_id TEXT NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			resolved_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_monitor_started ON incidents(monitor_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS pings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			monitor_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			received_at INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			source_ip TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_pings_monitor_received ON pings(monitor_id, received_at DESC);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to exec query %q: %w", query, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM monitors ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return scanDocs[model.Monitor](rows)
}

func (s *SQLiteStore) GetMonitor(ctx context.Context, id string) (model.Monitor, error) {
	return getDoc[model.Monitor](ctx, s.db, "SELECT data FROM monitors WHERE id = ?", id)
}

func (s *SQLiteStore) GetMonitorBySlug(ctx context.Context, slug string) (model.Monitor, error) {
	return getDoc[model.Monitor](ctx, s.db, "SELECT data FROM monitors WHERE slug = ?", slug)
}

func (s *SQLiteStore) UpsertMonitor(ctx context.Context, m model.Monitor) (model.Monitor, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM monitors WHERE slug = ? AND id <> ?", m.Slug, m.ID).Scan(&owner)
	if err == nil {
		return model.Monitor{}, ErrSlugTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Monitor{}, err
	}

	now := time.Now().UTC()
	m.UpdatedAt = now
	if existing, err := s.GetMonitor(ctx, m.ID); err == nil {
		m.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return model.Monitor{}, err
	} else if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}

	data, err := json.Marshal(m)
	if err != nil {
		return model.Monitor{}, err
	}

	query := `INSERT INTO monitors (id, slug, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, data=excluded.data, updated_at=excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.Slug, string(data), m.CreatedAt.UnixMilli(), m.UpdatedAt.UnixMilli()); err != nil {
		if isUniqueViolation(err) {
			return model.Monitor{}, ErrSlugTaken
		}
		return model.Monitor{}, err
	}
	return m, nil
}

func (s *SQLiteStore) DeleteMonitor(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		"DELETE FROM pings WHERE monitor_id = ?",
		"DELETE FROM incidents WHERE monitor_id = ?",
		"DELETE FROM monitors WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}

	rows, err := tx.QueryContext(ctx, "SELECT data FROM status_groups")
	if err != nil {
		return err
	}
	groups, err := scanDocs[model.StatusGroup](rows)
	if err != nil {
		return err
	}
	for _, g := range groups {
		kept := without(g.MonitorIDs, id)
		if len(kept) == len(g.MonitorIDs) {
			continue
		}
		g.MonitorIDs = kept
		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "UPDATE status_groups SET data = ? WHERE id = ?", string(data), g.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM notifications ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return scanDocs[model.Notification](rows)
}

func (s *SQLiteStore) UpsertNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	now := time.Now().UTC()
	n.UpdatedAt = now
	if existing, err := getDoc[model.Notification](ctx, s.db, "SELECT data FROM notifications WHERE id = ?", n.ID); err == nil {
		n.CreatedAt = existing.CreatedAt
	} else {
		n.CreatedAt = now
	}

	data, err := json.Marshal(n)
	if err != nil {
		return model.Notification{}, err
	}

	query := `INSERT INTO notifications (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET data=excluded.data, updated_at=excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, n.ID, string(data), n.CreatedAt.UnixMilli(), n.UpdatedAt.UnixMilli()); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

func (s *SQLiteStore) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]model.StatusGroup, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM status_groups ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return scanDocs[model.StatusGroup](rows)
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (model.StatusGroup, error) {
	return getDoc[model.StatusGroup](ctx, s.db, "SELECT data FROM status_groups WHERE id = ?", id)
}

func (s *SQLiteStore) GetGroupBySlug(ctx context.Context, slug string) (model.StatusGroup, error) {
	return getDoc[model.StatusGroup](ctx, s.db, "SELECT data FROM status_groups WHERE slug = ?", slug)
}

func (s *SQLiteStore) UpsertGroup(ctx context.Context, g model.StatusGroup) (model.StatusGroup, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM status_groups WHERE slug = ? AND id <> ?", g.Slug, g.ID).Scan(&owner)
	if err == nil {
		return model.StatusGroup{}, ErrSlugTaken
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.StatusGroup{}, err
	}

	now := time.Now().UTC()
	g.UpdatedAt = now
	if existing, err := s.GetGroup(ctx, g.ID); err == nil {
		g.CreatedAt = existing.CreatedAt
	} else {
		g.CreatedAt = now
	}

	data, err := json.Marshal(g)
	if err != nil {
		return model.StatusGroup{}, err
	}

	query := `INSERT INTO status_groups (id, slug, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET slug=excluded.slug, data=excluded.data, updated_at=excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, g.ID, g.Slug, string(data), g.CreatedAt.UnixMilli(), g.UpdatedAt.UnixMilli()); err != nil {
		return model.StatusGroup{}, err
	}
	return g, nil
}

func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM status_groups WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) OpenIncident(ctx context.Context, inc model.Incident) (model.Incident, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	query := `INSERT INTO incidents (id, monitor_id, type, message, started_at, resolved_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, inc.ID, inc.MonitorID, string(inc.Type), inc.Message,
		inc.StartedAt.UnixMilli(), nullMillis(inc.ResolvedAt)); err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

const incidentColumns = "id, monitor_id, type, message, started_at, resolved_at"

func (s *SQLiteStore) ActiveIncident(ctx context.Context, monitorID string) (model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE monitor_id = ? AND resolved_at IS NULL ORDER BY started_at LIMIT 1`
	rows, err := s.db.QueryContext(ctx, query, monitorID)
	if err != nil {
		return model.Incident{}, err
	}
	incs, err := scanIncidents(rows)
	if err != nil {
		return model.Incident{}, err
	}
	if len(incs) == 0 {
		return model.Incident{}, ErrNotFound
	}
	return incs[0], nil
}

func (s *SQLiteStore) ResolveIncidents(ctx context.Context, monitorID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE incidents SET resolved_at = ? WHERE monitor_id = ? AND resolved_at IS NULL",
		at.UnixMilli(), monitorID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, monitorID string, since time.Time) ([]model.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE monitor_id = ?`
	args := []any{monitorID}
	if !since.IsZero() {
		query += ` AND (resolved_at IS NULL OR resolved_at > ?)`
		args = append(args, since.UnixMilli())
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIncidents(rows)
}

func (s *SQLiteStore) RecentIncidents(ctx context.Context, limit int) ([]model.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+incidentColumns+` FROM incidents ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanIncidents(rows)
}

func (s *SQLiteStore) AddPing(ctx context.Context, p model.Ping) error {
	query := `INSERT INTO pings (monitor_id, kind, received_at, message, source_ip) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, p.MonitorID, string(p.Kind), p.ReceivedAt.UnixMilli(), p.Message, p.SourceIP)
	return err
}

func (s *SQLiteStore) ListPings(ctx context.Context, monitorID string, limit int) ([]model.Ping, error) {
	if limit <= 0 {
		limit = maxPingHistory
	}
	query := `SELECT monitor_id, kind, received_at, message, source_ip FROM pings WHERE monitor_id = ? ORDER BY received_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, monitorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Ping{}
	for rows.Next() {
		var p model.Ping
		var kind string
		var received int64
		if err := rows.Scan(&p.MonitorID, &kind, &received, &p.Message, &p.SourceIP); err != nil {
			return nil, err
		}
		p.Kind = model.PingKind(kind)
		p.ReceivedAt = time.UnixMilli(received).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) PrunePings(ctx context.Context, monitorID string, before time.Time) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pings WHERE monitor_id = ? AND received_at < ?", monitorID, before.UnixMilli())
	return err
}

// MigrateFromJSON copies a JSONStore file into an empty database.
func (s *SQLiteStore) MigrateFromJSON(ctx context.Context, jsonPath string) (int, error) {
	if _, err := os.Stat(jsonPath); err != nil {
		// nothing to migrate
		return 0, nil
	}
	js, err := NewJSONStore(jsonPath)
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM monitors").Scan(&count); err == nil && count > 0 {
		return 0, nil
	}

	state := js.state
	for _, m := range state.Monitors {
		if _, err := s.UpsertMonitor(ctx, m); err != nil {
			return 0, fmt.Errorf("migrate monitor %s: %w", m.ID, err)
		}
	}
	for _, n := range state.Notifications {
		if _, err := s.UpsertNotification(ctx, n); err != nil {
			return 0, fmt.Errorf("migrate notification %s: %w", n.ID, err)
		}
	}
	for _, g := range state.Groups {
		if _, err := s.UpsertGroup(ctx, g); err != nil {
			return 0, fmt.Errorf("migrate group %s: %w", g.ID, err)
		}
	}
	for _, inc := range state.Incidents {
		if _, err := s.OpenIncident(ctx, inc); err != nil {
			return 0, fmt.Errorf("migrate incident %s: %w", inc.ID, err)
		}
	}
	return len(state.Monitors), nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoc[T any](ctx context.Context, db rowQuerier, query string, arg any) (T, error) {
	var out T
	var data string
	if err := db.QueryRowContext(ctx, query, arg).Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return out, ErrNotFound
		}
		return out, err
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return out, err
	}
	return out, nil
}

func scanDocs[T any](rows *sql.Rows) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanIncidents(rows *sql.Rows) ([]model.Incident, error) {
	defer rows.Close()
	out := []model.Incident{}
	for rows.Next() {
		var inc model.Incident
		var typ string
		var started int64
		var resolved sql.NullInt64
		if err := rows.Scan(&inc.ID, &inc.MonitorID, &typ, &inc.Message, &started, &resolved); err != nil {
			return nil, err
		}
		inc.Type = model.IncidentType(typ)
		inc.StartedAt = time.UnixMilli(started).UTC()
		if resolved.Valid {
			t := time.UnixMilli(resolved.Int64).UTC()
			inc.ResolvedAt = &t
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
