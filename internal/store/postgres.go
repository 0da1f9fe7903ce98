package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cronnarc/cronguard/internal/model"
)

type PostgresConfig struct {
	URL          string
	MaxConns     int32
	QueryTimeout time.Duration
}

// PostgresStore mirrors SQLiteStore on a pgx pool. Documents live in JSONB
// columns, incident and ping times in TIMESTAMPTZ.
type PostgresStore struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(hctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PostgresStore{pool: pool, queryTimeout: cfg.QueryTimeout}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS monitors (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS status_groups (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	monitor_id TEXT NOT NULL,
	type TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_incidents_monitor_started ON incidents(monitor_id, started_at);
CREATE TABLE IF NOT EXISTS pings (
	id BIGSERIAL PRIMARY KEY,
	monitor_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	source_ip TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pings_monitor_received ON pings(monitor_id, received_at DESC);
`

func (s *PostgresStore) initSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, pgSchema)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *PostgresStore) ListMonitors(ctx context.Context) ([]model.Monitor, error) {
	return pgListDocs[model.Monitor](ctx, s, `SELECT data FROM monitors ORDER BY created_at`)
}

func (s *PostgresStore) GetMonitor(ctx context.Context, id string) (model.Monitor, error) {
	return pgGetDoc[model.Monitor](ctx, s, `SELECT data FROM monitors WHERE id = $1`, id)
}

func (s *PostgresStore) GetMonitorBySlug(ctx context.Context, slug string) (model.Monitor, error) {
	return pgGetDoc[model.Monitor](ctx, s, `SELECT data FROM monitors WHERE slug = $1`, slug)
}

const qUpsertMonitor = `
INSERT INTO monitors (id, slug, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at;
`

func (s *PostgresStore) UpsertMonitor(ctx context.Context, m model.Monitor) (model.Monitor, error) {
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

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.pool.Exec(ctx, qUpsertMonitor, m.ID, m.Slug, data, m.CreatedAt, m.UpdatedAt); err != nil {
		if isPgUniqueViolation(err) {
			return model.Monitor{}, ErrSlugTaken
		}
		return model.Monitor{}, fmt.Errorf("upsert monitor: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) DeleteMonitor(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM pings WHERE monitor_id = $1`,
			`DELETE FROM incidents WHERE monitor_id = $1`,
			`DELETE FROM monitors WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, id); err != nil {
				return err
			}
		}
		// drop the id from every group's monitorIds array
		_, err := tx.Exec(ctx, `
UPDATE status_groups
SET data = jsonb_set(data, '{monitorIds}', COALESCE(
	(SELECT jsonb_agg(e) FROM jsonb_array_elements(data->'monitorIds') e WHERE e <> to_jsonb($1::text)),
	'[]'::jsonb))
WHERE data->'monitorIds' ? $1`, id)
		return err
	})
}

func (s *PostgresStore) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	return pgListDocs[model.Notification](ctx, s, `SELECT data FROM notifications ORDER BY created_at`)
}

func (s *PostgresStore) UpsertNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	now := time.Now().UTC()
	n.UpdatedAt = now
	if existing, err := pgGetDoc[model.Notification](ctx, s, `SELECT data FROM notifications WHERE id = $1`, n.ID); err == nil {
		n.CreatedAt = existing.CreatedAt
	} else {
		n.CreatedAt = now
	}

	data, err := json.Marshal(n)
	if err != nil {
		return model.Notification{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.pool.Exec(ctx, `
INSERT INTO notifications (id, data, created_at, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		n.ID, data, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("upsert notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) ListGroups(ctx context.Context) ([]model.StatusGroup, error) {
	return pgListDocs[model.StatusGroup](ctx, s, `SELECT data FROM status_groups ORDER BY created_at`)
}

func (s *PostgresStore) GetGroup(ctx context.Context, id string) (model.StatusGroup, error) {
	return pgGetDoc[model.StatusGroup](ctx, s, `SELECT data FROM status_groups WHERE id = $1`, id)
}

func (s *PostgresStore) GetGroupBySlug(ctx context.Context, slug string) (model.StatusGroup, error) {
	return pgGetDoc[model.StatusGroup](ctx, s, `SELECT data FROM status_groups WHERE slug = $1`, slug)
}

func (s *PostgresStore) UpsertGroup(ctx context.Context, g model.StatusGroup) (model.StatusGroup, error) {
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

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.pool.Exec(ctx, `
INSERT INTO status_groups (id, slug, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		g.ID, g.Slug, data, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return model.StatusGroup{}, ErrSlugTaken
		}
		return model.StatusGroup{}, fmt.Errorf("upsert group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) DeleteGroup(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM status_groups WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) OpenIncident(ctx context.Context, inc model.Incident) (model.Incident, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO incidents (id, monitor_id, type, message, started_at, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		inc.ID, inc.MonitorID, string(inc.Type), inc.Message, inc.StartedAt, inc.ResolvedAt)
	if err != nil {
		return model.Incident{}, fmt.Errorf("open incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) ActiveIncident(ctx context.Context, monitorID string) (model.Incident, error) {
	incs, err := s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
WHERE monitor_id = $1 AND resolved_at IS NULL ORDER BY started_at LIMIT 1`, monitorID)
	if err != nil {
		return model.Incident{}, err
	}
	if len(incs) == 0 {
		return model.Incident{}, ErrNotFound
	}
	return incs[0], nil
}

func (s *PostgresStore) ResolveIncidents(ctx context.Context, monitorID string, at time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `UPDATE incidents SET resolved_at = $1 WHERE monitor_id = $2 AND resolved_at IS NULL`, at, monitorID)
	if err != nil {
		return 0, fmt.Errorf("resolve incidents: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListIncidents(ctx context.Context, monitorID string, since time.Time) ([]model.Incident, error) {
	if since.IsZero() {
		return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
WHERE monitor_id = $1 ORDER BY started_at ASC`, monitorID)
	}
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
WHERE monitor_id = $1 AND (resolved_at IS NULL OR resolved_at > $2) ORDER BY started_at ASC`, monitorID, since)
}

func (s *PostgresStore) RecentIncidents(ctx context.Context, limit int) ([]model.Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents ORDER BY started_at DESC LIMIT $1`, limit)
}

func (s *PostgresStore) queryIncidents(ctx context.Context, query string, args ...any) ([]model.Incident, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	out := []model.Incident{}
	for rows.Next() {
		var inc model.Incident
		var typ string
		if err := rows.Scan(&inc.ID, &inc.MonitorID, &typ, &inc.Message, &inc.StartedAt, &inc.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Type = model.IncidentType(typ)
		inc.StartedAt = inc.StartedAt.UTC()
		if inc.ResolvedAt != nil {
			t := inc.ResolvedAt.UTC()
			inc.ResolvedAt = &t
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddPing(ctx context.Context, p model.Ping) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO pings (monitor_id, kind, received_at, message, source_ip) VALUES ($1, $2, $3, $4, $5)`,
		p.MonitorID, string(p.Kind), p.ReceivedAt, p.Message, p.SourceIP)
	return err
}

func (s *PostgresStore) ListPings(ctx context.Context, monitorID string, limit int) ([]model.Ping, error) {
	if limit <= 0 {
		limit = maxPingHistory
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
SELECT monitor_id, kind, received_at, message, source_ip FROM pings
WHERE monitor_id = $1 ORDER BY received_at DESC, id DESC LIMIT $2`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query pings: %w", err)
	}
	defer rows.Close()

	out := []model.Ping{}
	for rows.Next() {
		var p model.Ping
		var kind string
		if err := rows.Scan(&p.MonitorID, &kind, &p.ReceivedAt, &p.Message, &p.SourceIP); err != nil {
			return nil, fmt.Errorf("scan ping: %w", err)
		}
		p.Kind = model.PingKind(kind)
		p.ReceivedAt = p.ReceivedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PrunePings(ctx context.Context, monitorID string, before time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM pings WHERE monitor_id = $1 AND received_at < $2`, monitorID, before)
	return err
}

func pgGetDoc[T any](ctx context.Context, s *PostgresStore, query string, arg any) (T, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var out T
	var data []byte
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, ErrNotFound
		}
		return out, err
	}
	return out, json.Unmarshal(data, &out)
}

func pgListDocs[T any](ctx context.Context, s *PostgresStore, query string) ([]T, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
