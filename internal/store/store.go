package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cronnarc/cronguard/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlugTaken = errors.New("slug already in use")
)

// maxPingHistory bounds the in-memory ping history kept per monitor by JSONStore.
const maxPingHistory = 50

type State struct {
	Monitors      []model.Monitor      `json:"monitors"`
	Notifications []model.Notification `json:"notifications"`
	Groups        []model.StatusGroup  `json:"groups"`
	Incidents     []model.Incident     `json:"incidents"`
}

// clone copies the slices so a mutation can be staged without touching the
// live state. Group member lists are replaced, never edited in place.
func (st State) clone() State {
	return State{
		Monitors:      append([]model.Monitor(nil), st.Monitors...),
		Notifications: append([]model.Notification(nil), st.Notifications...),
		Groups:        append([]model.StatusGroup(nil), st.Groups...),
		Incidents:     append([]model.Incident(nil), st.Incidents...),
	}
}

type Store interface {
	ListMonitors(ctx context.Context) ([]model.Monitor, error)
	GetMonitor(ctx context.Context, id string) (model.Monitor, error)
	GetMonitorBySlug(ctx context.Context, slug string) (model.Monitor, error)
	UpsertMonitor(ctx context.Context, m model.Monitor) (model.Monitor, error)
	// DeleteMonitor removes the monitor with its incidents, pings and group memberships.
	DeleteMonitor(ctx context.Context, id string) error

	ListNotifications(ctx context.Context) ([]model.Notification, error)
	UpsertNotification(ctx context.Context, n model.Notification) (model.Notification, error)
	DeleteNotification(ctx context.Context, id string) error

	ListGroups(ctx context.Context) ([]model.StatusGroup, error)
	GetGroup(ctx context.Context, id string) (model.StatusGroup, error)
	GetGroupBySlug(ctx context.Context, slug string) (model.StatusGroup, error)
	UpsertGroup(ctx context.Context, g model.StatusGroup) (model.StatusGroup, error)
	DeleteGroup(ctx context.Context, id string) error

	OpenIncident(ctx context.Context, inc model.Incident) (model.Incident, error)
	// ActiveIncident returns the unresolved incident of a monitor or ErrNotFound.
	ActiveIncident(ctx context.Context, monitorID string) (model.Incident, error)
	ResolveIncidents(ctx context.Context, monitorID string, at time.Time) (int, error)
	// ListIncidents returns incidents still ongoing or resolved after since,
	// ordered by start. A zero since returns the full history.
	ListIncidents(ctx context.Context, monitorID string, since time.Time) ([]model.Incident, error)
	RecentIncidents(ctx context.Context, limit int) ([]model.Incident, error)

	AddPing(ctx context.Context, p model.Ping) error
	// ListPings returns the latest pings, newest first.
	ListPings(ctx context.Context, monitorID string, limit int) ([]model.Ping, error)
	PrunePings(ctx context.Context, monitorID string, before time.Time) error

	Close() error
}

// JSONStore keeps everything in one JSON file rewritten on each mutation.
// Pings stay in memory.
type JSONStore struct {
	filePath string
	mu       sync.RWMutex
	state    State
	pings    map[string][]model.Ping
}

func NewJSONStore(filePath string) (*JSONStore, error) {
	s := &JSONStore{
		filePath: filePath,
		pings:    make(map[string][]model.Ping),
	}
	if err := s.load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if dir := filepath.Dir(filePath); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, err
				}
			}
			return s, s.persist()
		}
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) ListMonitors(_ context.Context) ([]model.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Monitor, len(s.state.Monitors))
	copy(out, s.state.Monitors)
	return out, nil
}

func (s *JSONStore) GetMonitor(_ context.Context, id string) (model.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.state.Monitors {
		if m.ID == id {
			return m, nil
		}
	}
	return model.Monitor{}, ErrNotFound
}

func (s *JSONStore) GetMonitorBySlug(_ context.Context, slug string) (model.Monitor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.state.Monitors {
		if m.Slug == slug {
			return m, nil
		}
	}
	return model.Monitor{}, ErrNotFound
}

func (s *JSONStore) UpsertMonitor(_ context.Context, m model.Monitor) (model.Monitor, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	idx := -1
	for i, other := range st.Monitors {
		if other.ID == m.ID {
			idx = i
			continue
		}
		if other.Slug == m.Slug {
			return model.Monitor{}, ErrSlugTaken
		}
	}

	m.UpdatedAt = now
	if idx >= 0 {
		m.CreatedAt = st.Monitors[idx].CreatedAt
		st.Monitors[idx] = m
	} else {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		st.Monitors = append(st.Monitors, m)
	}

	if err := s.commitLocked(st); err != nil {
		return model.Monitor{}, err
	}
	return m, nil
}

func (s *JSONStore) DeleteMonitor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	monitors := make([]model.Monitor, 0, len(st.Monitors))
	for _, m := range st.Monitors {
		if m.ID != id {
			monitors = append(monitors, m)
		}
	}
	st.Monitors = monitors

	incidents := make([]model.Incident, 0, len(st.Incidents))
	for _, inc := range st.Incidents {
		if inc.MonitorID != id {
			incidents = append(incidents, inc)
		}
	}
	st.Incidents = incidents

	for i := range st.Groups {
		st.Groups[i].MonitorIDs = without(st.Groups[i].MonitorIDs, id)
	}

	if err := s.commitLocked(st); err != nil {
		return err
	}
	delete(s.pings, id)
	return nil
}

func (s *JSONStore) ListNotifications(_ context.Context) ([]model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Notification, len(s.state.Notifications))
	copy(out, s.state.Notifications)
	return out, nil
}

func (s *JSONStore) UpsertNotification(_ context.Context, n model.Notification) (model.Notification, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	found := false
	for i := range st.Notifications {
		if st.Notifications[i].ID == n.ID {
			n.CreatedAt = st.Notifications[i].CreatedAt
			n.UpdatedAt = now
			st.Notifications[i] = n
			found = true
			break
		}
	}
	if !found {
		n.CreatedAt = now
		n.UpdatedAt = now
		st.Notifications = append(st.Notifications, n)
	}

	if err := s.commitLocked(st); err != nil {
		return model.Notification{}, err
	}
	return n, nil
}

func (s *JSONStore) DeleteNotification(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	dst := make([]model.Notification, 0, len(st.Notifications))
	for _, n := range st.Notifications {
		if n.ID != id {
			dst = append(dst, n)
		}
	}
	st.Notifications = dst
	return s.commitLocked(st)
}

func (s *JSONStore) ListGroups(_ context.Context) ([]model.StatusGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StatusGroup, len(s.state.Groups))
	copy(out, s.state.Groups)
	return out, nil
}

func (s *JSONStore) GetGroup(_ context.Context, id string) (model.StatusGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.state.Groups {
		if g.ID == id {
			return g, nil
		}
	}
	return model.StatusGroup{}, ErrNotFound
}

func (s *JSONStore) GetGroupBySlug(_ context.Context, slug string) (model.StatusGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.state.Groups {
		if g.Slug == slug {
			return g, nil
		}
	}
	return model.StatusGroup{}, ErrNotFound
}

func (s *JSONStore) UpsertGroup(_ context.Context, g model.StatusGroup) (model.StatusGroup, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	idx := -1
	for i, other := range st.Groups {
		if other.ID == g.ID {
			idx = i
			continue
		}
		if other.Slug == g.Slug {
			return model.StatusGroup{}, ErrSlugTaken
		}
	}

	g.UpdatedAt = now
	if idx >= 0 {
		g.CreatedAt = st.Groups[idx].CreatedAt
		st.Groups[idx] = g
	} else {
		g.CreatedAt = now
		st.Groups = append(st.Groups, g)
	}

	if err := s.commitLocked(st); err != nil {
		return model.StatusGroup{}, err
	}
	return g, nil
}

func (s *JSONStore) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	dst := make([]model.StatusGroup, 0, len(st.Groups))
	for _, g := range st.Groups {
		if g.ID != id {
			dst = append(dst, g)
		}
	}
	st.Groups = dst
	return s.commitLocked(st)
}

func (s *JSONStore) OpenIncident(_ context.Context, inc model.Incident) (model.Incident, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	st.Incidents = append(st.Incidents, inc)
	if err := s.commitLocked(st); err != nil {
		return model.Incident{}, err
	}
	return inc, nil
}

func (s *JSONStore) ActiveIncident(_ context.Context, monitorID string) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.state.Incidents {
		if inc.MonitorID == monitorID && inc.Ongoing() {
			return inc, nil
		}
	}
	return model.Incident{}, ErrNotFound
}

func (s *JSONStore) ResolveIncidents(_ context.Context, monitorID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state.clone()
	n := 0
	for i := range st.Incidents {
		inc := &st.Incidents[i]
		if inc.MonitorID == monitorID && inc.Ongoing() {
			resolved := at
			inc.ResolvedAt = &resolved
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.commitLocked(st); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *JSONStore) ListIncidents(_ context.Context, monitorID string, since time.Time) ([]model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Incident{}
	for _, inc := range s.state.Incidents {
		if inc.MonitorID != monitorID {
			continue
		}
		if !since.IsZero() && inc.ResolvedAt != nil && !inc.ResolvedAt.After(since) {
			continue
		}
		out = append(out, inc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *JSONStore) RecentIncidents(_ context.Context, limit int) ([]model.Incident, error) {
	s.mu.RLock()
	out := make([]model.Incident, len(s.state.Incidents))
	copy(out, s.state.Incidents)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONStore) AddPing(_ context.Context, p model.Ping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := append([]model.Ping{p}, s.pings[p.MonitorID]...)
	if len(hist) > maxPingHistory {
		hist = hist[:maxPingHistory]
	}
	s.pings[p.MonitorID] = hist
	return nil
}

func (s *JSONStore) ListPings(_ context.Context, monitorID string, limit int) ([]model.Ping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hist := s.pings[monitorID]
	if limit > 0 && len(hist) > limit {
		hist = hist[:limit]
	}
	out := make([]model.Ping, len(hist))
	copy(out, hist)
	return out, nil
}

func (s *JSONStore) PrunePings(_ context.Context, monitorID string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.pings[monitorID]
	kept := make([]model.Ping, 0, len(hist))
	for _, p := range hist {
		if !p.ReceivedAt.Before(before) {
			kept = append(kept, p)
		}
	}
	s.pings[monitorID] = kept
	return nil
}

func (s *JSONStore) load() error {
	b, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	s.state = st
	return nil
}

func (s *JSONStore) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeState(s.filePath, s.state)
}

// commitLocked writes st and only then makes it the live state, so a failed
// write leaves memory matching the file.
func (s *JSONStore) commitLocked(st State) error {
	if err := writeState(s.filePath, st); err != nil {
		return err
	}
	s.state = st
	return nil
}

func writeState(filePath string, st State) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
