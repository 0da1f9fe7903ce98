package model

import (
	"time"

	"github.com/cronnarc/cronguard/internal/uptime"
)

type MonitorStatus string

const (
	StatusPending MonitorStatus = "PENDING"
	StatusHealthy MonitorStatus = "HEALTHY"
	StatusLate    MonitorStatus = "LATE"
	StatusDown    MonitorStatus = "DOWN"
	StatusPaused  MonitorStatus = "PAUSED"
	StatusFailed  MonitorStatus = "FAILED"
	StatusRunning MonitorStatus = "RUNNING"
)

func (s MonitorStatus) Valid() bool {
	switch s {
	case StatusPending, StatusHealthy, StatusLate, StatusDown, StatusPaused, StatusFailed, StatusRunning:
		return true
	}
	return false
}

// Severity orders statuses so the worst one can be picked for a group.
func (s MonitorStatus) Severity() int {
	switch s {
	case StatusDown, StatusFailed:
		return 4
	case StatusLate:
		return 3
	case StatusHealthy, StatusRunning:
		return 2
	case StatusPending:
		return 1
	default:
		return 0
	}
}

// IsDown reports whether the status counts as an outage.
func (s MonitorStatus) IsDown() bool {
	return s == StatusDown || s == StatusFailed
}

type RemediationAction string

const (
	RemediationNone    RemediationAction = "none"
	RemediationStart   RemediationAction = "start"
	RemediationRestart RemediationAction = "restart"
)

// RemediationPolicy starts or restarts the container running a job once its
// monitor goes down.
type RemediationPolicy struct {
	ContainerID     string            `json:"containerId"`
	Action          RemediationAction `json:"action"`
	MaxAttempts     int               `json:"maxAttempts"`
	CooldownSeconds int               `json:"cooldownSeconds"`
}

type Monitor struct {
	ID                      string             `json:"id"`
	Name                    string             `json:"name"`
	Slug                    string             `json:"slug"`
	Status                  MonitorStatus      `json:"status"`
	ExpectedIntervalSeconds int                `json:"expectedInterval"`
	GracePeriodSeconds      int                `json:"gracePeriod"`
	LastPingAt              *time.Time         `json:"lastPingAt,omitempty"`
	NextExpectedAt          *time.Time         `json:"nextExpectedAt,omitempty"`
	OwnerID                 string             `json:"ownerId,omitempty"`
	TeamID                  string             `json:"teamId,omitempty"`
	StatusPageEnabled       bool               `json:"statusPageEnabled"`
	StatusPageTitle         string             `json:"statusPageTitle,omitempty"`
	StatusPageDescription   string             `json:"statusPageDescription,omitempty"`
	NotifyWebhookIDs        []string           `json:"notifyWebhookIds"`
	Remediation             *RemediationPolicy `json:"remediation,omitempty"`
	ArchivedAt              *time.Time         `json:"archivedAt,omitempty"`
	CreatedAt               time.Time          `json:"createdAt"`
	UpdatedAt               time.Time          `json:"updatedAt"`
}

func (m Monitor) ExpectedInterval() time.Duration {
	return time.Duration(m.ExpectedIntervalSeconds) * time.Second
}

func (m Monitor) GracePeriod() time.Duration {
	return time.Duration(m.GracePeriodSeconds) * time.Second
}

func (m Monitor) IsArchived() bool {
	return m.ArchivedAt != nil
}

type IncidentType string

const (
	IncidentMissed IncidentType = "missed"
	IncidentFailed IncidentType = "failed"
)

type Incident struct {
	ID         string       `json:"id"`
	MonitorID  string       `json:"monitorId"`
	Type       IncidentType `json:"type"`
	Message    string       `json:"message"`
	StartedAt  time.Time    `json:"startedAt"`
	ResolvedAt *time.Time   `json:"resolvedAt,omitempty"`
}

func (i Incident) Ongoing() bool {
	return i.ResolvedAt == nil
}

func (i Incident) Span() uptime.Span {
	return uptime.Span{Start: i.StartedAt, End: i.ResolvedAt}
}

func Spans(incidents []Incident) []uptime.Span {
	out := make([]uptime.Span, len(incidents))
	for i, inc := range incidents {
		out[i] = inc.Span()
	}
	return out
}

type PingKind string

const (
	PingSuccess PingKind = "success"
	PingStart   PingKind = "start"
	PingFail    PingKind = "fail"
)

type Ping struct {
	MonitorID  string    `json:"monitorId"`
	Kind       PingKind  `json:"kind"`
	ReceivedAt time.Time `json:"receivedAt"`
	Message    string    `json:"message,omitempty"`
	SourceIP   string    `json:"sourceIp,omitempty"`
}

type StatusGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	MonitorIDs  []string  `json:"monitorIds"`
	Public      bool      `json:"public"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type EventType string

const (
	EventStatusChanged    EventType = "status_changed"
	EventIncidentOpened   EventType = "incident_opened"
	EventIncidentResolved EventType = "incident_resolved"
	EventRemediated       EventType = "remediated"
)

type MonitorStatusInfo struct {
	Status    MonitorStatus `json:"status"`
	LastCheck time.Time     `json:"lastCheck"`
}

type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	MonitorID string         `json:"monitorId"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data"`
}

type Notification struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"` // webhook, slack, discord
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
