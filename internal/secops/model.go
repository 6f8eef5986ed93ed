package secops

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/record"
)

// Record kinds and channels.
const (
	KindIncident = "incident"
	KindAlert    = "alert"

	ChannelIncidents = "incidents"

	CollectionActiveAlerts = "active_alerts"
	ActiveAlertsTTL        = 300 * time.Second
)

// Severities, lowest first.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severities = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Incident statuses.
const (
	IncidentOpen          = "open"
	IncidentInvestigating = "investigating"
	IncidentResolved      = "resolved"
)

// Alert statuses.
const (
	AlertActive       = "active"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Incident is a tracked security incident.
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	Assignee    string    `json:"assignee,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	OpenedAt    time.Time `json:"opened_at"`
}

// Alert is a detection raised by a rule, optionally linked to an incident.
type Alert struct {
	ID         string    `json:"id"`
	Rule       string    `json:"rule"`
	Source     string    `json:"source,omitempty"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Message    string    `json:"message,omitempty"`
	IncidentID string    `json:"incident_id,omitempty"`
	RaisedAt   time.Time `json:"raised_at"`
}

func invalid(op, kind, id string, format string, args ...any) error {
	return &backend.Error{Code: backend.CodeInvalid, Op: op, Kind: kind, ID: id, Err: fmt.Errorf(format, args...)}
}

func validSeverity(s string) bool {
	return slices.Contains(severities, s)
}

func (i Incident) validate(op string) error {
	if i.Title == "" {
		return invalid(op, KindIncident, i.ID, "title is required")
	}
	if !validSeverity(i.Severity) {
		return invalid(op, KindIncident, i.ID, "unknown severity %q", i.Severity)
	}
	switch i.Status {
	case IncidentOpen, IncidentInvestigating, IncidentResolved:
	default:
		return invalid(op, KindIncident, i.ID, "unknown status %q", i.Status)
	}
	return nil
}

func (a Alert) validate(op string) error {
	if a.Rule == "" {
		return invalid(op, KindAlert, a.ID, "rule is required")
	}
	if !validSeverity(a.Severity) {
		return invalid(op, KindAlert, a.ID, "unknown severity %q", a.Severity)
	}
	switch a.Status {
	case AlertActive, AlertAcknowledged, AlertResolved:
	default:
		return invalid(op, KindAlert, a.ID, "unknown status %q", a.Status)
	}
	return nil
}

func (i Incident) record() record.Record {
	p := record.Object{
		"title":     record.String(i.Title),
		"severity":  record.String(i.Severity),
		"status":    record.String(i.Status),
		"opened_at": record.String(i.OpenedAt.UTC().Format(time.RFC3339)),
	}
	setString(p, "description", i.Description)
	setString(p, "assignee", i.Assignee)
	if len(i.Tags) > 0 {
		tags := make(record.Array, len(i.Tags))
		for n, t := range i.Tags {
			tags[n] = record.String(t)
		}
		p["tags"] = tags
	}
	return record.New(KindIncident, i.ID, p)
}

func incidentFrom(rec record.Record) Incident {
	p := rec.Payload
	i := Incident{
		ID:          rec.ID,
		Title:       str(p, "title"),
		Description: str(p, "description"),
		Severity:    str(p, "severity"),
		Status:      str(p, "status"),
		Assignee:    str(p, "assignee"),
		OpenedAt:    timestamp(p, "opened_at"),
	}
	if tags, ok := p["tags"].(record.Array); ok {
		for _, t := range tags {
			if s, ok := t.(record.String); ok {
				i.Tags = append(i.Tags, string(s))
			}
		}
	}
	return i
}

func (a Alert) record() record.Record {
	p := record.Object{
		"rule":      record.String(a.Rule),
		"severity":  record.String(a.Severity),
		"status":    record.String(a.Status),
		"raised_at": record.String(a.RaisedAt.UTC().Format(time.RFC3339)),
	}
	setString(p, "source", a.Source)
	setString(p, "message", a.Message)
	setString(p, "incident_id", a.IncidentID)
	return record.New(KindAlert, a.ID, p)
}

func alertFrom(rec record.Record) Alert {
	p := rec.Payload
	return Alert{
		ID:         rec.ID,
		Rule:       str(p, "rule"),
		Source:     str(p, "source"),
		Severity:   str(p, "severity"),
		Status:     str(p, "status"),
		Message:    str(p, "message"),
		IncidentID: str(p, "incident_id"),
		RaisedAt:   timestamp(p, "raised_at"),
	}
}

func setString(p record.Object, field, v string) {
	if v != "" {
		p[field] = record.String(v)
	}
}

func str(p record.Object, field string) string {
	s, _ := p[field].(record.String)
	return string(s)
}

// timestamp parses an RFC 3339 field. Unparseable values yield the zero time.
func timestamp(p record.Object, field string) time.Time {
	t, err := time.Parse(time.RFC3339, str(p, field))
	if err != nil {
		return time.Time{}
	}
	return t
}
