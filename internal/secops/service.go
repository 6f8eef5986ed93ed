package secops

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/hybrid"
	"github.com/roach88/hybridstore/internal/record"
)

// Store is the coordinator surface the service uses.
type Store interface {
	Create(ctx context.Context, rec record.Record) (string, error)
	Get(ctx context.Context, kind, id string) (*record.Record, error)
	Update(ctx context.Context, rec record.Record) error
	Delete(ctx context.Context, kind, id string) error
	List(ctx context.Context, kind string, f backend.Filter) ([]record.Record, error)
	Search(ctx context.Context, kind string, c backend.Criteria) ([]record.Record, error)
	Aggregate(ctx context.Context, kind, aggregation string) (record.Value, error)
	Collection(ctx context.Context, kind, name string) ([]record.Record, error)
	Publish(ctx context.Context, channel, message string) error
}

var _ Store = (*hybrid.Coordinator)(nil)

// Register adds the collections the service reads to b.
func Register(b *hybrid.Builder) *hybrid.Builder {
	return b.WithCollection(KindAlert, CollectionActiveAlerts,
		backend.Filter{Where: map[string]string{"status": AlertActive}}, ActiveAlertsTTL)
}

// Service provides incident and alert operations.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock sets the time source for OpenedAt and RaisedAt defaults.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over store. The store's builder must have been
// passed through Register for ActiveAlerts to work.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListOptions narrows list and search results. Empty fields match anything.
type ListOptions struct {
	Severity string
	Status   string
	Limit    int
}

func (o ListOptions) filter() backend.Filter {
	where := map[string]string{}
	if o.Severity != "" {
		where["severity"] = o.Severity
	}
	if o.Status != "" {
		where["status"] = o.Status
	}
	return backend.Filter{Where: where, Limit: o.Limit}
}

// CreateIncident stores inc and announces its id on ChannelIncidents.
// Status defaults to open and OpenedAt to now. Returns the stored incident.
func (s *Service) CreateIncident(ctx context.Context, inc Incident) (Incident, error) {
	if inc.Status == "" {
		inc.Status = IncidentOpen
	}
	if inc.OpenedAt.IsZero() {
		inc.OpenedAt = s.now()
	}
	inc.OpenedAt = inc.OpenedAt.UTC().Truncate(time.Second)
	if err := inc.validate("create_incident"); err != nil {
		return Incident{}, err
	}

	id, err := s.store.Create(ctx, inc.record())
	if err != nil {
		return Incident{}, fmt.Errorf("create incident: %w", err)
	}
	inc.ID = id

	if err := s.store.Publish(ctx, ChannelIncidents, id); err != nil {
		s.log.Warn("incident event publish failed", "id", id, "error", err)
	}
	return inc, nil
}

// GetIncident returns the incident, or backend.ErrNotFound.
func (s *Service) GetIncident(ctx context.Context, id string) (Incident, error) {
	rec, err := s.store.Get(ctx, KindIncident, id)
	if err != nil {
		return Incident{}, fmt.Errorf("get incident: %w", err)
	}
	if rec == nil {
		return Incident{}, backend.NotFound("get_incident", KindIncident, id)
	}
	return incidentFrom(*rec), nil
}

// UpdateIncident replaces an existing incident.
func (s *Service) UpdateIncident(ctx context.Context, inc Incident) error {
	inc.OpenedAt = inc.OpenedAt.UTC().Truncate(time.Second)
	if err := inc.validate("update_incident"); err != nil {
		return err
	}
	if err := s.store.Update(ctx, inc.record()); err != nil {
		return fmt.Errorf("update incident: %w", err)
	}
	return nil
}

// DeleteIncident removes the incident. Deleting an absent one succeeds.
func (s *Service) DeleteIncident(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, KindIncident, id); err != nil {
		return fmt.Errorf("delete incident: %w", err)
	}
	return nil
}

// ListIncidents returns incidents ordered by id.
func (s *Service) ListIncidents(ctx context.Context, opts ListOptions) ([]Incident, error) {
	recs, err := s.store.List(ctx, KindIncident, opts.filter())
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	return incidents(recs), nil
}

// SearchIncidents runs a free-text search narrowed by opts.
func (s *Service) SearchIncidents(ctx context.Context, text string, opts ListOptions) ([]Incident, error) {
	f := opts.filter()
	recs, err := s.store.Search(ctx, KindIncident, backend.Criteria{Text: text, Where: f.Where, Limit: f.Limit})
	if err != nil {
		return nil, fmt.Errorf("search incidents: %w", err)
	}
	return incidents(recs), nil
}

// IncidentStats counts incidents per severity.
func (s *Service) IncidentStats(ctx context.Context) (map[string]int64, error) {
	v, err := s.store.Aggregate(ctx, KindIncident, backend.AggCountByField+"severity")
	if err != nil {
		return nil, fmt.Errorf("incident stats: %w", err)
	}
	obj, ok := v.(record.Object)
	if !ok {
		return nil, fmt.Errorf("incident stats: unexpected aggregate %T", v)
	}
	stats := make(map[string]int64, len(obj))
	for sev, n := range obj {
		if count, ok := n.(record.Int); ok {
			stats[sev] = int64(count)
		}
	}
	return stats, nil
}

// CreateAlert stores a. Status defaults to active and RaisedAt to now.
func (s *Service) CreateAlert(ctx context.Context, a Alert) (Alert, error) {
	if a.Status == "" {
		a.Status = AlertActive
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = s.now()
	}
	a.RaisedAt = a.RaisedAt.UTC().Truncate(time.Second)
	if err := a.validate("create_alert"); err != nil {
		return Alert{}, err
	}

	id, err := s.store.Create(ctx, a.record())
	if err != nil {
		return Alert{}, fmt.Errorf("create alert: %w", err)
	}
	a.ID = id
	return a, nil
}

// GetAlert returns the alert, or backend.ErrNotFound.
func (s *Service) GetAlert(ctx context.Context, id string) (Alert, error) {
	rec, err := s.store.Get(ctx, KindAlert, id)
	if err != nil {
		return Alert{}, fmt.Errorf("get alert: %w", err)
	}
	if rec == nil {
		return Alert{}, backend.NotFound("get_alert", KindAlert, id)
	}
	return alertFrom(*rec), nil
}

// UpdateAlert replaces an existing alert.
func (s *Service) UpdateAlert(ctx context.Context, a Alert) error {
	a.RaisedAt = a.RaisedAt.UTC().Truncate(time.Second)
	if err := a.validate("update_alert"); err != nil {
		return err
	}
	if err := s.store.Update(ctx, a.record()); err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return nil
}

// DeleteAlert removes the alert.
func (s *Service) DeleteAlert(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, KindAlert, id); err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts ordered by id.
func (s *Service) ListAlerts(ctx context.Context, opts ListOptions) ([]Alert, error) {
	recs, err := s.store.List(ctx, KindAlert, opts.filter())
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts(recs), nil
}

// ActiveAlerts returns alerts with status active. The result may lag a
// direct store change by up to ActiveAlertsTTL; writes through the service
// invalidate it.
func (s *Service) ActiveAlerts(ctx context.Context) ([]Alert, error) {
	recs, err := s.store.Collection(ctx, KindAlert, CollectionActiveAlerts)
	if err != nil {
		return nil, fmt.Errorf("active alerts: %w", err)
	}
	return alerts(recs), nil
}

func incidents(recs []record.Record) []Incident {
	out := make([]Incident, len(recs))
	for i, r := range recs {
		out[i] = incidentFrom(r)
	}
	return out
}

func alerts(recs []record.Record) []Alert {
	out := make([]Alert, len(recs))
	for i, r := range recs {
		out[i] = alertFrom(r)
	}
	return out
}
