package secops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hybridstore/internal/backend"
	"github.com/roach88/hybridstore/internal/backend/memory"
	"github.com/roach88/hybridstore/internal/hybrid"
	"github.com/roach88/hybridstore/internal/testutil"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *memory.Backend, *testutil.Clock) {
	t.Helper()

	clock := testutil.NewClock(epoch)
	mem := memory.New(memory.WithClock(clock.Now))
	c, err := Register(hybrid.NewBuilder(
		hybrid.WithMemory(mem),
		hybrid.WithIDGenerator(hybrid.NewFixedGenerator("gen-1", "gen-2", "gen-3")),
	)).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })

	return New(c, WithClock(clock.Now)), mem, clock
}

func TestIncidentLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	inc, err := svc.CreateIncident(ctx, Incident{
		ID:       "INC-1",
		Title:    "Credential stuffing against SSO",
		Severity: SeverityHigh,
		Tags:     []string{"sso", "auth"},
	})
	require.NoError(t, err)
	assert.Equal(t, "INC-1", inc.ID)
	assert.Equal(t, IncidentOpen, inc.Status)
	assert.Equal(t, epoch, inc.OpenedAt)

	got, err := svc.GetIncident(ctx, "INC-1")
	require.NoError(t, err)
	assert.Equal(t, inc, got)

	got.Status = IncidentInvestigating
	got.Assignee = "alice"
	require.NoError(t, svc.UpdateIncident(ctx, got))

	again, err := svc.GetIncident(ctx, "INC-1")
	require.NoError(t, err)
	assert.Equal(t, got, again)

	require.NoError(t, svc.DeleteIncident(ctx, "INC-1"))
	_, err = svc.GetIncident(ctx, "INC-1")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestCreateIncident_GeneratedID(t *testing.T) {
	svc, _, _ := setup(t)

	inc, err := svc.CreateIncident(context.Background(), Incident{Title: "Beaconing host", Severity: SeverityMedium})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", inc.ID)
}

func TestCreateIncident_PublishesID(t *testing.T) {
	svc, mem, _ := setup(t)

	events, cancel := mem.Subscribe(ChannelIncidents, 4)
	defer cancel()

	_, err := svc.CreateIncident(context.Background(), Incident{ID: "INC-7", Title: "Malware", Severity: SeverityCritical})
	require.NoError(t, err)

	select {
	case id := <-events:
		assert.Equal(t, "INC-7", id)
	case <-time.After(time.Second):
		t.Fatal("no incident event")
	}
}

func TestIncidentValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	tests := []struct {
		name string
		inc  Incident
	}{
		{"missing title", Incident{ID: "I", Severity: SeverityLow}},
		{"unknown severity", Incident{ID: "I", Title: "t", Severity: "sev9"}},
		{"unknown status", Incident{ID: "I", Title: "t", Severity: SeverityLow, Status: "closed"}},
		{"reserved id", Incident{ID: "a:b", Title: "t", Severity: SeverityLow}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateIncident(ctx, tt.inc)
			assert.ErrorIs(t, err, backend.ErrInvalid)
		})
	}

	err := svc.UpdateIncident(ctx, Incident{ID: "ghost", Title: "t", Severity: SeverityLow, Status: IncidentOpen})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestListAndSearchIncidents(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	for _, inc := range []Incident{
		{ID: "INC-1", Title: "SSH brute force", Severity: SeverityHigh},
		{ID: "INC-2", Title: "Phishing wave", Severity: SeverityLow},
		{ID: "INC-3", Title: "ssh key leaked", Severity: SeverityHigh, Status: IncidentResolved},
	} {
		_, err := svc.CreateIncident(ctx, inc)
		require.NoError(t, err)
	}

	high, err := svc.ListIncidents(ctx, ListOptions{Severity: SeverityHigh})
	require.NoError(t, err)
	assert.Equal(t, []string{"INC-1", "INC-3"}, incidentIDs(high))

	open, err := svc.ListIncidents(ctx, ListOptions{Severity: SeverityHigh, Status: IncidentOpen})
	require.NoError(t, err)
	assert.Equal(t, []string{"INC-1"}, incidentIDs(open))

	limited, err := svc.ListIncidents(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	found, err := svc.SearchIncidents(ctx, "ssh", ListOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"INC-1", "INC-3"}, incidentIDs(found))

	found, err = svc.SearchIncidents(ctx, "ssh", ListOptions{Status: IncidentResolved})
	require.NoError(t, err)
	assert.Equal(t, []string{"INC-3"}, incidentIDs(found))

	stats, err := svc.IncidentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{SeverityHigh: 2, SeverityLow: 1}, stats)
}

func TestAlerts(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	a1, err := svc.CreateAlert(ctx, Alert{ID: "AL-1", Rule: "impossible-travel", Severity: SeverityMedium, Source: "idp"})
	require.NoError(t, err)
	assert.Equal(t, AlertActive, a1.Status)
	assert.Equal(t, epoch, a1.RaisedAt)

	_, err = svc.CreateAlert(ctx, Alert{ID: "AL-2", Rule: "dns-tunnel", Severity: SeverityHigh, Status: AlertResolved})
	require.NoError(t, err)

	got, err := svc.GetAlert(ctx, "AL-1")
	require.NoError(t, err)
	assert.Equal(t, a1, got)

	all, err := svc.ListAlerts(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"AL-1", "AL-2"}, alertIDs(all))

	active, err := svc.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AL-1"}, alertIDs(active))

	// Acknowledging through the service invalidates the collection.
	got.Status = AlertAcknowledged
	got.IncidentID = "INC-1"
	require.NoError(t, svc.UpdateAlert(ctx, got))

	active, err = svc.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, svc.DeleteAlert(ctx, "AL-1"))
	_, err = svc.GetAlert(ctx, "AL-1")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	_, err = svc.CreateAlert(ctx, Alert{ID: "AL-3", Severity: SeverityLow})
	assert.ErrorIs(t, err, backend.ErrInvalid)
}

func TestActiveAlerts_LagsDirectWritesUntilTTL(t *testing.T) {
	ctx := context.Background()
	svc, mem, clock := setup(t)

	_, err := svc.CreateAlert(ctx, Alert{ID: "AL-1", Rule: "r", Severity: SeverityLow})
	require.NoError(t, err)
	active, err := svc.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	direct := Alert{ID: "AL-2", Rule: "r", Severity: SeverityLow, Status: AlertActive, RaisedAt: epoch}
	_, err = mem.CreateRecord(ctx, direct.record())
	require.NoError(t, err)

	active, err = svc.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	clock.Advance(ActiveAlertsTTL)
	active, err = svc.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AL-1", "AL-2"}, alertIDs(active))
}

func TestActiveAlerts_RequiresRegister(t *testing.T) {
	c, err := hybrid.NewBuilder().Build(context.Background())
	require.NoError(t, err)
	defer c.Close(context.Background())

	_, err = New(c).ActiveAlerts(context.Background())
	assert.ErrorIs(t, err, backend.ErrInvalid)
}

func incidentIDs(incs []Incident) []string {
	ids := make([]string, len(incs))
	for i, inc := range incs {
		ids[i] = inc.ID
	}
	return ids
}

func alertIDs(as []Alert) []string {
	ids := make([]string, len(as))
	for i, a := range as {
		ids[i] = a.ID
	}
	return ids
}
