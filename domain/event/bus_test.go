package event_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/metrics"
)

func TestPublishInRegistrationOrder(t *testing.T) {
	bus := event.NewBus()
	var calls []string
	event.Subscribe(bus, "first", func(_ context.Context, e event.IncidentCreated) error {
		calls = append(calls, "first")
		return nil
	})
	event.Subscribe(bus, "second", func(_ context.Context, e event.IncidentCreated) error {
		calls = append(calls, "second")
		return nil
	})

	bus.Publish(context.Background(), event.IncidentCreated{Incident: &entity.Incident{ID: 1}})
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Equal(t, []string{"first", "second"}, bus.Subscribers(event.TypeIncidentCreated))
}

func TestPublishIsolatesFailures(t *testing.T) {
	bus := event.NewBus()
	var reached []string
	event.Subscribe(bus, "broken", func(_ context.Context, e event.IncidentClosed) error {
		return errors.New("vendor down")
	})
	event.Subscribe(bus, "panicking", func(_ context.Context, e event.IncidentClosed) error {
		panic("boom")
	})
	event.Subscribe(bus, "healthy", func(_ context.Context, e event.IncidentClosed) error {
		reached = append(reached, "healthy")
		return nil
	})

	before := testutil.ToFloat64(metrics.HandlerFailures.WithLabelValues("incident_closed", "broken"))
	require.NotPanics(t, func() {
		bus.Publish(context.Background(), event.IncidentClosed{Incident: &entity.Incident{ID: 2}})
	})
	assert.Equal(t, []string{"healthy"}, reached)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HandlerFailures.WithLabelValues("incident_closed", "broken")))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := event.NewBus()
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), event.PostMortemReminderDue{Incident: &entity.Incident{ID: 3}})
	})
}

func TestSenderFilter(t *testing.T) {
	bus := event.NewBus()
	var got []event.Sender
	event.Subscribe(bus, "status-only", func(_ context.Context, e event.IncidentUpdated) error {
		got = append(got, e.Sender)
		return nil
	}, event.SenderIs(event.SenderUpdateStatus))

	bus.Publish(context.Background(), event.IncidentUpdated{Sender: event.SenderUpdateRoles})
	bus.Publish(context.Background(), event.IncidentUpdated{Sender: event.SenderUpdateStatus})
	assert.Equal(t, []event.Sender{event.SenderUpdateStatus}, got)
}

func TestCollectInvitesUnion(t *testing.T) {
	bus := event.NewBus()
	bus.OnGetInvites("responders", func(_ context.Context, _ event.GetInvites) ([]entity.User, error) {
		return []entity.User{{ID: "U1"}, {ID: "U2"}}, nil
	})
	bus.OnGetInvites("oncall", func(_ context.Context, _ event.GetInvites) ([]entity.User, error) {
		return []entity.User{{ID: "U2"}, {ID: "U3"}, {ID: ""}}, nil
	})
	bus.OnGetInvites("broken", func(_ context.Context, _ event.GetInvites) ([]entity.User, error) {
		return nil, errors.New("timeout")
	})

	users := bus.CollectInvites(context.Background(), event.GetInvites{Incident: &entity.Incident{ID: 4}})
	ids := []string{}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	assert.Equal(t, []string{"U1", "U2", "U3"}, ids)
}

func TestSubscribeGetInvitesPanics(t *testing.T) {
	bus := event.NewBus()
	assert.Panics(t, func() {
		event.Subscribe(bus, "wrong", func(_ context.Context, _ event.GetInvites) error { return nil })
	})
}
