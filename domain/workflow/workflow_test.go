package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/domain/workflow"
)

var (
	base  = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	alice = &entity.User{ID: "U001", Name: "alice"}
	bob   = &entity.User{ID: "U002", Name: "bob"}
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

type recorder struct {
	events []event.Event
}

func (r *recorder) types() []event.Type {
	var ret []event.Type
	for _, e := range r.events {
		ret = append(ret, e.Type())
	}
	return ret
}

func (r *recorder) reset() { r.events = nil }

func record[E event.Event](bus *event.Bus, r *recorder) {
	event.Subscribe(bus, "recorder", func(_ context.Context, e E) error {
		r.events = append(r.events, e)
		return nil
	})
}

func testConfig() *repository.Config {
	return &repository.Config{
		PriorityList: []entity.Priority{
			{Value: 1, Name: "P1", NeedsPostMortem: true, EnabledCreate: true, EnabledUpdate: true},
			{Value: 3, Name: "P3", EnabledCreate: true, EnabledUpdate: true, Default: true},
			{Value: 5, Name: "P5"},
		},
		EnvironmentList: []entity.Environment{
			{Value: "PRD", Name: "Production", Production: true, Default: true},
			{Value: "STG", Name: "Staging"},
		},
		CategoryList: []entity.IncidentCategory{
			{ID: 1, Name: "API"},
			{ID: 2, Name: "Legacy", Disabled: true},
		},
		RoleTypeList: []entity.IncidentRoleType{
			{Slug: "commander", Name: "Commander", Required: true, Order: 1},
			{Slug: "communication", Name: "Communication", Required: true, Order: 2},
			{Slug: "scribe", Name: "Scribe", Order: 3, Disabled: true},
		},
		PostMortemReminderDays: 5,
	}
}

type fixture struct {
	engine *workflow.Engine
	store  *repository.MemoryRepository
	clock  *clock
	rec    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	store := repository.NewMemoryRepository()
	bus := event.NewBus()
	rec := &recorder{}
	record[event.CreateIncidentConversation](bus, rec)
	record[event.IncidentCreated](bus, rec)
	record[event.IncidentUpdated](bus, rec)
	record[event.IncidentClosed](bus, rec)
	record[event.IncidentKeyEventsUpdated](bus, rec)
	record[event.PostMortemCreated](bus, rec)
	record[event.PostMortemReminderDue](bus, rec)

	c := &clock{now: base}
	engine := workflow.NewEngine(repository.NewRepository(store, cfg), bus, cfg.PostMortemReminderThreshold(), workflow.WithClock(c.Now))
	return &fixture{engine: engine, store: store, clock: c, rec: rec}
}

func (f *fixture) declare(t *testing.T, priority int, env string) *entity.Incident {
	t.Helper()
	incident, err := f.engine.Declare(context.Background(), workflow.DeclareRequest{
		Title:       "API latency",
		Description: "p99 is over 3s",
		Priority:    priority,
		Environment: env,
		CategoryID:  1,
		Actor:       alice,
	})
	require.NoError(t, err)
	f.rec.reset()
	return incident
}

func (f *fixture) timeline(t *testing.T, id int) []entity.IncidentUpdate {
	t.Helper()
	updates, err := f.store.IncidentUpdates(context.Background(), id)
	require.NoError(t, err)
	return updates
}

func TestDeclare(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	incident, err := f.engine.Declare(ctx, workflow.DeclareRequest{
		Title:      " API latency ",
		CategoryID: 1,
		Actor:      alice,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, incident.ID)
	assert.Equal(t, "API latency", incident.Title)
	assert.Equal(t, entity.StatusOpen, incident.Status)
	assert.Equal(t, 3, incident.Priority)
	assert.Equal(t, "PRD", incident.Environment)
	assert.Equal(t, []event.Type{event.TypeCreateIncidentConversation, event.TypeIncidentCreated}, f.rec.types())

	updates := f.timeline(t, incident.ID)
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Status)
	assert.Equal(t, entity.StatusOpen, *updates[0].Status)

	roles, err := f.store.IncidentRoles(ctx, incident.ID)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, "commander", roles[0].RoleType)
	assert.Equal(t, alice.ID, roles[0].User.ID)
	assert.Equal(t, "communication", roles[1].RoleType)
	assert.Nil(t, roles[1].User)
}

func TestDeclareValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  workflow.DeclareRequest
		auth bool
	}{
		{"no actor", workflow.DeclareRequest{Title: "x", CategoryID: 1}, true},
		{"no title", workflow.DeclareRequest{CategoryID: 1, Actor: alice}, false},
		{"priority disabled for create", workflow.DeclareRequest{Title: "x", Priority: 5, CategoryID: 1, Actor: alice}, false},
		{"unknown priority", workflow.DeclareRequest{Title: "x", Priority: 9, CategoryID: 1, Actor: alice}, false},
		{"unknown environment", workflow.DeclareRequest{Title: "x", Environment: "DEV", CategoryID: 1, Actor: alice}, false},
		{"unknown category", workflow.DeclareRequest{Title: "x", CategoryID: 7, Actor: alice}, false},
		{"disabled category", workflow.DeclareRequest{Title: "x", CategoryID: 2, Actor: alice}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Declare(ctx, tt.req)
			require.Error(t, err)
			if tt.auth {
				var ae *workflow.AuthorizationError
				assert.True(t, errors.As(err, &ae))
			} else {
				var ve *workflow.ValidationError
				assert.True(t, errors.As(err, &ve))
			}
		})
	}
	assert.Empty(t, f.rec.events)
}

func (f *fixture) moveTo(t *testing.T, incident *entity.Incident, status entity.Status) *entity.Incident {
	t.Helper()
	if incident.Status == status {
		return incident
	}
	updated, _, err := f.engine.ApplyStatusTransition(context.Background(), incident, status, alice, "", "")
	require.NoError(t, err)
	f.rec.reset()
	return updated
}

func TestEarlyClosureRequiresReason(t *testing.T) {
	ctx := context.Background()
	early := []entity.Status{entity.StatusOpen, entity.StatusInvestigating, entity.StatusMitigating}
	for _, from := range early {
		t.Run(from.String(), func(t *testing.T) {
			f := newFixture(t)
			incident := f.moveTo(t, f.declare(t, 3, "PRD"), from)

			_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", "")
			var ve *workflow.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "closure_reason", ve.Field)

			_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", entity.ClosureReasonResolved)
			assert.True(t, errors.As(err, &ve))

			_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", "bogus")
			assert.True(t, errors.As(err, &ve))

			assert.Empty(t, f.rec.events)
		})

		for _, reason := range entity.EarlyClosureReasons() {
			t.Run(from.String()+"/"+string(reason), func(t *testing.T) {
				f := newFixture(t)
				incident := f.moveTo(t, f.declare(t, 3, "PRD"), from)

				closed, update, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", reason)
				require.NoError(t, err)
				assert.Equal(t, reason, closed.ClosureReason)
				assert.Equal(t, reason, update.ClosureReason)
			})
		}
	}
}

func TestCloseOpenIncidentAsDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	closed, update, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, bob, "same as #12", entity.ClosureReasonDuplicate)
	require.NoError(t, err)

	assert.True(t, closed.IsClosed())
	assert.Equal(t, entity.ClosureReasonDuplicate, closed.ClosureReason)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, entity.StatusOpen, incident.Status, "input must not be mutated")

	require.NotNil(t, update.Status)
	assert.Equal(t, entity.StatusClosed, *update.Status)
	assert.Equal(t, entity.ClosureReasonDuplicate, update.ClosureReason)
	assert.Equal(t, "same as #12", update.Message)
	assert.Equal(t, bob.ID, update.CreatedBy.ID)

	updates := f.timeline(t, incident.ID)
	require.Len(t, updates, 2)
	assert.Equal(t, update.ID, updates[1].ID)

	assert.Equal(t, []event.Type{event.TypeIncidentUpdated, event.TypeIncidentClosed}, f.rec.types())
	ev := f.rec.events[0].(event.IncidentUpdated)
	assert.Equal(t, event.SenderUpdateStatus, ev.Sender)
	assert.True(t, ev.HasField("status"))
	assert.True(t, ev.HasField("closure_reason"))
	assert.Equal(t, entity.StatusOpen, ev.OldStatus)
}

func TestStatusTransitionRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")
	var ve *workflow.ValidationError

	_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusOpen, alice, "", "")
	assert.True(t, errors.As(err, &ve))

	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.Status(35), alice, "", "")
	assert.True(t, errors.As(err, &ve))

	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusInvestigating, alice, "", entity.ClosureReasonDuplicate)
	assert.True(t, errors.As(err, &ve))

	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusInvestigating, nil, "", "")
	var ae *workflow.AuthorizationError
	assert.True(t, errors.As(err, &ae))

	closed, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", entity.ClosureReasonCancelled)
	require.NoError(t, err)
	_, _, err = f.engine.ApplyStatusTransition(ctx, closed, entity.StatusInvestigating, alice, "", "")
	assert.True(t, errors.As(err, &ve))

	assert.Len(t, f.timeline(t, incident.ID), 2)
}

func TestMitigatedAtIsSetOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	f.clock.now = base.Add(time.Hour)
	incident, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
	require.NoError(t, err)
	require.NotNil(t, incident.MitigatedAt)
	first := *incident.MitigatedAt
	assert.Equal(t, base.Add(time.Hour), first)

	f.clock.now = base.Add(2 * time.Hour)
	incident, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
	require.NoError(t, err)
	assert.Equal(t, first, *incident.MitigatedAt)

	f.clock.now = base.Add(3 * time.Hour)
	incident, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusPostMortem, alice, "", "")
	require.NoError(t, err)
	assert.Equal(t, first, *incident.MitigatedAt)

	incident, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
	require.NoError(t, err)
	assert.Equal(t, first, *incident.MitigatedAt)

	stored, err := f.store.FindIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, first, *stored.MitigatedAt)
}

func TestStatusCannotGoBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 1, "PRD")

	incident, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
	require.NoError(t, err)
	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", "")
	var ve *workflow.ValidationError
	require.True(t, errors.As(err, &ve), "postmortem is required")

	incident, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusPostMortem, alice, "", "")
	require.NoError(t, err)

	for _, s := range []entity.Status{entity.StatusInvestigating, entity.StatusMitigating, entity.StatusMitigated} {
		_, _, err = f.engine.ApplyStatusTransition(ctx, incident, s, alice, "", "")
		assert.True(t, errors.As(err, &ve), "back to %s", s)
	}

	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusPostMortem, alice, "again", "")
	require.NoError(t, err, "same status can be set again")

	stored, err := f.store.FindIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPostMortem, stored.Status)
}

func TestOneTimelineEntryPerTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	path := []entity.Status{
		entity.StatusInvestigating,
		entity.StatusMitigating,
		entity.StatusMitigated,
		entity.StatusPostMortem,
		entity.StatusClosed,
	}
	for i, s := range path {
		var err error
		var update *entity.IncidentUpdate
		incident, update, err = f.engine.ApplyStatusTransition(ctx, incident, s, alice, "", "")
		require.NoError(t, err)
		updates := f.timeline(t, incident.ID)
		require.Len(t, updates, i+2)
		assert.Equal(t, update.ID, updates[len(updates)-1].ID)
		assert.Equal(t, s, *updates[len(updates)-1].Status)
	}
	assert.Equal(t, entity.ClosureReasonResolved, incident.ClosureReason)
}

func TestStaleIncidentConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusInvestigating, alice, "", "")
	require.NoError(t, err)

	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigating, bob, "", "")
	assert.True(t, errors.Is(err, repository.ErrConflict))
	assert.Len(t, f.timeline(t, incident.ID), 2)
}

func TestPostMortemCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("published once for production P1", func(t *testing.T) {
		f := newFixture(t)
		incident := f.declare(t, 1, "PRD")

		incident, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
		require.NoError(t, err)
		assert.Equal(t, []event.Type{event.TypeIncidentUpdated, event.TypePostMortemCreated}, f.rec.types())
		pm := f.rec.events[1].(event.PostMortemCreated)
		assert.Equal(t, 1, pm.Priority.Value)

		f.rec.reset()
		incident, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
		require.NoError(t, err)
		_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusPostMortem, alice, "", "")
		require.NoError(t, err)
		assert.NotContains(t, f.rec.types(), event.TypePostMortemCreated)
	})

	t.Run("published when mitigation is skipped", func(t *testing.T) {
		f := newFixture(t)
		incident := f.declare(t, 1, "PRD")
		_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusPostMortem, alice, "", "")
		require.NoError(t, err)
		assert.Contains(t, f.rec.types(), event.TypePostMortemCreated)
	})

	t.Run("not published outside production", func(t *testing.T) {
		f := newFixture(t)
		incident := f.declare(t, 1, "STG")
		_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
		require.NoError(t, err)
		assert.NotContains(t, f.rec.types(), event.TypePostMortemCreated)
	})

	t.Run("not published for private incidents", func(t *testing.T) {
		f := newFixture(t)
		incident, err := f.engine.Declare(ctx, workflow.DeclareRequest{Title: "secret", Priority: 1, CategoryID: 1, Private: true, Actor: alice})
		require.NoError(t, err)
		f.rec.reset()
		_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
		require.NoError(t, err)
		assert.NotContains(t, f.rec.types(), event.TypePostMortemCreated)
	})

	t.Run("not published when a postmortem exists", func(t *testing.T) {
		f := newFixture(t)
		incident := f.declare(t, 1, "PRD")
		require.NoError(t, f.store.SavePostMortem(ctx, &entity.PostMortem{IncidentID: incident.ID, PageID: "1"}))
		_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
		require.NoError(t, err)
		assert.NotContains(t, f.rec.types(), event.TypePostMortemCreated)
	})

	t.Run("not published when a jira postmortem exists", func(t *testing.T) {
		f := newFixture(t)
		incident := f.declare(t, 1, "PRD")
		require.NoError(t, f.store.SaveJiraPostMortem(ctx, &entity.JiraPostMortem{IncidentID: incident.ID, Key: "PM-1"}))
		_, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
		require.NoError(t, err)
		assert.NotContains(t, f.rec.types(), event.TypePostMortemCreated)
	})
}

func TestCloseFromMitigatedNeedsPostMortem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 1, "PRD")

	incident, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusMitigated, alice, "", "")
	require.NoError(t, err)

	_, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", "")
	var ve *workflow.ValidationError
	require.True(t, errors.As(err, &ve))

	incident, _, err = f.engine.ApplyStatusTransition(ctx, incident, entity.StatusPostMortem, alice, "", "")
	require.NoError(t, err)
	closed, _, err := f.engine.ApplyStatusTransition(ctx, incident, entity.StatusClosed, alice, "", "")
	require.NoError(t, err)
	assert.Equal(t, entity.ClosureReasonResolved, closed.ClosureReason)

	g := newFixture(t)
	minor := g.declare(t, 3, "PRD")
	minor, _, err = g.engine.ApplyStatusTransition(ctx, minor, entity.StatusMitigated, alice, "", "")
	require.NoError(t, err)
	_, _, err = g.engine.ApplyStatusTransition(ctx, minor, entity.StatusClosed, alice, "", "")
	assert.NoError(t, err)
}

func TestApplyPriorityChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	_, _, err := f.engine.ApplyPriorityChange(ctx, incident, 5, alice, "")
	var ve *workflow.ValidationError
	assert.True(t, errors.As(err, &ve))

	same, update, err := f.engine.ApplyPriorityChange(ctx, incident, 3, alice, "")
	require.NoError(t, err)
	assert.Nil(t, update)
	assert.Equal(t, incident, same)
	assert.Empty(t, f.rec.events)

	updated, update, err := f.engine.ApplyPriorityChange(ctx, incident, 1, alice, "customers affected")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Priority)
	require.NotNil(t, update.Priority)
	assert.Equal(t, 1, *update.Priority)

	require.Len(t, f.rec.events, 1)
	ev := f.rec.events[0].(event.IncidentUpdated)
	assert.Equal(t, event.SenderUpdatePriority, ev.Sender)
	assert.Equal(t, []string{"priority"}, ev.UpdatedFields)
	require.NotNil(t, ev.OldPriority)
	assert.Equal(t, 3, ev.OldPriority.Value)
}

func TestApplyRoleUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident, err := f.engine.Declare(ctx, workflow.DeclareRequest{Title: "x", CategoryID: 1, Actor: alice})
	require.NoError(t, err)
	f.rec.reset()

	_, _, err = f.engine.ApplyRoleUpdate(ctx, incident, nil, map[string]*entity.User{"communication": bob})
	var ae *workflow.AuthorizationError
	require.True(t, errors.As(err, &ae))

	_, _, err = f.engine.ApplyRoleUpdate(ctx, incident, alice, map[string]*entity.User{"unknown": bob})
	var ve *workflow.ValidationError
	require.True(t, errors.As(err, &ve))

	// 変化なしと無効なロールは無視される
	same, update, err := f.engine.ApplyRoleUpdate(ctx, incident, alice, map[string]*entity.User{
		"commander": alice,
		"scribe":    bob,
	})
	require.NoError(t, err)
	assert.Nil(t, update)
	assert.Equal(t, incident, same)
	assert.Empty(t, f.rec.events)
	assert.Len(t, f.timeline(t, incident.ID), 1)

	updated, update, err := f.engine.ApplyRoleUpdate(ctx, incident, alice, map[string]*entity.User{
		"commander":     alice,
		"communication": bob,
	})
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Contains(t, update.Message, "<@U002>")
	assert.Len(t, f.timeline(t, updated.ID), 2)

	require.Len(t, f.rec.events, 1)
	ev := f.rec.events[0].(event.IncidentUpdated)
	assert.Equal(t, event.SenderUpdateRoles, ev.Sender)
	assert.Equal(t, []string{"role_communication"}, ev.UpdatedFields)
	assert.Equal(t, map[string]*entity.User{"communication": bob}, ev.AssignedRoles)

	roles, err := f.store.IncidentRoles(ctx, incident.ID)
	require.NoError(t, err)
	for _, r := range roles {
		if r.RoleType == "communication" {
			assert.Equal(t, bob.ID, r.UserID)
		}
	}

	f.rec.reset()
	_, _, err = f.engine.ApplyRoleUpdate(ctx, updated, alice, map[string]*entity.User{"communication": nil})
	require.NoError(t, err)
	ev = f.rec.events[0].(event.IncidentUpdated)
	assert.Equal(t, []string{"role_communication"}, ev.UpdatedFields)
	assert.Empty(t, ev.AssignedRoles)
}

func TestUpdateKeyEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	detected := base.Add(-30 * time.Minute)
	started := base.Add(-time.Hour)
	updated, created, err := f.engine.UpdateKeyEvents(ctx, incident, alice, map[string]time.Time{
		entity.KeyEventDetected: detected,
		entity.KeyEventStarted:  started,
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, entity.KeyEventStarted, created[0].EventType)
	assert.Equal(t, entity.KeyEventDetected, created[1].EventType)

	require.Len(t, f.rec.events, 1)
	ev := f.rec.events[0].(event.IncidentKeyEventsUpdated)
	assert.Len(t, ev.Updates, 3)

	f.rec.reset()
	_, created, err = f.engine.UpdateKeyEvents(ctx, updated, alice, map[string]time.Time{
		entity.KeyEventDetected: detected,
	})
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Empty(t, f.rec.events)

	_, _, err = f.engine.UpdateKeyEvents(ctx, updated, alice, map[string]time.Time{"lunch": base})
	var ve *workflow.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestDowngrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	incident := f.declare(t, 3, "PRD")

	downgraded, err := f.engine.Downgrade(ctx, incident, alice)
	require.NoError(t, err)
	assert.True(t, downgraded.Ignore)
	assert.Equal(t, entity.StatusOpen, downgraded.Status)

	require.Len(t, f.rec.events, 1)
	ev := f.rec.events[0].(event.IncidentUpdated)
	assert.Equal(t, event.SenderDowngrade, ev.Sender)
	assert.Equal(t, []string{"ignore"}, ev.UpdatedFields)

	f.rec.reset()
	_, err = f.engine.Downgrade(ctx, downgraded, alice)
	require.NoError(t, err)
	assert.Empty(t, f.rec.events)
}

// rolesFailingStore はロールを含む書き込みだけを失敗させる
type rolesFailingStore struct {
	*repository.MemoryRepository
	fail bool
}

func (s *rolesFailingStore) SaveIncidentWithRoles(ctx context.Context, incident *entity.Incident, roles []entity.IncidentRole, updates ...entity.IncidentUpdate) error {
	if s.fail && len(roles) > 0 {
		return errors.New("write failed")
	}
	return s.MemoryRepository.SaveIncidentWithRoles(ctx, incident, roles, updates...)
}

func TestRoleWritesAreAtomic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	store := &rolesFailingStore{MemoryRepository: repository.NewMemoryRepository(), fail: true}
	bus := event.NewBus()
	rec := &recorder{}
	record[event.CreateIncidentConversation](bus, rec)
	record[event.IncidentUpdated](bus, rec)
	engine := workflow.NewEngine(repository.NewRepository(store, cfg), bus, cfg.PostMortemReminderThreshold())

	_, err := engine.Declare(ctx, workflow.DeclareRequest{Title: "x", CategoryID: 1, Actor: alice})
	require.Error(t, err)
	stored, err := store.FindIncident(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, stored, "incident is not saved without its roles")
	updates, err := store.IncidentUpdates(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, updates)
	assert.Empty(t, rec.events)

	store.fail = false
	incident, err := engine.Declare(ctx, workflow.DeclareRequest{Title: "x", CategoryID: 1, Actor: alice})
	require.NoError(t, err)
	rec.reset()

	store.fail = true
	_, _, err = engine.ApplyRoleUpdate(ctx, incident, alice, map[string]*entity.User{"communication": bob})
	require.Error(t, err)
	updates, err = store.IncidentUpdates(ctx, incident.ID)
	require.NoError(t, err)
	assert.Len(t, updates, 1, "no timeline entry for the failed role change")
	roles, err := store.IncidentRoles(ctx, incident.ID)
	require.NoError(t, err)
	for _, r := range roles {
		if r.RoleType == "communication" {
			assert.Nil(t, r.User)
		}
	}
	assert.Empty(t, rec.events)
}
