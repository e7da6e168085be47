package jira

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/task"
)

var (
	base  = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	graph = map[string]map[string]string{
		"Open":        {"Start": "In Progress", "Cancel": "Cancelled"},
		"In Progress": {"Resolve": "Resolved", "Back": "Open"},
		"Resolved":    {"Close": "Closed", "Reopen": "In Progress"},
		"Cancelled":   {"Archive": "Closed"},
	}
)

type mockJiraRepository struct {
	issues  map[string]*repository.JiraIssue
	fields  map[string]interface{}
	applied []string
	created int
}

func newMockJiraRepository() *mockJiraRepository {
	return &mockJiraRepository{
		issues: map[string]*repository.JiraIssue{},
		fields: map[string]interface{}{},
	}
}

func (m *mockJiraRepository) CreateIssue(_ context.Context, projectKey, issueType, summary, description string) (*repository.JiraIssue, error) {
	m.created++
	key := fmt.Sprintf("%s-%d", projectKey, m.created)
	issue := &repository.JiraIssue{ID: fmt.Sprint(10000 + m.created), Key: key, URL: "https://jira.example.com/browse/" + key, Status: "Open"}
	m.issues[key] = issue
	return issue, nil
}

func (m *mockJiraRepository) GetIssue(_ context.Context, key string) (*repository.JiraIssue, error) {
	issue, ok := m.issues[key]
	if !ok {
		return nil, fmt.Errorf("issue %s: %w", key, repository.ErrNotFound)
	}
	return issue, nil
}

func (m *mockJiraRepository) Transitions(_ context.Context, key string) ([]repository.JiraTransition, error) {
	var ret []repository.JiraTransition
	for name, to := range graph[m.issues[key].Status] {
		ret = append(ret, repository.JiraTransition{ID: name + "-id", Name: name, To: to})
	}
	return ret, nil
}

func (m *mockJiraRepository) DoTransition(_ context.Context, key, transitionID string) error {
	issue := m.issues[key]
	for name, to := range graph[issue.Status] {
		if name+"-id" == transitionID {
			issue.Status = to
			m.applied = append(m.applied, name)
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s", transitionID)
}

func (m *mockJiraRepository) UpdateField(_ context.Context, key, field string, value interface{}) error {
	m.fields[key+"/"+field] = value
	return nil
}

func TestTransitionsToApply(t *testing.T) {
	tests := []struct {
		name    string
		current string
		target  string
		want    []string
	}{
		{name: "two hops", current: "Open", target: "Resolved", want: []string{"Start", "Resolve"}},
		{name: "shortest by name order", current: "Open", target: "Closed", want: []string{"Cancel", "Archive"}},
		{name: "already there", current: "Closed", target: "Closed", want: nil},
		{name: "no path", current: "Closed", target: "Open", want: nil},
		{name: "unknown status", current: "Blocked", target: "Closed", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TransitionsToApply(graph, tt.current, tt.target))
		})
	}
}

func newConnector(t *testing.T) (*Connector, *mockJiraRepository, *repository.MemoryRepository) {
	t.Helper()
	m := newMockJiraRepository()
	store := repository.NewMemoryRepository()
	c := NewConnector(m, store, event.NewBus(), task.NewRunner(0, 0, time.Second), Config{
		ProjectKey:          "INC",
		IssueType:           "Incident",
		PostMortemIssueType: "Post-mortem",
		TimelineField:       "customfield_10100",
		CloseStatus:         "Closed",
		Graph:               graph,
	})
	c.now = func() time.Time { return base }
	return c, m, store
}

func testIncident() *entity.Incident {
	return &entity.Incident{ID: 7, Title: "DB down", Description: "primary is unreachable", Status: entity.StatusOpen}
}

func TestCreateIssueOnce(t *testing.T) {
	ctx := context.Background()
	c, m, store := newConnector(t)
	ev := event.IncidentChannelDone{Incident: testIncident(), Channel: &entity.IncidentChannel{IncidentID: 7, Name: "inc-7-db-down"}}

	require.NoError(t, c.CreateIssue(ctx, ev))
	require.NoError(t, c.CreateIssue(ctx, ev))

	assert.Equal(t, 1, m.created)
	ticket, err := store.FindJiraTicket(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, ticket)
	assert.Equal(t, "INC-1", ticket.Key)
}

func TestCloseIssue(t *testing.T) {
	ctx := context.Background()
	c, m, _ := newConnector(t)
	c.Register()
	inc := testIncident()
	require.NoError(t, c.CreateIssue(ctx, event.IncidentChannelDone{Incident: inc}))
	m.issues["INC-1"].Status = "In Progress"

	investigating := *inc
	investigating.Status = entity.StatusInvestigating
	c.bus.Publish(ctx, event.IncidentUpdated{Sender: event.SenderUpdateStatus, Incident: &investigating})
	assert.Empty(t, m.applied, "non closing status is ignored")

	mitigated := *inc
	mitigated.Status = entity.StatusMitigated
	c.bus.Publish(ctx, event.IncidentUpdated{Sender: event.SenderUpdatePriority, Incident: &mitigated})
	assert.Empty(t, m.applied, "only status updates close the issue")

	c.bus.Publish(ctx, event.IncidentUpdated{Sender: event.SenderUpdateStatus, Incident: &mitigated})
	assert.Equal(t, []string{"Resolve", "Close"}, m.applied)
	assert.Equal(t, "Closed", m.issues["INC-1"].Status)

	closed := *inc
	closed.Status = entity.StatusClosed
	require.NoError(t, c.CloseIssue(ctx, event.IncidentUpdated{Sender: event.SenderUpdateStatus, Incident: &closed}))
	assert.Len(t, m.applied, 2, "already closed")
}

func TestCloseIssueWithoutTicket(t *testing.T) {
	c, m, _ := newConnector(t)
	inc := testIncident()
	inc.Status = entity.StatusClosed
	require.NoError(t, c.CloseIssue(context.Background(), event.IncidentUpdated{Sender: event.SenderUpdateStatus, Incident: inc}))
	assert.Empty(t, m.applied)
}

func TestUpdateTimeline(t *testing.T) {
	ctx := context.Background()
	c, m, _ := newConnector(t)
	inc := testIncident()
	require.NoError(t, c.CreateIssue(ctx, event.IncidentChannelDone{Incident: inc}))

	open := entity.StatusOpen
	started := base.Add(-30 * time.Minute)
	updates := []entity.IncidentUpdate{
		{IncidentID: 7, ID: "1", Status: &open, Message: "declared", CreatedBy: entity.User{Name: "alice"}, CreatedAt: base},
		{IncidentID: 7, ID: "2", EventType: entity.KeyEventStarted, EventTS: &started, CreatedBy: entity.User{Name: "bob"}, CreatedAt: base.Add(time.Minute)},
	}
	require.NoError(t, c.UpdateTimeline(ctx, event.IncidentKeyEventsUpdated{Incident: inc, Updates: updates}))

	got, ok := m.fields["INC-1/customfield_10100"].(string)
	require.True(t, ok)
	assert.Contains(t, got, "[open] alice: declared")
	assert.Contains(t, got, "[started] bob")
}

func TestCreatePostMortemOnce(t *testing.T) {
	ctx := context.Background()
	c, m, store := newConnector(t)
	inc := testIncident()

	require.NoError(t, c.CreatePostMortem(ctx, event.PostMortemCreated{Incident: inc}))
	require.NoError(t, c.CreatePostMortem(ctx, event.PostMortemCreated{Incident: inc}))

	assert.Equal(t, 1, m.created)
	pm, err := store.FindJiraPostMortem(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, pm)
	assert.Equal(t, "INC-1", pm.Key, "falls back to the incident project")
}
